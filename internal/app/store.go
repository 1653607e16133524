// Package app wires configuration into the pieces both binaries share.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmehra2102/orderflow/internal/config"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/internal/storage/postgres"
	"github.com/dmehra2102/orderflow/internal/storage/sqlite"
)

// Store is an open, migrated store. Pool is nil unless the driver is
// Postgres; only Postgres backs the outbox relay.
type Store struct {
	storage.Store
	Pool *pgxpool.Pool
}

func OpenStore(ctx context.Context, log *slog.Logger, cfg config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.PGURL)
		if err != nil {
			return nil, fmt.Errorf("pg connect: %w", err)
		}
		store := postgres.New(log, pool)
		if err := store.Migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("pg migrate: %w", err)
		}
		return &Store{Store: store, Pool: pool}, nil
	case config.DriverSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Warn("using embedded sqlite store, outbox events are not relayed", "path", cfg.SQLitePath)
		return &Store{Store: store}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
