package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	paymentdomain "github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/pkg/outbox"
)

// Store implements storage.Store on SQLite.
type Store struct {
	queries
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	q querier
}

func openDatabase(path string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, path)
	if err != nil {
		return nil, err
	}

	// One connection: SQLite has a single writer, and an in-memory database
	// only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	return db, nil
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := openDatabase(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	return &Store{queries: queries{q: db}, db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return err
	}
	var applied []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return err
		}
		applied = append(applied, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	current, err := storage.Highest(applied)
	if err != nil {
		return err
	}
	pending, err := storage.Pending(migrations, current)
	if err != nil {
		return err
	}
	for _, m := range pending {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`, m.Version, time.Now().UnixMicro()); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	var applied []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		applied = append(applied, v)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return storage.Highest(applied)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(ctx, queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Order operations

const orderColumns = `order_id, customer_id, total_amount, currency, status, created_at, updated_at`

func (q queries) InsertOrder(ctx context.Context, o *orderdomain.Order) error {
	res, err := q.q.ExecContext(ctx, `INSERT INTO orders (customer_id, total_amount, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		o.CustomerID, o.TotalAmount.String(), o.Currency, string(o.State), o.CreatedAt.UnixMicro(), o.UpdatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	o.ID = id
	return nil
}

func (q queries) FindOrder(ctx context.Context, id int64) (orderdomain.Order, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ?`, id)
	return scanOrder(row)
}

func (q queries) FindOwnedOrder(ctx context.Context, id, customerID int64) (orderdomain.Order, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = ? AND customer_id = ?`, id, customerID)
	return scanOrder(row)
}

func (q queries) UpdateOrderState(ctx context.Context, o orderdomain.Order, from orderdomain.State) error {
	res, err := q.q.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE order_id = ? AND status = ?`,
		string(o.State), o.UpdatedAt.UnixMicro(), o.ID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	if _, err := q.FindOrder(ctx, o.ID); err != nil {
		return err
	}
	return storage.ErrStaleState
}

func (q queries) ListOrders(ctx context.Context, query storage.OrderQuery) ([]orderdomain.Order, int64, error) {
	where := `WHERE customer_id = ?`
	args := []any{query.CustomerID}
	if query.State != nil {
		where += ` AND status = ?`
		args = append(args, string(*query.State))
	}

	var total int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err := q.q.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders `+where+`
		ORDER BY created_at DESC, order_id DESC
		LIMIT ? OFFSET ?`, append(args, query.Limit, query.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []orderdomain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, o)
	}
	return orders, total, rows.Err()
}

// Payment operations

const paymentColumns = `payment_id, order_id, amount, currency, payment_state, idempotency_key, created_at`

func (q queries) InsertPayment(ctx context.Context, p *paymentdomain.Payment) error {
	res, err := q.q.ExecContext(ctx, `INSERT INTO payments (order_id, amount, currency, payment_state, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.OrderID, p.Amount.String(), p.Currency, string(p.State), p.IdempotencyKey, p.CreatedAt.UnixMicro())
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	p.ID = id
	return nil
}

func (q queries) FindPayment(ctx context.Context, id int64) (paymentdomain.Payment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = ?`, id)
	return scanPayment(row)
}

func (q queries) FindPaymentByIdempotencyKey(ctx context.Context, key string) (paymentdomain.Payment, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ?`, key)
	return scanPayment(row)
}

// Outbox

func (q queries) Enqueue(ctx context.Context, ev outbox.Event) error {
	headers, err := json.Marshal(ev.Headers)
	if err != nil {
		return err
	}
	_, err = q.q.ExecContext(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 'pending', ?)`,
		ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, string(headers), ev.Traceparent, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", ev.Type, err)
	}
	return nil
}

// PendingEvents returns unsent outbox rows, oldest first. There is no relay
// for SQLite; this is how callers inspect what would have been published.
func (s *Store) PendingEvents(ctx context.Context) ([]outbox.Event, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, aggregate_type, aggregate_id, type, payload, headers, traceparent, created_at
		FROM outbox WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []outbox.Event
	for rows.Next() {
		var ev outbox.Event
		var headers string
		var created int64
		if err := rows.Scan(&ev.ID, &ev.AggregateType, &ev.AggregateID, &ev.Type, &ev.Payload, &headers, &ev.Traceparent, &created); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(headers), &ev.Headers); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.UnixMicro(created).UTC()
		ev.Status = outbox.StatusPending
		events = append(events, ev)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (orderdomain.Order, error) {
	var (
		o                orderdomain.Order
		amount, state    string
		created, updated int64
	)
	err := s.Scan(&o.ID, &o.CustomerID, &amount, &o.Currency, &state, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return orderdomain.Order{}, storage.ErrNotFound
	}
	if err != nil {
		return orderdomain.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return orderdomain.Order{}, fmt.Errorf("order %d amount %q: %w", o.ID, amount, err)
	}
	o.State = orderdomain.State(state)
	o.CreatedAt = time.UnixMicro(created).UTC()
	o.UpdatedAt = time.UnixMicro(updated).UTC()
	return o, nil
}

func scanPayment(s scanner) (paymentdomain.Payment, error) {
	var (
		p             paymentdomain.Payment
		amount, state string
		created       int64
	)
	err := s.Scan(&p.ID, &p.OrderID, &amount, &p.Currency, &state, &p.IdempotencyKey, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return paymentdomain.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return paymentdomain.Payment{}, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return paymentdomain.Payment{}, fmt.Errorf("payment %d amount %q: %w", p.ID, amount, err)
	}
	p.State = paymentdomain.State(state)
	p.CreatedAt = time.UnixMicro(created).UTC()
	return p, nil
}

// Both drivers report "UNIQUE constraint failed: <table>.<column>".
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
