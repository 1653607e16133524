package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	paymentdomain "github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/pkg/outbox"
)

const uniqueViolation = "23505"

// Store implements storage.Store on a pgx pool.
type Store struct {
	queries
	log  *slog.Logger
	pool *pgxpool.Pool
}

var _ storage.Store = (*Store)(nil)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	q querier
}

func New(log *slog.Logger, pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{q: pool}, log: log, pool: pool}
}

// Migrate applies every migration newer than the recorded schema version.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}

	current, err := s.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	pending, err := storage.Pending(migrations, current)
	if err != nil {
		return err
	}

	for _, m := range pending {
		tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, m.Up); err != nil {
			_ = tx.Rollback(ctx)
			return fmt.Errorf("migration %s: %w", m.Version, err)
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_version (version) VALUES ($1)`, m.Version); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		if err := tx.Commit(ctx); err != nil {
			return err
		}
		s.log.Info("migration applied", "version", m.Version)
	}
	return nil
}

func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return "", err
	}
	applied, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return "", err
	}
	return storage.Highest(applied)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, queries{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Amounts cross the wire as text so no precision is lost in either direction.
const orderColumns = `order_id, customer_id, total_amount::text, currency, status, created_at, updated_at`

func (q queries) InsertOrder(ctx context.Context, o *orderdomain.Order) error {
	err := q.q.QueryRow(ctx, `INSERT INTO orders (customer_id, total_amount, currency, status, created_at, updated_at)
		VALUES ($1, $2::text::numeric, $3, $4, $5, $6)
		RETURNING order_id`,
		o.CustomerID, o.TotalAmount.String(), o.Currency, string(o.State), o.CreatedAt, o.UpdatedAt).Scan(&o.ID)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (q queries) FindOrder(ctx context.Context, id int64) (orderdomain.Order, error) {
	return scanOrder(q.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id))
}

func (q queries) FindOwnedOrder(ctx context.Context, id, customerID int64) (orderdomain.Order, error) {
	return scanOrder(q.q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1 AND customer_id = $2`, id, customerID))
}

func (q queries) UpdateOrderState(ctx context.Context, o orderdomain.Order, from orderdomain.State) error {
	ct, err := q.q.Exec(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE order_id = $3 AND status = $4`,
		string(o.State), o.UpdatedAt, o.ID, string(from))
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := q.FindOrder(ctx, o.ID); err != nil {
		return err
	}
	return storage.ErrStaleState
}

func (q queries) ListOrders(ctx context.Context, query storage.OrderQuery) ([]orderdomain.Order, int64, error) {
	where := `WHERE customer_id = $1`
	args := []any{query.CustomerID}
	if query.State != nil {
		where += ` AND status = $2`
		args = append(args, string(*query.State))
	}

	var total int64
	if err := q.q.QueryRow(ctx, `SELECT COUNT(*) FROM orders `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count orders: %w", err)
	}

	n := len(args)
	rows, err := q.q.Query(ctx, fmt.Sprintf(`SELECT `+orderColumns+` FROM orders %s
		ORDER BY created_at DESC, order_id DESC
		LIMIT $%d OFFSET $%d`, where, n+1, n+2), append(args, query.Limit, query.Offset)...)
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

const paymentColumns = `payment_id, order_id, amount::text, currency, payment_state, idempotency_key, created_at`

func (q queries) InsertPayment(ctx context.Context, p *paymentdomain.Payment) error {
	err := q.q.QueryRow(ctx, `INSERT INTO payments (order_id, amount, currency, payment_state, idempotency_key, created_at)
		VALUES ($1, $2::text::numeric, $3, $4, $5, $6)
		RETURNING payment_id`,
		p.OrderID, p.Amount.String(), p.Currency, string(p.State), p.IdempotencyKey, p.CreatedAt).Scan(&p.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert payment: %w", err)
	}
	return nil
}

func (q queries) FindPayment(ctx context.Context, id int64) (paymentdomain.Payment, error) {
	return scanPayment(q.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE payment_id = $1`, id))
}

func (q queries) FindPaymentByIdempotencyKey(ctx context.Context, key string) (paymentdomain.Payment, error) {
	return scanPayment(q.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = $1`, key))
}

func (q queries) Enqueue(ctx context.Context, ev outbox.Event) error {
	if err := outbox.Insert(ctx, q.q, ev); err != nil {
		return fmt.Errorf("failed to enqueue %s: %w", ev.Type, err)
	}
	return nil
}

func scanOrder(row pgx.Row) (orderdomain.Order, error) {
	var (
		o             orderdomain.Order
		amount, state string
	)
	err := row.Scan(&o.ID, &o.CustomerID, &amount, &o.Currency, &state, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orderdomain.Order{}, storage.ErrNotFound
	}
	if err != nil {
		return orderdomain.Order{}, fmt.Errorf("failed to scan order: %w", err)
	}
	if o.TotalAmount, err = decimal.NewFromString(amount); err != nil {
		return orderdomain.Order{}, fmt.Errorf("order %d amount %q: %w", o.ID, amount, err)
	}
	o.State = orderdomain.State(state)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return o, nil
}

func scanPayment(row pgx.Row) (paymentdomain.Payment, error) {
	var (
		p             paymentdomain.Payment
		amount, state string
	)
	err := row.Scan(&p.ID, &p.OrderID, &amount, &p.Currency, &state, &p.IdempotencyKey, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return paymentdomain.Payment{}, storage.ErrNotFound
	}
	if err != nil {
		return paymentdomain.Payment{}, fmt.Errorf("failed to scan payment: %w", err)
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return paymentdomain.Payment{}, fmt.Errorf("payment %d amount %q: %w", p.ID, amount, err)
	}
	p.State = paymentdomain.State(state)
	p.CreatedAt = p.CreatedAt.UTC()
	return p, nil
}
