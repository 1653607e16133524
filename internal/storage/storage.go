// Package storage defines the persistence contract shared by the order and
// payment services.
//
// Both services need one transaction that spans orders, payments and the
// outbox, so the contract lives here rather than in either service. Drivers:
//   - postgres: pgx pool, the production store
//   - sqlite:   database/sql, embedded store for local runs and tests
package storage

import (
	"context"
	"errors"

	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	paymentdomain "github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/pkg/outbox"
)

var (
	// ErrNotFound is returned when a requested row doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateKey is returned by InsertPayment when the idempotency key is taken.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrStaleState is returned by UpdateOrderState when the stored state is
	// no longer the expected one.
	ErrStaleState = errors.New("stale state")
)

// OrderQuery selects one page of a customer's orders, newest first.
// A nil State selects every state.
type OrderQuery struct {
	CustomerID int64
	State      *orderdomain.State
	Offset     int
	Limit      int
}

// Tx is the set of operations available both inside and outside a transaction.
type Tx interface {
	InsertOrder(ctx context.Context, o *orderdomain.Order) error
	FindOrder(ctx context.Context, id int64) (orderdomain.Order, error)
	FindOwnedOrder(ctx context.Context, id, customerID int64) (orderdomain.Order, error)
	// UpdateOrderState persists o.State and o.UpdatedAt only if the stored
	// state still equals from.
	UpdateOrderState(ctx context.Context, o orderdomain.Order, from orderdomain.State) error
	ListOrders(ctx context.Context, q OrderQuery) ([]orderdomain.Order, int64, error)

	InsertPayment(ctx context.Context, p *paymentdomain.Payment) error
	FindPayment(ctx context.Context, id int64) (paymentdomain.Payment, error)
	FindPaymentByIdempotencyKey(ctx context.Context, key string) (paymentdomain.Payment, error)

	Enqueue(ctx context.Context, ev outbox.Event) error
}

type Store interface {
	Tx
	// WithinTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. fn must only use the Tx it is given.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}
