package application

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/orderflow/internal/identity"
	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/internal/storage/sqlite"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/outbox"
)

var clock = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func customer(id int64) context.Context {
	return identity.WithIdentity(context.Background(), identity.Identity{UserID: id, Role: identity.RoleCustomer})
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedOrder(t *testing.T, s *sqlite.Store, customerID int64, total, currency string) orderdomain.Order {
	t.Helper()
	o, err := orderdomain.NewOrder(customerID, decimal.RequireFromString(total), currency, clock)
	require.NoError(t, err)
	require.NoError(t, s.InsertOrder(context.Background(), &o))
	return o
}

func newService(store PaymentStore) *Service {
	return NewService(discard(), store, WithClock(func() time.Time { return clock.Add(time.Minute) }))
}

func pay(orderID int64, amount, currency, key string) ProcessRequest {
	return ProcessRequest{OrderID: orderID, Amount: decimal.RequireFromString(amount), Currency: currency, IdempotencyKey: key}
}

func orderState(t *testing.T, s *sqlite.Store, id int64) orderdomain.State {
	t.Helper()
	o, err := s.FindOrder(context.Background(), id)
	require.NoError(t, err)
	return o.State
}

func TestProcessPaymentScenario(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "49.99", "USD")
	require.EqualValues(t, 1, order.ID)
	svc := newService(store)

	first, err := svc.ProcessPayment(customer(7), pay(1, "49.99", "USD", "K1"))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.EqualValues(t, 1, first.Payment.OrderID)
	assert.True(t, first.Payment.Amount.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, "USD", first.Payment.Currency)
	assert.Equal(t, domain.StateCompleted, first.Payment.State)
	assert.Equal(t, orderdomain.StatePaid, orderState(t, store, 1))

	second, err := svc.ProcessPayment(customer(7), pay(1, "49.99", "USD", "K1"))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, first.Payment.IdempotencyKey, second.Payment.IdempotencyKey)
	assert.Equal(t, domain.StateCompleted, second.Payment.State)
}

func TestProcessPaymentRecordsEvents(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "10.00", "EUR")

	_, err := newService(store).ProcessPayment(customer(7), pay(order.ID, "10", "EUR", "K1"))
	require.NoError(t, err)

	events, err := store.PendingEvents(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventPaymentCompleted, events[0].Type)
	assert.Equal(t, orderdomain.EventOrderPaid, events[1].Type)
}

func TestReplaySkipsValidation(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "49.99", "USD")
	svc := newService(store)

	first, err := svc.ProcessPayment(customer(7), pay(order.ID, "49.99", "USD", "K1"))
	require.NoError(t, err)

	// The order is PAID now and the request no longer matches it; a replay
	// still returns the original payment.
	replay, err := svc.ProcessPayment(customer(7), pay(order.ID, "1.00", "GBP", "K1"))
	require.NoError(t, err)
	assert.False(t, replay.Created)
	assert.Equal(t, first.Payment.ID, replay.Payment.ID)

	events, err := store.PendingEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestReplayRejectsKeyOfAnotherOrder(t *testing.T) {
	store := openStore(t)
	first := seedOrder(t, store, 7, "5.00", "USD")
	second := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(store)

	_, err := svc.ProcessPayment(customer(7), pay(first.ID, "5.00", "USD", "K1"))
	require.NoError(t, err)

	_, err = svc.ProcessPayment(customer(7), pay(second.ID, "5.00", "USD", "K1"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindNotFound, e.Kind)
	assert.Equal(t, apperr.CodeOrderNotFound, e.Code)
	assert.Equal(t, second.ID, e.EntityID)
	assert.Equal(t, orderdomain.StateCreated, orderState(t, store, second.ID))
}

func TestReplayIsCloakedForOtherCustomers(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(store)

	_, err := svc.ProcessPayment(customer(7), pay(order.ID, "5.00", "USD", "K1"))
	require.NoError(t, err)

	_, err = svc.ProcessPayment(customer(8), pay(order.ID, "5.00", "USD", "K1"))
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestProcessPaymentRejectsMismatches(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		currency string
		kind     apperr.Kind
		code     string
	}{
		{"amount one cent low", "49.98", "USD", apperr.KindAmountMismatch, apperr.CodeAmountMismatch},
		{"amount one cent high", "50.00", "USD", apperr.KindAmountMismatch, apperr.CodeAmountMismatch},
		{"amount sub cent", "49.991", "USD", apperr.KindAmountMismatch, apperr.CodeAmountMismatch},
		{"currency case", "49.99", "usd", apperr.KindCurrencyMismatch, apperr.CodeCurrencyMismatch},
		{"currency value", "49.99", "EUR", apperr.KindCurrencyMismatch, apperr.CodeCurrencyMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := openStore(t)
			order := seedOrder(t, store, 7, "49.99", "USD")

			_, err := newService(store).ProcessPayment(customer(7), pay(order.ID, tc.amount, tc.currency, "K1"))
			require.Error(t, err)
			e, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, tc.kind, e.Kind)
			assert.Equal(t, tc.code, e.Code)
			assert.Equal(t, order.ID, e.EntityID)
			assert.False(t, e.Retryable())

			assert.Equal(t, orderdomain.StateCreated, orderState(t, store, order.ID))
			_, err = store.FindPaymentByIdempotencyKey(context.Background(), "K1")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestAmountComparisonIgnoresTrailingZeros(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "49.99", "USD")

	res, err := newService(store).ProcessPayment(customer(7), pay(order.ID, "49.990", "USD", "K1"))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Equal(t, "49.99", res.Payment.Amount.StringFixed(2))
}

func TestProcessPaymentRequiresCreatedOrder(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	cancelled := order
	require.NoError(t, cancelled.Cancel(clock))
	require.NoError(t, store.UpdateOrderState(context.Background(), cancelled, orderdomain.StateCreated))

	_, err := newService(store).ProcessPayment(customer(7), pay(order.ID, "5.00", "USD", "K1"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidState, e.Kind)
	assert.Equal(t, apperr.CodeInvalidOrder, e.Code)
	assert.Equal(t, order.ID, e.EntityID)
	assert.Equal(t, orderdomain.StateCancelled, orderState(t, store, order.ID))
}

func TestProcessPaymentCloaksOtherCustomersOrders(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(store)

	_, foreign := svc.ProcessPayment(customer(8), pay(order.ID, "5.00", "USD", "K1"))
	_, missing := svc.ProcessPayment(customer(8), pay(order.ID+100, "5.00", "USD", "K2"))

	for _, err := range []error{foreign, missing} {
		e, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindNotFound, e.Kind)
		assert.Equal(t, apperr.CodeOrderNotFound, e.Code)
	}
	assert.Equal(t, orderdomain.StateCreated, orderState(t, store, order.ID))
}

func TestProcessPaymentIdentityChecks(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(store)

	_, err := svc.ProcessPayment(context.Background(), pay(order.ID, "5.00", "USD", "K1"))
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))

	system := identity.WithIdentity(context.Background(), identity.Identity{UserID: 7, Role: identity.RoleSystem})
	_, err = svc.ProcessPayment(system, pay(order.ID, "5.00", "USD", "K1"))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestConcurrentDuplicatesPayOnce(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "49.99", "USD")
	svc := newService(store)

	const n = 8
	var (
		wg      sync.WaitGroup
		results = make([]Result, n)
		errs    = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = svc.ProcessPayment(customer(7), pay(order.ID, "49.99", "USD", "K1"))
		}()
	}
	wg.Wait()

	created := 0
	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Payment.ID, results[i].Payment.ID)
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.Equal(t, orderdomain.StatePaid, orderState(t, store, order.ID))

	events, err := store.PendingEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

// lateKeyStore hides the first idempotency-key hit, as if a concurrent
// request had inserted the payment after this one looked.
type lateKeyStore struct {
	*sqlite.Store
	hidden atomic.Bool
}

func (s *lateKeyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, lateKeyTx{Tx: tx, s: s})
	})
}

type lateKeyTx struct {
	storage.Tx
	s *lateKeyStore
}

func (t lateKeyTx) FindPaymentByIdempotencyKey(ctx context.Context, key string) (domain.Payment, error) {
	if t.s.hidden.CompareAndSwap(false, true) {
		return domain.Payment{}, storage.ErrNotFound
	}
	return t.Tx.FindPaymentByIdempotencyKey(ctx, key)
}

func TestLostInsertRaceReplaysWinner(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "49.99", "USD")

	winner := domain.NewPayment(order.ID, order.TotalAmount, order.Currency, "K1", clock)
	require.NoError(t, winner.MarkAsCompleted())
	require.NoError(t, store.InsertPayment(context.Background(), &winner))

	res, err := newService(&lateKeyStore{Store: store}).ProcessPayment(customer(7), pay(order.ID, "49.99", "USD", "K1"))
	require.NoError(t, err)
	assert.False(t, res.Created)
	assert.Equal(t, winner.ID, res.Payment.ID)

	// The loser's transaction rolled back before touching the order.
	assert.Equal(t, orderdomain.StateCreated, orderState(t, store, order.ID))
}

// failingStore breaks the transaction at a chosen step.
type failingStore struct {
	*sqlite.Store
	enqueueErr  error
	cancelFirst bool
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return fn(ctx, failingTx{Tx: tx, s: s})
	})
}

type failingTx struct {
	storage.Tx
	s *failingStore
}

func (t failingTx) Enqueue(ctx context.Context, ev outbox.Event) error {
	if t.s.enqueueErr != nil {
		return t.s.enqueueErr
	}
	return t.Tx.Enqueue(ctx, ev)
}

// FindOwnedOrder cancels the order behind the caller's back, leaving the
// caller with a stale CREATED copy.
func (t failingTx) FindOwnedOrder(ctx context.Context, id, customerID int64) (orderdomain.Order, error) {
	o, err := t.Tx.FindOwnedOrder(ctx, id, customerID)
	if err != nil || !t.s.cancelFirst {
		return o, err
	}
	cancelled := o
	if err := cancelled.Cancel(clock); err != nil {
		return orderdomain.Order{}, err
	}
	if err := t.Tx.UpdateOrderState(ctx, cancelled, orderdomain.StateCreated); err != nil {
		return orderdomain.Order{}, err
	}
	return o, nil
}

func TestFailureLeavesNothingBehind(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(&failingStore{Store: store, enqueueErr: errors.New("disk full")})

	_, err := svc.ProcessPayment(customer(7), pay(order.ID, "5.00", "USD", "K1"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInternal, e.Kind)
	assert.True(t, e.Retryable())
	assert.NotContains(t, e.Message, "disk full")

	assert.Equal(t, orderdomain.StateCreated, orderState(t, store, order.ID))
	_, err = store.FindPaymentByIdempotencyKey(context.Background(), "K1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConcurrentStateChangeWins(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(&failingStore{Store: store, cancelFirst: true})

	_, err := svc.ProcessPayment(customer(7), pay(order.ID, "5.00", "USD", "K1"))
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindInvalidState, e.Kind)
	assert.Equal(t, apperr.CodeInvalidOrder, e.Code)

	_, err = store.FindPaymentByIdempotencyKey(context.Background(), "K1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCancelledContextChangesNothing(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")

	ctx, cancel := context.WithCancel(customer(7))
	cancel()
	_, err := newService(store).ProcessPayment(ctx, pay(order.ID, "5.00", "USD", "K1"))
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, orderdomain.StateCreated, orderState(t, store, order.ID))
}

func TestFetchPayment(t *testing.T) {
	store := openStore(t)
	order := seedOrder(t, store, 7, "5.00", "USD")
	svc := newService(store)

	res, err := svc.ProcessPayment(customer(7), pay(order.ID, "5.00", "USD", "K1"))
	require.NoError(t, err)

	got, err := svc.FetchPayment(customer(7), res.Payment.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Payment.ID, got.ID)
	assert.Equal(t, order.ID, got.OrderID)

	_, foreign := svc.FetchPayment(customer(8), res.Payment.ID)
	_, missing := svc.FetchPayment(customer(7), res.Payment.ID+100)
	for _, err := range []error{foreign, missing} {
		e, ok := apperr.As(err)
		require.True(t, ok)
		assert.Equal(t, apperr.KindNotFound, e.Kind)
		assert.Equal(t, apperr.CodePaymentNotFound, e.Code)
	}

	_, err = svc.FetchPayment(context.Background(), res.Payment.ID)
	assert.True(t, apperr.Is(err, apperr.KindUnauthenticated))
}
