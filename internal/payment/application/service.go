package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/orderflow/internal/identity"
	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/outbox"
	"github.com/dmehra2102/orderflow/pkg/tracing"
)

type ProcessRequest struct {
	OrderID        int64
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

// Result is a processed payment. Created is false when the payment was
// returned from an earlier request with the same idempotency key.
type Result struct {
	Payment domain.Payment
	Created bool
}

type Service struct {
	log    *slog.Logger
	store  PaymentStore
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(log *slog.Logger, store PaymentStore, opts ...Option) *Service {
	s := &Service{
		log:    log,
		store:  store,
		tracer: otel.Tracer("payment-service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessPayment pays an order at most once per idempotency key.
//
// A known key is replayed without re-validating the order. A new key is
// validated and applied in one transaction: the payment row, the PAID order
// and both outbox events commit together or not at all. Two requests racing
// on the same new key both reach the insert; the store's unique constraint
// lets one through and the other replays the winner's payment.
func (s *Service) ProcessPayment(ctx context.Context, req ProcessRequest) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "ProcessPayment", trace.WithAttributes(attribute.Int64("order.id", req.OrderID)))
	defer span.End()

	if _, err := identity.AuthorizeCustomerAPI(ctx); err != nil {
		return Result{}, err
	}

	var res Result
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		existing, err := tx.FindPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			p, err := s.replay(ctx, tx, existing, req.OrderID)
			res = Result{Payment: p}
			return err
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		p, err := s.pay(ctx, tx, req)
		res = Result{Payment: p, Created: true}
		return err
	})

	if errors.Is(err, storage.ErrDuplicateKey) {
		s.log.Info("idempotency key taken concurrently, replaying", "order_id", req.OrderID)
		err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			existing, err := tx.FindPaymentByIdempotencyKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			p, err := s.replay(ctx, tx, existing, req.OrderID)
			res = Result{Payment: p}
			return err
		})
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Result{}, s.surface(err, "process payment", req.OrderID)
	}

	span.SetAttributes(attribute.Int64("payment.id", res.Payment.ID), attribute.Bool("payment.created", res.Created))
	return res, nil
}

func (s *Service) replay(ctx context.Context, tx storage.Tx, existing domain.Payment, orderID int64) (domain.Payment, error) {
	// A key reused against another order reports that order as missing.
	if existing.OrderID != orderID {
		return domain.Payment{}, apperr.OrderNotFound(orderID)
	}
	order, err := tx.FindOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Payment{}, apperr.OrderNotFound(orderID)
	}
	if err != nil {
		return domain.Payment{}, err
	}
	if err := identity.AuthorizeOwner(ctx, order.CustomerID, apperr.OrderNotFound(orderID)); err != nil {
		return domain.Payment{}, err
	}
	s.log.Debug("idempotency replay detected", "order_id", orderID, "payment_id", existing.ID)
	return existing, nil
}

func (s *Service) pay(ctx context.Context, tx storage.Tx, req ProcessRequest) (domain.Payment, error) {
	caller, err := identity.Require(ctx)
	if err != nil {
		return domain.Payment{}, err
	}

	order, err := tx.FindOwnedOrder(ctx, req.OrderID, caller.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Payment{}, apperr.OrderNotFound(req.OrderID)
	}
	if err != nil {
		return domain.Payment{}, err
	}

	if order.State != orderdomain.StateCreated {
		return domain.Payment{}, notPayable(req.OrderID)
	}
	if !req.Amount.Equal(order.TotalAmount) {
		return domain.Payment{}, apperr.AmountMismatch(req.OrderID)
	}
	if req.Currency != order.Currency {
		return domain.Payment{}, apperr.CurrencyMismatch(req.OrderID)
	}

	s.log.Info("payment initiated", "order_id", order.ID)
	now := s.now()

	payment := domain.NewPayment(order.ID, order.TotalAmount, order.Currency, req.IdempotencyKey, now)
	if err := payment.MarkAsCompleted(); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.InsertPayment(ctx, &payment); err != nil {
		return domain.Payment{}, err
	}

	from := order.State
	if err := order.MarkAsPaid(now); err != nil {
		return domain.Payment{}, err
	}
	if err := tx.UpdateOrderState(ctx, order, from); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return domain.Payment{}, notPayable(req.OrderID)
		}
		return domain.Payment{}, err
	}

	traceparent := tracing.Traceparent(ctx)
	paid, err := outbox.NewEvent(domain.AggregateType, payment.ID, domain.EventPaymentCompleted, domain.NewPaymentCompleted(payment), traceparent)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Enqueue(ctx, paid); err != nil {
		return domain.Payment{}, err
	}
	orderPaid, err := outbox.NewEvent(orderdomain.AggregateType, order.ID, orderdomain.EventOrderPaid, orderdomain.NewStateChanged(order, from), traceparent)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := tx.Enqueue(ctx, orderPaid); err != nil {
		return domain.Payment{}, err
	}

	s.log.Info("payment completed", "payment_id", payment.ID, "order_id", order.ID)
	return payment, nil
}

// FetchPayment returns a payment of an order the caller owns. Payments of
// other customers' orders are reported as missing.
func (s *Service) FetchPayment(ctx context.Context, paymentID int64) (domain.Payment, error) {
	ctx, span := s.tracer.Start(ctx, "FetchPayment", trace.WithAttributes(attribute.Int64("payment.id", paymentID)))
	defer span.End()

	if _, err := identity.AuthorizeCustomerAPI(ctx); err != nil {
		return domain.Payment{}, err
	}

	payment, err := s.store.FindPayment(ctx, paymentID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Payment{}, apperr.PaymentNotFound(paymentID)
	}
	if err != nil {
		return domain.Payment{}, s.surface(err, "fetch payment", paymentID)
	}

	order, err := s.store.FindOrder(ctx, payment.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Payment{}, apperr.PaymentNotFound(paymentID)
	}
	if err != nil {
		return domain.Payment{}, s.surface(err, "fetch payment", paymentID)
	}
	if err := identity.AuthorizeOwner(ctx, order.CustomerID, apperr.PaymentNotFound(paymentID)); err != nil {
		return domain.Payment{}, err
	}

	s.log.Info("payment fetched", "payment_id", payment.ID, "payment_state", payment.State)
	return payment, nil
}

func notPayable(orderID int64) error {
	return apperr.InvalidState(apperr.CodeInvalidOrder, "cannot process payment, order is not in CREATED state", orderID)
}

// surface passes taxonomy errors through and turns everything else into a
// retryable internal error.
func (s *Service) surface(err error, op string, id int64) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	s.log.Error(op+" failed", "id", id, "err", err)
	return apperr.Internal(err)
}
