package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/orderflow/internal/identity"
	"github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/internal/storage"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/outbox"
	"github.com/dmehra2102/orderflow/pkg/pagination"
	"github.com/dmehra2102/orderflow/pkg/tracing"
)

type Service struct {
	log    *slog.Logger
	store  OrderStore
	tracer trace.Tracer
	now    func() time.Time
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(log *slog.Logger, store OrderStore, opts ...Option) *Service {
	s := &Service{
		log:    log,
		store:  store,
		tracer: otel.Tracer("order-service"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder places a new order for the caller.
func (s *Service) CreateOrder(ctx context.Context, total decimal.Decimal, currency string) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CreateOrder")
	defer span.End()

	caller, err := identity.AuthorizeCustomerAPI(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := domain.NewOrder(caller.UserID, total, currency, s.now())
	if err != nil {
		return domain.Order{}, err
	}

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		if err := tx.InsertOrder(ctx, &order); err != nil {
			return err
		}
		ev, err := outbox.NewEvent(domain.AggregateType, order.ID, domain.EventOrderCreated, domain.NewOrderCreated(order), tracing.Traceparent(ctx))
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, ev)
	})
	if err != nil {
		return domain.Order{}, s.surface(err, "create order", 0)
	}

	span.SetAttributes(attribute.Int64("order.id", order.ID))
	s.log.Info("order created", "order_id", order.ID, "customer_id", order.CustomerID)
	return order, nil
}

// GetOrder returns one of the caller's orders.
func (s *Service) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "GetOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	caller, err := identity.AuthorizeCustomerAPI(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	order, err := s.store.FindOwnedOrder(ctx, orderID, caller.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Order{}, apperr.OrderNotFound(orderID)
	}
	if err != nil {
		return domain.Order{}, s.surface(err, "get order", orderID)
	}
	return order, nil
}

// ListOrders pages through the caller's orders, newest first. stateFilter
// is optional and matched ignoring case.
func (s *Service) ListOrders(ctx context.Context, page, size int, stateFilter string) (pagination.Page[domain.Order], error) {
	ctx, span := s.tracer.Start(ctx, "ListOrders")
	defer span.End()

	caller, err := identity.AuthorizeCustomerAPI(ctx)
	if err != nil {
		return pagination.Page[domain.Order]{}, err
	}
	req, err := pagination.NewRequest(page, size)
	if err != nil {
		return pagination.Page[domain.Order]{}, err
	}
	if req.Capped() {
		s.log.Warn("requested page size exceeds maximum, capping",
			"requested_size", req.RequestedSize, "applied_size", req.AppliedSize)
	}

	query := storage.OrderQuery{CustomerID: caller.UserID, Offset: req.Offset(), Limit: req.AppliedSize}
	if stateFilter != "" {
		state, ok := domain.ParseState(stateFilter)
		if !ok {
			return pagination.Page[domain.Order]{}, apperr.InvalidRequest(invalidStateMessage(stateFilter))
		}
		query.State = &state
	}

	orders, total, err := s.store.ListOrders(ctx, query)
	if err != nil {
		return pagination.Page[domain.Order]{}, s.surface(err, "list orders", 0)
	}
	return pagination.New(req, orders, total), nil
}

// CancelOrder cancels one of the caller's orders that has not been paid.
func (s *Service) CancelOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	caller, err := identity.AuthorizeCustomerAPI(ctx)
	if err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		order, err = tx.FindOwnedOrder(ctx, orderID, caller.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.OrderNotFound(orderID)
		}
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, &order, order.Cancel, domain.CodeInvalidCancellation)
	})
	if err != nil {
		return domain.Order{}, s.surface(err, "cancel order", orderID)
	}

	s.log.Info("order cancelled", "order_id", order.ID)
	return order, nil
}

// ShipOrder marks a paid order as shipped. It is called by fulfilment, not
// by customers, so the order is loaded without an owner check.
func (s *Service) ShipOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "ShipOrder", trace.WithAttributes(attribute.Int64("order.id", orderID)))
	defer span.End()

	if _, err := identity.RequireRole(ctx, identity.RoleSystem, identity.RoleAdmin); err != nil {
		return domain.Order{}, err
	}

	var order domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		var err error
		order, err = tx.FindOrder(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.OrderNotFound(orderID)
		}
		if err != nil {
			return err
		}
		return s.transition(ctx, tx, &order, order.MarkAsShipped, domain.CodeInvalidShipping)
	})
	if err != nil {
		return domain.Order{}, s.surface(err, "ship order", orderID)
	}

	s.log.Info("order shipped", "order_id", order.ID)
	return order, nil
}

// transition applies move to order, persists it if the stored state is
// unchanged and records the matching event.
func (s *Service) transition(ctx context.Context, tx storage.Tx, order *domain.Order, move func(time.Time) error, code string) error {
	from := order.State
	if err := move(s.now()); err != nil {
		return err
	}
	if err := tx.UpdateOrderState(ctx, *order, from); err != nil {
		if errors.Is(err, storage.ErrStaleState) {
			return apperr.InvalidState(code, fmt.Sprintf("order %d changed state concurrently", order.ID), order.ID)
		}
		return err
	}
	ev, err := outbox.NewEvent(domain.AggregateType, order.ID, domain.EventType(order.State), domain.NewStateChanged(*order, from), tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, ev)
}

func invalidStateMessage(value string) string {
	allowed := make([]string, 0, len(domain.States()))
	for _, st := range domain.States() {
		allowed = append(allowed, string(st))
	}
	return fmt.Sprintf("invalid orderState '%s', allowed values: %s", value, strings.Join(allowed, ", "))
}

func (s *Service) surface(err error, op string, id int64) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	s.log.Error(op+" failed", "order_id", id, "err", err)
	return apperr.Internal(err)
}
