package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmehra2102/orderflow/internal/identity"
	"github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/tracing"
)

const ShipmentTopic = "shipment.dispatched"

// ShipmentDispatched is published by the warehouse once an order leaves it.
type ShipmentDispatched struct {
	OrderID int64 `json:"order_id"`
}

type Shipper interface {
	ShipOrder(ctx context.Context, orderID int64) (domain.Order, error)
}

type Deduper interface {
	Key(topic string, partition int, offset int64) string
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ShipmentConsumer struct {
	log        *slog.Logger
	reader     MessageReader
	svc        Shipper
	idem       Deduper
	tracer     trace.Tracer
	retryDelay time.Duration
	maxDelay   time.Duration
}

type Option func(*ShipmentConsumer)

// WithRetryDelay sets the first and the largest pause between attempts at a
// message that failed with a retryable error.
func WithRetryDelay(first, limit time.Duration) Option {
	return func(c *ShipmentConsumer) {
		c.retryDelay = first
		c.maxDelay = limit
	}
}

func NewShipmentConsumer(log *slog.Logger, reader MessageReader, svc Shipper, idem Deduper, opts ...Option) *ShipmentConsumer {
	c := &ShipmentConsumer{
		log:        log,
		reader:     reader,
		svc:        svc,
		idem:       idem,
		tracer:     otel.Tracer("shipment-consumer"),
		retryDelay: 500 * time.Millisecond,
		maxDelay:   30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *ShipmentConsumer) Run(ctx context.Context) error {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		// Committing a later offset would skip msg, so it is retried in
		// place until it succeeds or the worker stops.
		delay := c.retryDelay
		for !c.Handle(ctx, msg) {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
			delay = min(delay*2, c.maxDelay)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("commit failed", "offset", msg.Offset, "err", err)
		}
	}
}

// Handle ships the order named by msg and reports whether the message may be
// committed. Only retryable failures leave it uncommitted.
func (c *ShipmentConsumer) Handle(ctx context.Context, msg kafka.Message) bool {
	key := c.idem.Key(msg.Topic, msg.Partition, msg.Offset)
	seen, err := c.idem.Seen(ctx, key)
	if err != nil {
		c.log.Error("idempotency check failed", "key", key, "err", err)
		return false
	}
	if seen {
		c.log.Info("duplicate message skipped", "key", key)
		return true
	}

	msgCtx := tracing.ExtractKafkaHeaders(ctx, msg.Headers)
	msgCtx, span := c.tracer.Start(msgCtx, "ConsumeShipmentDispatched")
	defer span.End()

	var event ShipmentDispatched
	if err := json.Unmarshal(msg.Value, &event); err != nil || event.OrderID <= 0 {
		c.log.Error("malformed shipment event", "key", key, "err", err)
		return true
	}
	span.SetAttributes(attribute.Int64("order.id", event.OrderID))

	msgCtx = identity.WithIdentity(msgCtx, identity.Identity{Role: identity.RoleSystem})
	if _, err := c.svc.ShipOrder(msgCtx, event.OrderID); err != nil {
		if e, ok := apperr.As(err); ok && !e.Retryable() {
			c.log.Warn("shipment rejected", "order_id", event.OrderID, "code", e.Code)
			return true
		}
		c.log.Error("ship order failed, will retry", "order_id", event.OrderID, "err", err)
		if err := c.idem.Release(ctx, key); err != nil {
			c.log.Error("idempotency release failed", "key", key, "err", err)
		}
		return false
	}
	c.log.Info("order shipped from event", "order_id", event.OrderID)
	return true
}
