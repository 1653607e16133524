package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "order"

const (
	EventOrderCreated   = "order.created"
	EventOrderPaid      = "order.paid"
	EventOrderCancelled = "order.cancelled"
	EventOrderShipped   = "order.shipped"
)

type OrderCreated struct {
	OrderID     int64           `json:"orderId"`
	CustomerID  int64           `json:"customerId"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// OrderStateChanged is the payload of every transition event.
type OrderStateChanged struct {
	OrderID    int64     `json:"orderId"`
	CustomerID int64     `json:"customerId"`
	From       State     `json:"from"`
	To         State     `json:"to"`
	ChangedAt  time.Time `json:"changedAt"`
}

func NewOrderCreated(o Order) OrderCreated {
	return OrderCreated{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount,
		Currency:    o.Currency,
		CreatedAt:   o.CreatedAt,
	}
}

func NewStateChanged(o Order, from State) OrderStateChanged {
	return OrderStateChanged{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		From:       from,
		To:         o.State,
		ChangedAt:  o.UpdatedAt,
	}
}

// EventType returns the outbox event type for a transition into s.
func EventType(s State) string {
	switch s {
	case StatePaid:
		return EventOrderPaid
	case StateCancelled:
		return EventOrderCancelled
	case StateShipped:
		return EventOrderShipped
	default:
		return EventOrderCreated
	}
}
