package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

type State string

const (
	StatePending   State = "PENDING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

const (
	CodeInvalidCompletion = "PAYMENT.INVALID_STATE.COMPLETION"
	CodeInvalidFailure    = "PAYMENT.INVALID_STATE.FAILURE"
)

// Payment settles exactly one order. OrderID is a plain reference; the order
// is loaded through the store when needed.
type Payment struct {
	ID             int64
	OrderID        int64
	Amount         decimal.Decimal
	Currency       string
	State          State
	IdempotencyKey string
	CreatedAt      time.Time
}

// NewPayment returns an unsaved PENDING payment. Amount and currency must come
// from the order being paid, not from the request.
func NewPayment(orderID int64, amount decimal.Decimal, currency, idempotencyKey string, now time.Time) Payment {
	return Payment{
		OrderID:        orderID,
		Amount:         amount,
		Currency:       currency,
		State:          StatePending,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      now.UTC().Truncate(time.Microsecond),
	}
}

func (p *Payment) MarkAsCompleted() error {
	if p.State != StatePending {
		return apperr.InvalidState(CodeInvalidCompletion, "only PENDING payments can be completed", p.ID)
	}
	p.State = StateCompleted
	return nil
}

// MarkAsFailed has no caller in the processing flow; it exists for gateway
// rejections once an external gateway is integrated.
func (p *Payment) MarkAsFailed() error {
	if p.State != StatePending {
		return apperr.InvalidState(CodeInvalidFailure, "only PENDING payments can fail", p.ID)
	}
	p.State = StateFailed
	return nil
}
