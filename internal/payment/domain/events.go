package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const AggregateType = "payment"

const EventPaymentCompleted = "payment.completed"

type PaymentCompleted struct {
	PaymentID int64           `json:"paymentId"`
	OrderID   int64           `json:"orderId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"createdAt"`
}

func NewPaymentCompleted(p Payment) PaymentCompleted {
	return PaymentCompleted{
		PaymentID: p.ID,
		OrderID:   p.OrderID,
		Amount:    p.Amount,
		Currency:  p.Currency,
		CreatedAt: p.CreatedAt,
	}
}
