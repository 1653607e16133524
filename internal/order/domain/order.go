package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

type State string

const (
	StateCreated   State = "CREATED"
	StatePaid      State = "PAID"
	StateCancelled State = "CANCELLED"
	StateShipped   State = "SHIPPED"
)

const (
	CodeInvalidPayment      = "ORDER.INVALID_STATE.PAYMENT"
	CodeInvalidCancellation = "ORDER.INVALID_STATE.CANCELLATION"
	CodeInvalidShipping     = "ORDER.INVALID_STATE.SHIPPING"
)

// AmountScale is the number of fractional digits an order total may carry.
const AmountScale = 2

// MaxIntegerDigits matches the NUMERIC(19,2) amount columns.
const MaxIntegerDigits = 17

var maxTotal = decimal.New(1, MaxIntegerDigits)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

func States() []State {
	return []State{StateCreated, StatePaid, StateCancelled, StateShipped}
}

// ParseState matches s against the known states ignoring case.
func ParseState(s string) (State, bool) {
	for _, st := range States() {
		if strings.EqualFold(string(st), s) {
			return st, true
		}
	}
	return "", false
}

type Order struct {
	ID          int64
	CustomerID  int64
	TotalAmount decimal.Decimal
	Currency    string
	State       State
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewOrder builds an unsaved order in state CREATED. The ID is assigned by the store.
func NewOrder(customerID int64, total decimal.Decimal, currency string, now time.Time) (Order, error) {
	if !total.IsPositive() {
		return Order{}, apperr.InvalidRequest("totalAmount must be positive")
	}
	if !total.Equal(total.Truncate(AmountScale)) {
		return Order{}, apperr.InvalidRequest(fmt.Sprintf("totalAmount supports at most %d decimal places", AmountScale))
	}
	if total.GreaterThanOrEqual(maxTotal) {
		return Order{}, apperr.InvalidRequest(fmt.Sprintf("totalAmount must have at most %d integer digits", MaxIntegerDigits))
	}
	if !currencyPattern.MatchString(currency) {
		return Order{}, apperr.InvalidRequest("currency must be a 3-letter uppercase code")
	}
	now = Timestamp(now)
	return Order{
		CustomerID:  customerID,
		TotalAmount: total,
		Currency:    currency,
		State:       StateCreated,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (o *Order) MarkAsPaid(now time.Time) error {
	return o.transition(StateCreated, StatePaid, CodeInvalidPayment, "only CREATED orders can be marked as PAID", now)
}

func (o *Order) Cancel(now time.Time) error {
	return o.transition(StateCreated, StateCancelled, CodeInvalidCancellation, "only CREATED orders can be CANCELLED", now)
}

func (o *Order) MarkAsShipped(now time.Time) error {
	return o.transition(StatePaid, StateShipped, CodeInvalidShipping, "only PAID orders can be marked as SHIPPED", now)
}

func (o *Order) transition(from, to State, code, msg string, now time.Time) error {
	if o.State != from {
		return apperr.InvalidState(code, msg, o.ID)
	}
	o.State = to
	o.UpdatedAt = Timestamp(now)
	return nil
}

// Timestamp normalises t to the UTC microsecond precision the stores keep.
func Timestamp(t time.Time) time.Time { return t.UTC().Truncate(time.Microsecond) }

func (o Order) OwnedBy(customerID int64) bool { return o.CustomerID == customerID }
