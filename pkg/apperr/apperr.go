package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInternal Kind = iota
	KindUnauthenticated
	KindForbidden
	KindNotFound
	KindInvalidState
	KindAmountMismatch
	KindCurrencyMismatch
	KindInvalidRequest
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindInvalidState:
		return "invalid_state"
	case KindAmountMismatch:
		return "amount_mismatch"
	case KindCurrencyMismatch:
		return "currency_mismatch"
	case KindInvalidRequest:
		return "invalid_request"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

const (
	CodeUnauthenticated  = "UNAUTHORIZED"
	CodeForbidden        = "ACCESS_DENIED"
	CodeOrderNotFound    = "ORDER_NOT_FOUND"
	CodePaymentNotFound  = "PAYMENT_NOT_FOUND"
	CodeInvalidOrder     = "INVALID_ORDER_STATE"
	CodeAmountMismatch   = "ORDER_AMOUNT_MISMATCH"
	CodeCurrencyMismatch = "ORDER_CURRENCY_MISMATCH"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeConflict         = "CONFLICT"
	CodeInternal         = "INTERNAL_ERROR"
)

// Error is the error value every service operation reports to its caller.
// EntityID is zero when the error is not about a specific order or payment.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	EntityID int64
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool { return e.Kind == KindInternal }

func Unauthenticated(msg string) *Error {
	return &Error{Kind: KindUnauthenticated, Code: CodeUnauthenticated, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Code: CodeForbidden, Message: msg}
}

func OrderNotFound(orderID int64) *Error {
	return &Error{Kind: KindNotFound, Code: CodeOrderNotFound, Message: fmt.Sprintf("order %d not found", orderID), EntityID: orderID}
}

func PaymentNotFound(paymentID int64) *Error {
	return &Error{Kind: KindNotFound, Code: CodePaymentNotFound, Message: fmt.Sprintf("payment %d not found", paymentID), EntityID: paymentID}
}

func InvalidState(code, msg string, entityID int64) *Error {
	return &Error{Kind: KindInvalidState, Code: code, Message: msg, EntityID: entityID}
}

func AmountMismatch(orderID int64) *Error {
	return &Error{
		Kind:     KindAmountMismatch,
		Code:     CodeAmountMismatch,
		Message:  "the requested payment amount does not match the order amount",
		EntityID: orderID,
	}
}

func CurrencyMismatch(orderID int64) *Error {
	return &Error{
		Kind:     KindCurrencyMismatch,
		Code:     CodeCurrencyMismatch,
		Message:  "payment currency does not match order currency",
		EntityID: orderID,
	}
}

func InvalidRequest(msg string) *Error {
	return &Error{Kind: KindInvalidRequest, Code: CodeInvalidRequest, Message: msg}
}

// Conflict is never returned by the services: a duplicate idempotency key is
// resolved by replaying the stored payment. It exists so KindConflict has a
// constructor and a status mapping.
func Conflict(msg string) *Error {
	return &Error{Kind: KindConflict, Code: CodeConflict, Message: msg}
}

// Internal hides err behind a generic message. The cause stays reachable
// through errors.Unwrap for logging.
func Internal(err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: "internal error", Err: err}
}

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns KindInternal for errors outside the taxonomy.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
