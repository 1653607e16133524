// Package httpx holds the HTTP plumbing shared by the order and payment
// handlers: JSON responses, error mapping and middleware.
package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dmehra2102/orderflow/pkg/apperr"
)

// ErrorBody is the JSON body of every non-2xx response.
type ErrorBody struct {
	Success   bool      `json:"success"`
	Status    int       `json:"status"`
	ErrorCode string    `json:"errorCode"`
	Reason    string    `json:"reason"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"requestId"`
}

const CodeRateLimited = "RATE_LIMITED"

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnauthenticated:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindAmountMismatch, apperr.KindCurrencyMismatch, apperr.KindInvalidRequest:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as an ErrorBody. Errors outside the apperr taxonomy
// are reported as internal errors and their detail is only logged.
func WriteError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Internal(err)
	}
	status := StatusFor(e.Kind)
	if status == http.StatusInternalServerError {
		log.Error("request failed", "request_id", RequestIDFrom(r.Context()), "path", r.URL.Path, "err", err)
	}
	writeError(w, r, status, e.Code, e.Message, e.Retryable())
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, reason string, retryable bool) {
	WriteJSON(w, status, ErrorBody{
		Success:   false,
		Status:    status,
		ErrorCode: code,
		Reason:    reason,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFrom(r.Context()),
	})
}
