package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/orderflow/internal/identity"
	"github.com/dmehra2102/orderflow/pkg/apperr"
)

var secret = []byte("test-secret")

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestStatusFor(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindUnauthenticated:  http.StatusUnauthorized,
		apperr.KindForbidden:        http.StatusForbidden,
		apperr.KindNotFound:         http.StatusNotFound,
		apperr.KindInvalidState:     http.StatusBadRequest,
		apperr.KindAmountMismatch:   http.StatusBadRequest,
		apperr.KindCurrencyMismatch: http.StatusBadRequest,
		apperr.KindInvalidRequest:   http.StatusBadRequest,
		apperr.KindConflict:         http.StatusConflict,
		apperr.KindInternal:         http.StatusInternalServerError,
	}
	for kind, want := range cases {
		assert.Equal(t, want, StatusFor(kind), kind.String())
	}
}

func TestWriteErrorBody(t *testing.T) {
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, discard(), apperr.AmountMismatch(3))
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Equal(t, apperr.CodeAmountMismatch, body.ErrorCode)
	assert.False(t, body.Retryable)
	assert.Equal(t, "abc-123", body.RequestID)
	assert.False(t, body.Timestamp.IsZero())
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	WriteError(rec, req, discard(), errors.New("pq: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, apperr.CodeInternal, body.ErrorCode)
	assert.True(t, body.Retryable)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRequestIDPolicy(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "client-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "client-id", seen)
	assert.Equal(t, "client-id", rec.Header().Get(RequestIDHeader))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("x", 50))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	_, err = uuid.Parse(seen)
	assert.NoError(t, err)
}

func TestAuthenticate(t *testing.T) {
	var got identity.Identity
	var ok bool
	h := Authenticate(discard(), secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok = identity.FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := SignToken(secret, identity.Identity{UserID: 7, Role: identity.RoleCustomer})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.True(t, ok)
	assert.Equal(t, identity.Identity{UserID: 7, Role: identity.RoleCustomer}, got)

	// No header: passes through without identity.
	ok = false
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.False(t, ok)

	forged, err := SignToken([]byte("other"), identity.Identity{UserID: 7, Role: identity.RoleAdmin})
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apperr.CodeUnauthenticated, decodeError(t, rec).ErrorCode)
}

func TestParseTokenRejectsUnknownRole(t *testing.T) {
	token, err := SignToken(secret, identity.Identity{UserID: 7, Role: identity.Role("ROOT")})
	require.NoError(t, err)
	_, err = ParseToken(secret, token)
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	l := NewRateLimiter(discard(), 1, 2)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	// Another client has its own bucket.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.2:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

const testSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["amount", "currency"],
	"properties": {
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"}
	}
}`

func TestDecodeJSON(t *testing.T) {
	schema := MustSchema(testSchema)
	var dst struct {
		Amount   decimal.Decimal `json:"amount"`
		Currency string          `json:"currency"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount": 49.99, "currency": "USD"}`))
	require.NoError(t, DecodeJSON(req, schema, &dst))
	assert.True(t, dst.Amount.Equal(decimal.RequireFromString("49.99")))
	assert.Equal(t, "USD", dst.Currency)

	for _, body := range []string{``, `{`, `{"amount": -1, "currency": "USD"}`, `{"amount": 1, "currency": "usd"}`, `{"currency": "USD"}`} {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		err := DecodeJSON(req, schema, &dst)
		assert.True(t, apperr.Is(err, apperr.KindInvalidRequest), body)
	}
}
