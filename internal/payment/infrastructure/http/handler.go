package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	orderdomain "github.com/dmehra2102/orderflow/internal/order/domain"
	orderhttp "github.com/dmehra2102/orderflow/internal/order/infrastructure/http"
	"github.com/dmehra2102/orderflow/internal/payment/application"
	"github.com/dmehra2102/orderflow/internal/payment/domain"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/httpx"
)

const IdempotencyKeyHeader = "Idempotency-Key"

type Handler struct {
	log     *slog.Logger
	service *application.Service
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service}
}

var paymentSchema = httpx.MustSchema(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["amount", "currency"],
	"properties": {
		"amount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "minLength": 1}
	}
}`)

type paymentReq struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

type PaymentResponse struct {
	PaymentID      int64       `json:"paymentId"`
	OrderID        int64       `json:"orderId"`
	Amount         json.Number `json:"amount"`
	Currency       string      `json:"currency"`
	PaymentState   string      `json:"paymentState"`
	IdempotencyKey string      `json:"idempotencyKey"`
	CreatedAt      time.Time   `json:"createdAt"`
}

func NewPaymentResponse(p domain.Payment) PaymentResponse {
	return PaymentResponse{
		PaymentID:      p.ID,
		OrderID:        p.OrderID,
		Amount:         json.Number(p.Amount.StringFixed(orderdomain.AmountScale)),
		Currency:       p.Currency,
		PaymentState:   string(p.State),
		IdempotencyKey: p.IdempotencyKey,
		CreatedAt:      p.CreatedAt,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/orders/{orderId}/payments", h.processPayment)
	r.Get("/payments/{paymentId}", h.getPayment)
}

// processPayment answers 201 for a new payment and 200 when the idempotency
// key replays an earlier one.
func (h *Handler) processPayment(w http.ResponseWriter, r *http.Request) {
	orderID, err := orderhttp.PathID(r, "orderId")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	key := r.Header.Get(IdempotencyKeyHeader)
	if _, err := uuid.Parse(key); err != nil {
		httpx.WriteError(w, r, h.log, apperr.InvalidRequest(IdempotencyKeyHeader+" header must be a UUID"))
		return
	}
	var req paymentReq
	if err := httpx.DecodeJSON(r, paymentSchema, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	res, err := h.service.ProcessPayment(r.Context(), application.ProcessRequest{
		OrderID:        orderID,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: key,
	})
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	httpx.WriteJSON(w, status, NewPaymentResponse(res.Payment))
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	id, err := orderhttp.PathID(r, "paymentId")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	p, err := h.service.FetchPayment(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewPaymentResponse(p))
}
