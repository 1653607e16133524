package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/orderflow/internal/order/application"
	"github.com/dmehra2102/orderflow/internal/order/domain"
	"github.com/dmehra2102/orderflow/pkg/apperr"
	"github.com/dmehra2102/orderflow/pkg/httpx"
	"github.com/dmehra2102/orderflow/pkg/pagination"
)

type Handler struct {
	log     *slog.Logger
	service *application.Service
}

func NewHandler(log *slog.Logger, service *application.Service) *Handler {
	return &Handler{log: log, service: service}
}

var createOrderSchema = httpx.MustSchema(`{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["totalAmount", "currency"],
	"properties": {
		"totalAmount": {"type": "number", "exclusiveMinimum": 0},
		"currency": {"type": "string", "pattern": "^[A-Z]{3}$"}
	}
}`)

type createOrderReq struct {
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Currency    string          `json:"currency"`
}

type OrderResponse struct {
	OrderID     int64       `json:"orderId"`
	CustomerID  int64       `json:"customerId"`
	TotalAmount json.Number `json:"totalAmount"`
	Currency    string      `json:"currency"`
	OrderState  string      `json:"orderState"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

func NewOrderResponse(o domain.Order) OrderResponse {
	return OrderResponse{
		OrderID:     o.ID,
		CustomerID:  o.CustomerID,
		TotalAmount: json.Number(o.TotalAmount.StringFixed(domain.AmountScale)),
		Currency:    o.Currency,
		OrderState:  string(o.State),
		CreatedAt:   o.CreatedAt,
		UpdatedAt:   o.UpdatedAt,
	}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders", h.listOrders)
	r.Get("/orders/{orderId}", h.getOrder)
	r.Post("/orders/{orderId}/cancel", h.cancelOrder)
	r.Post("/internal/orders/{orderId}/ship", h.shipOrder)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderReq
	if err := httpx.DecodeJSON(r, createOrderSchema, &req); err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.service.CreateOrder(r.Context(), req.TotalAmount, req.Currency)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, NewOrderResponse(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "orderId")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewOrderResponse(o))
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := queryInt(q.Get("page"), 0, "page")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	size, err := queryInt(q.Get("size"), pagination.DefaultSize, "size")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	orders, err := h.service.ListOrders(r.Context(), page, size, q.Get("orderState"))
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pagination.Map(orders, NewOrderResponse))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "orderId")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.service.CancelOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewOrderResponse(o))
}

func (h *Handler) shipOrder(w http.ResponseWriter, r *http.Request) {
	id, err := PathID(r, "orderId")
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	o, err := h.service.ShipOrder(r.Context(), id)
	if err != nil {
		httpx.WriteError(w, r, h.log, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewOrderResponse(o))
}

// PathID reads a positive numeric path parameter.
func PathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.InvalidRequest(name + " must be a positive integer")
	}
	return id, nil
}

func queryInt(raw string, def int, name string) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.InvalidRequest(name + " must be an integer")
	}
	return n, nil
}
