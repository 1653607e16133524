// Package api assembles the public HTTP surface of the order service.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	orderapp "github.com/dmehra2102/orderflow/internal/order/application"
	orderhttp "github.com/dmehra2102/orderflow/internal/order/infrastructure/http"
	paymentapp "github.com/dmehra2102/orderflow/internal/payment/application"
	paymenthttp "github.com/dmehra2102/orderflow/internal/payment/infrastructure/http"
	"github.com/dmehra2102/orderflow/pkg/httpx"
)

type Deps struct {
	Log       *slog.Logger
	Orders    *orderapp.Service
	Payments  *paymentapp.Service
	JWTSecret []byte
	// RateLimit is requests per second per client; zero disables limiting.
	RateLimit float64
	RateBurst int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.Trace("order-http"))
	r.Use(httpx.AccessLog(d.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httpx.Authenticate(d.Log, d.JWTSecret))
		if d.RateLimit > 0 {
			r.Use(httpx.NewRateLimiter(d.Log, d.RateLimit, d.RateBurst).Middleware)
		}
		orderhttp.NewHandler(d.Log, d.Orders).Register(r)
		paymenthttp.NewHandler(d.Log, d.Payments).Register(r)
	})
	return r
}
