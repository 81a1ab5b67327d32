package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires the shared middleware, health and metrics endpoints, and
// mounts the order API under /api/v1 behind auth.
func NewRouter(log logs.Logger, tokens TokenValidator, orders *OrdersHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, RequestLogger(log), middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(Authenticate(tokens, log))
		orders.Register(r)
	})
	return r
}
