package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
)

// ProblemDetail is an RFC 7807 error body.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ProblemDetail{
		Type:     problemType(status),
		Title:    http.StatusText(status),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

// writeError maps workflow errors onto HTTP. Anything unrecognised is logged
// and answered with a generic 500.
func writeError(w http.ResponseWriter, r *http.Request, log logs.Logger, err error) {
	var stock *orders.StockError
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		writeProblem(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, orders.ErrPaymentNotConfirmed):
		writeProblem(w, r, http.StatusPaymentRequired, "Payment has not been confirmed.")
	case errors.Is(err, orders.ErrPaymentGateUnavailable):
		log.Warn("payment gate unavailable", "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusServiceUnavailable, "Payment processor is unavailable, try again later.")
	case errors.As(err, &stock) && errors.Is(err, orders.ErrProductNotFound):
		writeProblem(w, r, http.StatusNotFound, "Product "+stock.ProductID+" not found.")
	case errors.As(err, &stock) && errors.Is(err, orders.ErrInsufficientStock):
		writeProblem(w, r, http.StatusConflict, "Insufficient stock for product "+stock.ProductID+".")
	case errors.Is(err, orders.ErrForbidden):
		writeProblem(w, r, http.StatusForbidden, "You do not own any item in this order.")
	case errors.Is(err, orders.ErrNotFound):
		writeProblem(w, r, http.StatusNotFound, "Order not found.")
	case errors.Is(err, orders.ErrTransientStore):
		log.Warn("transient store failure", "path", r.URL.Path, "error", err)
		w.Header().Set("Retry-After", "1")
		writeProblem(w, r, http.StatusServiceUnavailable, "Temporary failure, safe to retry.")
	default:
		log.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		writeProblem(w, r, http.StatusInternalServerError, "Internal Server Error")
	}
}

func problemType(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "https://tools.ietf.org/html/rfc7231#section-6.5.1"
	case http.StatusUnauthorized:
		return "https://tools.ietf.org/html/rfc7235#section-3.1"
	case http.StatusPaymentRequired:
		return "https://tools.ietf.org/html/rfc7231#section-6.5.2"
	case http.StatusForbidden:
		return "https://tools.ietf.org/html/rfc7231#section-6.5.3"
	case http.StatusNotFound:
		return "https://tools.ietf.org/html/rfc7231#section-6.5.4"
	case http.StatusConflict:
		return "https://tools.ietf.org/html/rfc7231#section-6.5.8"
	case http.StatusTooManyRequests:
		return "https://tools.ietf.org/html/rfc6585#section-4"
	case http.StatusInternalServerError:
		return "https://tools.ietf.org/html/rfc7231#section-6.6.1"
	case http.StatusServiceUnavailable:
		return "https://tools.ietf.org/html/rfc7231#section-6.6.4"
	default:
		return "about:blank"
	}
}
