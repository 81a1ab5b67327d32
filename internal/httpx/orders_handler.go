package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ariefcatur/go-marketplace-orders/internal/auth"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/orders"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// OrderService is the workflow behind the handlers; *orders.Service implements it.
type OrderService interface {
	CreateOrder(ctx context.Context, buyerID string, req orders.CheckoutRequest) (orders.Checkout, error)
	GetOrder(ctx context.Context, orderID, callerID string) (orders.OrderDetails, error)
	ListMyOrders(ctx context.Context, buyerID string) ([]orders.Order, error)
	ListSellerOrders(ctx context.Context, sellerID string) ([]orders.SellerOrderSummary, error)
	GetSellerOrder(ctx context.Context, orderID, sellerID string) (orders.SellerOrderView, error)
	UpdateOrderStatus(ctx context.Context, orderID, sellerID, status string) (orders.Order, error)
	QuotePayment(ctx context.Context, items []orders.ItemInput) (payments.Intent, error)
}

type OrdersHandler struct {
	Orders OrderService
	Log    logs.Logger
	// CheckoutLimit guards POST /orders/create; nil disables it.
	CheckoutLimit *RateLimit
}

type CreateOrderResp struct {
	Message     string `json:"message"`
	OrderID     string `json:"orderId"`
	TotalAmount string `json:"totalAmount"`
	Idempotent  bool   `json:"idempotent,omitempty"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type PaymentIntentReq struct {
	Items []orders.ItemInput `json:"items"`
}

type PaymentIntentResp struct {
	ClientSecret  string `json:"clientSecret"`
	Amount        string `json:"amount"`
	AmountInCents int64  `json:"amountInCents"`
}

// Register mounts the authenticated order and payment routes on r.
func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.With(h.CheckoutLimit.Middleware).Post("/create", h.createOrder)
		r.Get("/me", h.listMyOrders)
		r.Get("/seller/me", h.listSellerOrders)
		r.Get("/seller/{orderId}", h.getSellerOrder)
		r.Get("/{orderId}", h.getOrder)
		r.Patch("/{orderId}", h.updateStatus)
	})
	r.Post("/payments/create-payment-intent", h.createPaymentIntent)
}

func (h *OrdersHandler) caller(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFrom(r.Context())
	if !ok {
		writeProblem(w, r, http.StatusUnauthorized, "Token is not being sent or null")
	}
	return id, ok
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req orders.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	res, err := h.Orders.CreateOrder(ctx, id.UserID, req)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}

	resp := CreateOrderResp{
		Message:     "Order created successfully",
		OrderID:     res.OrderID,
		TotalAmount: res.TotalAmount.StringFixed(2),
	}
	if res.Idempotent {
		resp.Message = "Order already exists for this payment"
		resp.Idempotent = true
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *OrdersHandler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	list, err := h.Orders.ListMyOrders(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id.UserID, "orders": list})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	d, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "orderId"), id.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *OrdersHandler) listSellerOrders(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	list, err := h.Orders.ListSellerOrders(r.Context(), id.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sellerId": id.UserID, "orders": list})
}

func (h *OrdersHandler) getSellerOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	v, err := h.Orders.GetSellerOrder(r.Context(), chi.URLParam(r, "orderId"), id.UserID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.caller(w, r)
	if !ok {
		return
	}
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeProblem(w, r, http.StatusBadRequest, "status is required")
		return
	}

	ctx := orders.WithTraceID(r.Context(), middleware.GetReqID(r.Context()))
	o, err := h.Orders.UpdateOrderStatus(ctx, chi.URLParam(r, "orderId"), id.UserID, req.Status)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Order status updated", "order": o})
}

func (h *OrdersHandler) createPaymentIntent(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.caller(w, r); !ok {
		return
	}
	var req PaymentIntentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, "invalid json")
		return
	}

	in, err := h.Orders.QuotePayment(r.Context(), req.Items)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, PaymentIntentResp{
		ClientSecret:  in.ClientSecret,
		Amount:        payments.FromCents(in.AmountCents).StringFixed(2),
		AmountInCents: in.AmountCents,
	})
}
