package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	kafkax "github.com/ariefcatur/go-marketplace-orders/internal/kafka"
	"github.com/ariefcatur/go-marketplace-orders/internal/logs"
	"github.com/ariefcatur/go-marketplace-orders/internal/metrics"
	"github.com/ariefcatur/go-marketplace-orders/internal/payments"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
)

const (
	defaultPaymentTimeout = 5 * time.Second
	defaultStoreTimeout   = 10 * time.Second

	// Currency charged for payment intents.
	Currency = "usd"

	// quantity columns are INTEGER
	maxQuantity = math.MaxInt32
)

// Store is the transactional persistence used by Service; *Repo implements it.
type Store interface {
	CreateOrderTx(ctx context.Context, buyerID, paymentRef string, items []ItemInput, authorize AuthorizeFunc) (Placement, error)
	FindByPaymentReference(ctx context.Context, paymentRef string) (Order, error)
	GetBuyerOrder(ctx context.Context, orderID, buyerID string) (OrderDetails, error)
	ListBuyerOrders(ctx context.Context, buyerID string) ([]Order, error)
	ListSellerOrders(ctx context.Context, sellerID string) ([]SellerOrderSummary, error)
	GetSellerOrder(ctx context.Context, orderID, sellerID string) (SellerOrderView, error)
	UpdateStatus(ctx context.Context, orderID, sellerID string, next Status) (StatusChange, error)
	Quote(ctx context.Context, items []ItemInput) (decimal.Decimal, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafkago.Header) error
}

type Recorder interface {
	ObserveCheckout(outcome string, d time.Duration)
	ObserveTransition(from, to string)
}

// Service is the order workflow. Producer, Redis and Metrics are optional.
type Service struct {
	Store          Store
	Payments       payments.Gate
	Producer       Publisher
	Redis          redis.Cmdable
	Metrics        Recorder
	Log            logs.Logger
	ServiceName    string
	PaymentTimeout time.Duration
	StoreTimeout   time.Duration
}

type CheckoutRequest struct {
	Items            []ItemInput `json:"items"`
	PaymentReference string      `json:"paymentReference"`
}

type Checkout struct {
	OrderID     string
	TotalAmount decimal.Decimal
	// Idempotent is set when the buyer already checked out with this
	// payment reference and the existing order was returned.
	Idempotent bool
}

type traceKey struct{}

// WithTraceID tags events published for this request.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func validateItems(items []ItemInput) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: items must not be empty", ErrInvalidRequest)
	}
	for i, it := range items {
		if _, err := uuid.Parse(it.ProductID); err != nil {
			return fmt.Errorf("%w: items[%d].productId is not a valid id", ErrInvalidRequest, i)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: items[%d].quantity must be positive", ErrInvalidRequest, i)
		}
		if it.Quantity > maxQuantity {
			return fmt.Errorf("%w: items[%d].quantity exceeds %d", ErrInvalidRequest, i, maxQuantity)
		}
	}
	return nil
}

func (r CheckoutRequest) Validate() error {
	if err := validateItems(r.Items); err != nil {
		return err
	}
	if strings.TrimSpace(r.PaymentReference) == "" {
		return fmt.Errorf("%w: paymentReference is required", ErrInvalidRequest)
	}
	return nil
}

// CreateOrder confirms the payment, then reserves stock and persists the
// order in one transaction. Nothing is written unless every step succeeds.
func (s *Service) CreateOrder(ctx context.Context, buyerID string, req CheckoutRequest) (Checkout, error) {
	start := time.Now()
	c, err := s.createOrder(ctx, buyerID, req)
	if s.Metrics != nil {
		s.Metrics.ObserveCheckout(checkoutOutcome(c, err), time.Since(start))
	}
	return c, err
}

func (s *Service) createOrder(ctx context.Context, buyerID string, req CheckoutRequest) (Checkout, error) {
	if buyerID == "" {
		return Checkout{}, fmt.Errorf("%w: missing buyer", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return Checkout{}, err
	}
	ref := strings.TrimSpace(req.PaymentReference)

	if c, ok := s.replay(ctx, buyerID, ref); ok {
		return c, nil
	}

	conf, err := s.confirmPayment(ctx, ref)
	if err != nil {
		return Checkout{}, err
	}

	// The client going away must not leave the transaction half done.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), durationOr(s.StoreTimeout, defaultStoreTimeout))
	defer cancel()

	placement, err := s.Store.CreateOrderTx(storeCtx, buyerID, ref, req.Items, func(total decimal.Decimal) error {
		if !conf.Covers(total, Currency) {
			return fmt.Errorf("%w: captured %d %s does not cover %s", ErrPaymentNotConfirmed, conf.AmountCents, conf.Currency, total.StringFixed(2))
		}
		return nil
	})
	if errors.Is(err, ErrAlreadyExists) {
		existing, ferr := s.Store.FindByPaymentReference(storeCtx, ref)
		if ferr != nil {
			return Checkout{}, ferr
		}
		if existing.BuyerID != buyerID {
			s.logger().Warn("payment reference reused", "buyer_id", buyerID, "order_id", existing.ID)
			return Checkout{}, fmt.Errorf("%w: payment reference already used", ErrPaymentNotConfirmed)
		}
		s.rememberCheckout(storeCtx, buyerID, ref, existing.ID)
		return Checkout{OrderID: existing.ID, TotalAmount: existing.TotalAmount, Idempotent: true}, nil
	}
	if err != nil {
		return Checkout{}, err
	}

	s.rememberCheckout(storeCtx, buyerID, ref, placement.Order.ID)
	s.publish(storeCtx, TopicOrderCreated, EventOrderCreated, placement.Order.ID, newOrderCreatedPayload(placement))
	s.logger().Info("order created",
		"order_id", placement.Order.ID,
		"buyer_id", buyerID,
		"items", len(placement.Items),
		"total", placement.Order.TotalAmount.StringFixed(2),
	)
	return Checkout{OrderID: placement.Order.ID, TotalAmount: placement.Order.TotalAmount}, nil
}

// replay answers a retried checkout from the idempotency key. The database
// stays authoritative: the key only says where to look.
func (s *Service) replay(ctx context.Context, buyerID, ref string) (Checkout, bool) {
	if s.Redis == nil {
		return Checkout{}, false
	}
	orderID, err := s.Redis.Get(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, buyerID, ref)).Result()
	if err != nil || orderID == "" {
		return Checkout{}, false
	}
	o, err := s.Store.FindByPaymentReference(ctx, ref)
	if err != nil || o.ID != orderID || o.BuyerID != buyerID {
		return Checkout{}, false
	}
	return Checkout{OrderID: o.ID, TotalAmount: o.TotalAmount, Idempotent: true}, true
}

func (s *Service) rememberCheckout(ctx context.Context, buyerID, ref, orderID string) {
	if s.Redis == nil {
		return
	}
	_ = s.Redis.Set(ctx, fmt.Sprintf(redisx.KeyIdemOrderCreate, buyerID, ref), orderID, redisx.TTLIdempotency).Err()
}

func (s *Service) confirmPayment(ctx context.Context, ref string) (payments.Confirmation, error) {
	pctx, cancel := context.WithTimeout(ctx, durationOr(s.PaymentTimeout, defaultPaymentTimeout))
	defer cancel()

	conf, err := s.Payments.RetrievePaymentStatus(pctx, ref)
	switch {
	case errors.Is(err, payments.ErrPaymentNotFound):
		return payments.Confirmation{}, fmt.Errorf("%w: unknown payment reference", ErrPaymentNotConfirmed)
	case err != nil:
		return payments.Confirmation{}, fmt.Errorf("%w: %v", ErrPaymentGateUnavailable, err)
	case !conf.Succeeded():
		return payments.Confirmation{}, fmt.Errorf("%w: payment status is %s", ErrPaymentNotConfirmed, conf.Status)
	}
	return conf, nil
}

// GetOrder returns an order only to the buyer who placed it.
func (s *Service) GetOrder(ctx context.Context, orderID, callerID string) (OrderDetails, error) {
	if _, err := uuid.Parse(orderID); err != nil || callerID == "" {
		return OrderDetails{}, ErrNotFound
	}

	key := fmt.Sprintf(redisx.KeyOrder, orderID)
	if s.Redis != nil {
		if b, err := s.Redis.Get(ctx, key).Bytes(); err == nil {
			var d OrderDetails
			if json.Unmarshal(b, &d) == nil {
				if d.Order.BuyerID != callerID {
					return OrderDetails{}, ErrNotFound
				}
				return d, nil
			}
		}
	}

	d, err := s.Store.GetBuyerOrder(ctx, orderID, callerID)
	if err != nil {
		return OrderDetails{}, err
	}
	if s.Redis != nil {
		if b, err := json.Marshal(d); err == nil {
			_ = s.Redis.Set(ctx, key, b, redisx.TTLOrderCache).Err()
		}
	}
	return d, nil
}

func (s *Service) ListMyOrders(ctx context.Context, buyerID string) ([]Order, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: missing buyer", ErrInvalidRequest)
	}
	return s.Store.ListBuyerOrders(ctx, buyerID)
}

func (s *Service) ListSellerOrders(ctx context.Context, sellerID string) ([]SellerOrderSummary, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: missing seller", ErrInvalidRequest)
	}
	return s.Store.ListSellerOrders(ctx, sellerID)
}

func (s *Service) GetSellerOrder(ctx context.Context, orderID, sellerID string) (SellerOrderView, error) {
	if _, err := uuid.Parse(orderID); err != nil {
		return SellerOrderView{}, ErrNotFound
	}
	if sellerID == "" {
		return SellerOrderView{}, ErrForbidden
	}
	return s.Store.GetSellerOrder(ctx, orderID, sellerID)
}

// UpdateOrderStatus applies a seller's transition. status must name one of
// the known states and be reachable from the current one.
func (s *Service) UpdateOrderStatus(ctx context.Context, orderID, sellerID, status string) (Order, error) {
	next, err := ParseStatus(strings.ToLower(strings.TrimSpace(status)))
	if err != nil {
		return Order{}, err
	}
	if _, err := uuid.Parse(orderID); err != nil {
		return Order{}, ErrNotFound
	}
	if sellerID == "" {
		return Order{}, ErrForbidden
	}

	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), durationOr(s.StoreTimeout, defaultStoreTimeout))
	defer cancel()

	change, err := s.Store.UpdateStatus(storeCtx, orderID, sellerID, next)
	if err != nil {
		return Order{}, err
	}

	if s.Redis != nil {
		_ = s.Redis.Del(storeCtx, fmt.Sprintf(redisx.KeyOrder, orderID)).Err()
	}
	if s.Metrics != nil {
		s.Metrics.ObserveTransition(string(change.From), string(next))
	}
	s.publish(storeCtx, TopicOrderStatusChanged, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderID:   orderID,
		ChangedBy: sellerID,
		From:      change.From,
		To:        next,
	})
	s.logger().Info("order status changed", "order_id", orderID, "seller_id", sellerID, "from", change.From, "to", next)
	return change.Order, nil
}

// QuotePayment prices items at their current raw price and opens a payment
// intent for that amount. Nothing is reserved.
func (s *Service) QuotePayment(ctx context.Context, items []ItemInput) (payments.Intent, error) {
	if err := validateItems(items); err != nil {
		return payments.Intent{}, err
	}
	total, err := s.Store.Quote(ctx, items)
	if err != nil {
		return payments.Intent{}, err
	}

	pctx, cancel := context.WithTimeout(ctx, durationOr(s.PaymentTimeout, defaultPaymentTimeout))
	defer cancel()
	in, err := s.Payments.CreateIntent(pctx, total, Currency)
	switch {
	case errors.Is(err, payments.ErrInvalidAmount):
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	case err != nil:
		return payments.Intent{}, fmt.Errorf("%w: %v", ErrPaymentGateUnavailable, err)
	}
	return in, nil
}

func (s *Service) publish(ctx context.Context, topic, eventType, orderID string, payload any) {
	if s.Producer == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	err := s.Producer.Publish(ctx, topic, PartitionKey(orderID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, 1)...)
	if err != nil {
		s.logger().Warn("publish event", "topic", topic, "order_id", orderID, "error", err)
	}
}

func (s *Service) logger() logs.Logger {
	if s.Log == nil {
		return logs.Nop()
	}
	return s.Log
}

func checkoutOutcome(c Checkout, err error) string {
	switch {
	case err == nil && c.Idempotent:
		return metrics.OutcomeReplayed
	case err == nil:
		return metrics.OutcomeCreated
	case errors.Is(err, ErrPaymentNotConfirmed):
		return metrics.OutcomeUnverified
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrInsufficientStock):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
