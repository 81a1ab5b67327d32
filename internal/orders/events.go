package orders

import (
	"encoding/json"
	"time"
)

const (
	EventOrderCreated       = "OrderCreated"
	EventOrderStatusChanged = "OrderStatusChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g. "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Money travels as fixed two-decimal strings.

type ItemLine struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Qty       int    `json:"qty"`
	UnitPrice string `json:"unit_price"`
}

type OrderCreatedPayload struct {
	OrderID          string     `json:"order_id"`
	BuyerID          string     `json:"buyer_id"`
	PaymentReference string     `json:"payment_reference"`
	SellerIDs        []string   `json:"seller_ids"`
	Items            []ItemLine `json:"items"`
	TotalAmount      string     `json:"total_amount"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	ChangedBy string `json:"changed_by"`
	From      Status `json:"from"`
	To        Status `json:"to"`
}

func newOrderCreatedPayload(p Placement) OrderCreatedPayload {
	out := OrderCreatedPayload{
		OrderID:          p.Order.ID,
		BuyerID:          p.Order.BuyerID,
		PaymentReference: p.Order.PaymentReference,
		SellerIDs:        []string{},
		Items:            make([]ItemLine, 0, len(p.Items)),
		TotalAmount:      p.Order.TotalAmount.StringFixed(2),
	}
	seen := map[string]bool{}
	for _, it := range p.Items {
		out.Items = append(out.Items, ItemLine{
			ProductID: it.ProductID,
			SellerID:  it.SellerID,
			Qty:       it.Quantity,
			UnitPrice: it.UnitPrice.StringFixed(2),
		})
		if !seen[it.SellerID] {
			seen[it.SellerID] = true
			out.SellerIDs = append(out.SellerIDs, it.SellerID)
		}
	}
	return out
}
