package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProductStock is the ledger's view of a product row at checkout time.
type ProductStock struct {
	ID       string
	OwnerID  string
	Price    decimal.Decimal
	Quantity int
}

type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyerId"`
	PaymentReference string          `json:"paymentReference"`
	TotalAmount      decimal.Decimal `json:"totalAmount"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"createdAt"`
	UpdatedAt        time.Time       `json:"updatedAt"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"orderId"`
	ProductID string          `json:"productId"`
	SellerID  string          `json:"sellerId"`
	Title     string          `json:"title"`
	ImageURL  string          `json:"imageUrl"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

func (it OrderItem) LineTotal() decimal.Decimal {
	return it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

type OrderDetails struct {
	Order Order       `json:"order"`
	Items []OrderItem `json:"items"`
}

// SellerOrderView is an order restricted to one seller's items.
type SellerOrderView struct {
	OrderID   string          `json:"orderId"`
	BuyerID   string          `json:"buyerId"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	Items     []OrderItem     `json:"items"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// SellerOrderSummary is one row of a seller's order list. It leaves out the
// payment reference and the order-wide total.
type SellerOrderSummary struct {
	OrderID   string          `json:"orderId"`
	BuyerID   string          `json:"buyerId"`
	Status    Status          `json:"status"`
	CreatedAt time.Time       `json:"createdAt"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type ItemInput struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

// Placement is what a committed checkout transaction produced.
type Placement struct {
	Order Order
	Items []OrderItem
}

func SumLines(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.LineTotal())
	}
	return total
}
