package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool.
type DBTX interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repo struct{ DB DBTX }

// AuthorizeFunc gets the computed total before the order row is written;
// returning an error aborts the whole checkout.
type AuthorizeFunc func(total decimal.Decimal) error

type StatusChange struct {
	Order Order
	From  Status
}

const orderColumns = `id, buyer_id, payment_reference, total_amount, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		o      Order
		status string
	)
	if err := row.Scan(&o.ID, &o.BuyerID, &o.PaymentReference, &o.TotalAmount, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

// CreateOrderTx reserves stock for every item in request order, then writes
// the order and its items. Any failure rolls everything back.
func (r *Repo) CreateOrderTx(ctx context.Context, buyerID, paymentRef string, items []ItemInput, authorize AuthorizeFunc) (Placement, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return Placement{}, classifyPg(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ledger := NewLedger(tx)
	lines := make([]OrderItem, 0, len(items))
	total := decimal.Zero
	for _, it := range items {
		p, err := ledger.Reserve(ctx, it)
		if err != nil {
			return Placement{}, err
		}
		line := OrderItem{ProductID: it.ProductID, SellerID: p.OwnerID, Quantity: it.Quantity, UnitPrice: p.Price}
		total = total.Add(line.LineTotal())
		lines = append(lines, line)
	}

	if authorize != nil {
		if err := authorize(total); err != nil {
			return Placement{}, err
		}
	}

	order := Order{
		ID:               uuid.NewString(),
		BuyerID:          buyerID,
		PaymentReference: paymentRef,
		TotalAmount:      total,
		Status:           StatusPending,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (id, buyer_id, payment_reference, total_amount, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`,
		order.ID, buyerID, paymentRef, total, string(StatusPending),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return Placement{}, ErrAlreadyExists
		}
		return Placement{}, classifyPg(err)
	}

	for i := range lines {
		lines[i].OrderID = order.ID
		err := tx.QueryRow(ctx, `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
			RETURNING id`,
			order.ID, lines[i].ProductID, lines[i].Quantity, lines[i].UnitPrice,
		).Scan(&lines[i].ID)
		if err != nil {
			return Placement{}, classifyPg(err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, classifyPg(err)
	}
	return Placement{Order: order, Items: lines}, nil
}

// FindByPaymentReference returns the order funded by paymentRef, whoever
// placed it. Callers compare BuyerID before treating it as a replay.
func (r *Repo) FindByPaymentReference(ctx context.Context, paymentRef string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE payment_reference = $1`, paymentRef))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	return o, err
}

// GetBuyerOrder only sees orders placed by buyerID.
func (r *Repo) GetBuyerOrder(ctx context.Context, orderID, buyerID string) (OrderDetails, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 AND buyer_id = $2`, orderID, buyerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return OrderDetails{}, ErrNotFound
	}
	if err != nil {
		return OrderDetails{}, err
	}

	items, err := r.queryItems(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.owner_id, p.title, p.image_url, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
		ORDER BY oi.id`, orderID)
	if err != nil {
		return OrderDetails{}, err
	}
	return OrderDetails{Order: o, Items: items}, nil
}

func (r *Repo) ListBuyerOrders(ctx context.Context, buyerID string) ([]Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
}

// ListSellerOrders summarizes every order holding at least one product owned
// by sellerID. Only the seller's own lines count towards the subtotal.
func (r *Repo) ListSellerOrders(ctx context.Context, sellerID string) ([]SellerOrderSummary, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT o.id, o.buyer_id, o.status, o.created_at, SUM(oi.quantity * oi.unit_price) AS subtotal
		FROM orders o
		JOIN order_items oi ON oi.order_id = o.id
		JOIN products p ON p.id = oi.product_id
		WHERE p.owner_id = $1
		GROUP BY o.id
		ORDER BY o.created_at DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []SellerOrderSummary{}
	for rows.Next() {
		var (
			v      SellerOrderSummary
			status string
		)
		if err := rows.Scan(&v.OrderID, &v.BuyerID, &status, &v.CreatedAt, &v.Subtotal); err != nil {
			return nil, err
		}
		v.Status = Status(status)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (r *Repo) GetSellerOrder(ctx context.Context, orderID, sellerID string) (SellerOrderView, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return SellerOrderView{}, ErrNotFound
	}
	if err != nil {
		return SellerOrderView{}, err
	}

	items, err := r.queryItems(ctx, `
		SELECT oi.id, oi.order_id, oi.product_id, p.owner_id, p.title, p.image_url, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1 AND p.owner_id = $2
		ORDER BY oi.id`, orderID, sellerID)
	if err != nil {
		return SellerOrderView{}, err
	}
	if len(items) == 0 {
		return SellerOrderView{}, ErrForbidden
	}
	return SellerOrderView{
		OrderID:   o.ID,
		BuyerID:   o.BuyerID,
		Status:    o.Status,
		CreatedAt: o.CreatedAt,
		Items:     items,
		Subtotal:  SumLines(items),
	}, nil
}

// UpdateStatus moves an order along the transition table on behalf of a
// seller owning at least one of its items. Cancelling restocks the items.
func (r *Repo) UpdateStatus(ctx context.Context, orderID, sellerID string, next Status) (StatusChange, error) {
	tx, err := r.DB.Begin(ctx)
	if err != nil {
		return StatusChange{}, classifyPg(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, orderID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return StatusChange{}, ErrNotFound
	}
	if err != nil {
		return StatusChange{}, classifyPg(err)
	}

	var owns bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM order_items oi
			JOIN products p ON p.id = oi.product_id
			WHERE oi.order_id = $1 AND p.owner_id = $2
		)`, orderID, sellerID).Scan(&owns)
	if err != nil {
		return StatusChange{}, classifyPg(err)
	}
	if !owns {
		return StatusChange{}, ErrForbidden
	}

	from := Status(current)
	if from.Terminal() {
		return StatusChange{}, fmt.Errorf("%w: order is already %s", ErrInvalidRequest, from)
	}
	if !CanTransition(from, next) {
		return StatusChange{}, fmt.Errorf("%w: cannot move order from %s to %s", ErrInvalidRequest, from, next)
	}

	o, err := scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+orderColumns, orderID, string(next)))
	if err != nil {
		return StatusChange{}, classifyPg(err)
	}

	if next == StatusCancelled {
		if _, err := NewLedger(tx).Restock(ctx, orderID); err != nil {
			return StatusChange{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return StatusChange{}, classifyPg(err)
	}
	return StatusChange{Order: o, From: from}, nil
}

func (r *Repo) Quote(ctx context.Context, items []ItemInput) (decimal.Decimal, error) {
	return Quote(ctx, r.DB, items)
}

func (r *Repo) queryOrders(ctx context.Context, sql string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (r *Repo) queryItems(ctx context.Context, sql string, args ...any) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []OrderItem{}
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.SellerID, &it.Title, &it.ImageURL, &it.Quantity, &it.UnitPrice); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}
