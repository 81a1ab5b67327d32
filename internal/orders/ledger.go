package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Ledger is the product stock source of truth, bound to one transaction.
type Ledger struct {
	tx pgx.Tx
}

func NewLedger(tx pgx.Tx) *Ledger { return &Ledger{tx: tx} }

// ReadForUpdate locks the product row until the transaction ends so that
// concurrent checkouts of the same product serialize.
func (l *Ledger) ReadForUpdate(ctx context.Context, productID string) (ProductStock, error) {
	p := ProductStock{ID: productID}
	err := l.tx.QueryRow(ctx,
		`SELECT owner_id, price, quantity FROM products WHERE id = $1 FOR UPDATE`, productID,
	).Scan(&p.OwnerID, &p.Price, &p.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return ProductStock{}, &StockError{Err: ErrProductNotFound, ProductID: productID}
	}
	if err != nil {
		return ProductStock{}, classifyPg(err)
	}
	return p, nil
}

// DecrementQuantity only applies when enough stock remains; the affected
// row count is the caller's post-condition.
func (l *Ledger) DecrementQuantity(ctx context.Context, productID string, amount int) (int64, error) {
	ct, err := l.tx.Exec(ctx, `
		UPDATE products SET quantity = quantity - $2, updated_at = now()
		WHERE id = $1 AND quantity >= $2`, productID, amount)
	if err != nil {
		return 0, classifyPg(err)
	}
	return ct.RowsAffected(), nil
}

// Reserve runs the read-validate-decrement sequence for one line.
func (l *Ledger) Reserve(ctx context.Context, it ItemInput) (ProductStock, error) {
	p, err := l.ReadForUpdate(ctx, it.ProductID)
	if err != nil {
		return ProductStock{}, err
	}
	if p.Quantity < it.Quantity {
		return ProductStock{}, &StockError{Err: ErrInsufficientStock, ProductID: it.ProductID, Requested: it.Quantity, Available: p.Quantity}
	}
	n, err := l.DecrementQuantity(ctx, it.ProductID, it.Quantity)
	if err != nil {
		return ProductStock{}, err
	}
	if n != 1 {
		return ProductStock{}, &StockError{Err: ErrInsufficientStock, ProductID: it.ProductID, Requested: it.Quantity, Available: p.Quantity}
	}
	return p, nil
}

// Restock gives every unit of an order back to its products.
func (l *Ledger) Restock(ctx context.Context, orderID string) (int64, error) {
	ct, err := l.tx.Exec(ctx, `
		UPDATE products p
		SET quantity = p.quantity + r.qty, updated_at = now()
		FROM (
			SELECT product_id, SUM(quantity) AS qty
			FROM order_items WHERE order_id = $1
			GROUP BY product_id
		) r
		WHERE p.id = r.product_id`, orderID)
	if err != nil {
		return 0, classifyPg(err)
	}
	return ct.RowsAffected(), nil
}

// Quote prices items without locking anything; used before a payment
// exists, so the figure is advisory.
func Quote(ctx context.Context, db DBTX, items []ItemInput) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, it := range items {
		var price decimal.Decimal
		err := db.QueryRow(ctx, `SELECT price FROM products WHERE id = $1`, it.ProductID).Scan(&price)
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, &StockError{Err: ErrProductNotFound, ProductID: it.ProductID}
		}
		if err != nil {
			return decimal.Zero, fmt.Errorf("quote product %s: %w", it.ProductID, err)
		}
		total = total.Add(price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total, nil
}
