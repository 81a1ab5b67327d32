package orders

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrInvalidRequest         = errors.New("invalid request")
	ErrPaymentNotConfirmed    = errors.New("payment not confirmed")
	ErrPaymentGateUnavailable = errors.New("payment gate unavailable")
	ErrProductNotFound        = errors.New("product not found")
	ErrInsufficientStock      = errors.New("insufficient stock")
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrTransientStore         = errors.New("transaction aborted, safe to retry")

	// ErrAlreadyExists is returned when the buyer already checked out with
	// the same payment reference.
	ErrAlreadyExists = errors.New("order already exists")
)

// StockError ties ErrProductNotFound / ErrInsufficientStock to a product.
type StockError struct {
	Err       error
	ProductID string
	Requested int
	Available int
}

func (e *StockError) Error() string {
	if errors.Is(e.Err, ErrInsufficientStock) {
		return fmt.Sprintf("insufficient stock for product %s: requested %d, available %d", e.ProductID, e.Requested, e.Available)
	}
	return fmt.Sprintf("%v: %s", e.Err, e.ProductID)
}

func (e *StockError) Unwrap() error { return e.Err }

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"
)

// classifyPg maps retryable Postgres failures onto ErrTransientStore.
func classifyPg(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgSerializationFailure, pgDeadlockDetected, pgLockNotAvailable:
			return fmt.Errorf("%w: %s", ErrTransientStore, pgErr.Message)
		}
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
