package payments

import (
	"context"
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// StatusSucceeded is the only processor status that authorizes a checkout.
const StatusSucceeded = "succeeded"

var (
	// ErrPaymentNotFound means the processor does not know the reference.
	ErrPaymentNotFound = errors.New("payment reference not found")
	// ErrGateUnavailable covers timeouts, network failures and processor outages.
	ErrGateUnavailable = errors.New("payment processor unavailable")
	ErrInvalidAmount   = errors.New("payment amount must be positive")
)

type Confirmation struct {
	Reference   string
	Status      string
	AmountCents int64
	Currency    string
}

func (c Confirmation) Succeeded() bool { return c.Status == StatusSucceeded }

// Covers reports whether the captured amount pays for total in currency.
func (c Confirmation) Covers(total decimal.Decimal, currency string) bool {
	return strings.EqualFold(c.Currency, currency) && c.AmountCents >= ToCents(total)
}

type Intent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
	Currency     string
}

// Gate is the external payment processor as seen by checkout.
type Gate interface {
	RetrievePaymentStatus(ctx context.Context, reference string) (Confirmation, error)
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (Intent, error)
}

func ToCents(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
