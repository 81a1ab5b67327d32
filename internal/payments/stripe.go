package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// intentClient is the subset of *paymentintent.Client the gate needs.
type intentClient interface {
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type StripeGate struct {
	intents intentClient
}

func NewStripeGate(secretKey string) *StripeGate {
	return &StripeGate{
		intents: &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: secretKey},
	}
}

func (g *StripeGate) RetrievePaymentStatus(ctx context.Context, reference string) (Confirmation, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.intents.Get(reference, params)
	if err != nil {
		return Confirmation{}, classify(ctx, err)
	}
	return Confirmation{
		Reference:   pi.ID,
		Status:      string(pi.Status),
		AmountCents: pi.AmountReceived,
		Currency:    string(pi.Currency),
	}, nil
}

func (g *StripeGate) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string) (Intent, error) {
	cents := ToCents(amount)
	if cents <= 0 {
		return Intent{}, ErrInvalidAmount
	}
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(cents),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx

	pi, err := g.intents.New(params)
	if err != nil {
		return Intent{}, classify(ctx, err)
	}
	return Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
	}, nil
}

func classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrGateUnavailable, ctx.Err())
	}
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.HTTPStatusCode == http.StatusNotFound,
			se.Code == stripe.ErrorCodeResourceMissing,
			se.HTTPStatusCode == http.StatusBadRequest:
			return fmt.Errorf("%w: %s", ErrPaymentNotFound, se.Msg)
		}
		return fmt.Errorf("%w: processor status %d", ErrGateUnavailable, se.HTTPStatusCode)
	}
	return fmt.Errorf("%w: %v", ErrGateUnavailable, err)
}
