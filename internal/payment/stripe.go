package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"orbix/internal/types"
)

type StripeCharger struct {
	client *client.API
}

// NewStripeCharger initialises the Stripe client. backends is nil outside tests.
func NewStripeCharger(secretKey string, backends *stripe.Backends) *StripeCharger {
	sc := &client.API{}
	sc.Init(secretKey, backends)
	return &StripeCharger{client: sc}
}

func (s *StripeCharger) Name() string { return "stripe" }

func (s *StripeCharger) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(req.Amount.Amount),
		Currency:    stripe.String(strings.ToLower(req.Amount.Currency)),
		Description: stripe.String(fmt.Sprintf("ride %s", req.RideID)),
		Confirm:     stripe.Bool(true),
	}
	if req.PaymentMethodID != "" {
		params.PaymentMethod = stripe.String(req.PaymentMethodID)
	}
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.Method == MethodUPI {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"upi"})
	} else {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	}
	params.Context = ctx
	params.AddMetadata("ride_id", string(req.RideID))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := s.client.PaymentIntents.New(params)
	if err != nil {
		return Charge{}, fmt.Errorf("failed to create payment intent: %w", err)
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded, stripe.PaymentIntentStatusProcessing:
	default:
		return Charge{}, fmt.Errorf("payment intent %s is %s", pi.ID, pi.Status)
	}
	return Charge{
		Provider:  s.Name(),
		Reference: pi.ID,
		Status:    string(pi.Status),
		Amount:    types.Money{Amount: pi.Amount, Currency: strings.ToUpper(string(pi.Currency))},
	}, nil
}
