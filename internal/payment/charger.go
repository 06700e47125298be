// README: Payment provider adapters. Card and UPI settle through a Charger; cash and wallet never reach one.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orbix/internal/types"
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodWallet Method = "wallet"
	MethodCard   Method = "card"
	MethodUPI    Method = "upi"
)

var (
	ErrUnknownMethod   = errors.New("unknown payment method")
	ErrNoProvider      = errors.New("no payment provider configured")
	ErrUnknownProvider = errors.New("unknown payment provider")
)

func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case MethodCash, MethodWallet, MethodCard, MethodUPI:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMethod, s)
}

// NeedsProvider reports whether m is settled by an external provider.
func (m Method) NeedsProvider() bool {
	return m == MethodCard || m == MethodUPI
}

type ChargeRequest struct {
	RideID          types.ID
	Amount          types.Money
	Method          Method
	PaymentMethodID string
	CustomerID      string
	IdempotencyKey  string
}

type Charge struct {
	Provider  string      `json:"provider"`
	Reference string      `json:"reference"`
	Status    string      `json:"status"`
	Amount    types.Money `json:"amount"`
}

type Charger interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (Charge, error)
}

// New returns the Charger for provider ("stripe" or "razorpay").
func New(provider, stripeKey, razorpayKeyID, razorpaySecret string) (Charger, error) {
	switch strings.ToLower(provider) {
	case "":
		return nil, ErrNoProvider
	case "stripe":
		if stripeKey == "" {
			return nil, fmt.Errorf("stripe: missing secret key")
		}
		return NewStripeCharger(stripeKey, nil), nil
	case "razorpay":
		if razorpayKeyID == "" || razorpaySecret == "" {
			return nil, fmt.Errorf("razorpay: missing key id or secret")
		}
		return NewRazorpayCharger(razorpayKeyID, razorpaySecret), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
}
