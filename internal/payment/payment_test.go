package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"

	"orbix/internal/types"
)

func TestParseMethod(t *testing.T) {
	cases := []struct {
		in       string
		want     Method
		provider bool
		wantErr  bool
	}{
		{"cash", MethodCash, false, false},
		{" Wallet ", MethodWallet, false, false},
		{"CARD", MethodCard, true, false},
		{"upi", MethodUPI, true, false},
		{"cheque", "", false, true},
	}
	for _, tc := range cases {
		got, err := ParseMethod(tc.in)
		if tc.wantErr {
			assert.ErrorIs(t, err, ErrUnknownMethod, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.provider, got.NeedsProvider(), tc.in)
	}
}

func TestNewSelectsProvider(t *testing.T) {
	_, err := New("", "", "", "")
	assert.ErrorIs(t, err, ErrNoProvider)

	_, err = New("paypal", "", "", "")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = New("stripe", "", "", "")
	assert.Error(t, err)

	c, err := New("Razorpay", "", "rzp_test", "secret")
	require.NoError(t, err)
	assert.Equal(t, "razorpay", c.Name())
}

func stripeBackends(url string) *stripe.Backends {
	return stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(url),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
}

func TestStripeChargeSucceeded(t *testing.T) {
	var gotKey, gotAmount string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/payment_intents", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		gotKey = r.Header.Get("Idempotency-Key")
		gotAmount = r.PostForm.Get("amount")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","amount":20000,"currency":"inr","status":"succeeded"}`))
	}))
	defer srv.Close()

	c := NewStripeCharger("sk_test_x", stripeBackends(srv.URL))
	got, err := c.Charge(context.Background(), ChargeRequest{
		RideID:         "r1",
		Amount:         types.Money{Amount: 20000, Currency: "INR"},
		Method:         MethodCard,
		IdempotencyKey: "pay-r1",
	})
	require.NoError(t, err)
	assert.Equal(t, "pay-r1", gotKey)
	assert.Equal(t, "20000", gotAmount)
	assert.Equal(t, Charge{Provider: "stripe", Reference: "pi_123", Status: "succeeded", Amount: types.Money{Amount: 20000, Currency: "INR"}}, got)
}

func TestStripeChargeNeedsAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_9","object":"payment_intent","amount":500,"currency":"inr","status":"requires_action"}`))
	}))
	defer srv.Close()

	_, err := NewStripeCharger("sk_test_x", stripeBackends(srv.URL)).Charge(context.Background(), ChargeRequest{
		RideID: "r1", Amount: types.Money{Amount: 500, Currency: "INR"}, Method: MethodUPI,
	})
	assert.ErrorContains(t, err, "requires_action")
}

type fakeOrders struct {
	data    map[string]interface{}
	headers map[string]string
	resp    map[string]interface{}
	err     error
}

func (f *fakeOrders) Create(data map[string]interface{}, headers map[string]string) (map[string]interface{}, error) {
	f.data = data
	f.headers = headers
	return f.resp, f.err
}

func TestRazorpayCharge(t *testing.T) {
	orders := &fakeOrders{resp: map[string]interface{}{
		"id": "order_1", "status": "created", "amount": float64(15050), "currency": "INR",
	}}
	c := &RazorpayCharger{orders: orders}

	got, err := c.Charge(context.Background(), ChargeRequest{
		RideID: "r7", Amount: types.Money{Amount: 15050, Currency: "INR"}, Method: MethodUPI, IdempotencyKey: "k",
	})
	require.NoError(t, err)
	assert.Equal(t, "order_1", got.Reference)
	assert.Equal(t, int64(15050), got.Amount.Amount)
	assert.Equal(t, int64(15050), orders.data["amount"])
	assert.Equal(t, "r7", orders.data["receipt"])
	assert.Equal(t, "k", orders.headers["X-Idempotency-Key"])
}

func TestRazorpayChargeErrors(t *testing.T) {
	c := &RazorpayCharger{orders: &fakeOrders{err: errors.New("BAD_REQUEST_ERROR")}}
	_, err := c.Charge(context.Background(), ChargeRequest{RideID: "r7", Amount: types.Money{Amount: 1, Currency: "INR"}})
	assert.ErrorContains(t, err, "BAD_REQUEST_ERROR")

	c = &RazorpayCharger{orders: &fakeOrders{resp: map[string]interface{}{}}}
	_, err = c.Charge(context.Background(), ChargeRequest{RideID: "r7"})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Charge(ctx, ChargeRequest{RideID: "r7"})
	assert.ErrorIs(t, err, context.Canceled)
}
