package payment

import (
	"context"
	"fmt"

	"github.com/razorpay/razorpay-go"
)

// orderCreator is the part of the Razorpay SDK the charger uses.
type orderCreator interface {
	Create(data map[string]interface{}, extraHeaders map[string]string) (map[string]interface{}, error)
}

// RazorpayCharger creates an order; the UPI or card authorisation itself happens in the
// Razorpay checkout and is captured server side.
type RazorpayCharger struct {
	orders orderCreator
}

func NewRazorpayCharger(keyID, keySecret string) *RazorpayCharger {
	client := razorpay.NewClient(keyID, keySecret)
	return &RazorpayCharger{orders: client.Order}
}

func (r *RazorpayCharger) Name() string { return "razorpay" }

func (r *RazorpayCharger) Charge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if err := ctx.Err(); err != nil {
		return Charge{}, err
	}
	orderData := map[string]interface{}{
		"amount":   req.Amount.Amount,
		"currency": req.Amount.Currency,
		"receipt":  string(req.RideID),
		"notes": map[string]interface{}{
			"ride_id": string(req.RideID),
			"method":  string(req.Method),
		},
	}
	var headers map[string]string
	if req.IdempotencyKey != "" {
		headers = map[string]string{"X-Idempotency-Key": req.IdempotencyKey}
	}

	order, err := r.orders.Create(orderData, headers)
	if err != nil {
		return Charge{}, fmt.Errorf("failed to create order: %w", err)
	}
	id, _ := order["id"].(string)
	if id == "" {
		return Charge{}, fmt.Errorf("razorpay order without id")
	}
	status, _ := order["status"].(string)
	if status == "" {
		status = "created"
	}
	amount := req.Amount
	if v, ok := order["amount"].(float64); ok {
		amount.Amount = int64(v)
	}
	if c, ok := order["currency"].(string); ok && c != "" {
		amount.Currency = c
	}
	return Charge{Provider: r.Name(), Reference: id, Status: status, Amount: amount}, nil
}
