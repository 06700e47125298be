package gateway

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/payment"
	"orbix/internal/types"
)

type SettleRequest struct {
	RideID          types.ID
	Method          payment.Method
	Amount          types.Money
	PaymentMethodID string
	CustomerID      string
}

// Receipt confirms a settled ride payment.
type Receipt struct {
	RideID    types.ID       `json:"rideId"`
	Method    payment.Method `json:"method"`
	Amount    types.Money    `json:"amount"`
	Provider  string         `json:"provider,omitempty"`
	Reference string         `json:"reference,omitempty"`
}

// SettleKey is the idempotency key shared by the provider charge and the backend record.
func SettleKey(req SettleRequest) string {
	s := fmt.Sprintf("settle|%s|%s|%d%s", req.RideID, req.Method, req.Amount.Amount, req.Amount.Currency)
	return uuid.NewSHA1(keyspace, []byte(s)).String()
}

// SettlePayment charges card and UPI through the configured provider and then records the
// payment with the backend. Cash and wallet go straight to the backend. Every failure is
// KindPayment; a retry reuses the same keys, so neither side settles twice.
func (cl *Client) SettlePayment(ctx context.Context, req SettleRequest) (Receipt, error) {
	const op = "gateway.SettlePayment"
	if req.RideID == "" {
		return Receipt{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("missing ride id"))
	}
	if _, err := payment.ParseMethod(string(req.Method)); err != nil {
		return Receipt{}, apperrors.New(apperrors.KindBadRequest, op, err)
	}
	if req.Amount.Amount <= 0 {
		return Receipt{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("nothing to pay"))
	}

	key := SettleKey(req)
	receipt := Receipt{RideID: req.RideID, Method: req.Method, Amount: req.Amount}

	if req.Method.NeedsProvider() {
		if cl.charger == nil {
			return Receipt{}, apperrors.New(apperrors.KindPayment, op, payment.ErrNoProvider)
		}
		ch, err := cl.charger.Charge(ctx, payment.ChargeRequest{
			RideID:          req.RideID,
			Amount:          req.Amount,
			Method:          req.Method,
			PaymentMethodID: req.PaymentMethodID,
			CustomerID:      req.CustomerID,
			IdempotencyKey:  key,
		})
		if err != nil {
			return Receipt{}, apperrors.New(apperrors.KindPayment, op, err)
		}
		receipt.Provider = ch.Provider
		receipt.Reference = ch.Reference
	}

	body := map[string]any{
		"rideId":   req.RideID,
		"method":   string(req.Method),
		"amount":   req.Amount.Major(),
		"currency": req.Amount.Currency,
	}
	if receipt.Reference != "" {
		body["provider"] = receipt.Provider
		body["reference"] = receipt.Reference
	}
	if err := cl.do(ctx, op, call{method: http.MethodPost, path: "/payments/settle", body: body, idempotencyKey: key}); err != nil {
		return Receipt{}, rekind(apperrors.KindPayment, op, err)
	}
	cl.log.Info("payment settled",
		zap.String("ride_id", string(req.RideID)),
		zap.String("method", string(req.Method)),
		zap.String("amount", req.Amount.String()),
		zap.String("reference", receipt.Reference))
	return receipt, nil
}

type Profile struct {
	ID       types.ID   `json:"id"`
	Name     string     `json:"name"`
	Email    string     `json:"email,omitempty"`
	Role     types.Role `json:"role"`
	Vehicle  string     `json:"vehicleType,omitempty"`
	Rating   float64    `json:"rating,omitempty"`
	Verified bool       `json:"verified"`
}

// Profile fetches the signed-in user's or captain's profile.
func (cl *Client) Profile(ctx context.Context) (Profile, error) {
	const op = "gateway.Profile"
	path := "/users/profile"
	if cl.role == types.RoleCaptain {
		path = "/captains/profile"
	}
	var out struct {
		ID       types.ID `json:"_id"`
		FullName struct {
			FirstName string `json:"firstname"`
			LastName  string `json:"lastname"`
		} `json:"fullname"`
		Email   string `json:"email"`
		Vehicle *struct {
			VehicleType string `json:"vehicleType"`
		} `json:"vehicle"`
		Rating   float64 `json:"rating"`
		Verified bool    `json:"emailVerified"`
	}
	if err := cl.do(ctx, op, call{method: http.MethodGet, path: path, out: &out, read: true}); err != nil {
		return Profile{}, err
	}
	p := Profile{
		ID:       out.ID,
		Name:     joinName(out.FullName.FirstName, out.FullName.LastName),
		Email:    out.Email,
		Role:     cl.role,
		Rating:   out.Rating,
		Verified: out.Verified,
	}
	if out.Vehicle != nil {
		p.Vehicle = out.Vehicle.VehicleType
	}
	return p, nil
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	}
	return first + " " + last
}

// WalletBalance returns the spendable wallet balance.
func (cl *Client) WalletBalance(ctx context.Context) (types.Money, error) {
	var out struct {
		Balance  float64 `json:"balance"`
		Currency string  `json:"currency"`
	}
	if err := cl.do(ctx, "gateway.WalletBalance", call{method: http.MethodGet, path: "/wallet/balance", out: &out, read: true}); err != nil {
		return types.Money{}, err
	}
	return types.MoneyFromMajor(out.Balance, out.Currency), nil
}
