package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/modules/events"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/payment"
	"orbix/internal/types"
)

// keyspace scopes deterministic idempotency keys.
var keyspace = uuid.MustParse("6f1b7f2e-3a57-4e0c-9d4e-2b9b8f0c5a11")

// Ride is the backend's view of a ride as returned by the REST endpoints.
type Ride struct {
	RideID      types.ID
	OTP         string
	Pickup      ride.Place
	Destination ride.Place
	VehicleType string
	Fare        *pricing.Fare
	Counterpart *ride.Counterpart
	Status      string
}

// rideFrom reads p from the perspective of role: a captain's counterpart is the user.
func rideFrom(p events.RidePayload, role types.Role) Ride {
	out := Ride{
		RideID:      p.ID(),
		OTP:         string(p.OTP),
		Pickup:      p.Pickup.Ride(),
		Destination: p.Destination.Ride(),
		VehicleType: p.VehicleType,
		Fare:        p.Fare.Pricing(),
		Status:      p.Status,
	}
	other := p.Captain
	if role == types.RoleCaptain {
		other = p.User
	}
	if other != nil {
		out.Counterpart = other.Counterpart()
	}
	return out
}

// rideEnvelope accepts both a bare ride object and {"ride": {...}}.
type rideEnvelope struct {
	events.RidePayload
	Ride *events.RidePayload `json:"ride"`
}

func (e rideEnvelope) payload() events.RidePayload {
	if e.Ride != nil {
		return *e.Ride
	}
	return e.RidePayload
}

func wirePlace(p ride.Place) events.Place {
	out := events.Place{Address: p.Address}
	if p.Point != nil {
		pt := *p.Point
		out.Point = &pt
	}
	return out
}

type CreateRideRequest struct {
	Pickup        ride.Place
	Destination   ride.Place
	VehicleType   string
	PaymentMethod payment.Method
}

// CreateRide books a ride. It is never retried: a lost response could otherwise book twice.
func (cl *Client) CreateRide(ctx context.Context, req CreateRideRequest) (Ride, error) {
	const op = "gateway.CreateRide"
	body := map[string]any{
		"pickup":        wirePlace(req.Pickup),
		"destination":   wirePlace(req.Destination),
		"vehicleType":   req.VehicleType,
		"paymentMethod": string(req.PaymentMethod),
	}
	var out rideEnvelope
	if err := cl.do(ctx, op, call{method: http.MethodPost, path: "/rides/create", body: body, out: &out}); err != nil {
		return Ride{}, err
	}
	r := rideFrom(out.payload(), cl.role)
	if r.RideID == "" {
		return Ride{}, apperrors.New(apperrors.KindGateway, op, fmt.Errorf("response without ride id"))
	}
	return r, nil
}

// QuoteFares returns per-vehicle fares for a trip. Retried on network errors.
func (cl *Client) QuoteFares(ctx context.Context, pickup, destination string) (pricing.Quote, error) {
	const op = "gateway.QuoteFares"
	q := url.Values{}
	q.Set("pickup", pickup)
	q.Set("destination", destination)
	var out struct {
		Car      float64 `json:"car"`
		Moto     float64 `json:"moto"`
		Auto     float64 `json:"auto"`
		Currency string  `json:"currency"`
	}
	if err := cl.do(ctx, op, call{method: http.MethodGet, path: "/rides/get-fare?" + q.Encode(), out: &out, read: true}); err != nil {
		return pricing.Quote{}, err
	}
	return pricing.Quote{
		Car:  types.MoneyFromMajor(out.Car, out.Currency),
		Moto: types.MoneyFromMajor(out.Moto, out.Currency),
		Auto: types.MoneyFromMajor(out.Auto, out.Currency),
	}, nil
}

// ConfirmRide accepts an offered ride on behalf of a captain.
func (cl *Client) ConfirmRide(ctx context.Context, rideID types.ID) (Ride, error) {
	const op = "gateway.ConfirmRide"
	var out rideEnvelope
	if err := cl.do(ctx, op, call{method: http.MethodPost, path: "/rides/confirm", body: map[string]any{"rideId": rideID}, out: &out}); err != nil {
		return Ride{}, err
	}
	r := rideFrom(out.payload(), cl.role)
	if r.RideID == "" {
		r.RideID = rideID
	}
	return r, nil
}

// Started is the backend's acknowledgement of a verified OTP.
type Started struct {
	RideID types.ID
	At     time.Time
}

// VerifyOTP submits the rider's code. Malformed codes fail locally without a request; a 4xx
// answer is an invalid code, anything else keeps its network or gateway kind.
func (cl *Client) VerifyOTP(ctx context.Context, rideID types.ID, otp string) (Started, error) {
	const op = "gateway.VerifyOTP"
	if err := ride.ValidateOTP(otp); err != nil {
		return Started{}, apperrors.New(apperrors.KindInvalidOTP, op, err)
	}
	body := map[string]any{"rideId": rideID, "otp": otp}
	err := cl.do(ctx, op, call{method: http.MethodPost, path: "/rides/start-ride", body: body})
	if err != nil {
		if s := StatusOf(err); s >= 400 && s < 500 {
			return Started{}, rekind(apperrors.KindInvalidOTP, op, fmt.Errorf("%w: %v", ride.ErrInvalidOTP, err))
		}
		return Started{}, err
	}
	return Started{RideID: rideID, At: cl.now()}, nil
}

// EndRide marks the trip finished and returns the fare the backend computed.
func (cl *Client) EndRide(ctx context.Context, rideID types.ID) (Ride, error) {
	const op = "gateway.EndRide"
	var out rideEnvelope
	if err := cl.do(ctx, op, call{method: http.MethodPost, path: "/rides/end-ride", body: map[string]any{"rideId": rideID}, out: &out}); err != nil {
		return Ride{}, err
	}
	r := rideFrom(out.payload(), cl.role)
	if r.RideID == "" {
		r.RideID = rideID
	}
	return r, nil
}

// FinalizeKey is the idempotency key for finalizing rideID's fare with fees. It ignores
// map order, so the same fees always produce the same key.
func FinalizeKey(rideID types.ID, fees map[string]types.Money) string {
	f := pricing.Fare{AdditionalFees: fees}
	var b strings.Builder
	b.WriteString("finalize|")
	b.WriteString(string(rideID))
	for _, name := range f.FeeNames() {
		m := fees[name]
		fmt.Fprintf(&b, "|%s=%d%s", name, m.Amount, m.Currency)
	}
	return uuid.NewSHA1(keyspace, []byte(b.String())).String()
}

// FinalizeFare asks the backend to lock in the fare with fees. Repeating a call with the
// same fees returns the remembered fare and, if it reaches the backend, carries the same
// Idempotency-Key, so it never charges twice.
func (cl *Client) FinalizeFare(ctx context.Context, rideID types.ID, fees map[string]types.Money) (pricing.Fare, error) {
	const op = "gateway.FinalizeFare"
	if rideID == "" {
		return pricing.Fare{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("missing ride id"))
	}
	key := FinalizeKey(rideID, fees)

	cl.mu.Lock()
	if f, ok := cl.fareMemo[key]; ok {
		cl.mu.Unlock()
		return f.Clone(), nil
	}
	cl.mu.Unlock()

	wire := make(map[string]float64, len(fees))
	for name, m := range fees {
		if m.Amount < 0 {
			return pricing.Fare{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("negative fee %q", name))
		}
		if m.Amount > 0 {
			wire[name] = m.Major()
		}
	}
	var raw json.RawMessage
	err := cl.do(ctx, op, call{
		method:         http.MethodPost,
		path:           "/rides/finalize-fare",
		body:           map[string]any{"rideId": rideID, "additionalFees": wire},
		out:            &raw,
		idempotencyKey: key,
	})
	if err != nil {
		return pricing.Fare{}, err
	}
	src, err := decodeFare(raw)
	if err != nil {
		return pricing.Fare{}, apperrors.New(apperrors.KindGateway, op, err)
	}
	fare := src.Pricing()
	if fare == nil || fare.Base.Amount <= 0 {
		return pricing.Fare{}, apperrors.New(apperrors.KindGateway, op, fmt.Errorf("response without fare"))
	}

	cl.mu.Lock()
	cl.fareMemo[key] = fare.Clone()
	cl.mu.Unlock()
	cl.log.Info("fare finalized",
		zap.String("ride_id", string(rideID)),
		zap.Int64("total", fare.Total().Amount),
		zap.Strings("fees", fare.FeeNames()))
	return *fare, nil
}

// decodeFare accepts {"fare": ...} or the fare itself.
func decodeFare(raw json.RawMessage) (*events.Fare, error) {
	var wrapped struct {
		Fare *events.Fare `json:"fare"`
	}
	if json.Unmarshal(raw, &wrapped) == nil && wrapped.Fare != nil {
		return wrapped.Fare, nil
	}
	var bare events.Fare
	if err := json.Unmarshal(raw, &bare); err != nil {
		return nil, fmt.Errorf("decode fare: %w", err)
	}
	return &bare, nil
}

// CancelRide cancels rideID with an optional reason.
func (cl *Client) CancelRide(ctx context.Context, rideID types.ID, reason string) error {
	body := map[string]any{"rideId": rideID}
	if reason != "" {
		body["reason"] = reason
	}
	return cl.do(ctx, "gateway.CancelRide", call{method: http.MethodPost, path: "/rides/cancel", body: body})
}

// SubmitRating rates the counterpart of a finished ride with 1 to 5 stars.
func (cl *Client) SubmitRating(ctx context.Context, rideID types.ID, stars int, comment string) error {
	const op = "gateway.SubmitRating"
	if stars < 1 || stars > 5 {
		return apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("rating %d out of range", stars))
	}
	body := map[string]any{"rideId": rideID, "rating": stars}
	if comment = strings.TrimSpace(comment); comment != "" {
		body["comment"] = comment
	}
	return cl.do(ctx, op, call{method: http.MethodPost, path: "/rides/rate", body: body})
}
