package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"orbix/internal/apperrors"
	"orbix/internal/gateway"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// scriptedBackend answers the coordinator's REST calls in memory. Ride ids are sequential
// and the only OTP it accepts is otp.
type scriptedBackend struct {
	otp  string
	next atomic.Int64

	mu    sync.Mutex
	calls map[string]int
}

func newScriptedBackend(otp string) *scriptedBackend {
	return &scriptedBackend{otp: otp, calls: make(map[string]int)}
}

func (b *scriptedBackend) record(name string) {
	b.mu.Lock()
	b.calls[name]++
	b.mu.Unlock()
}

func (b *scriptedBackend) count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[name]
}

func inr(major float64) types.Money { return types.MoneyFromMajor(major, types.DefaultCurrency) }

func (b *scriptedBackend) CreateRide(_ context.Context, req gateway.CreateRideRequest) (gateway.Ride, error) {
	b.record("create")
	id := types.ID(fmt.Sprintf("r%d", b.next.Add(1)))
	fare := pricing.NewFare(inr(180))
	return gateway.Ride{RideID: id, Pickup: req.Pickup, Destination: req.Destination, VehicleType: req.VehicleType, Fare: &fare}, nil
}

func (b *scriptedBackend) QuoteFares(context.Context, string, string) (pricing.Quote, error) {
	b.record("quote")
	return pricing.Quote{Car: inr(180), Moto: inr(70), Auto: inr(110)}, nil
}

func (b *scriptedBackend) ConfirmRide(_ context.Context, rideID types.ID) (gateway.Ride, error) {
	b.record("confirm")
	return gateway.Ride{RideID: rideID, Counterpart: &ride.Counterpart{ID: "u1", Name: "Asha"}}, nil
}

func (b *scriptedBackend) VerifyOTP(_ context.Context, rideID types.ID, otp string) (gateway.Started, error) {
	b.record("verify")
	if otp != b.otp {
		return gateway.Started{}, apperrors.New(apperrors.KindInvalidOTP, "gateway.VerifyOTP", ride.ErrInvalidOTP)
	}
	return gateway.Started{RideID: rideID}, nil
}

func (b *scriptedBackend) EndRide(_ context.Context, rideID types.ID) (gateway.Ride, error) {
	b.record("end")
	fare := pricing.NewFare(inr(200))
	return gateway.Ride{RideID: rideID, Fare: &fare}, nil
}

func (b *scriptedBackend) FinalizeFare(_ context.Context, _ types.ID, fees map[string]types.Money) (pricing.Fare, error) {
	b.record("finalize")
	fare := pricing.NewFare(inr(200))
	for name, m := range fees {
		fare = fare.WithFee(name, m)
	}
	return fare, nil
}

func (b *scriptedBackend) SettlePayment(_ context.Context, req gateway.SettleRequest) (gateway.Receipt, error) {
	b.record("settle")
	return gateway.Receipt{RideID: req.RideID, Method: req.Method, Amount: req.Amount, Provider: "scripted"}, nil
}

func (b *scriptedBackend) CancelRide(context.Context, types.ID, string) error {
	b.record("cancel")
	return nil
}

func (b *scriptedBackend) SubmitRating(context.Context, types.ID, int, string) error {
	b.record("rate")
	return nil
}
