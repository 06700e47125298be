package service

import (
	"context"

	"orbix/internal/gateway"
	"orbix/internal/modules/pricing"
	"orbix/internal/types"
)

// Backend is the REST surface the coordinator drives. *gateway.Client implements it.
type Backend interface {
	CreateRide(ctx context.Context, req gateway.CreateRideRequest) (gateway.Ride, error)
	QuoteFares(ctx context.Context, pickup, destination string) (pricing.Quote, error)
	ConfirmRide(ctx context.Context, rideID types.ID) (gateway.Ride, error)
	VerifyOTP(ctx context.Context, rideID types.ID, otp string) (gateway.Started, error)
	EndRide(ctx context.Context, rideID types.ID) (gateway.Ride, error)
	FinalizeFare(ctx context.Context, rideID types.ID, fees map[string]types.Money) (pricing.Fare, error)
	SettlePayment(ctx context.Context, req gateway.SettleRequest) (gateway.Receipt, error)
	CancelRide(ctx context.Context, rideID types.ID, reason string) error
	SubmitRating(ctx context.Context, rideID types.ID, stars int, comment string) error
}

var _ Backend = (*gateway.Client)(nil)
