package tracker

import (
	"context"
	"math"
	"time"

	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// RouteProvider computes a drivable route. The Google Maps adapter lives in internal/maps.
type RouteProvider interface {
	Route(ctx context.Context, origin, dest types.LatLng) (ride.Route, error)
}

// Geocoder resolves free-text addresses that arrived without coordinates.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.LatLng, error)
}

// StraightLine is a RouteProvider that needs no network: one segment, haversine distance
// and an ETA at a fixed average speed.
type StraightLine struct {
	SpeedKmh float64
}

func (s StraightLine) Route(_ context.Context, origin, dest types.LatLng) (ride.Route, error) {
	speed := s.SpeedKmh
	if speed <= 0 {
		speed = 25
	}
	km := HaversineKm(origin, dest)
	return ride.Route{
		Coordinates: [][2]float64{{origin.Lng, origin.Lat}, {dest.Lng, dest.Lat}},
		DistanceKm:  math.Round(km*100) / 100,
		ETAMinutes:  math.Ceil(km / speed * 60),
		Available:   true,
		UpdatedAt:   time.Now(),
	}, nil
}
