package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/modules/matching"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/modules/tracker"
	"orbix/internal/types"
)

// DefaultTrafficBuffer is the extra time added to the arrival estimate shown before booking.
const DefaultTrafficBuffer = 5 * time.Minute

// seats per vehicle category, rider side.
var seats = map[matching.VehicleType]int{
	matching.VehicleMoto: 1,
	matching.VehicleAuto: 3,
	matching.VehicleCar:  4,
}

// FareQuoter is the part of the backend the planner needs.
type FareQuoter interface {
	QuoteFares(ctx context.Context, pickup, destination string) (pricing.Quote, error)
}

// TripPlanner turns the request screen's input into geocoded places, a route and a fare.
type TripPlanner struct {
	geocoder tracker.Geocoder
	routes   tracker.RouteProvider
	quotes   FareQuoter
	log      *zap.Logger
	now      func() time.Time
}

// NewTripPlanner creates a TripPlanner. geocoder and routes may be nil; the plan then
// carries no route.
func NewTripPlanner(geocoder tracker.Geocoder, routes tracker.RouteProvider, quotes FareQuoter) (*TripPlanner, error) {
	if quotes == nil {
		return nil, fmt.Errorf("trip planner: missing fare quoter")
	}
	return &TripPlanner{
		geocoder: geocoder,
		routes:   routes,
		quotes:   quotes,
		log:      zap.NewNop(),
		now:      time.Now,
	}, nil
}

type TripRequest struct {
	Pickup      ride.Place `json:"pickup"`
	Destination ride.Place `json:"destination"`
	VehicleType string     `json:"vehicleType,omitempty"`
	Passengers  int        `json:"passengers,omitempty"`
}

type TripPlan struct {
	Pickup      ride.Place    `json:"pickup"`
	Destination ride.Place    `json:"destination"`
	Route       *ride.Route   `json:"route,omitempty"`
	Quote       pricing.Quote `json:"quote"`
	VehicleType string        `json:"vehicleType"`
	Fare        types.Money   `json:"fare"`
	ArriveBy    *time.Time    `json:"arriveBy,omitempty"`
	Notice      string        `json:"notice,omitempty"`
}

// resolveVehicle picks the vehicle for the party size. An explicit choice wins but gets a
// notice when it cannot seat everyone.
func resolveVehicle(requested string, passengers int) (matching.VehicleType, string) {
	if passengers < 1 {
		passengers = 1
	}
	if v, ok := matching.ParseVehicle(requested); ok {
		if passengers > seats[v] {
			return v, fmt.Sprintf("a %s seats %d; %d riders may need a car", v, seats[v], passengers)
		}
		return v, ""
	}
	switch {
	case passengers == 1:
		return matching.VehicleMoto, ""
	case passengers <= seats[matching.VehicleAuto]:
		return matching.VehicleAuto, ""
	case passengers <= seats[matching.VehicleCar]:
		return matching.VehicleCar, ""
	default:
		return matching.VehicleCar, fmt.Sprintf("%d riders need more than one car", passengers)
	}
}

// PlanTrip quotes the trip and, when coordinates are available, routes it. Routing problems
// degrade the plan; only a failed quote is an error.
func (p *TripPlanner) PlanTrip(ctx context.Context, req TripRequest) (TripPlan, error) {
	const op = "service.PlanTrip"
	if strings.TrimSpace(req.Pickup.Address) == "" || strings.TrimSpace(req.Destination.Address) == "" {
		return TripPlan{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("pickup and destination addresses are required"))
	}

	vehicle, notice := resolveVehicle(req.VehicleType, req.Passengers)
	plan := TripPlan{
		Pickup:      p.locate(ctx, req.Pickup),
		Destination: p.locate(ctx, req.Destination),
		VehicleType: string(vehicle),
		Notice:      notice,
	}

	quote, err := p.quotes.QuoteFares(ctx, req.Pickup.Address, req.Destination.Address)
	if err != nil {
		return TripPlan{}, err
	}
	plan.Quote = quote
	if fare, ok := quote.For(string(vehicle)); ok {
		plan.Fare = fare
	}

	if p.routes == nil || plan.Pickup.Point == nil || plan.Destination.Point == nil {
		return plan, nil
	}
	r, err := p.routes.Route(ctx, *plan.Pickup.Point, *plan.Destination.Point)
	if err != nil {
		p.log.Info("trip route unavailable", zap.Error(err))
		plan.Route = &ride.Route{Available: false, UpdatedAt: p.now()}
		return plan, nil
	}
	plan.Route = &r
	arrive := p.now().Add(time.Duration(r.ETAMinutes*float64(time.Minute)) + DefaultTrafficBuffer)
	plan.ArriveBy = &arrive
	return plan, nil
}

// locate fills in the coordinate of place when it is missing and a geocoder is configured.
func (p *TripPlanner) locate(ctx context.Context, place ride.Place) ride.Place {
	if place.Point != nil || p.geocoder == nil {
		return place
	}
	pt, err := p.geocoder.Geocode(ctx, place.Address)
	if err != nil {
		p.log.Debug("geocode failed", zap.String("address", place.Address), zap.Error(err))
		return place
	}
	place.Point = &pt
	return place
}
