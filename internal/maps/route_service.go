// README: Google Maps directions and geocoding behind the tracker's RouteProvider and Geocoder.
package maps

import (
	"context"
	"errors"
	"fmt"
	"time"

	"googlemaps.github.io/maps"

	"orbix/internal/apperrors"
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

var ErrNoRoute = errors.New("no route found")

// RouteService handles interactions with Google Maps API.
type RouteService struct {
	client *maps.Client
	region string
	now    func() time.Time
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey, region string) (*RouteService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return newRouteService(client, region), nil
}

func newRouteService(client *maps.Client, region string) *RouteService {
	if region == "" {
		region = "in"
	}
	return &RouteService{client: client, region: region, now: time.Now}
}

// Route returns the first driving route from origin to dest with its decoded polyline.
func (s *RouteService) Route(ctx context.Context, origin, dest types.LatLng) (ride.Route, error) {
	r := &maps.DirectionsRequest{
		Origin:      latLngString(origin),
		Destination: latLngString(dest),
		Mode:        maps.TravelModeDriving,
		Region:      s.region,
	}

	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		return ride.Route{}, apperrors.New(apperrors.KindRoutingUnavailable, "maps.Route", fmt.Errorf("maps api error: %w", err))
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 {
		return ride.Route{}, apperrors.New(apperrors.KindRoutingUnavailable, "maps.Route", ErrNoRoute)
	}
	return toRoute(routes[0], s.now())
}

func toRoute(route maps.Route, at time.Time) (ride.Route, error) {
	path, err := route.OverviewPolyline.Decode()
	if err != nil {
		return ride.Route{}, apperrors.New(apperrors.KindRoutingUnavailable, "maps.Route", fmt.Errorf("decode polyline: %w", err))
	}

	var meters int
	var duration time.Duration
	for _, leg := range route.Legs {
		meters += leg.Distance.Meters
		duration += leg.Duration
	}

	coords := make([][2]float64, 0, len(path))
	for _, p := range path {
		coords = append(coords, [2]float64{p.Lng, p.Lat})
	}
	return ride.Route{
		Coordinates: coords,
		DistanceKm:  float64(meters) / 1000,
		ETAMinutes:  duration.Round(time.Minute).Minutes(),
		Available:   true,
		UpdatedAt:   at,
	}, nil
}

// Geocode resolves a free-text address to its first match.
func (s *RouteService) Geocode(ctx context.Context, address string) (types.LatLng, error) {
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{Address: address, Region: s.region})
	if err != nil {
		return types.LatLng{}, apperrors.New(apperrors.KindRoutingUnavailable, "maps.Geocode", fmt.Errorf("geocoding api error: %w", err))
	}
	if len(results) == 0 {
		return types.LatLng{}, apperrors.New(apperrors.KindRoutingUnavailable, "maps.Geocode", fmt.Errorf("no match for %q", address))
	}
	loc := results[0].Geometry.Location
	return types.LatLng{Lat: loc.Lat, Lng: loc.Lng}, nil
}

func latLngString(p types.LatLng) string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}
