package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"orbix/internal/apperrors"
	"orbix/internal/types"
)

// maxSuggestions caps what the request screen shows under the address box.
const maxSuggestions = 5

// suggestRadiusMeters biases text search around the rider.
const suggestRadiusMeters = 20000

// Place is an address suggestion for pickup or destination.
type Place struct {
	Name    string       `json:"name"`
	Address string       `json:"address"`
	PlaceID string       `json:"placeId"`
	Point   types.LatLng `json:"point"`
}

// PlacesService handles interactions with Google Places API.
type PlacesService struct {
	client *maps.Client
	region string
}

// NewPlacesService creates a new PlacesService with the given API Key.
func NewPlacesService(apiKey, region string) (*PlacesService, error) {
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	if region == "" {
		region = "in"
	}
	return &PlacesService{client: client, region: region}, nil
}

// Suggest searches for places matching query, biased toward near when it is set.
func (s *PlacesService) Suggest(ctx context.Context, query string, near *types.LatLng) ([]Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	r := &maps.TextSearchRequest{
		Query:  query,
		Region: s.region,
	}
	if near != nil && !near.IsZero() {
		r.Location = &maps.LatLng{Lat: near.Lat, Lng: near.Lng}
		r.Radius = suggestRadiusMeters
	}

	resp, err := s.client.TextSearch(ctx, r)
	if err != nil {
		return nil, apperrors.New(apperrors.KindNetwork, "maps.Suggest", fmt.Errorf("places api error: %w", err))
	}
	return collectPlaces(resp.Results), nil
}

func collectPlaces(results []maps.PlacesSearchResult) []Place {
	seen := make(map[string]bool)
	var out []Place
	for _, result := range results {
		if result.PlaceID == "" || seen[result.PlaceID] {
			continue
		}
		seen[result.PlaceID] = true
		out = append(out, Place{
			Name:    result.Name,
			Address: result.FormattedAddress,
			PlaceID: result.PlaceID,
			Point:   types.LatLng{Lat: result.Geometry.Location.Lat, Lng: result.Geometry.Location.Lng},
		})
		if len(out) >= maxSuggestions {
			break
		}
	}
	return out
}
