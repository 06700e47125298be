package maps

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"googlemaps.github.io/maps"

	"orbix/internal/types"
)

func TestToRouteSumsLegs(t *testing.T) {
	path := []maps.LatLng{{Lat: 12.9756, Lng: 77.6066}, {Lat: 12.9600, Lng: 77.6150}, {Lat: 12.9352, Lng: 77.6245}}
	route := maps.Route{
		OverviewPolyline: maps.Polyline{Points: maps.Encode(path)},
		Legs: []*maps.Leg{
			{Distance: maps.Distance{Meters: 2500}, Duration: 7 * time.Minute},
			{Distance: maps.Distance{Meters: 3100}, Duration: 9*time.Minute + 40*time.Second},
		},
	}
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	got, err := toRoute(route, at)
	require.NoError(t, err)
	assert.True(t, got.Available)
	assert.Equal(t, 5.6, got.DistanceKm)
	assert.Equal(t, 17.0, got.ETAMinutes)
	require.Len(t, got.Coordinates, 3)
	assert.InDelta(t, 77.6066, got.Coordinates[0][0], 1e-5)
	assert.InDelta(t, 12.9352, got.Coordinates[2][1], 1e-5)
	assert.Equal(t, at, got.UpdatedAt)
}

func TestCollectPlacesDedupsAndCaps(t *testing.T) {
	var results []maps.PlacesSearchResult
	for _, id := range []string{"a", "a", "", "b", "c", "d", "e", "f"} {
		r := maps.PlacesSearchResult{Name: "place " + id, PlaceID: id}
		r.Geometry.Location = maps.LatLng{Lat: 13, Lng: 77.6}
		results = append(results, r)
	}
	got := collectPlaces(results)
	require.Len(t, got, maxSuggestions)
	assert.Equal(t, "a", got[0].PlaceID)
	assert.Equal(t, "b", got[1].PlaceID)
	assert.Equal(t, types.LatLng{Lat: 13, Lng: 77.6}, got[0].Point)
}

func TestLatLngString(t *testing.T) {
	assert.Equal(t, "12.975600,77.606600", latLngString(types.LatLng{Lat: 12.9756, Lng: 77.6066}))
}
