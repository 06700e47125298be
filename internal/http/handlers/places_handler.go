package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"orbix/internal/maps"
	"orbix/internal/types"
)

// PlaceSuggester autocompletes addresses.
type PlaceSuggester interface {
	Suggest(ctx context.Context, query string, near *types.LatLng) ([]maps.Place, error)
}

var _ PlaceSuggester = (*maps.PlacesService)(nil)

type PlacesHandler struct {
	places PlaceSuggester
}

// NewPlacesHandler accepts a nil suggester; the endpoint then answers 503.
func NewPlacesHandler(places PlaceSuggester) *PlacesHandler {
	return &PlacesHandler{places: places}
}

func (h *PlacesHandler) Suggest(c *gin.Context) {
	if h.places == nil {
		writeError(c, http.StatusServiceUnavailable, "address suggestions are not configured")
		return
	}
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		writeError(c, http.StatusBadRequest, "missing q")
		return
	}
	var near *types.LatLng
	if c.Query("lat") != "" || c.Query("lng") != "" {
		lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
		lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
		if errLat != nil || errLng != nil {
			writeError(c, http.StatusBadRequest, "lat and lng must both be numbers")
			return
		}
		near = &types.LatLng{Lat: lat, Lng: lng}
	}
	places, err := h.places.Suggest(c.Request.Context(), q, near)
	if err != nil {
		writeAppError(c, err)
		return
	}
	if places == nil {
		places = []maps.Place{}
	}
	writeJSON(c, http.StatusOK, map[string]any{"places": places})
}
