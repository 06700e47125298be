package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httptransport "orbix/internal/http"
	"orbix/internal/modules/ride"
	"orbix/internal/modules/tracker"
	"orbix/internal/realtime"
	"orbix/internal/service"
	"orbix/internal/types"
)

// fakeBackend panics if reached; these requests are all rejected before any backend call.
type fakeBackend struct{ service.Backend }

func newClient(t *testing.T) *service.RideClient {
	t.Helper()
	client, err := service.NewRideClient(service.Deps{
		Store:    ride.NewStore(ride.Options{Role: types.RoleRider, IdentityID: "u1"}),
		Realtime: realtime.NewLoopback(realtime.Identity{ID: "u1", Role: types.RoleRider}),
		Backend:  fakeBackend{},
		Geo:      tracker.NewSimulatedGeolocator(time.Hour, 0, types.LatLng{Lat: 12.97, Lng: 77.59}),
	}, service.Options{})
	require.NoError(t, err)
	require.NoError(t, client.Start(t.Context()))
	t.Cleanup(client.Close)
	return client
}

func TestRouterGuardsV1WithToken(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := httptransport.NewRouter(httptransport.ServerDeps{Rides: newClient(t), Token: "s3cret"})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/ride", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/ride", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"phase":"idle"`)
}

func TestRouterMapsRealClientErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := httptransport.NewRouter(httptransport.ServerDeps{Rides: newClient(t)})

	// a rider cannot submit an otp
	req := httptest.NewRequest(http.MethodPost, "/v1/ride/otp", strings.NewReader(`{"otp":"123456"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// nothing to cancel while idle
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/ride/cancel", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/places?q=mg", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerRunStopsWithContext(t *testing.T) {
	srv := httptransport.NewServer("127.0.0.1:0", httptransport.ServerDeps{Rides: newClient(t)})
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
