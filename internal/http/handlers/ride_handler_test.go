package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbix/internal/apperrors"
	"orbix/internal/gateway"
	"orbix/internal/http/handlers"
	"orbix/internal/maps"
	"orbix/internal/modules/navigator"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/payment"
	"orbix/internal/realtime"
	"orbix/internal/service"
	"orbix/internal/types"
)

// stubRides is a test double for handlers.RideActions; unset funcs succeed.
type stubRides struct {
	session ride.Session
	offers  []ride.Offer

	request func(service.RideRequest) error
	otp     func(string) error
	pay     func(service.PayRequest) (gateway.Receipt, error)
	cancel  func(string) error
	rate    func(int, string) error
	fare    func(map[string]types.Money) (pricing.Fare, error)

	accepted  types.ID
	dismissed bool
}

func (s *stubRides) Role() types.Role                   { return s.session.Role }
func (s *stubRides) Session() ride.Session              { return s.session }
func (s *stubRides) LastFinished() (ride.Session, bool) { return ride.Session{}, false }
func (s *stubRides) Screen() navigator.ScreenID         { return navigator.ScreenHome }
func (s *stubRides) Banner() (navigator.Banner, bool)   { return navigator.Banner{}, false }
func (s *stubRides) Offers() []ride.Offer               { return s.offers }
func (s *stubRides) Notices() []service.Notice          { return nil }
func (s *stubRides) ConnectionStatus() realtime.Status  { return realtime.StatusConnected }

func (s *stubRides) RequestRide(_ context.Context, req service.RideRequest) (ride.Session, error) {
	if s.request != nil {
		if err := s.request(req); err != nil {
			return ride.Session{}, err
		}
	}
	s.session.Phase = ride.PhaseRequested
	return s.session, nil
}

func (s *stubRides) PlanTrip(_ context.Context, req service.TripRequest) (service.TripPlan, error) {
	return service.TripPlan{Pickup: req.Pickup, Destination: req.Destination, VehicleType: "car"}, nil
}

func (s *stubRides) AcceptOffer(_ context.Context, id types.ID) (ride.Session, error) {
	s.accepted = id
	return s.session, nil
}

func (s *stubRides) SubmitOTP(_ context.Context, otp string) (ride.Session, error) {
	if s.otp != nil {
		return s.session, s.otp(otp)
	}
	return s.session, nil
}

func (s *stubRides) StartWaiting(context.Context) (ride.Session, error) { return s.session, nil }
func (s *stubRides) EndWaiting(context.Context) (ride.Session, error)   { return s.session, nil }
func (s *stubRides) EndRide(context.Context) (ride.Session, error)      { return s.session, nil }

func (s *stubRides) FinalizeFare(_ context.Context, fees map[string]types.Money) (pricing.Fare, error) {
	if s.fare != nil {
		return s.fare(fees)
	}
	return pricing.Fare{}, nil
}

func (s *stubRides) Pay(_ context.Context, req service.PayRequest) (gateway.Receipt, error) {
	if s.pay != nil {
		return s.pay(req)
	}
	return gateway.Receipt{}, nil
}

func (s *stubRides) Cancel(_ context.Context, reason string) error {
	if s.cancel != nil {
		return s.cancel(reason)
	}
	return nil
}

func (s *stubRides) Rate(_ context.Context, stars int, comment string) error {
	if s.rate != nil {
		return s.rate(stars, comment)
	}
	return nil
}

func (s *stubRides) DismissError() { s.dismissed = true }
func (s *stubRides) Detach()       {}
func (s *stubRides) Resume()       {}
func (s *stubRides) Logout() error { return nil }

type stubPlaces struct {
	near *types.LatLng
}

func (p *stubPlaces) Suggest(_ context.Context, q string, near *types.LatLng) ([]maps.Place, error) {
	p.near = near
	return []maps.Place{{Name: q, Address: q + ", Bengaluru", PlaceID: "p1"}}, nil
}

func buildTestRouter(rides handlers.RideActions, places handlers.PlaceSuggester) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewRideHandler(rides)
	r.GET("/v1/ride", h.Get)
	r.GET("/v1/offers", h.Offers)
	r.POST("/v1/ride/request", h.Request)
	r.POST("/v1/ride/quote", h.Quote)
	r.POST("/v1/offers/:id/accept", h.AcceptOffer)
	r.POST("/v1/ride/otp", h.SubmitOTP)
	r.POST("/v1/ride/fare", h.FinalizeFare)
	r.POST("/v1/ride/pay", h.Pay)
	r.POST("/v1/ride/cancel", h.Cancel)
	r.POST("/v1/ride/rating", h.Rate)
	r.POST("/v1/ride/dismiss", h.Dismiss)
	r.GET("/v1/places", handlers.NewPlacesHandler(places).Suggest)
	return r
}

func doRequest(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		kind apperrors.Kind
		want int
	}{
		{apperrors.KindInvalidTransition, http.StatusConflict},
		{apperrors.KindInvalidOTP, http.StatusUnprocessableEntity},
		{apperrors.KindBadRequest, http.StatusBadRequest},
		{apperrors.KindNetwork, http.StatusBadGateway},
		{apperrors.KindGateway, http.StatusBadGateway},
		{apperrors.KindPayment, http.StatusPaymentRequired},
		{apperrors.KindNoMatchFound, http.StatusNotFound},
		{apperrors.KindUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			rides := &stubRides{otp: func(string) error {
				return apperrors.New(tc.kind, "service.SubmitOTP", errors.New("nope"))
			}}
			w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/ride/otp", map[string]string{"otp": "123456"})
			assert.Equal(t, tc.want, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, string(tc.kind), body["kind"])
			if tc.want == http.StatusInternalServerError {
				assert.Equal(t, "internal error", body["error"])
			} else {
				assert.Equal(t, "nope", body["error"])
			}
		})
	}
}

func TestRequestRide(t *testing.T) {
	var got service.RideRequest
	rides := &stubRides{
		session: ride.Session{Role: types.RoleRider, Phase: ride.PhaseIdle},
		request: func(req service.RideRequest) error { got = req; return nil },
	}
	r := buildTestRouter(rides, nil)

	w := doRequest(r, http.MethodPost, "/v1/ride/request", map[string]any{
		"pickup":        map[string]any{"address": "MG Road"},
		"destination":   map[string]any{"address": "Indiranagar"},
		"vehicleType":   "car",
		"paymentMethod": "upi",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "MG Road", got.Pickup.Address)
	assert.Equal(t, payment.Method("upi"), got.PaymentMethod)

	body := decodeBody(t, w)
	session := body["session"].(map[string]any)
	assert.Equal(t, "requested", session["phase"])
	assert.Equal(t, "connected", body["connection"])
}

func TestRequestRideRejectsBadJSON(t *testing.T) {
	r := buildTestRouter(&stubRides{}, nil)
	req := httptest.NewRequest(http.MethodPost, "/v1/ride/request", bytes.NewBufferString("{"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAcceptOfferUsesPathID(t *testing.T) {
	rides := &stubRides{session: ride.Session{Role: types.RoleCaptain}}
	w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/offers/r42/accept", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, types.ID("r42"), rides.accepted)
}

func TestOffersNeverNull(t *testing.T) {
	w := doRequest(buildTestRouter(&stubRides{}, nil), http.MethodGet, "/v1/offers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"offers":[]}`, w.Body.String())
}

func TestFinalizeFareReturnsTotal(t *testing.T) {
	rides := &stubRides{fare: func(fees map[string]types.Money) (pricing.Fare, error) {
		f := pricing.Fare{Base: types.Money{Amount: 20000, Currency: "INR"}}
		for name, m := range fees {
			f = f.WithFee(name, m)
		}
		return f, nil
	}}
	w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/ride/fare", map[string]any{
		"fees": map[string]any{"toll": map[string]any{"amount": 5000, "currency": "INR"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	total := decodeBody(t, w)["total"].(map[string]any)
	assert.Equal(t, float64(25000), total["amount"])
}

func TestPayFailureIs402(t *testing.T) {
	rides := &stubRides{pay: func(service.PayRequest) (gateway.Receipt, error) {
		return gateway.Receipt{}, apperrors.New(apperrors.KindPayment, "gateway.SettlePayment", payment.ErrNoProvider)
	}}
	w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/ride/pay", map[string]any{"method": "card"})
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
}

func TestCancelBodyIsOptional(t *testing.T) {
	var reason string
	rides := &stubRides{cancel: func(r string) error { reason = r; return nil }}
	r := buildTestRouter(rides, nil)

	w := doRequest(r, http.MethodPost, "/v1/ride/cancel", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, reason)

	w = doRequest(r, http.MethodPost, "/v1/ride/cancel", map[string]string{"reason": " changed plans "})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "changed plans", reason)
}

func TestRatePassesStarsAndComment(t *testing.T) {
	var stars int
	var comment string
	rides := &stubRides{rate: func(s int, c string) error { stars, comment = s, c; return nil }}
	w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/ride/rating", map[string]any{"stars": 5, "comment": "smooth"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, stars)
	assert.Equal(t, "smooth", comment)
}

func TestDismiss(t *testing.T) {
	rides := &stubRides{}
	w := doRequest(buildTestRouter(rides, nil), http.MethodPost, "/v1/ride/dismiss", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, rides.dismissed)
}

func TestQuoteReturnsPlan(t *testing.T) {
	w := doRequest(buildTestRouter(&stubRides{}, nil), http.MethodPost, "/v1/ride/quote", map[string]any{
		"pickup":      map[string]any{"address": "A"},
		"destination": map[string]any{"address": "B"},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "car", decodeBody(t, w)["vehicleType"])
}

func TestPlaces(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		w := doRequest(buildTestRouter(&stubRides{}, nil), http.MethodGet, "/v1/places?q=mg", nil)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
	t.Run("missing query", func(t *testing.T) {
		w := doRequest(buildTestRouter(&stubRides{}, &stubPlaces{}), http.MethodGet, "/v1/places", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("bad coordinates", func(t *testing.T) {
		w := doRequest(buildTestRouter(&stubRides{}, &stubPlaces{}), http.MethodGet, "/v1/places?q=mg&lat=x&lng=1", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
	t.Run("biased", func(t *testing.T) {
		places := &stubPlaces{}
		w := doRequest(buildTestRouter(&stubRides{}, places), http.MethodGet, "/v1/places?q=mg&lat=12.97&lng=77.59", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, places.near)
		assert.Equal(t, 12.97, places.near.Lat)
		assert.Len(t, decodeBody(t, w)["places"], 1)
	})
}
