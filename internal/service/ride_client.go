// README: Ride client coordinator: wires store, router, tracker, navigator, cache and journal for one identity and exposes the user actions.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/gateway"
	"orbix/internal/modules/events"
	"orbix/internal/modules/journal"
	"orbix/internal/modules/matching"
	"orbix/internal/modules/navigator"
	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/modules/session"
	"orbix/internal/modules/tracker"
	"orbix/internal/payment"
	"orbix/internal/realtime"
	"orbix/internal/types"
)

const (
	DefaultMatchTimeout = 90 * time.Second
	cancelTimeout       = 5 * time.Second
)

var (
	ErrWrongRole   = errors.New("action not available for this role")
	ErrNotFinished = errors.New("no finished ride to rate")
	ErrStarted     = errors.New("ride client already started")
)

type Deps struct {
	Store    *ride.Store
	Realtime realtime.Client
	Backend  Backend
	Geo      tracker.Geolocator
	Routes   tracker.RouteProvider
	Geocoder tracker.Geocoder
	// Cache and Journal are optional.
	Cache    session.Cache
	Journal  journal.Appender
	Navigate navigator.Navigate
	Logger   *zap.Logger
}

type Options struct {
	MatchTimeout    time.Duration
	DedupWindow     time.Duration
	VehicleType     string
	MinEmitInterval time.Duration
	RouteRefresh    time.Duration
	Now             func() time.Time
}

// RideClient is the single entry point for user actions. Inbound realtime events reach the
// store through the event router; everything here goes through the backend first and then
// the store, so a failed call never moves the phase forward.
type RideClient struct {
	store   *ride.Store
	rt      realtime.Client
	backend Backend
	opts    Options
	log     *zap.Logger

	nav     *navigator.Navigator
	track   *tracker.Tracker
	persist *session.Persister
	journal *journal.Recorder
	planner *TripPlanner
	notices *noticeBoard

	mu         sync.Mutex
	started    bool
	booking    bool
	unregister func()
	unsub      func()
	matchTimer *time.Timer
	matchRide  types.ID
}

func NewRideClient(deps Deps, opts Options) (*RideClient, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("ride client: missing store")
	case deps.Realtime == nil:
		return nil, fmt.Errorf("ride client: missing realtime client")
	case deps.Backend == nil:
		return nil, fmt.Errorf("ride client: missing backend")
	case deps.Geo == nil:
		return nil, fmt.Errorf("ride client: missing geolocator")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Navigate == nil {
		deps.Navigate = func(navigator.ScreenID, ride.Session) {}
	}
	if opts.MatchTimeout <= 0 {
		opts.MatchTimeout = DefaultMatchTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	log := deps.Logger.With(zap.String("role", string(deps.Store.Role())))
	c := &RideClient{
		store:   deps.Store,
		rt:      deps.Realtime,
		backend: deps.Backend,
		opts:    opts,
		log:     log,
		notices: &noticeBoard{now: opts.Now},
	}
	c.nav = navigator.New(deps.Store, deps.Navigate, log)
	c.track = tracker.New(deps.Store, deps.Geo, deps.Routes, deps.Realtime, tracker.Options{
		MinEmitInterval: opts.MinEmitInterval,
		RouteRefresh:    opts.RouteRefresh,
		Geocoder:        deps.Geocoder,
		Logger:          log,
		Notify:          c.notices.add,
		Now:             opts.Now,
	})
	if deps.Cache != nil {
		c.persist = session.NewPersister(deps.Store, deps.Cache, log)
	}
	if deps.Journal != nil {
		c.journal = journal.NewRecorder(deps.Store, deps.Journal, log)
	}
	planner, err := NewTripPlanner(deps.Geocoder, deps.Routes, deps.Backend)
	if err != nil {
		return nil, err
	}
	planner.now = opts.Now
	planner.log = log
	c.planner = planner
	return c, nil
}

// Start registers the event router and observers, then restores a saved ride if there is one.
func (c *RideClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrStarted
	}
	c.started = true
	c.unregister = events.Register(c.store, c.rt, events.Options{
		DedupWindow: c.opts.DedupWindow,
		VehicleType: c.opts.VehicleType,
		Logger:      c.log,
		Now:         c.opts.Now,
	})
	c.unsub = c.store.Subscribe(c.onChange)
	c.mu.Unlock()

	if c.journal != nil {
		c.journal.Start()
	}
	c.nav.Start()
	c.track.Start()
	if c.persist == nil {
		return nil
	}
	c.persist.Start()
	restored, err := c.persist.RestoreInto(ctx)
	if err != nil {
		c.log.Warn("session restore failed", zap.Error(err))
		return nil
	}
	if restored {
		s := c.store.Current()
		c.log.Info("rejoined ride", zap.String("ride_id", string(s.RideID)), zap.String("phase", string(s.Phase)))
	}
	return nil
}

// Close stops observers and the router. The realtime client is left open.
func (c *RideClient) Close() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	unsub, unregister := c.unsub, c.unregister
	c.unsub, c.unregister = nil, nil
	c.mu.Unlock()

	c.disarmMatchTimer()
	unsub()
	unregister()
	c.track.Stop()
	c.nav.Stop()
	if c.persist != nil {
		c.persist.Stop()
	}
	if c.journal != nil {
		c.journal.Stop()
	}
}

// Logout clears the session everywhere and closes the realtime connection.
func (c *RideClient) Logout() error {
	c.store.Reset()
	c.notices.clear()
	c.Close()
	return c.rt.Close()
}

func (c *RideClient) Role() types.Role { return c.store.Role() }

func (c *RideClient) Session() ride.Session { return c.store.Current() }

func (c *RideClient) LastFinished() (ride.Session, bool) { return c.store.LastFinished() }

func (c *RideClient) Screen() navigator.ScreenID { return c.nav.Current() }

func (c *RideClient) Banner() (navigator.Banner, bool) { return c.nav.Banner() }

func (c *RideClient) Detach() { c.nav.Detach() }

func (c *RideClient) Resume() { c.nav.Resume() }

func (c *RideClient) Offers() []ride.Offer { return c.store.Offers() }

func (c *RideClient) Notices() []Notice { return c.notices.list() }

func (c *RideClient) ConnectionStatus() realtime.Status { return c.rt.Status() }

func (c *RideClient) onChange(ch ride.Change) {
	switch ch.Kind {
	case ride.ChangePhase, ride.ChangeRestore, ride.ChangeReset:
	default:
		return
	}
	if ch.To == ride.PhaseRequested {
		c.armMatchTimer(ch.Session.RideID)
	} else {
		c.disarmMatchTimer()
	}
	if ch.Event == ride.EventNoMatch {
		reason := ch.Session.Reason
		if reason == "" {
			reason = "no captains available"
		}
		c.notices.add(apperrors.New(apperrors.KindNoMatchFound, "ride.match", errors.New(reason)))
	}
}

func (c *RideClient) armMatchTimer(rideID types.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchTimer != nil && c.matchRide == rideID {
		return
	}
	if c.matchTimer != nil {
		c.matchTimer.Stop()
	}
	c.matchRide = rideID
	c.matchTimer = time.AfterFunc(c.opts.MatchTimeout, func() { c.matchExpired(rideID) })
}

func (c *RideClient) disarmMatchTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.matchTimer != nil {
		c.matchTimer.Stop()
		c.matchTimer = nil
		c.matchRide = ""
	}
}

// matchExpired cancels a request nobody accepted within MatchTimeout.
func (c *RideClient) matchExpired(rideID types.ID) {
	c.mu.Lock()
	if c.matchRide != rideID {
		c.mu.Unlock()
		return
	}
	c.matchTimer = nil
	c.matchRide = ""
	c.mu.Unlock()

	s := c.store.Current()
	if s.Phase != ride.PhaseRequested || s.RideID != rideID {
		return
	}
	c.log.Info("no captain matched in time", zap.String("ride_id", string(rideID)), zap.Duration("timeout", c.opts.MatchTimeout))
	err := c.store.Transition(ride.Event{Kind: ride.EventNoMatch, RideID: rideID, Reason: "no captain accepted in time"})
	if err != nil {
		c.log.Debug("no-match transition skipped", zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if err := c.backend.CancelRide(ctx, rideID, "no_match"); err != nil {
		c.log.Warn("backend cancel after no match failed", zap.String("ride_id", string(rideID)), zap.Error(err))
	}
}

// fail records err as a notice and returns it.
func (c *RideClient) fail(err error) error {
	c.notices.add(err)
	return err
}

func (c *RideClient) requireRole(op string, role types.Role) error {
	if c.store.Role() != role {
		return apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("%w: %s", ErrWrongRole, c.store.Role()))
	}
	return nil
}

// requirePhase rejects ev before any network call when the session is not in one of phases.
func (c *RideClient) requirePhase(op string, ev ride.EventKind, phases ...ride.Phase) (ride.Session, error) {
	s := c.store.Current()
	for _, p := range phases {
		if s.Phase == p {
			return s, nil
		}
	}
	if s.Phase == ride.PhaseIdle && ev != ride.EventRequestSubmitted && ev != ride.EventOfferAccepted {
		return s, apperrors.New(apperrors.KindBadRequest, op, ride.ErrNoActiveRide)
	}
	return s, ride.AsAppError(op, &ride.InvalidTransitionError{From: s.Phase, Event: ev, Role: s.Role})
}

// requireIdle enforces one active session per identity.
func (c *RideClient) requireIdle(op string, ev ride.EventKind) error {
	if c.store.Active() {
		return apperrors.New(apperrors.KindBadRequest, op, ride.ErrActiveRide)
	}
	_, err := c.requirePhase(op, ev, ride.PhaseIdle)
	return err
}

// reserve claims the booking slot until the returned release is called. A second booking
// attempt made while one is in flight fails as an active ride.
func (c *RideClient) reserve(op string, ev ride.EventKind) (release func(), err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.booking {
		return nil, apperrors.New(apperrors.KindBadRequest, op, ride.ErrActiveRide)
	}
	if err := c.requireIdle(op, ev); err != nil {
		return nil, err
	}
	c.booking = true
	return func() {
		c.mu.Lock()
		c.booking = false
		c.mu.Unlock()
	}, nil
}

type RideRequest struct {
	Pickup        ride.Place     `json:"pickup"`
	Destination   ride.Place     `json:"destination"`
	VehicleType   string         `json:"vehicleType"`
	PaymentMethod payment.Method `json:"paymentMethod"`
}

// RequestRide books a ride for the rider and enters requested.
func (c *RideClient) RequestRide(ctx context.Context, req RideRequest) (ride.Session, error) {
	const op = "service.RequestRide"
	if err := c.requireRole(op, types.RoleRider); err != nil {
		return ride.Session{}, err
	}
	release, err := c.reserve(op, ride.EventRequestSubmitted)
	if err != nil {
		return ride.Session{}, err
	}
	defer release()
	vehicle, ok := matching.ParseVehicle(req.VehicleType)
	switch {
	case strings.TrimSpace(req.Pickup.Address) == "" && req.Pickup.Point == nil:
		return ride.Session{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("pickup is required"))
	case strings.TrimSpace(req.Destination.Address) == "" && req.Destination.Point == nil:
		return ride.Session{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("destination is required"))
	case !ok:
		return ride.Session{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("unknown vehicle type %q", req.VehicleType))
	}
	method := payment.MethodCash
	if req.PaymentMethod != "" {
		m, err := payment.ParseMethod(string(req.PaymentMethod))
		if err != nil {
			return ride.Session{}, apperrors.New(apperrors.KindBadRequest, op, err)
		}
		method = m
	}

	created, err := c.backend.CreateRide(ctx, gateway.CreateRideRequest{
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		VehicleType:   string(vehicle),
		PaymentMethod: method,
	})
	if err != nil {
		return ride.Session{}, c.fail(err)
	}
	err = c.store.Transition(ride.Event{
		Kind:        ride.EventRequestSubmitted,
		RideID:      created.RideID,
		Pickup:      req.Pickup,
		Destination: req.Destination,
		VehicleType: string(vehicle),
		Fare:        created.Fare,
	})
	if err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	return c.store.Current(), nil
}

// AcceptOffer takes a surfaced offer for the captain: requested locally, then confirmed with
// the backend and matched.
func (c *RideClient) AcceptOffer(ctx context.Context, rideID types.ID) (ride.Session, error) {
	const op = "service.AcceptOffer"
	if err := c.requireRole(op, types.RoleCaptain); err != nil {
		return ride.Session{}, err
	}
	release, err := c.reserve(op, ride.EventOfferAccepted)
	if err != nil {
		return ride.Session{}, err
	}
	defer release()
	offer, err := c.store.TakeOffer(rideID)
	if err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	ev := ride.Event{
		Kind:        ride.EventOfferAccepted,
		RideID:      offer.RideID,
		Pickup:      offer.Pickup,
		Destination: offer.Destination,
		VehicleType: offer.VehicleType,
	}
	if offer.Rider.Name != "" || offer.Rider.ID != "" {
		rider := offer.Rider
		ev.Counterpart = &rider
	}
	if !offer.Fare.IsZero() {
		f := offer.Fare.Clone()
		ev.Fare = &f
	}
	if err := c.store.Transition(ev); err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}

	confirmed, err := c.backend.ConfirmRide(ctx, rideID)
	if err != nil {
		// A network failure leaves the outcome unknown, so the ride stays requested: a
		// ride-accepted event from the server matches it, otherwise the match timer cancels it.
		if apperrors.KindOf(err) == apperrors.KindNetwork {
			c.log.Warn("ride confirmation unknown", zap.String("ride_id", string(rideID)), zap.Error(err))
			return c.store.Current(), c.fail(err)
		}
		next := ride.Event{Kind: ride.EventCancel, RideID: rideID, Reason: "offer no longer available"}
		if terr := c.store.Transition(next); terr != nil {
			c.log.Debug("accept rollback skipped", zap.Error(terr))
		}
		return ride.Session{}, c.fail(err)
	}
	err = c.store.Transition(ride.Event{
		Kind:        ride.EventMatched,
		RideID:      rideID,
		OTP:         confirmed.OTP,
		Counterpart: confirmed.Counterpart,
		Fare:        confirmed.Fare,
	})
	if err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	return c.store.Current(), nil
}

// SubmitOTP verifies the rider's code on the captain's side. A malformed code is rejected
// without a request; a rejected code returns the ride to matched so the captain can retry.
func (c *RideClient) SubmitOTP(ctx context.Context, otp string) (ride.Session, error) {
	const op = "service.SubmitOTP"
	if err := c.requireRole(op, types.RoleCaptain); err != nil {
		return ride.Session{}, err
	}
	otp = strings.TrimSpace(otp)
	if err := ride.ValidateOTP(otp); err != nil {
		return ride.Session{}, c.fail(apperrors.New(apperrors.KindInvalidOTP, op, err))
	}
	s := c.store.Current()
	if err := c.store.Transition(ride.Event{Kind: ride.EventOTPSubmitted, RideID: s.RideID, OTP: otp}); err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}

	if _, err := c.backend.VerifyOTP(ctx, s.RideID, otp); err != nil {
		if terr := c.store.Transition(ride.Event{Kind: ride.EventOTPInvalid, RideID: s.RideID}); terr != nil {
			c.log.Debug("otp rollback skipped", zap.Error(terr))
		}
		return c.store.Current(), c.fail(err)
	}
	if err := c.store.Transition(ride.Event{Kind: ride.EventRideStarted, RideID: s.RideID}); err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	return c.store.Current(), nil
}

// StartWaiting marks the captain as waiting at a stop and tells the rider.
func (c *RideClient) StartWaiting(ctx context.Context) (ride.Session, error) {
	return c.toggleWaiting(ctx, true)
}

func (c *RideClient) EndWaiting(ctx context.Context) (ride.Session, error) {
	return c.toggleWaiting(ctx, false)
}

func (c *RideClient) toggleWaiting(_ context.Context, start bool) (ride.Session, error) {
	op, kind, undo, event := "service.EndWaiting", ride.EventWaitingEnded, ride.EventWaitingStarted, events.EndWaiting
	if start {
		op, kind, undo, event = "service.StartWaiting", ride.EventWaitingStarted, ride.EventWaitingEnded, events.StartWaiting
	}
	if err := c.requireRole(op, types.RoleCaptain); err != nil {
		return ride.Session{}, err
	}
	s := c.store.Current()
	if err := c.store.Transition(ride.Event{Kind: kind, RideID: s.RideID}); err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	if err := c.rt.Emit(event, map[string]any{"rideId": s.RideID}); err != nil {
		if terr := c.store.Transition(ride.Event{Kind: undo, RideID: s.RideID}); terr != nil {
			c.log.Debug("waiting rollback skipped", zap.Error(terr))
		}
		if apperrors.KindOf(err) == apperrors.KindUnknown {
			err = apperrors.New(apperrors.KindNetwork, op, err)
		}
		return ride.Session{}, c.fail(err)
	}
	return c.store.Current(), nil
}

// EndRide finishes the trip for the captain and moves to finishing with the backend fare.
func (c *RideClient) EndRide(ctx context.Context) (ride.Session, error) {
	const op = "service.EndRide"
	if err := c.requireRole(op, types.RoleCaptain); err != nil {
		return ride.Session{}, err
	}
	s, err := c.requirePhase(op, ride.EventRideEnded, ride.PhaseStarted, ride.PhaseCaptainWaiting)
	if err != nil {
		return ride.Session{}, err
	}
	ended, err := c.backend.EndRide(ctx, s.RideID)
	if err != nil {
		return ride.Session{}, c.fail(err)
	}
	if err := c.store.Transition(ride.Event{Kind: ride.EventRideEnded, RideID: s.RideID, Fare: ended.Fare}); err != nil {
		return ride.Session{}, ride.AsAppError(op, err)
	}
	return c.store.Current(), nil
}

// FinalizeFare adds the captain's extra fees and stores the backend-confirmed fare.
// Repeating it with the same fees is safe.
func (c *RideClient) FinalizeFare(ctx context.Context, fees map[string]types.Money) (pricing.Fare, error) {
	const op = "service.FinalizeFare"
	if err := c.requireRole(op, types.RoleCaptain); err != nil {
		return pricing.Fare{}, err
	}
	s, err := c.requirePhase(op, ride.EventRideEnded, ride.PhaseFinishing)
	if err != nil {
		return pricing.Fare{}, err
	}
	if s.Fare.Finalized {
		return s.Fare, nil
	}
	currency := s.Fare.Base.Currency
	normalized := make(map[string]types.Money, len(fees))
	for name, m := range fees {
		name = strings.TrimSpace(name)
		if name == "" {
			return pricing.Fare{}, apperrors.New(apperrors.KindBadRequest, op, fmt.Errorf("fee without a name"))
		}
		if m.Currency == "" {
			m.Currency = currency
		}
		normalized[name] = m
	}
	fare, err := c.backend.FinalizeFare(ctx, s.RideID, normalized)
	if err != nil {
		return pricing.Fare{}, c.fail(err)
	}
	if err := c.store.SetFare(s.RideID, fare); err != nil {
		return pricing.Fare{}, ride.AsAppError(op, err)
	}
	return c.store.Current().Fare, nil
}

type PayRequest struct {
	Method          payment.Method `json:"method"`
	PaymentMethodID string         `json:"paymentMethodId,omitempty"`
	CustomerID      string         `json:"customerId,omitempty"`
}

// Pay settles the displayed fare. On failure the ride stays in finishing and Pay may be retried.
func (c *RideClient) Pay(ctx context.Context, req PayRequest) (gateway.Receipt, error) {
	const op = "service.Pay"
	s, err := c.requirePhase(op, ride.EventPaymentSettled, ride.PhaseFinishing)
	if err != nil {
		return gateway.Receipt{}, err
	}
	method, err := payment.ParseMethod(string(req.Method))
	if err != nil {
		return gateway.Receipt{}, apperrors.New(apperrors.KindBadRequest, op, err)
	}
	receipt, err := c.backend.SettlePayment(ctx, gateway.SettleRequest{
		RideID:          s.RideID,
		Method:          method,
		Amount:          s.DisplayFare(),
		PaymentMethodID: req.PaymentMethodID,
		CustomerID:      req.CustomerID,
	})
	if err != nil {
		return gateway.Receipt{}, c.fail(err)
	}
	fare := s.Fare.Clone()
	if err := c.store.Transition(ride.Event{Kind: ride.EventPaymentSettled, RideID: s.RideID, Fare: &fare}); err != nil {
		return receipt, ride.AsAppError(op, err)
	}
	return receipt, nil
}

// Cancel cancels the active ride. The phase changes only once the backend agrees.
func (c *RideClient) Cancel(ctx context.Context, reason string) error {
	const op = "service.Cancel"
	s := c.store.Current()
	if !s.Phase.Active() {
		if s.Phase == ride.PhaseIdle {
			return apperrors.New(apperrors.KindBadRequest, op, ride.ErrNoActiveRide)
		}
		return ride.AsAppError(op, &ride.InvalidTransitionError{From: s.Phase, Event: ride.EventCancel, Role: s.Role})
	}
	if err := c.backend.CancelRide(ctx, s.RideID, reason); err != nil {
		return c.fail(err)
	}
	if err := c.store.Transition(ride.Event{Kind: ride.EventCancel, RideID: s.RideID, Reason: reason}); err != nil {
		return ride.AsAppError(op, err)
	}
	return nil
}

// Rate rates the last completed ride and leaves the rating screen.
func (c *RideClient) Rate(ctx context.Context, stars int, comment string) error {
	const op = "service.Rate"
	last, ok := c.store.LastFinished()
	if !ok || last.Phase != ride.PhaseCompleted {
		return apperrors.New(apperrors.KindBadRequest, op, ErrNotFinished)
	}
	if err := c.backend.SubmitRating(ctx, last.RideID, stars, comment); err != nil {
		return c.fail(err)
	}
	c.nav.Dismiss()
	return nil
}

// QuoteFares returns per-vehicle fares for addresses typed on the request screen.
func (c *RideClient) QuoteFares(ctx context.Context, pickup, destination string) (pricing.Quote, error) {
	q, err := c.backend.QuoteFares(ctx, pickup, destination)
	if err != nil {
		return pricing.Quote{}, c.fail(err)
	}
	return q, nil
}

// PlanTrip resolves the request screen's addresses into a priced, routed plan.
func (c *RideClient) PlanTrip(ctx context.Context, req TripRequest) (TripPlan, error) {
	plan, err := c.planner.PlanTrip(ctx, req)
	if err != nil {
		return TripPlan{}, c.fail(err)
	}
	return plan, nil
}

// DismissError clears notices, resets an error phase to idle and leaves terminal screens.
func (c *RideClient) DismissError() {
	if c.store.Phase() == ride.PhaseError {
		c.store.Reset()
	}
	c.notices.clear()
	c.nav.Dismiss()
}
