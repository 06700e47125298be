// README: Geolocation and route tracker: watches position while a ride is active, emits own location at a capped rate, keeps route and ETA fresh.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"orbix/internal/apperrors"
	"orbix/internal/modules/events"
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// Emitter is the outbound half of the realtime client.
type Emitter interface {
	Emit(event string, payload any) error
}

type Options struct {
	MinEmitInterval time.Duration
	RouteRefresh    time.Duration
	RouteTimeout    time.Duration
	Geocoder        Geocoder
	Logger          *zap.Logger
	// Notify receives user-facing degradations (geolocation or routing unavailable).
	Notify func(error)
	Now    func() time.Time
}

type Tracker struct {
	store  *ride.Store
	geo    Geolocator
	routes RouteProvider
	emit   Emitter
	opts   Options
	log    *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	unsub     func()
	limiter   *rate.Limiter
	watching  bool
	handle    WatchHandle
	rideID    types.ID
	phase     ride.Phase
	lastRoute time.Time
	routing   bool
	geoFailed bool
	geocoded  map[string]types.LatLng
}

func New(store *ride.Store, geo Geolocator, routes RouteProvider, emit Emitter, opts Options) *Tracker {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinEmitInterval <= 0 {
		opts.MinEmitInterval = 4 * time.Second
	}
	if opts.RouteRefresh <= 0 {
		opts.RouteRefresh = 30 * time.Second
	}
	if opts.RouteTimeout <= 0 {
		opts.RouteTimeout = 10 * time.Second
	}
	if opts.Notify == nil {
		opts.Notify = func(error) {}
	}
	if routes == nil {
		routes = StraightLine{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tracker{
		store:    store,
		geo:      geo,
		routes:   routes,
		emit:     emit,
		opts:     opts,
		log:      opts.Logger.With(zap.String("component", "tracker")),
		ctx:      ctx,
		cancel:   cancel,
		limiter:  newLimiter(opts.MinEmitInterval),
		geocoded: make(map[string]types.LatLng),
	}
}

func newLimiter(every time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(every), 1)
}

// ActiveFor reports whether position must be tracked for role in phase.
func ActiveFor(role types.Role, phase ride.Phase) bool {
	switch phase {
	case ride.PhaseStarted, ride.PhaseCaptainWaiting:
		return true
	case ride.PhaseMatched, ride.PhaseOTPPending:
		return role == types.RoleCaptain
	}
	return false
}

// Start subscribes to the store and syncs with the current session.
func (t *Tracker) Start() {
	t.mu.Lock()
	if t.unsub != nil {
		t.mu.Unlock()
		return
	}
	t.unsub = t.store.Subscribe(t.onChange)
	t.mu.Unlock()
	t.sync(t.store.Current())
}

// Stop cancels the watch and any in-flight route request.
func (t *Tracker) Stop() {
	t.mu.Lock()
	unsub := t.unsub
	t.unsub = nil
	t.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	t.stopWatch()
	t.cancel()
	t.wg.Wait()
}

func (t *Tracker) Watching() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.watching
}

func (t *Tracker) onChange(c ride.Change) {
	switch c.Kind {
	case ride.ChangePhase, ride.ChangeRestore, ride.ChangeReset:
		s := c.Session
		s.Phase = c.To
		t.sync(s)
	}
}

func (t *Tracker) sync(s ride.Session) {
	should := ActiveFor(t.store.Role(), s.Phase)

	t.mu.Lock()
	if t.phase != s.Phase {
		t.lastRoute = time.Time{}
	}
	t.phase = s.Phase
	t.rideID = s.RideID
	start := should && !t.watching && t.ctx.Err() == nil
	if start {
		t.watching = true
	}
	t.mu.Unlock()

	switch {
	case start:
		t.startWatch()
	case !should:
		t.stopWatch()
	}
}

func (t *Tracker) startWatch() {
	h, err := t.geo.Watch(t.onPosition, t.onGeoError)
	if err != nil {
		t.mu.Lock()
		t.watching = false
		t.mu.Unlock()
		t.onGeoError(err)
		return
	}
	t.mu.Lock()
	if !t.watching {
		t.mu.Unlock()
		t.geo.Clear(h)
		return
	}
	t.handle = h
	t.mu.Unlock()
	t.log.Info("position watch started", zap.String("ride_id", string(t.rideIDSnapshot())))
}

func (t *Tracker) stopWatch() {
	t.mu.Lock()
	if !t.watching {
		t.mu.Unlock()
		return
	}
	t.watching = false
	h := t.handle
	t.handle = 0
	t.lastRoute = time.Time{}
	t.geoFailed = false
	t.limiter = newLimiter(t.opts.MinEmitInterval)
	t.mu.Unlock()

	if h != 0 {
		t.geo.Clear(h)
	}
	t.store.ClearRoute()
	t.log.Info("position watch stopped")
}

func (t *Tracker) onPosition(p types.LatLng) {
	t.mu.Lock()
	if !t.watching {
		t.mu.Unlock()
		return
	}
	rideID := t.rideID
	limiter := t.limiter
	t.geoFailed = false
	t.mu.Unlock()

	t.store.UpdateOwnLocation(p)

	if t.emit != nil && limiter.AllowN(t.opts.Now(), 1) {
		event := events.LocationEventFor(t.store.Role())
		if err := t.emit.Emit(event, events.NewLocationPayload(rideID, p)); err != nil {
			t.log.Debug("location emit failed", zap.String("event", event), zap.Error(err))
		}
	}
	t.maybeRoute(p)
}

func (t *Tracker) onGeoError(err error) {
	t.mu.Lock()
	first := !t.geoFailed
	t.geoFailed = true
	t.mu.Unlock()
	if !first {
		return
	}
	t.log.Warn("geolocation unavailable", zap.Error(err))
	t.opts.Notify(apperrors.New(apperrors.KindGeolocationUnavailable, "tracker.watch", err))
}

// maybeRoute refreshes the route in the background at most once per RouteRefresh.
func (t *Tracker) maybeRoute(origin types.LatLng) {
	now := t.opts.Now()
	t.mu.Lock()
	if t.routing || t.ctx.Err() != nil || (!t.lastRoute.IsZero() && now.Sub(t.lastRoute) < t.opts.RouteRefresh) {
		t.mu.Unlock()
		return
	}
	t.routing = true
	t.lastRoute = now
	t.wg.Add(1)
	t.mu.Unlock()

	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			t.routing = false
			t.mu.Unlock()
		}()
		t.refreshRoute(origin)
	}()
}

func (t *Tracker) refreshRoute(origin types.LatLng) {
	ctx, cancel := context.WithTimeout(t.ctx, t.opts.RouteTimeout)
	defer cancel()

	s := t.store.Current()
	if !ActiveFor(s.Role, s.Phase) {
		return
	}
	dest, err := t.target(ctx, s)
	if err == nil {
		var r ride.Route
		r, err = t.routes.Route(ctx, origin, dest)
		if err == nil {
			if serr := t.store.SetRoute(s.RideID, &r); serr != nil {
				t.log.Debug("route discarded", zap.Error(serr))
			}
			return
		}
	}
	if ctx.Err() != nil && t.ctx.Err() != nil {
		return
	}
	t.log.Warn("route unavailable", zap.String("ride_id", string(s.RideID)), zap.Error(err))
	if serr := t.store.SetRoute(s.RideID, nil); serr != nil {
		t.log.Debug("route clear discarded", zap.Error(serr))
	}
	t.opts.Notify(apperrors.New(apperrors.KindRoutingUnavailable, "tracker.route", err))
}

// target is the pickup before the ride starts and the destination after.
func (t *Tracker) target(ctx context.Context, s ride.Session) (types.LatLng, error) {
	place := s.Destination
	if s.Phase == ride.PhaseMatched || s.Phase == ride.PhaseOTPPending {
		place = s.Pickup
	}
	if place.Point != nil {
		return *place.Point, nil
	}
	if place.Address == "" {
		return types.LatLng{}, fmt.Errorf("no target for phase %s", s.Phase)
	}

	t.mu.Lock()
	pt, ok := t.geocoded[place.Address]
	t.mu.Unlock()
	if ok {
		return pt, nil
	}
	if t.opts.Geocoder == nil {
		return types.LatLng{}, fmt.Errorf("no coordinates for %q", place.Address)
	}
	pt, err := t.opts.Geocoder.Geocode(ctx, place.Address)
	if err != nil {
		return types.LatLng{}, err
	}
	t.mu.Lock()
	t.geocoded[place.Address] = pt
	t.mu.Unlock()
	return pt, nil
}

func (t *Tracker) rideIDSnapshot() types.ID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rideID
}
