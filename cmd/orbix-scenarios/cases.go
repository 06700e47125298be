// README: Scenario cases: rider and captain lifecycles, no-match timeout, dedup, replay, plus optional Redis/Postgres checks.
package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"orbix/internal/apperrors"
	"orbix/internal/infra"
	"orbix/internal/modules/events"
	"orbix/internal/modules/journal"
	"orbix/internal/modules/navigator"
	"orbix/internal/modules/ride"
	"orbix/internal/modules/session"
	"orbix/internal/modules/tracker"
	"orbix/internal/payment"
	"orbix/internal/realtime"
	"orbix/internal/service"
	"orbix/internal/types"
)

const (
	statusPass = "PASS"
	statusFail = "FAIL"
	statusSkip = "SKIP"

	scenarioOTP = "483920"
)

type Runner struct {
	cfg   Config
	log   *zap.Logger
	db    *pgxpool.Pool
	redis *redis.Client
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type Case struct {
	Name string
	Run  func(ctx context.Context, r *Runner) error
}

// errSkip marks a check whose infrastructure is not configured.
var errSkip = errors.New("not configured")

func NewRunner(cfg Config, logger *zap.Logger) *Runner {
	return &Runner{cfg: cfg, log: logger}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := infra.NewDB(ctx, r.cfg.DSN); err == nil {
			r.db = db
		} else {
			r.log.Warn("postgres unavailable", zap.Error(err))
		}
	}
	if r.cfg.RedisAddr != "" {
		if rdb, err := infra.NewRedis(ctx, r.cfg.RedisAddr); err == nil {
			r.redis = rdb
		} else {
			r.log.Warn("redis unavailable", zap.Error(err))
		}
	}

	cases := r.cases()
	results := make([]Result, 0, len(cases))
	for _, tc := range cases {
		start := time.Now()
		err := tc.Run(ctx, r)
		res := Result{Name: tc.Name, Status: statusPass, Latency: time.Since(start)}
		switch {
		case errors.Is(err, errSkip):
			res.Status, res.Note = statusSkip, err.Error()
		case err != nil:
			res.Status, res.Note = statusFail, err.Error()
		}
		results = append(results, res)

		fmt.Printf("%-5s %s (%s)", res.Status, res.Name, res.Latency.Round(time.Microsecond))
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) cases() []Case {
	return []Case{
		{Name: "A: rider request then captain accepts", Run: scenarioRiderMatched},
		{Name: "B: wrong OTP keeps captain matched", Run: scenarioWrongOTP},
		{Name: "C: correct OTP starts the ride", Run: scenarioOTPStarts},
		{Name: "D: no captain before timeout", Run: scenarioNoMatch},
		{Name: "E: completed ride allows a new request", Run: scenarioCompleted},
		{Name: "Duplicate events mutate once", Run: scenarioDedup},
		{Name: "Replay in the same phase is a no-op", Run: scenarioReplay},
		{Name: "Out-of-order event leaves phase unchanged", Run: scenarioOutOfOrder},
		{Name: "Env: Redis session cache round trip", Run: checkRedisCache},
		{Name: "Env: Postgres ride journal", Run: checkJournal},
	}
}

type harness struct {
	client  *service.RideClient
	store   *ride.Store
	bus     *realtime.Loopback
	backend *scriptedBackend
}

func (r *Runner) newHarness(ctx context.Context, role types.Role, matchTimeout time.Duration) (harness, func(), error) {
	id := types.ID("u1")
	if role == types.RoleCaptain {
		id = "c1"
	}
	store := ride.NewStore(ride.Options{Role: role, IdentityID: id, Logger: r.log})
	bus := realtime.NewLoopback(realtime.Identity{ID: id, Role: role})
	backend := newScriptedBackend(scenarioOTP)
	if matchTimeout <= 0 {
		matchTimeout = time.Minute
	}
	client, err := service.NewRideClient(service.Deps{
		Store:    store,
		Realtime: bus,
		Backend:  backend,
		Geo:      tracker.NewSimulatedGeolocator(time.Hour, 0, types.LatLng{Lat: 12.97, Lng: 77.59}),
		Routes:   tracker.StraightLine{},
		Logger:   r.log,
	}, service.Options{MatchTimeout: matchTimeout, DedupWindow: 2 * time.Second})
	if err != nil {
		return harness{}, nil, err
	}
	if err := client.Start(ctx); err != nil {
		return harness{}, nil, err
	}
	return harness{client: client, store: store, bus: bus, backend: backend}, client.Close, nil
}

var tripAB = service.RideRequest{
	Pickup:      ride.Place{Address: "MG Road"},
	Destination: ride.Place{Address: "Indiranagar"},
	VehicleType: "car",
}

func acceptedPayload(rideID types.ID) map[string]any {
	return map[string]any{
		"rideId": string(rideID),
		"otp":    scenarioOTP,
		"captain": map[string]any{
			"_id":      "c1",
			"fullname": map[string]any{"firstname": "Ravi", "lastname": "Kumar"},
			"vehicle":  map[string]any{"plate": "KA01AB1234", "color": "white", "vehicleType": "car"},
		},
	}
}

func expectPhase(h harness, want ride.Phase) error {
	if got := h.store.Phase(); got != want {
		return fmt.Errorf("phase = %s, want %s", got, want)
	}
	return nil
}

func expectScreen(h harness, want navigator.ScreenID) error {
	if got := h.client.Screen(); got != want {
		return fmt.Errorf("screen = %s, want %s", got, want)
	}
	return nil
}

// riderMatched requests a ride and delivers the captain's acceptance.
func riderMatched(ctx context.Context, h harness) (types.ID, error) {
	s, err := h.client.RequestRide(ctx, tripAB)
	if err != nil {
		return "", err
	}
	if err := h.bus.Inject(events.RideAccepted, acceptedPayload(s.RideID)); err != nil {
		return "", err
	}
	return s.RideID, expectPhase(h, ride.PhaseMatched)
}

// captainMatched surfaces an offer and accepts it.
func captainMatched(ctx context.Context, h harness) error {
	err := h.bus.Inject(events.RideRequest, map[string]any{
		"_id": "r9", "pickup": "MG Road", "destination": "Indiranagar", "vehicleType": "car", "fare": 200,
		"user": map[string]any{"_id": "u1", "fullname": "Asha"},
	})
	if err != nil {
		return err
	}
	if n := len(h.client.Offers()); n != 1 {
		return fmt.Errorf("offers = %d, want 1", n)
	}
	if _, err := h.client.AcceptOffer(ctx, "r9"); err != nil {
		return err
	}
	return expectPhase(h, ride.PhaseMatched)
}

func scenarioRiderMatched(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, 0)
	if err != nil {
		return err
	}
	defer done()

	if _, err := riderMatched(ctx, h); err != nil {
		return err
	}
	s := h.client.Session()
	if s.OTP != scenarioOTP {
		return fmt.Errorf("otp = %q, want %q", s.OTP, scenarioOTP)
	}
	if s.Counterpart == nil || s.Counterpart.Name != "Ravi Kumar" {
		return fmt.Errorf("counterpart = %+v", s.Counterpart)
	}
	return expectScreen(h, navigator.ScreenWaitingForDriver)
}

func scenarioWrongOTP(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleCaptain, 0)
	if err != nil {
		return err
	}
	defer done()

	if err := captainMatched(ctx, h); err != nil {
		return err
	}
	if _, err := h.client.SubmitOTP(ctx, "12a456"); apperrors.KindOf(err) != apperrors.KindInvalidOTP {
		return fmt.Errorf("malformed otp: err = %v", err)
	}
	if n := h.backend.count("verify"); n != 0 {
		return fmt.Errorf("malformed otp reached the backend %d times", n)
	}
	if _, err := h.client.SubmitOTP(ctx, "000000"); !errors.Is(err, apperrors.InvalidOTP) {
		return fmt.Errorf("wrong otp: err = %v", err)
	}
	return expectPhase(h, ride.PhaseMatched)
}

func scenarioOTPStarts(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleCaptain, 0)
	if err != nil {
		return err
	}
	defer done()

	if err := captainMatched(ctx, h); err != nil {
		return err
	}
	if _, err := h.client.SubmitOTP(ctx, scenarioOTP); err != nil {
		return err
	}
	if err := h.bus.Inject(events.RideStarted, map[string]any{"rideId": "r9"}); err != nil {
		return err
	}
	if err := expectPhase(h, ride.PhaseStarted); err != nil {
		return err
	}
	return expectScreen(h, navigator.ScreenCaptainRiding)
}

func scenarioNoMatch(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, r.cfg.MatchWindow)
	if err != nil {
		return err
	}
	defer done()

	if _, err := h.client.RequestRide(ctx, tripAB); err != nil {
		return err
	}
	deadline := time.Now().Add(r.cfg.MatchWindow + 2*time.Second)
	for h.backend.count("cancel") == 0 {
		if time.Now().After(deadline) {
			return errors.New("no-match timeout never fired")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	last, ok := h.client.LastFinished()
	if !ok || last.Phase != ride.PhaseCancelled {
		return fmt.Errorf("last finished = %+v", last)
	}
	for _, n := range h.client.Notices() {
		if n.Kind == apperrors.KindNoMatchFound {
			return expectPhase(h, ride.PhaseIdle)
		}
	}
	return errors.New("no-match notice missing")
}

func scenarioCompleted(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, 0)
	if err != nil {
		return err
	}
	defer done()

	rideID, err := riderMatched(ctx, h)
	if err != nil {
		return err
	}
	steps := []struct {
		event   string
		payload map[string]any
	}{
		{events.RideStarted, map[string]any{"rideId": string(rideID)}},
		{events.RideEnded, map[string]any{"rideId": string(rideID), "fare": map[string]any{"base": 200, "additionalFees": map[string]any{"waiting": 15}}}},
	}
	for _, st := range steps {
		if err := h.bus.Inject(st.event, st.payload); err != nil {
			return err
		}
	}
	if got := h.client.Session().DisplayFare().Amount; got != 21500 {
		return fmt.Errorf("display fare = %d, want 21500", got)
	}
	if _, err := h.client.Pay(ctx, service.PayRequest{Method: payment.MethodCash}); err != nil {
		return err
	}
	if err := expectPhase(h, ride.PhaseIdle); err != nil {
		return err
	}
	if err := expectScreen(h, navigator.ScreenRating); err != nil {
		return err
	}
	if err := h.client.Rate(ctx, 5, "smooth ride"); err != nil {
		return err
	}
	next, err := h.client.RequestRide(ctx, tripAB)
	if err != nil {
		return fmt.Errorf("new request after completion: %w", err)
	}
	if next.RideID == rideID {
		return fmt.Errorf("new request reused ride id %s", rideID)
	}
	return nil
}

// phaseCounter counts phase changes delivered to observers.
type phaseCounter struct {
	mu sync.Mutex
	n  int
}

func (c *phaseCounter) observe(ch ride.Change) {
	if ch.Kind != ride.ChangePhase {
		return
	}
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *phaseCounter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func scenarioDedup(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, 0)
	if err != nil {
		return err
	}
	defer done()

	s, err := h.client.RequestRide(ctx, tripAB)
	if err != nil {
		return err
	}
	counter := &phaseCounter{}
	unsub := h.store.Subscribe(counter.observe)
	defer unsub()

	for i := 0; i < 3; i++ {
		if err := h.bus.Inject(events.RideAccepted, acceptedPayload(s.RideID)); err != nil {
			return err
		}
	}
	if n := counter.count(); n != 1 {
		return fmt.Errorf("phase changes = %d, want 1", n)
	}
	return expectPhase(h, ride.PhaseMatched)
}

func scenarioReplay(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, 0)
	if err != nil {
		return err
	}
	defer done()

	rideID, err := riderMatched(ctx, h)
	if err != nil {
		return err
	}
	if err := h.store.Transition(ride.Event{Kind: ride.EventRideStarted, RideID: rideID}); err != nil {
		return err
	}
	counter := &phaseCounter{}
	unsub := h.store.Subscribe(counter.observe)
	defer unsub()
	if err := h.store.Transition(ride.Event{Kind: ride.EventRideStarted, RideID: rideID}); err != nil {
		return fmt.Errorf("replay returned %w", err)
	}
	if n := counter.count(); n != 0 {
		return fmt.Errorf("replay produced %d phase changes", n)
	}
	return expectPhase(h, ride.PhaseStarted)
}

func scenarioOutOfOrder(ctx context.Context, r *Runner) error {
	h, done, err := r.newHarness(ctx, types.RoleRider, 0)
	if err != nil {
		return err
	}
	defer done()

	s, err := h.client.RequestRide(ctx, tripAB)
	if err != nil {
		return err
	}
	err = h.store.Transition(ride.Event{Kind: ride.EventRideEnded, RideID: s.RideID})
	if !errors.Is(err, ride.ErrInvalidTransition) {
		return fmt.Errorf("err = %v, want invalid transition", err)
	}
	return expectPhase(h, ride.PhaseRequested)
}

func checkRedisCache(ctx context.Context, r *Runner) error {
	if r.redis == nil {
		return errSkip
	}
	id := types.ID(fmt.Sprintf("scenario-%d", time.Now().UnixNano()))
	cache := session.NewRedisCache(r.redis, id, time.Minute)
	want := ride.Session{RideID: "r-cache", Role: types.RoleRider, Phase: ride.PhaseMatched, OTP: scenarioOTP}
	if err := cache.Save(ctx, want); err != nil {
		return err
	}
	defer func() { _ = cache.Delete(ctx, id, types.RoleRider) }()

	got, err := cache.Load(ctx, id, types.RoleRider)
	if err != nil {
		return err
	}
	if got.RideID != want.RideID || got.Phase != want.Phase || got.OTP != want.OTP {
		return fmt.Errorf("loaded %+v, want %+v", got, want)
	}
	return nil
}

func checkJournal(ctx context.Context, r *Runner) error {
	if r.db == nil {
		return errSkip
	}
	store := journal.NewStore(r.db)
	rideID := types.ID(fmt.Sprintf("scenario-%d", time.Now().UnixNano()))
	entry := &journal.Entry{RideID: rideID, Role: types.RoleRider, IdentityID: "u1", From: ride.PhaseIdle, To: ride.PhaseRequested, Event: ride.EventRequestSubmitted}
	if err := store.AppendTransition(ctx, entry); err != nil {
		return fmt.Errorf("append (is migrations/0001_ride_transitions.sql applied?): %w", err)
	}
	entries, err := store.ListByRide(ctx, rideID)
	if err != nil {
		return err
	}
	if len(entries) != 1 || entries[0].To != ride.PhaseRequested {
		return fmt.Errorf("entries = %+v", entries)
	}
	return nil
}
