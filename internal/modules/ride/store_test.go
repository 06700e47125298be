// README: Store tests: lifecycle flows, invalid pairs, replay, observers, offers and concurrency (run with -race).
package ride

import (
	"errors"
	"sync"
	"testing"
	"time"

	"orbix/internal/modules/pricing"
	"orbix/internal/types"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, role types.Role) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	return NewStore(Options{Role: role, IdentityID: "me", OfferTTL: 30 * time.Second, Now: clock.Now}), clock
}

func requestEvent(id types.ID) Event {
	fare := pricing.NewFare(types.Money{Amount: 18000, Currency: "INR"})
	return Event{
		Kind:        EventRequestSubmitted,
		RideID:      id,
		Pickup:      Place{Address: "A"},
		Destination: Place{Address: "B"},
		VehicleType: "car",
		Fare:        &fare,
	}
}

func matchedEvent(id types.ID) Event {
	return Event{
		Kind:   EventMatched,
		RideID: id,
		OTP:    "483920",
		Counterpart: &Counterpart{
			Name:    "Ravi Kumar",
			Vehicle: &Vehicle{Plate: "KA01AB1234", Color: "white", Type: "car", Capacity: 4},
			Rating:  4.8,
		},
	}
}

func mustTransition(t *testing.T, s *Store, ev Event) {
	t.Helper()
	if err := s.Transition(ev); err != nil {
		t.Fatalf("transition %s from %s: %v", ev.Kind, s.Phase(), err)
	}
}

func assertPhase(t *testing.T, s *Store, want Phase) {
	t.Helper()
	if got := s.Phase(); got != want {
		t.Fatalf("phase = %s, want %s", got, want)
	}
}

// Request then match populates the counterpart and otp.
func TestRiderRequestThenMatch(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)

	mustTransition(t, s, requestEvent("r1"))
	assertPhase(t, s, PhaseRequested)

	mustTransition(t, s, matchedEvent("r1"))
	assertPhase(t, s, PhaseMatched)

	cur := s.Current()
	if cur.OTP != "483920" {
		t.Fatalf("otp = %q", cur.OTP)
	}
	if cur.Counterpart == nil || cur.Counterpart.Name != "Ravi Kumar" {
		t.Fatalf("counterpart = %+v", cur.Counterpart)
	}
	if cur.VehicleType != "car" || cur.Pickup.Address != "A" || cur.Destination.Address != "B" {
		t.Fatalf("request fields lost: %+v", cur)
	}
}

func TestRiderFullFlow(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	final := pricing.NewFare(types.Money{Amount: 18000, Currency: "INR"}).
		WithFee(pricing.FeeWaiting, types.Money{Amount: 2000, Currency: "INR"})

	steps := []struct {
		ev   Event
		want Phase
	}{
		{requestEvent("r1"), PhaseRequested},
		{matchedEvent("r1"), PhaseMatched},
		{Event{Kind: EventRideStarted, RideID: "r1"}, PhaseStarted},
		{Event{Kind: EventWaitingStarted, RideID: "r1"}, PhaseCaptainWaiting},
		{Event{Kind: EventWaitingEnded, RideID: "r1"}, PhaseStarted},
		{Event{Kind: EventRideEnded, RideID: "r1", Fare: &final}, PhaseFinishing},
	}
	for _, st := range steps {
		mustTransition(t, s, st.ev)
		assertPhase(t, s, st.want)
	}
	if got := s.Current().DisplayFare().Amount; got != 20000 {
		t.Fatalf("display fare = %d, want 20000", got)
	}

	mustTransition(t, s, Event{Kind: EventPaymentSettled, RideID: "r1"})
	assertPhase(t, s, PhaseIdle)

	last, ok := s.LastFinished()
	if !ok || last.Phase != PhaseCompleted || !last.Fare.Finalized {
		t.Fatalf("last finished = %+v ok=%v", last, ok)
	}
}

// Captain: offer acceptance, otp submission, rejection, retry, start.
func TestCaptainOTPFlow(t *testing.T) {
	s, _ := newTestStore(t, types.RoleCaptain)

	mustTransition(t, s, Event{Kind: EventOfferAccepted, RideID: "r9", Pickup: Place{Address: "A"}, Destination: Place{Address: "B"}, VehicleType: "Sedan"})
	assertPhase(t, s, PhaseRequested)
	if got := s.Current().VehicleType; got != "car" {
		t.Fatalf("vehicle = %q, want car", got)
	}
	mustTransition(t, s, Event{Kind: EventMatched, RideID: "r9"})
	assertPhase(t, s, PhaseMatched)

	mustTransition(t, s, Event{Kind: EventOTPSubmitted, RideID: "r9", OTP: "000000"})
	assertPhase(t, s, PhaseOTPPending)
	if got := s.Current().PendingOTP; got != "000000" {
		t.Fatalf("pending otp = %q", got)
	}

	mustTransition(t, s, Event{Kind: EventOTPInvalid, RideID: "r9"})
	assertPhase(t, s, PhaseMatched)
	if got := s.Current().PendingOTP; got != "" {
		t.Fatalf("pending otp not cleared: %q", got)
	}

	mustTransition(t, s, Event{Kind: EventOTPSubmitted, RideID: "r9", OTP: "483920"})
	mustTransition(t, s, Event{Kind: EventRideStarted, RideID: "r9"})
	assertPhase(t, s, PhaseStarted)
	if got := s.Current().OTP; got != "483920" {
		t.Fatalf("verified otp = %q", got)
	}
}

func TestMalformedOTPRejectedWithoutPhaseChange(t *testing.T) {
	s, _ := newTestStore(t, types.RoleCaptain)
	mustTransition(t, s, Event{Kind: EventOfferAccepted, RideID: "r1"})
	mustTransition(t, s, Event{Kind: EventMatched, RideID: "r1"})

	for _, otp := range []string{"", "12345", "abcdef", "1234567"} {
		err := s.Transition(Event{Kind: EventOTPSubmitted, RideID: "r1", OTP: otp})
		if !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("otp %q: err = %v, want ErrInvalidTransition", otp, err)
		}
		assertPhase(t, s, PhaseMatched)
	}
}

func TestInvalidPairsLeavePhaseUnchanged(t *testing.T) {
	cases := []struct {
		name  string
		role  types.Role
		setup []Event
		ev    Event
	}{
		{"start from idle", types.RoleRider, nil, Event{Kind: EventRideStarted}},
		{"cancel from idle", types.RoleRider, nil, Event{Kind: EventCancel}},
		{"settle before end", types.RoleRider, []Event{requestEvent("r1"), matchedEvent("r1")}, Event{Kind: EventPaymentSettled, RideID: "r1"}},
		{"end before start", types.RoleRider, []Event{requestEvent("r1"), matchedEvent("r1")}, Event{Kind: EventRideEnded, RideID: "r1"}},
		{"rider submits otp", types.RoleRider, []Event{requestEvent("r1"), matchedEvent("r1")}, Event{Kind: EventOTPSubmitted, RideID: "r1", OTP: "123456"}},
		{"captain submits request", types.RoleCaptain, nil, requestEvent("r1")},
		{"rider accepts offer", types.RoleRider, nil, Event{Kind: EventOfferAccepted, RideID: "r1"}},
		{"captain starts without otp", types.RoleCaptain, []Event{{Kind: EventOfferAccepted, RideID: "r1"}, {Kind: EventMatched, RideID: "r1"}}, Event{Kind: EventRideStarted, RideID: "r1"}},
		{"request missing vehicle", types.RoleRider, nil, Event{Kind: EventRequestSubmitted, RideID: "r1", Pickup: Place{Address: "A"}, Destination: Place{Address: "B"}}},
		{"match without otp", types.RoleRider, []Event{requestEvent("r1")}, Event{Kind: EventMatched, RideID: "r1", Counterpart: &Counterpart{Name: "x"}}},
		{"second request while active", types.RoleRider, []Event{requestEvent("r1")}, requestEvent("r2")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(t, tc.role)
			for _, ev := range tc.setup {
				mustTransition(t, s, ev)
			}
			before := s.Phase()
			err := s.Transition(tc.ev)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !errors.Is(err, ErrInvalidTransition) && !errors.Is(err, ErrRideMismatch) {
				t.Fatalf("err = %v", err)
			}
			assertPhase(t, s, before)
		})
	}
}

func TestReplayIsNoop(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	var changes int
	s.Subscribe(func(Change) { changes++ })

	mustTransition(t, s, requestEvent("r1"))
	mustTransition(t, s, matchedEvent("r1"))
	mustTransition(t, s, matchedEvent("r1"))
	mustTransition(t, s, Event{Kind: EventRideStarted, RideID: "r1"})
	mustTransition(t, s, Event{Kind: EventRideStarted, RideID: "r1"})

	assertPhase(t, s, PhaseStarted)
	if changes != 3 {
		t.Fatalf("changes = %d, want 3", changes)
	}
}

func TestOTPIsWriteOnce(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	mustTransition(t, s, requestEvent("r1"))
	mustTransition(t, s, matchedEvent("r1"))
	ev := matchedEvent("r1")
	ev.OTP = "111111"
	mustTransition(t, s, ev)
	if got := s.Current().OTP; got != "483920" {
		t.Fatalf("otp overwritten: %q", got)
	}
}

func TestEventForAnotherRideIsDropped(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	mustTransition(t, s, requestEvent("r1"))
	err := s.Transition(matchedEvent("other"))
	if !errors.Is(err, ErrRideMismatch) {
		t.Fatalf("err = %v", err)
	}
	assertPhase(t, s, PhaseRequested)
}

func TestNoMatchCancels(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	var last Change
	s.Subscribe(func(c Change) { last = c })

	mustTransition(t, s, requestEvent("r1"))
	mustTransition(t, s, Event{Kind: EventNoMatch, RideID: "r1"})

	if last.To != PhaseCancelled || last.Session.Reason == "" {
		t.Fatalf("last change = %+v", last)
	}
	assertPhase(t, s, PhaseIdle)
}

// After completion the session reads idle and a new ride can be requested at once.
func TestCompletedSessionIsCleared(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	for _, ev := range []Event{
		requestEvent("r1"),
		matchedEvent("r1"),
		{Kind: EventRideStarted, RideID: "r1"},
		{Kind: EventRideEnded, RideID: "r1"},
		{Kind: EventPaymentSettled, RideID: "r1"},
	} {
		mustTransition(t, s, ev)
	}

	cur := s.Current()
	if cur.Phase != PhaseIdle || cur.RideID != "" || cur.OTP != "" || cur.Counterpart != nil {
		t.Fatalf("session not cleared: %+v", cur)
	}
	if s.Active() {
		t.Fatalf("store still active")
	}
	mustTransition(t, s, requestEvent("r2"))
	assertPhase(t, s, PhaseRequested)
}

func TestFailurePersistsUntilReset(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	mustTransition(t, s, requestEvent("r1"))
	mustTransition(t, s, Event{Kind: EventFailure, RideID: "r1", Reason: "backend 500"})
	assertPhase(t, s, PhaseError)

	if err := s.Transition(requestEvent("r1")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("request from error: %v", err)
	}
	s.Reset()
	assertPhase(t, s, PhaseIdle)
	mustTransition(t, s, requestEvent("r2"))
}

func TestObserversSeeChangesInOrder(t *testing.T) {
	s, _ := newTestStore(t, types.RoleCaptain)
	var got []Phase
	unsub := s.Subscribe(func(c Change) {
		if c.Kind == ChangePhase {
			got = append(got, c.To)
		}
	})

	mustTransition(t, s, Event{Kind: EventOfferAccepted, RideID: "r1"})
	mustTransition(t, s, Event{Kind: EventMatched, RideID: "r1"})
	mustTransition(t, s, Event{Kind: EventOTPSubmitted, RideID: "r1", OTP: "123456"})
	unsub()
	unsub()
	mustTransition(t, s, Event{Kind: EventRideStarted, RideID: "r1"})

	want := []Phase{PhaseRequested, PhaseMatched, PhaseOTPPending}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

// An observer may transition the store; the nested change is delivered after the current one.
func TestObserverMayTransition(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	var seen []Phase
	s.Subscribe(func(c Change) {
		seen = append(seen, c.To)
		if c.To == PhaseRequested {
			_ = s.Transition(Event{Kind: EventNoMatch, RideID: "r1"})
		}
	})
	mustTransition(t, s, requestEvent("r1"))
	if len(seen) != 2 || seen[0] != PhaseRequested || seen[1] != PhaseCancelled {
		t.Fatalf("seen = %v", seen)
	}
}

func TestLocationSlots(t *testing.T) {
	s, _ := newTestStore(t, types.RoleCaptain)
	if err := s.UpdateCounterpartLocation("r1", types.LatLng{Lat: 1, Lng: 1}); !errors.Is(err, ErrNoActiveRide) {
		t.Fatalf("idle counterpart update: %v", err)
	}
	mustTransition(t, s, Event{Kind: EventOfferAccepted, RideID: "r1"})

	s.UpdateOwnLocation(types.LatLng{Lat: 12.97, Lng: 77.59})
	if err := s.UpdateCounterpartLocation("r1", types.LatLng{Lat: 12.93, Lng: 77.62}); err != nil {
		t.Fatalf("counterpart update: %v", err)
	}
	if err := s.UpdateCounterpartLocation("zzz", types.LatLng{}); !errors.Is(err, ErrRideMismatch) {
		t.Fatalf("mismatch: %v", err)
	}

	loc := s.Current().Locations
	if loc.Captain == nil || loc.Captain.Lat != 12.97 {
		t.Fatalf("own slot = %+v", loc.Captain)
	}
	if loc.Rider == nil || loc.Rider.Lat != 12.93 {
		t.Fatalf("counterpart slot = %+v", loc.Rider)
	}
}

func TestSetRouteAndFare(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	if err := s.SetRoute("", &Route{Available: true}); !errors.Is(err, ErrNoActiveRide) {
		t.Fatalf("route while idle: %v", err)
	}
	mustTransition(t, s, requestEvent("r1"))

	if err := s.SetRoute("r1", nil); err != nil {
		t.Fatalf("set nil route: %v", err)
	}
	if r := s.Current().Route; r == nil || r.Available {
		t.Fatalf("route = %+v, want unavailable", r)
	}
	if err := s.SetRoute("r1", &Route{Coordinates: [][2]float64{{77.5, 12.9}}, DistanceKm: 4.2, ETAMinutes: 11, Available: true}); err != nil {
		t.Fatal(err)
	}
	if r := s.Current().Route; r == nil || !r.Available || r.DistanceKm != 4.2 {
		t.Fatalf("route = %+v", r)
	}

	f := pricing.NewFare(types.Money{Amount: 100, Currency: "INR"}).WithFee(pricing.FeeLateNight, types.Money{Amount: 50, Currency: "INR"})
	if err := s.SetFare("r1", f); err != nil {
		t.Fatal(err)
	}
	if got := s.Current().DisplayFare().Amount; got != 150 {
		t.Fatalf("fare = %d", got)
	}
}

func TestCurrentIsACopy(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	mustTransition(t, s, requestEvent("r1"))
	mustTransition(t, s, matchedEvent("r1"))

	cur := s.Current()
	cur.Counterpart.Name = "mutated"
	cur.Fare.AdditionalFees = map[string]types.Money{"x": {Amount: 1}}
	if s.Current().Counterpart.Name != "Ravi Kumar" || len(s.Current().Fare.AdditionalFees) != 0 {
		t.Fatalf("store state leaked through Current")
	}
}

func TestRestore(t *testing.T) {
	s, _ := newTestStore(t, types.RoleRider)
	var restored Change
	s.Subscribe(func(c Change) { restored = c })

	saved := Session{RideID: "r7", Role: types.RoleRider, Phase: PhaseStarted, OTP: "483920"}
	if err := s.Restore(saved); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Kind != ChangeRestore || restored.To != PhaseStarted {
		t.Fatalf("change = %+v", restored)
	}
	if err := s.Restore(saved); !errors.Is(err, ErrActiveRide) {
		t.Fatalf("second restore: %v", err)
	}

	other, _ := newTestStore(t, types.RoleCaptain)
	if err := other.Restore(saved); err == nil {
		t.Fatalf("restore with wrong role should fail")
	}
}

func TestOffers(t *testing.T) {
	s, clock := newTestStore(t, types.RoleCaptain)
	if !s.SurfaceOffer(Offer{RideID: "o1", VehicleType: "scooter"}) {
		t.Fatalf("offer rejected")
	}
	clock.Advance(10 * time.Second)
	s.SurfaceOffer(Offer{RideID: "o2"})

	offers := s.Offers()
	if len(offers) != 2 || offers[0].RideID != "o1" || offers[0].VehicleType != "moto" {
		t.Fatalf("offers = %+v", offers)
	}

	clock.Advance(25 * time.Second)
	if got := s.Offers(); len(got) != 1 || got[0].RideID != "o2" {
		t.Fatalf("expired offer kept: %+v", got)
	}
	if _, err := s.TakeOffer("o1"); !errors.Is(err, ErrOfferNotFound) {
		t.Fatalf("take expired: %v", err)
	}
	o, err := s.TakeOffer("o2")
	if err != nil || o.RideID != "o2" {
		t.Fatalf("take: %+v %v", o, err)
	}

	rider, _ := newTestStore(t, types.RoleRider)
	if rider.SurfaceOffer(Offer{RideID: "o3"}) {
		t.Fatalf("rider must not receive offers")
	}
}

// Concurrent cancel vs start: exactly one outcome wins and the store stays consistent.
func TestConcurrentStartVsCancel(t *testing.T) {
	for i := 0; i < 50; i++ {
		s, _ := newTestStore(t, types.RoleRider)
		mustTransition(t, s, requestEvent("r1"))
		mustTransition(t, s, matchedEvent("r1"))

		var wg sync.WaitGroup
		errs := make(chan error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.Transition(Event{Kind: EventRideStarted, RideID: "r1"})
		}()
		go func() {
			defer wg.Done()
			errs <- s.Transition(Event{Kind: EventCancel, RideID: "r1"})
		}()
		wg.Wait()
		close(errs)

		for err := range errs {
			if err != nil && !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if p := s.Phase(); p != PhaseIdle && p != PhaseStarted {
			t.Fatalf("phase = %s", p)
		}
	}
}
