// README: Ride state store: the single owner of the session. Phase changes go through Transition only.
package ride

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"orbix/internal/modules/matching"
	"orbix/internal/modules/pricing"
	"orbix/internal/types"
)

type Options struct {
	Role       types.Role
	IdentityID types.ID
	OfferTTL   time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

type observer struct {
	id int
	fn func(Change)
}

// Store holds one ride session per identity. All methods are safe for concurrent use.
// Changes are queued under the lock and delivered outside it, one at a time and in commit
// order, so observers may call back into the store.
type Store struct {
	role       types.Role
	identityID types.ID
	offerTTL   time.Duration
	log        *zap.Logger
	now        func() time.Time

	mu         sync.Mutex
	session    Session
	finished   *Session
	offers     map[types.ID]Offer
	observers  []observer
	nextObs    int
	pending    []Change
	delivering bool
}

func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.OfferTTL <= 0 {
		opts.OfferTTL = 30 * time.Second
	}
	return &Store{
		role:       opts.Role,
		identityID: opts.IdentityID,
		offerTTL:   opts.OfferTTL,
		log:        opts.Logger.With(zap.String("role", string(opts.Role))),
		now:        opts.Now,
		session:    Session{Role: opts.Role, Phase: PhaseIdle},
		offers:     make(map[types.ID]Offer),
	}
}

func (s *Store) Role() types.Role { return s.role }

func (s *Store) IdentityID() types.ID { return s.identityID }

// Current returns a copy of the session.
func (s *Store) Current() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

func (s *Store) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Phase
}

// Active reports whether a non-terminal ride exists.
func (s *Store) Active() bool {
	return s.Phase().Active()
}

// LastFinished returns the snapshot of the most recent completed or cancelled ride.
func (s *Store) LastFinished() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished == nil {
		return Session{}, false
	}
	return s.finished.Clone(), true
}

// Subscribe registers fn for every change. The returned func unsubscribes and is idempotent.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.mu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers = append(s.observers, observer{id: id, fn: fn})
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, o := range s.observers {
				if o.id == id {
					s.observers = append(s.observers[:i:i], s.observers[i+1:]...)
					return
				}
			}
		})
	}
}

// Transition applies ev to the session. It is the only phase mutator.
func (s *Store) Transition(ev Event) error {
	s.mu.Lock()
	err := s.transitionLocked(ev)
	s.mu.Unlock()
	s.flush()
	return err
}

func (s *Store) transitionLocked(ev Event) error {
	cur := &s.session
	if ev.RideID != "" && cur.RideID != "" && ev.RideID != cur.RideID {
		s.log.Debug("dropping event for another ride",
			zap.String("event", string(ev.Kind)),
			zap.String("ride_id", string(ev.RideID)),
			zap.String("active_ride_id", string(cur.RideID)))
		return fmt.Errorf("%w: %s", ErrRideMismatch, ev.RideID)
	}
	if isReplay(cur, ev) {
		s.log.Debug("replayed event ignored",
			zap.String("event", string(ev.Kind)),
			zap.String("phase", string(cur.Phase)))
		return nil
	}
	to, reason, ok := resolve(cur, ev)
	if !ok {
		err := &InvalidTransitionError{From: cur.Phase, Event: ev.Kind, Role: s.role, Reason: reason}
		s.log.Warn("invalid transition",
			zap.String("ride_id", string(cur.RideID)),
			zap.String("phase", string(cur.Phase)),
			zap.String("event", string(ev.Kind)),
			zap.String("reason", reason))
		return err
	}

	from := cur.Phase
	now := s.now()
	s.applyLocked(ev, to, now)
	cur.Phase = to
	cur.LastEvent = ev.Kind
	cur.UpdatedAt = now

	s.log.Info("ride transition",
		zap.String("ride_id", string(cur.RideID)),
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("event", string(ev.Kind)))

	s.pending = append(s.pending, Change{
		Kind:    ChangePhase,
		From:    from,
		To:      to,
		Event:   ev.Kind,
		Session: cur.Clone(),
		At:      now,
	})

	if to == PhaseCompleted || to == PhaseCancelled {
		snap := cur.Clone()
		s.finished = &snap
		s.session = Session{Role: s.role, Phase: PhaseIdle, UpdatedAt: now}
	}
	return nil
}

// applyLocked performs the per-phase side effects of ev.
func (s *Store) applyLocked(ev Event, to Phase, now time.Time) {
	cur := &s.session
	switch ev.Kind {
	case EventRequestSubmitted, EventOfferAccepted:
		*cur = Session{
			Role:        s.role,
			RideID:      ev.RideID,
			Pickup:      clonePlace(ev.Pickup),
			Destination: clonePlace(ev.Destination),
			VehicleType: normalizedVehicle(ev.VehicleType),
			Counterpart: cloneCounterpart(ev.Counterpart),
			RequestedAt: &now,
		}
		if ev.Fare != nil {
			cur.Fare = ev.Fare.Clone()
		}
	case EventMatched:
		if cur.RideID == "" {
			cur.RideID = ev.RideID
		}
		if ev.Counterpart != nil {
			cur.Counterpart = cloneCounterpart(ev.Counterpart)
		}
		if cur.OTP == "" && ValidateOTP(ev.OTP) == nil {
			cur.OTP = ev.OTP
		}
		if ev.Fare != nil && !ev.Fare.IsZero() {
			cur.Fare = ev.Fare.Clone()
		}
		cur.MatchedAt = &now
	case EventOTPSubmitted:
		cur.PendingOTP = ev.OTP
	case EventOTPInvalid:
		cur.PendingOTP = ""
	case EventRideStarted:
		if cur.OTP == "" && cur.PendingOTP != "" {
			cur.OTP = cur.PendingOTP
		}
		cur.PendingOTP = ""
		cur.Waiting = false
		cur.StartedAt = &now
	case EventWaitingStarted:
		cur.Waiting = true
	case EventWaitingEnded:
		cur.Waiting = false
	case EventRideEnded:
		cur.Waiting = false
		if ev.Fare != nil {
			cur.Fare = ev.Fare.Clone()
		}
		cur.EndedAt = &now
	case EventPaymentSettled:
		if ev.Fare != nil {
			cur.Fare = ev.Fare.Clone()
		}
		cur.Fare.Finalized = true
	case EventNoMatch:
		cur.Reason = firstNonEmpty(ev.Reason, "no captains available")
	case EventCancel, EventFailure:
		cur.Reason = ev.Reason
		cur.Waiting = false
	}
	if to == PhaseCaptainWaiting {
		cur.Waiting = true
	}
}

// UpdateOwnLocation writes the local party's slot. Only the tracker calls this.
func (s *Store) UpdateOwnLocation(p types.LatLng) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pt := p
	*s.session.Locations.slot(s.role) = &pt
}

// UpdateCounterpartLocation writes the other party's slot from an inbound realtime event.
func (s *Store) UpdateCounterpartLocation(rideID types.ID, p types.LatLng) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.session.Phase.Active() {
		return ErrNoActiveRide
	}
	if rideID != "" && rideID != s.session.RideID {
		return fmt.Errorf("%w: %s", ErrRideMismatch, rideID)
	}
	pt := p
	*s.session.Locations.slot(s.role.Other()) = &pt
	return nil
}

// SetRoute stores derived route state. A nil route marks routing unavailable.
func (s *Store) SetRoute(rideID types.ID, r *Route) error {
	s.mu.Lock()
	if err := s.checkRideLocked(rideID); err != nil {
		s.mu.Unlock()
		return err
	}
	now := s.now()
	if r == nil {
		s.session.Route = &Route{Available: false, UpdatedAt: now}
	} else {
		c := *r
		c.Coordinates = append([][2]float64(nil), r.Coordinates...)
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = now
		}
		s.session.Route = &c
	}
	s.enqueueLocked(ChangeRoute, now)
	s.mu.Unlock()
	s.flush()
	return nil
}

// ClearRoute drops route and ETA without notifying observers.
func (s *Store) ClearRoute() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session.Route = nil
}

// SetFare replaces the fare with a backend-confirmed one.
func (s *Store) SetFare(rideID types.ID, f pricing.Fare) error {
	s.mu.Lock()
	if err := s.checkRideLocked(rideID); err != nil {
		s.mu.Unlock()
		return err
	}
	if s.session.Fare.Finalized {
		s.mu.Unlock()
		return nil
	}
	s.session.Fare = f.Clone()
	now := s.now()
	s.session.UpdatedAt = now
	s.enqueueLocked(ChangeFare, now)
	s.mu.Unlock()
	s.flush()
	return nil
}

// Restore loads a persisted session at boot. It only applies while the store is idle.
func (s *Store) Restore(sess Session) error {
	s.mu.Lock()
	if s.session.Phase != PhaseIdle {
		s.mu.Unlock()
		return ErrActiveRide
	}
	if sess.Role != s.role || !sess.Phase.Active() || sess.RideID == "" {
		s.mu.Unlock()
		return fmt.Errorf("restore: %w", ErrNoActiveRide)
	}
	s.session = sess.Clone()
	now := s.now()
	s.log.Info("ride session restored",
		zap.String("ride_id", string(sess.RideID)),
		zap.String("phase", string(sess.Phase)))
	s.pending = append(s.pending, Change{
		Kind:    ChangeRestore,
		From:    PhaseIdle,
		To:      sess.Phase,
		Session: s.session.Clone(),
		At:      now,
	})
	s.mu.Unlock()
	s.flush()
	return nil
}

// Reset clears the session to idle (logout, dismissing an error).
func (s *Store) Reset() {
	s.mu.Lock()
	from := s.session.Phase
	now := s.now()
	s.session = Session{Role: s.role, Phase: PhaseIdle, UpdatedAt: now}
	s.offers = make(map[types.ID]Offer)
	s.pending = append(s.pending, Change{
		Kind:    ChangeReset,
		From:    from,
		To:      PhaseIdle,
		Session: s.session.Clone(),
		At:      now,
	})
	s.mu.Unlock()
	s.flush()
}

// SurfaceOffer records an incoming request for an idle captain. It reports whether the
// offer was kept.
func (s *Store) SurfaceOffer(o Offer) bool {
	s.mu.Lock()
	if s.role != types.RoleCaptain || s.session.Phase != PhaseIdle || o.RideID == "" {
		s.mu.Unlock()
		return false
	}
	now := s.now()
	if o.ReceivedAt.IsZero() {
		o.ReceivedAt = now
	}
	o.VehicleType = normalizedVehicle(o.VehicleType)
	o.Fare = o.Fare.Clone()
	s.offers[o.RideID] = o
	s.pruneOffersLocked(now)
	s.enqueueLocked(ChangeOffer, now)
	s.mu.Unlock()
	s.flush()
	return true
}

// WithdrawOffer removes an offer taken by someone else.
func (s *Store) WithdrawOffer(rideID types.ID) {
	s.mu.Lock()
	_, ok := s.offers[rideID]
	delete(s.offers, rideID)
	if ok {
		s.enqueueLocked(ChangeOffer, s.now())
	}
	s.mu.Unlock()
	s.flush()
}

// Offers returns unexpired offers, oldest first.
func (s *Store) Offers() []Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneOffersLocked(s.now())
	out := make([]Offer, 0, len(s.offers))
	for _, o := range s.offers {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ReceivedAt.Equal(out[j].ReceivedAt) {
			return out[i].RideID < out[j].RideID
		}
		return out[i].ReceivedAt.Before(out[j].ReceivedAt)
	})
	return out
}

// TakeOffer removes and returns an unexpired offer.
func (s *Store) TakeOffer(rideID types.ID) (Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruneOffersLocked(s.now())
	o, ok := s.offers[rideID]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	delete(s.offers, rideID)
	return o, nil
}

func (s *Store) pruneOffersLocked(now time.Time) {
	for id, o := range s.offers {
		if now.Sub(o.ReceivedAt) > s.offerTTL {
			delete(s.offers, id)
		}
	}
}

func (s *Store) checkRideLocked(rideID types.ID) error {
	if !s.session.Phase.Active() {
		return ErrNoActiveRide
	}
	if rideID != "" && rideID != s.session.RideID {
		return fmt.Errorf("%w: %s", ErrRideMismatch, rideID)
	}
	return nil
}

func (s *Store) enqueueLocked(kind ChangeKind, now time.Time) {
	s.pending = append(s.pending, Change{
		Kind:    kind,
		From:    s.session.Phase,
		To:      s.session.Phase,
		Session: s.session.Clone(),
		At:      now,
	})
}

// flush delivers queued changes. Only one goroutine delivers at a time; nested calls from
// observers return immediately and their changes are delivered by the outer loop.
func (s *Store) flush() {
	s.mu.Lock()
	if s.delivering {
		s.mu.Unlock()
		return
	}
	s.delivering = true
	for len(s.pending) > 0 {
		batch := s.pending
		s.pending = nil
		obs := append([]observer(nil), s.observers...)
		s.mu.Unlock()
		for _, ch := range batch {
			for _, o := range obs {
				o.fn(ch)
			}
		}
		s.mu.Lock()
	}
	s.delivering = false
	s.mu.Unlock()
}

func normalizedVehicle(v string) string {
	if n := matching.NormalizeVehicle(v); n != matching.VehicleUnknown {
		return string(n)
	}
	return v
}

func cloneCounterpart(c *Counterpart) *Counterpart {
	if c == nil {
		return nil
	}
	out := *c
	if c.Vehicle != nil {
		v := *c.Vehicle
		out.Vehicle = &v
	}
	return &out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
