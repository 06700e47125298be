// README: Event router: maps inbound realtime events onto ride store transitions, once per process.
package events

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"orbix/internal/modules/matching"
	"orbix/internal/modules/ride"
	"orbix/internal/realtime"
	"orbix/internal/types"
)

type Options struct {
	DedupWindow time.Duration
	// VehicleType is the captain's own vehicle, used to filter offers.
	VehicleType string
	Logger      *zap.Logger
	Now         func() time.Time
}

type router struct {
	store   *ride.Store
	dedup   *Deduper
	vehicle string
	log     *zap.Logger
	now     func() time.Time
}

// Register wires every known event on client into store and returns the unregister func.
func Register(store *ride.Store, client realtime.Client, opts Options) func() {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	r := &router{
		store:   store,
		dedup:   NewDeduper(opts.DedupWindow, opts.Now),
		vehicle: opts.VehicleType,
		log:     opts.Logger.With(zap.String("component", "event_router")),
		now:     opts.Now,
	}

	handlers := r.phaseHandlers()
	offs := make([]func(), 0, len(handlers)+4)
	for name, fn := range handlers {
		offs = append(offs, client.On(name, r.lifecycle(name, fn)))
	}
	if store.Role() == types.RoleCaptain {
		offs = append(offs, client.On(RideRequest, r.offer(RideRequest)))
		offs = append(offs, client.On(NewRideRequest, r.offer(NewRideRequest)))
	}
	counterpart := LocationEventFor(store.Role().Other())
	offs = append(offs, client.On(counterpart, r.location(counterpart)))
	offs = append(offs, client.OnUnknown(func(env realtime.Envelope) {
		r.log.Debug("unhandled realtime event", zap.String("event", env.Event))
	}))

	return func() {
		for _, off := range offs {
			off()
		}
	}
}

// phaseHandlers maps lifecycle events to the store event they produce.
func (r *router) phaseHandlers() map[string]func(RidePayload) (ride.Event, bool) {
	simple := func(kind ride.EventKind) func(RidePayload) (ride.Event, bool) {
		return func(p RidePayload) (ride.Event, bool) {
			return ride.Event{Kind: kind, RideID: p.ID()}, true
		}
	}
	settled := func(p RidePayload) (ride.Event, bool) {
		return ride.Event{Kind: ride.EventPaymentSettled, RideID: p.ID(), Fare: p.Fare.Pricing()}, true
	}
	return map[string]func(RidePayload) (ride.Event, bool){
		RideAccepted: func(p RidePayload) (ride.Event, bool) {
			ev := ride.Event{Kind: ride.EventMatched, RideID: p.ID(), OTP: string(p.OTP), Fare: p.Fare.Pricing()}
			if r.store.Role() == types.RoleRider {
				ev.Counterpart = p.Captain.Counterpart()
			} else {
				ev.Counterpart = p.User.Counterpart()
			}
			return ev, true
		},
		RideStarted:         simple(ride.EventRideStarted),
		RideStartSuccess:    simple(ride.EventRideStarted),
		InvalidOTP:          simple(ride.EventOTPInvalid),
		CaptainWaiting:      simple(ride.EventWaitingStarted),
		CaptainWaitingEnded: simple(ride.EventWaitingEnded),
		RideEnded: func(p RidePayload) (ride.Event, bool) {
			return ride.Event{Kind: ride.EventRideEnded, RideID: p.ID(), Fare: p.Fare.Pricing()}, true
		},
		RideCompleted:  settled,
		PaymentSuccess: settled,
		RideStatusUpdated: func(p RidePayload) (ride.Event, bool) {
			switch p.Status {
			case "cancelled", "canceled":
				r.store.WithdrawOffer(p.ID())
				return ride.Event{Kind: ride.EventCancel, RideID: p.ID(), Reason: firstNonEmpty(p.Reason, p.Message)}, true
			case "completed":
				return settled(p)
			case "accepted", "ongoing":
				r.store.WithdrawOffer(p.ID())
			}
			return ride.Event{}, false
		},
		NoCaptainsAvailable: func(p RidePayload) (ride.Event, bool) {
			return ride.Event{Kind: ride.EventNoMatch, RideID: p.ID(), Reason: firstNonEmpty(p.Message, p.Reason)}, true
		},
	}
}

func (r *router) lifecycle(name string, toEvent func(RidePayload) (ride.Event, bool)) realtime.Handler {
	return func(env realtime.Envelope) {
		var p RidePayload
		if err := env.Decode(&p); err != nil {
			r.log.Warn("malformed ride payload", zap.String("event", name), zap.Error(err))
			return
		}
		id := p.ID()
		key := name
		if p.Status != "" {
			key += ":" + p.Status
		}
		if !r.accept(key, id) {
			return
		}
		ev, ok := toEvent(p)
		if !ok {
			r.log.Debug("ride event ignored", zap.String("event", name), zap.String("status", p.Status))
			return
		}
		if err := r.store.Transition(ev); err != nil {
			r.logTransitionError(name, id, err)
		}
	}
}

// accept drops events for other rides and repeats inside the dedup window.
func (r *router) accept(name string, id types.ID) bool {
	cur := r.store.Current()
	if id != "" && cur.RideID != "" && id != cur.RideID {
		r.log.Debug("event for another ride dropped",
			zap.String("event", name),
			zap.String("ride_id", string(id)),
			zap.String("active_ride_id", string(cur.RideID)))
		return false
	}
	if !r.dedup.First(name, id) {
		r.log.Debug("duplicate event dropped", zap.String("event", name), zap.String("ride_id", string(id)))
		return false
	}
	return true
}

func (r *router) logTransitionError(name string, id types.ID, err error) {
	fields := []zap.Field{zap.String("event", name), zap.String("ride_id", string(id)), zap.Error(err)}
	switch {
	case errors.Is(err, ride.ErrRideMismatch):
		r.log.Debug("event for another ride dropped", fields...)
	case errors.Is(err, ride.ErrInvalidTransition):
		r.log.Info("event not applicable in current phase", fields...)
	default:
		r.log.Warn("ride event failed", fields...)
	}
}

func (r *router) offer(name string) realtime.Handler {
	return func(env realtime.Envelope) {
		var p RidePayload
		if err := env.Decode(&p); err != nil {
			r.log.Warn("malformed ride request", zap.String("event", name), zap.Error(err))
			return
		}
		id := p.ID()
		if id == "" || r.store.Phase() != ride.PhaseIdle {
			return
		}
		if !r.dedup.First(RideRequest, id) {
			return
		}
		if !matching.Matches(r.vehicle, p.VehicleType) {
			r.log.Debug("ride request for another vehicle type",
				zap.String("ride_id", string(id)),
				zap.String("requested", p.VehicleType),
				zap.String("own", r.vehicle))
			return
		}
		o := ride.Offer{
			RideID:      id,
			Pickup:      p.Pickup.Ride(),
			Destination: p.Destination.Ride(),
			VehicleType: p.VehicleType,
			ReceivedAt:  r.now(),
		}
		if rider := p.User.Counterpart(); rider != nil {
			o.Rider = *rider
		}
		if f := p.Fare.Pricing(); f != nil {
			o.Fare = *f
		}
		if r.store.SurfaceOffer(o) {
			r.log.Info("ride offer surfaced", zap.String("ride_id", string(id)), zap.String("vehicle_type", p.VehicleType))
		}
	}
}

// location writes the counterpart slot. It bypasses the transition table and dedup.
func (r *router) location(name string) realtime.Handler {
	return func(env realtime.Envelope) {
		var p LocationPayload
		if err := env.Decode(&p); err != nil {
			r.log.Debug("malformed location payload", zap.String("event", name), zap.Error(err))
			return
		}
		pt, ok := p.Point()
		if !ok {
			return
		}
		if err := r.store.UpdateCounterpartLocation(p.RideID, pt); err != nil {
			r.log.Debug("counterpart location dropped", zap.String("event", name), zap.Error(err))
		}
	}
}
