// README: Ride phase flow as code: event kinds, the role-qualified transition table and guards.
package ride

import (
	"strings"

	"orbix/internal/modules/pricing"
	"orbix/internal/types"
)

type EventKind string

const (
	EventRequestSubmitted EventKind = "request_submitted"
	EventOfferAccepted    EventKind = "offer_accepted"
	EventMatched          EventKind = "matched"
	EventNoMatch          EventKind = "no_match"
	EventOTPSubmitted     EventKind = "otp_submitted"
	EventOTPInvalid       EventKind = "otp_invalid"
	EventRideStarted      EventKind = "ride_started"
	EventWaitingStarted   EventKind = "waiting_started"
	EventWaitingEnded     EventKind = "waiting_ended"
	EventRideEnded        EventKind = "ride_ended"
	EventPaymentSettled   EventKind = "payment_settled"
	EventCancel           EventKind = "cancel"
	EventFailure          EventKind = "failure"
)

// Event is the single input of Store.Transition. Only the fields relevant to Kind are read.
type Event struct {
	Kind        EventKind
	RideID      types.ID
	OTP         string
	Pickup      Place
	Destination Place
	VehicleType string
	Fare        *pricing.Fare
	Counterpart *Counterpart
	Reason      string
}

// AllowedTransitions represents the ride phase flow (diagram) as code.
var AllowedTransitions = map[Phase][]Phase{
	PhaseIdle:           {PhaseRequested, PhaseError},
	PhaseRequested:      {PhaseMatched, PhaseCancelled, PhaseError},
	PhaseMatched:        {PhaseOTPPending, PhaseStarted, PhaseCancelled, PhaseError},
	PhaseOTPPending:     {PhaseMatched, PhaseStarted, PhaseCancelled, PhaseError},
	PhaseStarted:        {PhaseCaptainWaiting, PhaseFinishing, PhaseCancelled, PhaseError},
	PhaseCaptainWaiting: {PhaseStarted, PhaseFinishing, PhaseCancelled, PhaseError},
	PhaseFinishing:      {PhaseCompleted, PhaseCancelled, PhaseError},
}

func CanTransition(from, to Phase) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, p := range next {
		if p == to {
			return true
		}
	}
	return false
}

// guard returns a rejection reason, or "" when the event may apply.
type guard func(s *Session, ev Event) string

type rule struct {
	to    Phase
	role  types.Role // empty: both roles
	guard guard
}

type ruleKey struct {
	from Phase
	kind EventKind
}

var rules = map[ruleKey]rule{
	{PhaseIdle, EventRequestSubmitted}:       {to: PhaseRequested, role: types.RoleRider, guard: requestGuard},
	{PhaseIdle, EventOfferAccepted}:          {to: PhaseRequested, role: types.RoleCaptain, guard: rideIDGuard},
	{PhaseRequested, EventMatched}:           {to: PhaseMatched, guard: matchGuard},
	{PhaseRequested, EventNoMatch}:           {to: PhaseCancelled},
	{PhaseMatched, EventOTPSubmitted}:        {to: PhaseOTPPending, role: types.RoleCaptain, guard: otpGuard},
	{PhaseOTPPending, EventOTPInvalid}:       {to: PhaseMatched, role: types.RoleCaptain},
	{PhaseOTPPending, EventRideStarted}:      {to: PhaseStarted, role: types.RoleCaptain},
	{PhaseMatched, EventRideStarted}:         {to: PhaseStarted, role: types.RoleRider},
	{PhaseStarted, EventWaitingStarted}:      {to: PhaseCaptainWaiting},
	{PhaseCaptainWaiting, EventWaitingEnded}: {to: PhaseStarted},
	{PhaseStarted, EventRideEnded}:           {to: PhaseFinishing},
	{PhaseCaptainWaiting, EventRideEnded}:    {to: PhaseFinishing},
	{PhaseFinishing, EventPaymentSettled}:    {to: PhaseCompleted},
}

// resolve looks up the target phase for ev in phase from. ok is false when the pair is not
// in the table; reason is set when the pair exists but its guard rejects the event.
func resolve(s *Session, ev Event) (to Phase, reason string, ok bool) {
	from := s.Phase
	switch ev.Kind {
	case EventCancel:
		if from == PhaseIdle || from.Terminal() {
			return "", "", false
		}
		return PhaseCancelled, "", true
	case EventFailure:
		if from.Terminal() {
			return "", "", false
		}
		return PhaseError, "", true
	}
	r, found := rules[ruleKey{from, ev.Kind}]
	if !found || (r.role != "" && r.role != s.Role) {
		return "", "", false
	}
	if r.guard != nil {
		if why := r.guard(s, ev); why != "" {
			return "", why, false
		}
	}
	return r.to, "", true
}

// isReplay reports whether ev is a repeat of an event that leads into the current phase.
// Replays are accepted as no-ops.
func isReplay(s *Session, ev Event) bool {
	if s.Phase == PhaseIdle || s.Phase.Terminal() {
		return false
	}
	if ev.Kind == EventCancel || ev.Kind == EventFailure {
		return false
	}
	for k, r := range rules {
		if k.kind == ev.Kind && r.to == s.Phase && (r.role == "" || r.role == s.Role) {
			return true
		}
	}
	return false
}

func requestGuard(_ *Session, ev Event) string {
	switch {
	case ev.RideID == "":
		return "missing ride id"
	case !placeSet(ev.Pickup):
		return "missing pickup"
	case !placeSet(ev.Destination):
		return "missing destination"
	case strings.TrimSpace(ev.VehicleType) == "":
		return "missing vehicle type"
	}
	return ""
}

func rideIDGuard(_ *Session, ev Event) string {
	if ev.RideID == "" {
		return "missing ride id"
	}
	return ""
}

func matchGuard(s *Session, ev Event) string {
	if s.Role == types.RoleCaptain {
		if ev.RideID == "" && s.RideID == "" {
			return "missing ride id"
		}
		return ""
	}
	if ev.Counterpart == nil {
		return "missing captain details"
	}
	if err := ValidateOTP(ev.OTP); err != nil {
		return "missing or malformed otp"
	}
	return ""
}

func otpGuard(_ *Session, ev Event) string {
	if err := ValidateOTP(ev.OTP); err != nil {
		return err.Error()
	}
	return ""
}

func placeSet(p Place) bool {
	return strings.TrimSpace(p.Address) != "" || p.Point != nil
}
