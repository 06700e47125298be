// README: Ride session aggregate and phase definitions.
package ride

import (
	"time"

	"orbix/internal/modules/pricing"
	"orbix/internal/types"
)

type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseRequested      Phase = "requested"
	PhaseMatched        Phase = "matched"
	PhaseOTPPending     Phase = "otp_pending"
	PhaseStarted        Phase = "started"
	PhaseCaptainWaiting Phase = "captain_waiting"
	PhaseFinishing      Phase = "finishing"
	PhaseCompleted      Phase = "completed"
	PhaseCancelled      Phase = "cancelled"
	PhaseError          Phase = "error"
)

// Phases lists every phase in lifecycle order.
var Phases = []Phase{
	PhaseIdle, PhaseRequested, PhaseMatched, PhaseOTPPending, PhaseStarted,
	PhaseCaptainWaiting, PhaseFinishing, PhaseCompleted, PhaseCancelled, PhaseError,
}

func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseCancelled || p == PhaseError
}

// Active reports whether a ride exists in this phase that blocks a new request.
func (p Phase) Active() bool {
	return p != PhaseIdle && !p.Terminal()
}

// Place is a free-text address plus its coordinate once geocoded.
type Place struct {
	Address string        `json:"address"`
	Point   *types.LatLng `json:"point,omitempty"`
}

type Vehicle struct {
	Plate    string `json:"plate,omitempty"`
	Color    string `json:"color,omitempty"`
	Type     string `json:"type,omitempty"`
	Capacity int    `json:"capacity,omitempty"`
}

// Counterpart is the public profile subset of the other party.
type Counterpart struct {
	ID      types.ID `json:"id,omitempty"`
	Name    string   `json:"name"`
	Vehicle *Vehicle `json:"vehicle,omitempty"`
	Rating  float64  `json:"rating,omitempty"`
}

// Route is derived, cached display state. It is never authoritative.
type Route struct {
	Coordinates [][2]float64 `json:"coordinates"` // [lng, lat]
	DistanceKm  float64      `json:"distanceKm"`
	ETAMinutes  float64      `json:"etaMinutes"`
	Available   bool         `json:"available"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Locations holds the most recent position of each party.
type Locations struct {
	Rider   *types.LatLng `json:"rider,omitempty"`
	Captain *types.LatLng `json:"captain,omitempty"`
}

func (l *Locations) slot(r types.Role) **types.LatLng {
	if r == types.RoleCaptain {
		return &l.Captain
	}
	return &l.Rider
}

// Session is the aggregate root for one active or just-finished ride.
type Session struct {
	RideID      types.ID     `json:"rideId,omitempty"`
	Role        types.Role   `json:"role"`
	Phase       Phase        `json:"phase"`
	OTP         string       `json:"otp,omitempty"`
	PendingOTP  string       `json:"pendingOtp,omitempty"`
	Pickup      Place        `json:"pickup"`
	Destination Place        `json:"destination"`
	VehicleType string       `json:"vehicleType,omitempty"`
	Fare        pricing.Fare `json:"fare"`
	Counterpart *Counterpart `json:"counterpart,omitempty"`
	Route       *Route       `json:"route,omitempty"`
	Locations   Locations    `json:"locations"`
	Waiting     bool         `json:"waiting"`
	Reason      string       `json:"reason,omitempty"`
	RequestedAt *time.Time   `json:"requestedAt,omitempty"`
	MatchedAt   *time.Time   `json:"matchedAt,omitempty"`
	StartedAt   *time.Time   `json:"startedAt,omitempty"`
	EndedAt     *time.Time   `json:"endedAt,omitempty"`
	UpdatedAt   time.Time    `json:"updatedAt"`
	LastEvent   EventKind    `json:"lastEvent,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (s Session) Clone() Session {
	out := s
	out.Pickup = clonePlace(s.Pickup)
	out.Destination = clonePlace(s.Destination)
	out.Fare = s.Fare.Clone()
	if s.Counterpart != nil {
		c := *s.Counterpart
		if s.Counterpart.Vehicle != nil {
			v := *s.Counterpart.Vehicle
			c.Vehicle = &v
		}
		out.Counterpart = &c
	}
	if s.Route != nil {
		r := *s.Route
		r.Coordinates = append([][2]float64(nil), s.Route.Coordinates...)
		out.Route = &r
	}
	out.Locations = Locations{Rider: clonePoint(s.Locations.Rider), Captain: clonePoint(s.Locations.Captain)}
	out.RequestedAt = cloneTime(s.RequestedAt)
	out.MatchedAt = cloneTime(s.MatchedAt)
	out.StartedAt = cloneTime(s.StartedAt)
	out.EndedAt = cloneTime(s.EndedAt)
	return out
}

// DisplayFare is the fare shown to either party: base plus every additional fee.
func (s Session) DisplayFare() types.Money {
	return s.Fare.Total()
}

func clonePlace(p Place) Place {
	return Place{Address: p.Address, Point: clonePoint(p.Point)}
}

func clonePoint(p *types.LatLng) *types.LatLng {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Offer is an incoming ride request surfaced to an idle captain.
type Offer struct {
	RideID      types.ID     `json:"rideId"`
	Rider       Counterpart  `json:"rider"`
	Pickup      Place        `json:"pickup"`
	Destination Place        `json:"destination"`
	VehicleType string       `json:"vehicleType,omitempty"`
	Fare        pricing.Fare `json:"fare"`
	ReceivedAt  time.Time    `json:"receivedAt"`
}

type ChangeKind string

const (
	ChangePhase   ChangeKind = "phase"
	ChangeFare    ChangeKind = "fare"
	ChangeRoute   ChangeKind = "route"
	ChangeRestore ChangeKind = "restore"
	ChangeReset   ChangeKind = "reset"
	ChangeOffer   ChangeKind = "offer"
)

// Change is delivered to store observers, in transition order.
type Change struct {
	Kind    ChangeKind
	From    Phase
	To      Phase
	Event   EventKind
	Session Session
	At      time.Time
}
