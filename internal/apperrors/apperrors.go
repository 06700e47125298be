// README: Error taxonomy shared by the ride client; collaborator failures are converted to a Kind at the boundary.
package apperrors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown                Kind = "unknown"
	KindInvalidTransition      Kind = "invalid_transition"
	KindInvalidOTP             Kind = "invalid_otp"
	KindNoMatchFound           Kind = "no_match_found"
	KindGeolocationUnavailable Kind = "geolocation_unavailable"
	KindRoutingUnavailable     Kind = "routing_unavailable"
	KindNetwork                Kind = "network"
	KindPayment                Kind = "payment"
	KindGateway                Kind = "gateway"
	KindBadRequest             Kind = "bad_request"
)

// Error carries the kind of failure plus the operation that produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, apperrors.InvalidOTP).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Kind markers usable as errors.Is targets.
var (
	InvalidTransition      = &Error{Kind: KindInvalidTransition}
	InvalidOTP             = &Error{Kind: KindInvalidOTP}
	NoMatchFound           = &Error{Kind: KindNoMatchFound}
	GeolocationUnavailable = &Error{Kind: KindGeolocationUnavailable}
	RoutingUnavailable     = &Error{Kind: KindRoutingUnavailable}
	Network                = &Error{Kind: KindNetwork}
	Payment                = &Error{Kind: KindPayment}
	Gateway                = &Error{Kind: KindGateway}
	BadRequest             = &Error{Kind: KindBadRequest}
)

// KindOf returns the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserVisible reports whether a failure of this kind should reach the end user.
func UserVisible(k Kind) bool {
	return k != KindInvalidTransition && k != ""
}
