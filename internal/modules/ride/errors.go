// README: Ride store errors.
package ride

import (
	"errors"
	"fmt"

	"orbix/internal/apperrors"
	"orbix/internal/types"
)

var (
	ErrInvalidTransition = errors.New("invalid ride transition")
	ErrActiveRide        = errors.New("an active ride already exists")
	ErrInvalidOTP        = errors.New("otp must be exactly 6 digits")
	ErrRideMismatch      = errors.New("event belongs to another ride")
	ErrOfferNotFound     = errors.New("offer not found or expired")
	ErrNoActiveRide      = errors.New("no active ride")
)

// InvalidTransitionError describes a rejected (phase, event) pair.
// It matches both ErrInvalidTransition and apperrors.InvalidTransition.
type InvalidTransitionError struct {
	From   Phase
	Event  EventKind
	Role   types.Role
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid ride transition: %s --%s--> (%s): %s", e.From, e.Event, e.Role, e.Reason)
	}
	return fmt.Sprintf("invalid ride transition: %s --%s--> (%s)", e.From, e.Event, e.Role)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition || target == apperrors.InvalidTransition
}

// AsAppError converts store errors to the shared taxonomy.
func AsAppError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInvalidTransition):
		return apperrors.New(apperrors.KindInvalidTransition, op, err)
	case errors.Is(err, ErrInvalidOTP):
		return apperrors.New(apperrors.KindInvalidOTP, op, err)
	case errors.Is(err, ErrActiveRide), errors.Is(err, ErrOfferNotFound), errors.Is(err, ErrNoActiveRide):
		return apperrors.New(apperrors.KindBadRequest, op, err)
	}
	return err
}
