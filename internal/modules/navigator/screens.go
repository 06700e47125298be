// README: Static phase-to-screen table. No screen decides its own transition.
package navigator

import (
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

type ScreenID string

const (
	ScreenHome             ScreenID = "home"
	ScreenLookingForDriver ScreenID = "looking_for_driver"
	ScreenWaitingForDriver ScreenID = "waiting_for_driver"
	ScreenRiding           ScreenID = "riding"
	ScreenCompleteRide     ScreenID = "complete_ride"
	ScreenRating           ScreenID = "rating"

	ScreenCaptainHome     ScreenID = "captain_home"
	ScreenCaptainConfirm  ScreenID = "captain_confirm_ride"
	ScreenCaptainPickup   ScreenID = "captain_pickup"
	ScreenCaptainRiding   ScreenID = "captain_riding"
	ScreenCaptainComplete ScreenID = "captain_complete_ride"
	ScreenCaptainSummary  ScreenID = "captain_ride_summary"

	ScreenRideError ScreenID = "ride_error"
)

var screens = map[types.Role]map[ride.Phase]ScreenID{
	types.RoleRider: {
		ride.PhaseIdle:           ScreenHome,
		ride.PhaseRequested:      ScreenLookingForDriver,
		ride.PhaseMatched:        ScreenWaitingForDriver,
		ride.PhaseOTPPending:     ScreenWaitingForDriver,
		ride.PhaseStarted:        ScreenRiding,
		ride.PhaseCaptainWaiting: ScreenRiding,
		ride.PhaseFinishing:      ScreenCompleteRide,
		ride.PhaseCompleted:      ScreenRating,
		ride.PhaseCancelled:      ScreenHome,
		ride.PhaseError:          ScreenRideError,
	},
	types.RoleCaptain: {
		ride.PhaseIdle:           ScreenCaptainHome,
		ride.PhaseRequested:      ScreenCaptainConfirm,
		ride.PhaseMatched:        ScreenCaptainPickup,
		ride.PhaseOTPPending:     ScreenCaptainPickup,
		ride.PhaseStarted:        ScreenCaptainRiding,
		ride.PhaseCaptainWaiting: ScreenCaptainRiding,
		ride.PhaseFinishing:      ScreenCaptainComplete,
		ride.PhaseCompleted:      ScreenCaptainSummary,
		ride.PhaseCancelled:      ScreenCaptainHome,
		ride.PhaseError:          ScreenRideError,
	},
}

// ScreenFor is total: unknown phases land on the role's home screen.
func ScreenFor(phase ride.Phase, role types.Role) ScreenID {
	if s, ok := screens[role][phase]; ok {
		return s
	}
	if role == types.RoleCaptain {
		return ScreenCaptainHome
	}
	return ScreenHome
}

// RideScreen reports whether s belongs to an ongoing ride (banner-worthy when detached).
func RideScreen(s ScreenID) bool {
	switch s {
	case ScreenHome, ScreenCaptainHome, ScreenRating, ScreenCaptainSummary, ScreenRideError:
		return false
	}
	return true
}
