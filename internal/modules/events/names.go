// README: Realtime event names exchanged with the backend.
package events

import "orbix/internal/types"

// Inbound.
const (
	RideRequest         = "ride-request"
	NewRideRequest      = "new-ride-request"
	RideAccepted        = "ride-accepted"
	RideStarted         = "ride-started"
	RideStartSuccess    = "ride-start-success"
	InvalidOTP          = "invalid-otp"
	CaptainWaiting      = "captain-waiting"
	CaptainWaitingEnded = "captain-waiting-ended"
	RideEnded           = "ride-ended"
	RideCompleted       = "ride-completed"
	PaymentSuccess      = "payment-success"
	RideStatusUpdated   = "ride-status-updated"
	NoCaptainsAvailable = "no-captains-available"
)

// Location streams. Each role emits its own and listens to the counterpart's.
const (
	LocationUser    = "update-location-user"
	LocationCaptain = "update-location-captain"
)

// Outbound only.
const (
	StartWaiting = "start-waiting"
	EndWaiting   = "end-waiting"
)

// LocationEventFor returns the location event emitted by role.
func LocationEventFor(role types.Role) string {
	if role == types.RoleCaptain {
		return LocationCaptain
	}
	return LocationUser
}
