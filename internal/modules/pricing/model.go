// README: Fare value object: a base fare plus named additional fees.
package pricing

import "orbix/internal/types"

// Well-known additional fee names.
const (
	FeeLateNight = "late_night"
	FeeWaiting   = "waiting"
	FeeDamage    = "damage"
)

// Fare is the price of one ride. The displayed amount is always Base plus the sum of
// AdditionalFees, recomputed by Total on every read.
type Fare struct {
	Base           types.Money            `json:"base"`
	AdditionalFees map[string]types.Money `json:"additionalFees,omitempty"`
	Finalized      bool                   `json:"finalized"`
}

// Quote holds the per-vehicle fares returned by the backend for a pickup/destination pair.
type Quote struct {
	Car  types.Money `json:"car"`
	Moto types.Money `json:"moto"`
	Auto types.Money `json:"auto"`
}
