// README: Pure vehicle-type normalization and compatibility checks used when a captain decides whether to surface a request.
package matching

import "strings"

// NormalizeVehicle maps a free-text vehicle label onto {car, moto, auto}.
// Unknown labels and empty input return VehicleUnknown.
func NormalizeVehicle(s string) VehicleType {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return VehicleUnknown
	}
	key = strings.NewReplacer(" ", "", "-", "", "_", "").Replace(key)
	if v, ok := vehicleSynonyms[key]; ok {
		return v
	}
	return VehicleUnknown
}

// ParseVehicle is NormalizeVehicle that reports whether the label was recognised.
func ParseVehicle(s string) (VehicleType, bool) {
	v := NormalizeVehicle(s)
	return v, v != VehicleUnknown
}

// Matches reports whether a captain's vehicle can serve a ride's requested vehicle.
// A missing value on either side is a wildcard. Unrecognised labels only match
// each other when they are literally equal.
func Matches(captainType, rideType string) bool {
	if strings.TrimSpace(captainType) == "" || strings.TrimSpace(rideType) == "" {
		return true
	}
	a, b := NormalizeVehicle(captainType), NormalizeVehicle(rideType)
	if a == VehicleUnknown || b == VehicleUnknown {
		return strings.EqualFold(strings.TrimSpace(captainType), strings.TrimSpace(rideType))
	}
	return a == b
}
