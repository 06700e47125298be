// README: Shared identifiers and geo value objects.
package types

type ID string

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Role is the side of the product a logged-in identity plays.
type Role string

const (
	RoleRider   Role = "rider"
	RoleCaptain Role = "captain"
)

func (r Role) Valid() bool {
	return r == RoleRider || r == RoleCaptain
}

// Other returns the counterpart role.
func (r Role) Other() Role {
	if r == RoleCaptain {
		return RoleRider
	}
	return RoleCaptain
}
