// README: Backend payload shapes, normalized at the boundary into ride types.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"orbix/internal/modules/pricing"
	"orbix/internal/modules/ride"
	"orbix/internal/types"
)

// FullName accepts "fullname" either as a string or as {firstname, lastname}.
type FullName string

func (n *FullName) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*n = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = FullName(strings.TrimSpace(s))
		return nil
	}
	var parts struct {
		FirstName string `json:"firstname"`
		LastName  string `json:"lastname"`
	}
	if err := json.Unmarshal(b, &parts); err != nil {
		return fmt.Errorf("fullname: %w", err)
	}
	*n = FullName(strings.TrimSpace(strings.TrimSpace(parts.FirstName) + " " + strings.TrimSpace(parts.LastName)))
	return nil
}

// OTP accepts a string or a number; numbers are zero-padded to six digits.
type OTP string

func (o *OTP) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*o = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = OTP(strings.TrimSpace(s))
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("otp: %w", err)
	}
	*o = OTP(fmt.Sprintf("%06d", n))
	return nil
}

type Vehicle struct {
	Plate       string `json:"plate"`
	Color       string `json:"color"`
	VehicleType string `json:"vehicleType"`
	Type        string `json:"type"`
	Capacity    int    `json:"capacity"`
}

// Party is a rider or captain as the backend sends it.
type Party struct {
	ID       types.ID `json:"_id"`
	AltID    types.ID `json:"id"`
	FullName FullName `json:"fullname"`
	Vehicle  *Vehicle `json:"vehicle"`
	Rating   float64  `json:"rating"`
}

func (p *Party) Counterpart() *ride.Counterpart {
	if p == nil {
		return nil
	}
	c := &ride.Counterpart{ID: firstID(p.ID, p.AltID), Name: string(p.FullName), Rating: p.Rating}
	if p.Vehicle != nil {
		c.Vehicle = &ride.Vehicle{
			Plate:    p.Vehicle.Plate,
			Color:    p.Vehicle.Color,
			Type:     firstNonEmpty(p.Vehicle.VehicleType, p.Vehicle.Type),
			Capacity: p.Vehicle.Capacity,
		}
	}
	return c
}

// Place accepts an address string or {address, lat, lng}.
type Place struct {
	Address string
	Point   *types.LatLng
}

func (p *Place) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*p = Place{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		return json.Unmarshal(b, &p.Address)
	}
	var raw struct {
		Address string   `json:"address"`
		Lat     *float64 `json:"lat"`
		Lng     *float64 `json:"lng"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	p.Address = raw.Address
	if raw.Lat != nil && raw.Lng != nil {
		p.Point = &types.LatLng{Lat: *raw.Lat, Lng: *raw.Lng}
	}
	return nil
}

func (p Place) MarshalJSON() ([]byte, error) {
	out := map[string]any{"address": p.Address}
	if p.Point != nil {
		out["lat"] = p.Point.Lat
		out["lng"] = p.Point.Lng
	}
	return json.Marshal(out)
}

func (p Place) Ride() ride.Place {
	out := ride.Place{Address: p.Address}
	if p.Point != nil {
		pt := *p.Point
		out.Point = &pt
	}
	return out
}

// Fare accepts a bare amount (major units) or {base, additionalFees, currency}.
type Fare struct {
	Base           float64            `json:"base"`
	AdditionalFees map[string]float64 `json:"additionalFees,omitempty"`
	Currency       string             `json:"currency,omitempty"`
}

func (f *Fare) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && (b[0] == '-' || (b[0] >= '0' && b[0] <= '9')) {
		var v float64
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*f = Fare{Base: v}
		return nil
	}
	var raw struct {
		Base           *float64           `json:"base"`
		Amount         *float64           `json:"amount"`
		AdditionalFees map[string]float64 `json:"additionalFees"`
		Currency       string             `json:"currency"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("fare: %w", err)
	}
	*f = Fare{AdditionalFees: raw.AdditionalFees, Currency: raw.Currency}
	switch {
	case raw.Base != nil:
		f.Base = *raw.Base
	case raw.Amount != nil:
		f.Base = *raw.Amount
	}
	return nil
}

func (f *Fare) Pricing() *pricing.Fare {
	if f == nil {
		return nil
	}
	out := pricing.NewFare(types.MoneyFromMajor(f.Base, f.Currency))
	for name, v := range f.AdditionalFees {
		out = out.WithFee(name, types.MoneyFromMajor(v, f.Currency))
	}
	return &out
}

// FareFrom converts a pricing fare into its wire shape.
func FareFrom(p pricing.Fare) Fare {
	out := Fare{Base: p.Base.Major(), Currency: p.Base.Currency}
	if len(p.AdditionalFees) > 0 {
		out.AdditionalFees = make(map[string]float64, len(p.AdditionalFees))
		for name, m := range p.AdditionalFees {
			out.AdditionalFees[name] = m.Major()
		}
	}
	return out
}

// RidePayload is the union of the ride lifecycle payloads.
type RidePayload struct {
	RideID      types.ID `json:"rideId"`
	AltID       types.ID `json:"_id"`
	OTP         OTP      `json:"otp"`
	Pickup      Place    `json:"pickup"`
	Destination Place    `json:"destination"`
	VehicleType string   `json:"vehicleType"`
	Fare        *Fare    `json:"fare"`
	Captain     *Party   `json:"captain"`
	User        *Party   `json:"user"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason"`
	Message     string   `json:"message"`
}

func (p RidePayload) ID() types.ID {
	return firstID(p.RideID, p.AltID)
}

// LocationPayload accepts {rideId, location: {lat, lng}} or {rideId, lat, lng}.
type LocationPayload struct {
	RideID   types.ID      `json:"rideId"`
	Location *types.LatLng `json:"location,omitempty"`
	Lat      *float64      `json:"lat,omitempty"`
	Lng      *float64      `json:"lng,omitempty"`
}

// Point returns the coordinate and whether one was present.
func (p LocationPayload) Point() (types.LatLng, bool) {
	if p.Location != nil {
		return *p.Location, true
	}
	if p.Lat != nil && p.Lng != nil {
		return types.LatLng{Lat: *p.Lat, Lng: *p.Lng}, true
	}
	return types.LatLng{}, false
}

// NewLocationPayload builds the outbound location frame.
func NewLocationPayload(rideID types.ID, p types.LatLng) LocationPayload {
	pt := p
	return LocationPayload{RideID: rideID, Location: &pt}
}

func firstID(ids ...types.ID) types.ID {
	for _, id := range ids {
		if id != "" {
			return id
		}
	}
	return ""
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
