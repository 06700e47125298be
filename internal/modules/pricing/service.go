// README: Fare arithmetic. Totals are recomputed from the breakdown, never accumulated.
package pricing

import (
	"sort"

	"orbix/internal/modules/matching"
	"orbix/internal/types"
)

func NewFare(base types.Money) Fare {
	return Fare{Base: base}
}

// Total returns Base + Σ AdditionalFees.
func (f Fare) Total() types.Money {
	total := types.Money{Amount: f.Base.Amount, Currency: f.Base.Currency}
	for _, fee := range f.AdditionalFees {
		total = total.Add(fee)
	}
	if total.Currency == "" {
		total.Currency = types.DefaultCurrency
	}
	return total
}

// WithFee returns a copy of f with the named fee set. A zero or negative amount removes it.
func (f Fare) WithFee(name string, amount types.Money) Fare {
	out := f.clone()
	if amount.Amount <= 0 {
		delete(out.AdditionalFees, name)
		return out
	}
	if out.AdditionalFees == nil {
		out.AdditionalFees = make(map[string]types.Money)
	}
	out.AdditionalFees[name] = amount
	return out
}

// WithoutFee returns a copy of f with the named fee removed.
func (f Fare) WithoutFee(name string) Fare {
	out := f.clone()
	delete(out.AdditionalFees, name)
	return out
}

// FeeNames returns fee names sorted, for stable display and idempotency keys.
func (f Fare) FeeNames() []string {
	names := make([]string, 0, len(f.AdditionalFees))
	for n := range f.AdditionalFees {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f Fare) IsZero() bool {
	return f.Base.Amount == 0 && len(f.AdditionalFees) == 0
}

func (f Fare) clone() Fare {
	out := Fare{Base: f.Base, Finalized: f.Finalized}
	if len(f.AdditionalFees) > 0 {
		out.AdditionalFees = make(map[string]types.Money, len(f.AdditionalFees))
		for k, v := range f.AdditionalFees {
			out.AdditionalFees[k] = v
		}
	}
	return out
}

// For picks the quoted fare for a vehicle type (after synonym folding).
func (q Quote) For(vehicle string) (types.Money, bool) {
	switch matching.NormalizeVehicle(vehicle) {
	case matching.VehicleCar:
		return q.Car, true
	case matching.VehicleMoto:
		return q.Moto, true
	case matching.VehicleAuto:
		return q.Auto, true
	}
	return types.Money{}, false
}

// Clone returns a deep copy of f.
func (f Fare) Clone() Fare {
	return f.clone()
}
