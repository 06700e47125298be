// README: Common money value object used across modules.
package types

import (
	"fmt"
	"math"
)

// DefaultCurrency is what the backend quotes fares in.
const DefaultCurrency = "INR"

// Money is an amount in minor units (paise).
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// MoneyFromMajor converts a backend float (rupees) into minor units.
func MoneyFromMajor(v float64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: int64(math.Round(v * 100)), Currency: currency}
}

// Major returns the amount in major units.
func (m Money) Major() float64 {
	return float64(m.Amount) / 100
}

func (m Money) Add(o Money) Money {
	cur := m.Currency
	if cur == "" {
		cur = o.Currency
	}
	return Money{Amount: m.Amount + o.Amount, Currency: cur}
}

func (m Money) String() string {
	cur := m.Currency
	if cur == "" {
		cur = DefaultCurrency
	}
	return fmt.Sprintf("%s %.2f", cur, m.Major())
}
