// Package money keeps prices in integer minor units and does the few
// fractional computations (tax, drift) with shopspring/decimal so no float
// rounding reaches a stored total.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amount is a price in minor units (cents).
type Amount int64

// minorDigits is the number of fractional digits of the store currency.
const minorDigits = 2

// FromDecimal converts a major-unit decimal (12.345) to minor units, rounding half away from zero.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount(d.Shift(minorDigits).Round(0).IntPart())
}

// Decimal returns the amount in major units.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -minorDigits)
}

func (a Amount) String() string {
	return a.Decimal().StringFixed(minorDigits)
}

// Times multiplies a unit price by a quantity.
func (a Amount) Times(qty int) Amount {
	return a * Amount(qty)
}

// Tax computes subtotal × rate rounded to a whole minor unit.
func Tax(subtotal Amount, rate decimal.Decimal) Amount {
	return Amount(decimal.NewFromInt(int64(subtotal)).Mul(rate).Round(0).IntPart())
}

// Total is subtotal + tax + shipping - discount.
func Total(subtotal, tax, shipping, discount Amount) Amount {
	return subtotal + tax + shipping - discount
}

// DriftExceeds reports whether live differs from captured by more than
// tolerance, expressed as a fraction of captured (0.10 = 10%).
// A zero captured price only accepts a zero live price.
func DriftExceeds(captured, live Amount, tolerance decimal.Decimal) bool {
	if captured == 0 {
		return live != 0
	}
	diff := decimal.NewFromInt(int64(live - captured)).Abs()
	return diff.Div(decimal.NewFromInt(int64(captured)).Abs()).GreaterThan(tolerance)
}

// ParseRate parses a rate such as "0.08". Negative rates are rejected.
func ParseRate(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse rate %q: %w", s, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("parse rate %q: negative", s)
	}
	return d, nil
}
