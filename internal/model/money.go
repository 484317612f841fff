package model

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// ParseAmount converts a decimal string amount in major units to a Decimal.
// The cart backend returns prices as JSON numbers or strings ("10.00").
// Empty or malformed input yields zero, matching how a missing price renders.
// Examples: "99.00" → 99, "1234.56" → 1234.56, "" → 0
func ParseAmount(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Scale returns the number of minor-unit digits cur is normally written with.
// Examples: PEN → 2, JPY → 0
func Scale(cur currency.Unit) int32 {
	scale, _ := currency.Standard.Rounding(cur)
	return int32(scale)
}

// FormatAmount renders d at cur's standard scale, rounding half away from zero.
// Examples: (99, PEN) → "99.00", (1234.565, USD) → "1234.57", (1500.4, JPY) → "1500"
func FormatAmount(d decimal.Decimal, cur currency.Unit) string {
	return d.StringFixed(Scale(cur))
}

// MinorUnits converts an amount in major units to cur's minor units,
// rounding half away from zero.
// Examples: (99.00, PEN) → 9900, (1234.565, USD) → 123457, (1500, JPY) → 1500
func MinorUnits(d decimal.Decimal, cur currency.Unit) int64 {
	return d.Shift(Scale(cur)).Round(0).IntPart()
}
