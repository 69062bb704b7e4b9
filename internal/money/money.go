// Package money keeps monetary amounts as int64 minor units and does every
// multiplication or division through decimal so nothing drifts on the way
// from subtotal to total.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ApplyRate returns cents × rate rounded half away from zero.
func ApplyRate(cents int64, rate float64) int64 {
	return decimal.NewFromInt(cents).Mul(decimal.NewFromFloat(rate)).Round(0).IntPart()
}

// ApplyPercent returns cents × (1 + percent/100) rounded half away from zero.
func ApplyPercent(cents int64, percent float64) int64 {
	factor := decimal.NewFromInt(1).Add(decimal.NewFromFloat(percent).Div(hundred))
	return decimal.NewFromInt(cents).Mul(factor).Round(0).IntPart()
}

// FromFloat rounds a float amount already expressed in minor units.
func FromFloat(v float64) int64 {
	return decimal.NewFromFloat(v).Round(0).IntPart()
}

// Ratio returns num/den, or 0 when den is 0.
func Ratio(num int64, den int64) float64 {
	if den == 0 {
		return 0
	}
	f, _ := decimal.NewFromInt(num).Div(decimal.NewFromInt(den)).Round(6).Float64()
	return f
}

// Round rounds a fraction to places decimals, half away from zero.
func Round(f float64, places int32) float64 {
	out, _ := decimal.NewFromFloat(f).Round(places).Float64()
	return out
}

// Average divides total by n with half-away-from-zero rounding, 0 for n == 0.
func Average(total int64, n int) int64 {
	if n == 0 {
		return 0
	}
	return decimal.NewFromInt(total).Div(decimal.NewFromInt(int64(n))).Round(0).IntPart()
}

// PercentToRate turns 18 into 0.18.
func PercentToRate(percent float64) float64 {
	f, _ := decimal.NewFromFloat(percent).Div(hundred).Float64()
	return f
}

// Format renders minor units with the currency symbol, e.g. "₹1,234.50".
func Format(cents int64, symbol string) string {
	neg := cents < 0
	if neg {
		cents = -cents
	}
	fixed := decimal.New(cents, -2).StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(symbol)
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
