// Package money pins the exchange's fixed-point arithmetic: all values
// carry at most 8 fractional digits, and every operation that can produce
// more digits truncates the excess. Truncation, never rounding — a user is
// never credited a fraction they did not earn.
package money

import "github.com/shopspring/decimal"

// Scale is the number of fractional digits carried by every monetary and
// asset quantity in the system.
const Scale = 8

// Mul multiplies two fixed-point values and truncates the product to Scale.
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Scale)
}

// Truncate drops any digits beyond Scale without rounding.
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Scale)
}

// Parse converts a decimal string to a fixed-point value, truncating any
// extra fractional digits.
func Parse(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Truncate(Scale), nil
}
