package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestMul_TruncatesNotRounds(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want string
	}{
		{"Exact", "100", "1", "100"},
		{"CommissionRate", "100", "0.015", "1.5"},
		{"EightDigitsKept", "1.00000001", "2", "2.00000002"},
		// 1.00000001^2 = 1.0000000200000001: the 16th digit is dropped,
		// not rounded into the 8th.
		{"ExcessDigitsDropped", "1.00000001", "1.00000001", "1.00000002"},
		// 0.00000001 * 0.1 = 0.000000001, below the scale entirely.
		{"BelowScaleIsZero", "0.00000001", "0.1", "0"},
		// 0.99999999 * 0.99999999 = 0.9999999800000001 -> truncated, the
		// trailing 1 never rounds the 8th digit up.
		{"NoRoundUp", "0.99999999", "0.99999999", "0.99999998"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Mul(d(tt.a), d(tt.b))
			assert.True(t, got.Equal(d(tt.want)), "got %s, want %s", got, tt.want)
		})
	}
}

func TestTruncate(t *testing.T) {
	assert.True(t, Truncate(d("0.123456789")).Equal(d("0.12345678")))
	assert.True(t, Truncate(d("0.999999999")).Equal(d("0.99999999")))
	assert.True(t, Truncate(d("5")).Equal(d("5")))
}

func TestParse(t *testing.T) {
	v, err := Parse("100.123456789")
	require.NoError(t, err)
	assert.True(t, v.Equal(d("100.12345678")))

	_, err = Parse("not-a-number")
	assert.Error(t, err)
}
