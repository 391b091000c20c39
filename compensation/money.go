package compensation

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	half    = decimal.NewFromFloat(0.5)
	thirty  = decimal.NewFromInt(30)
	hundred = decimal.NewFromInt(100)
)

// roundHalfUp rounds to the nearest whole currency unit, ties toward +inf.
func roundHalfUp(d decimal.Decimal) decimal.Decimal {
	return d.Add(half).Floor()
}

// nonNegative maps a collaborator-supplied number to a decimal.
// Negative, NaN and infinite values become zero.
func nonNegative(v float64) decimal.Decimal {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(v)
}

func maxZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ClampPoolRate limits a configured pool rate to [0, 100]. NaN becomes 0.
func ClampPoolRate(rate float64) float64 {
	switch {
	case math.IsNaN(rate) || rate < 0:
		return 0
	case rate > 100:
		return 100
	}
	return rate
}
