package domain

import "github.com/shopspring/decimal"

// Decimal scales used throughout the pipeline. All rounding is half-up
// (ties away from zero), matching the scale conventions of the factor data
// feed: four fractional digits for z-scores and weight ratios, two for
// percentages and basis points.
const (
	ScaleZScore = 4
	ScalePct    = 2
)

// RoundZ rounds to z-score scale (4 digits, half-up).
func RoundZ(d decimal.Decimal) decimal.Decimal {
	return d.Round(ScaleZScore)
}

// RoundPct rounds to percentage scale (2 digits, half-up).
func RoundPct(d decimal.Decimal) decimal.Decimal {
	return d.Round(ScalePct)
}

// DivZ divides at z-score scale with half-up rounding.
func DivZ(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, ScaleZScore)
}

// DivPct divides at percentage scale with half-up rounding.
func DivPct(num, den decimal.Decimal) decimal.Decimal {
	return num.DivRound(den, ScalePct)
}

// Hundred is reused for percent conversions.
var Hundred = decimal.NewFromInt(100)
