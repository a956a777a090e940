// Package costs estimates transaction costs from liquidity tier and trade
// size.
package costs

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// Base spread in bps per liquidity tier, tier 1 most liquid.
var tierSpreadBps = map[int]int64{
	1: 5,
	2: 10,
	3: 20,
	4: 40,
	5: 80,
}

// defaultSpreadBps covers unmapped tiers.
const defaultSpreadBps = 30

// Estimator converts liquidity tier and weight change into expected cost bps.
type Estimator struct {
	log zerolog.Logger
}

// NewEstimator creates a cost estimator.
func NewEstimator(log zerolog.Logger) *Estimator {
	return &Estimator{log: log.With().Str("module", "costs").Logger()}
}

// EstimateBps returns the expected transaction cost in basis points:
// base tier spread scaled by a market-impact multiplier of 1 + |change|/100.
func (e *Estimator) EstimateBps(liquidityTier int, weightChangePct decimal.Decimal) decimal.Decimal {
	base, ok := tierSpreadBps[liquidityTier]
	if !ok {
		base = defaultSpreadBps
	}

	multiplier := decimal.NewFromInt(1).Add(
		weightChangePct.Abs().DivRound(domain.Hundred, domain.ScaleZScore))

	return domain.RoundPct(decimal.NewFromInt(base).Mul(multiplier))
}
