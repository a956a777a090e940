// Package ranking combines per-factor z-scores into a composite score and
// produces a total order over the universe.
package ranking

import (
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// RankedSymbol is one line of the composite ordering.
type RankedSymbol struct {
	Symbol    string
	Sector    string
	Rank      int // 1 = best
	Composite decimal.Decimal
	Scores    map[domain.FactorType]domain.FactorScore
}

// Ranker computes composite scores from factor z-scores. The weight map is
// fixed at construction; a symbol's composite is the weighted mean over the
// factors it actually carries, so a missing factor shrinks the denominator
// instead of dragging the score toward zero.
type Ranker struct {
	weights map[domain.FactorType]decimal.Decimal
	log     zerolog.Logger
}

// NewRanker creates a ranker with the given factor weights. A nil or empty
// map means equal weighting.
func NewRanker(weights map[domain.FactorType]decimal.Decimal, log zerolog.Logger) *Ranker {
	if len(weights) == 0 {
		weights = make(map[domain.FactorType]decimal.Decimal, len(domain.AllFactorTypes()))
		for _, ft := range domain.AllFactorTypes() {
			weights[ft] = decimal.NewFromInt(1)
		}
	}
	return &Ranker{
		weights: weights,
		log:     log.With().Str("module", "ranking").Logger(),
	}
}

// Composite returns the weighted mean of the available factor z-scores, or
// false when the symbol carries no weighted factor at all.
func (r *Ranker) Composite(scores map[domain.FactorType]domain.FactorScore) (decimal.Decimal, bool) {
	sum := decimal.Zero
	weightSum := decimal.Zero
	for ft, score := range scores {
		w, ok := r.weights[ft]
		if !ok || w.IsZero() {
			continue
		}
		sum = sum.Add(score.SectorNormalized.Mul(w))
		weightSum = weightSum.Add(w)
	}
	if weightSum.IsZero() {
		return decimal.Zero, false
	}
	return domain.DivZ(sum, weightSum), true
}

// Rank orders the universe by descending composite score, ties broken by
// ascending symbol. Symbols with no scored factors are excluded rather than
// ranked at zero.
func (r *Ranker) Rank(scoresBySymbol map[string]map[domain.FactorType]domain.FactorScore) []RankedSymbol {
	ranked := make([]RankedSymbol, 0, len(scoresBySymbol))
	for symbol, scores := range scoresBySymbol {
		composite, ok := r.Composite(scores)
		if !ok {
			r.log.Debug().Str("symbol", symbol).Msg("No scored factors, excluded from ranking")
			continue
		}
		var sector string
		for _, s := range scores {
			sector = s.Sector
			break
		}
		ranked = append(ranked, RankedSymbol{
			Symbol:    symbol,
			Sector:    sector,
			Composite: composite,
			Scores:    scores,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].Composite.Equal(ranked[j].Composite) {
			return ranked[i].Composite.GreaterThan(ranked[j].Composite)
		}
		return ranked[i].Symbol < ranked[j].Symbol
	})

	for i := range ranked {
		ranked[i].Rank = i + 1
	}

	r.log.Debug().Int("ranked", len(ranked)).Msg("Composite ranking complete")
	return ranked
}
