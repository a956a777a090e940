// Package factors computes sector-normalized factor scores for universe
// constituents.
package factors

import (
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// Scorer converts raw factor values into sector-normalized z-scores with
// sector and universe percentiles.
//
// Raw values are caller-supplied domain data; the scorer never invents them.
// Normalization is per sector, per calculation date: z = (raw - sectorMean) /
// sectorStdDev with the sample (n-1) standard deviation. Sectors with a
// single member use a standard deviation of 1; a degenerate sector (stddev
// exactly 0) forces z to 0.
type Scorer struct {
	log zerolog.Logger
}

type member struct {
	symbol string
	sector string
	raw    decimal.Decimal
}

// NewScorer creates a new factor scorer.
func NewScorer(log zerolog.Logger) *Scorer {
	return &Scorer{log: log.With().Str("module", "factors").Logger()}
}

// Score computes FactorScores for every constituent present in rawValues.
// Constituents without a raw value for this factor are excluded (absent
// factors are excluded from composites, not zero-filled).
func (s *Scorer) Score(
	constituents []domain.UniverseConstituent,
	factorType domain.FactorType,
	calculationDate time.Time,
	rawValues map[string]decimal.Decimal,
) map[string]domain.FactorScore {

	var members []member
	bySector := make(map[string][]member)
	for _, c := range constituents {
		raw, ok := rawValues[c.Symbol]
		if !ok {
			continue
		}
		m := member{symbol: c.Symbol, sector: c.Sector, raw: raw}
		members = append(members, m)
		bySector[c.Sector] = append(bySector[c.Sector], m)
	}

	if len(members) == 0 {
		return map[string]domain.FactorScore{}
	}

	// Per-sector mean and sample standard deviation
	sectorMean := make(map[string]decimal.Decimal, len(bySector))
	sectorStdDev := make(map[string]decimal.Decimal, len(bySector))
	for sector, ms := range bySector {
		mean, stdDev := meanAndSampleStdDev(ms)
		sectorMean[sector] = mean
		sectorStdDev[sector] = stdDev
	}

	universeRaws := make([]decimal.Decimal, 0, len(members))
	for _, m := range members {
		universeRaws = append(universeRaws, m.raw)
	}

	scores := make(map[string]domain.FactorScore, len(members))
	for _, m := range members {
		mean := sectorMean[m.sector]
		stdDev := sectorStdDev[m.sector]

		var z decimal.Decimal
		if stdDev.IsZero() {
			// Degenerate sector: every member identical
			z = decimal.Zero
		} else {
			z = domain.DivZ(m.raw.Sub(mean), stdDev)
		}

		sectorRaws := make([]decimal.Decimal, 0, len(bySector[m.sector]))
		for _, peer := range bySector[m.sector] {
			sectorRaws = append(sectorRaws, peer.raw)
		}

		scores[m.symbol] = domain.FactorScore{
			Symbol:             m.symbol,
			FactorType:         factorType,
			CalculationDate:    calculationDate,
			Sector:             m.sector,
			RawScore:           m.raw,
			SectorNormalized:   z,
			SectorPercentile:   percentile(m.raw, sectorRaws),
			UniversePercentile: percentile(m.raw, universeRaws),
		}
	}

	s.log.Debug().
		Str("factor", string(factorType)).
		Int("scored", len(scores)).
		Int("sectors", len(bySector)).
		Msg("Factor scores computed")

	return scores
}

// meanAndSampleStdDev returns the sector mean at z-score scale and the
// sample (n-1) standard deviation. A single-member sector gets a standard
// deviation of 1 so its z-score degrades to raw - mean.
func meanAndSampleStdDev(members []member) (decimal.Decimal, decimal.Decimal) {
	n := len(members)

	sum := decimal.Zero
	for _, m := range members {
		sum = sum.Add(m.raw)
	}
	mean := domain.DivZ(sum, decimal.NewFromInt(int64(n)))

	if n <= 1 {
		return mean, decimal.NewFromInt(1)
	}

	sumSq := decimal.Zero
	for _, m := range members {
		diff := m.raw.Sub(mean)
		sumSq = sumSq.Add(diff.Mul(diff))
	}
	variance := domain.DivZ(sumSq, decimal.NewFromInt(int64(n-1)))

	// Square root has no exact decimal form; round the float result back to
	// z-score scale so every step stays at a defined scale.
	varFloat, _ := variance.Float64()
	stdDev := decimal.NewFromFloat(math.Sqrt(varFloat)).Round(domain.ScaleZScore)

	return mean, stdDev
}

// percentile returns the percentage of peers with a raw value strictly below
// value, at percentage scale.
func percentile(value decimal.Decimal, peers []decimal.Decimal) decimal.Decimal {
	if len(peers) == 0 {
		return decimal.Zero
	}

	sorted := make([]decimal.Decimal, len(peers))
	copy(sorted, peers)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	below := 0
	for _, p := range sorted {
		if p.LessThan(value) {
			below++
		} else {
			break
		}
	}

	ratio := domain.DivZ(decimal.NewFromInt(int64(below)), decimal.NewFromInt(int64(len(peers))))
	return domain.RoundPct(ratio.Mul(domain.Hundred))
}
