package factors

import (
	"sort"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfolio/advisor/internal/domain"
)

// DistributionSummary describes the spread of a factor's z-scores across the
// universe. Logged per run as a data-quality signal; not part of the scoring
// contract, so float precision is fine here.
type DistributionSummary struct {
	Factor domain.FactorType `json:"factor"`
	Count  int               `json:"count"`
	Mean   float64           `json:"mean"`
	StdDev float64           `json:"std_dev"`
	P10    float64           `json:"p10"`
	Median float64           `json:"median"`
	P90    float64           `json:"p90"`
}

// Summarize computes the z-score distribution for one factor's scores.
func Summarize(factor domain.FactorType, scores map[string]domain.FactorScore) DistributionSummary {
	values := make([]float64, 0, len(scores))
	for _, s := range scores {
		f, _ := s.SectorNormalized.Float64()
		values = append(values, f)
	}
	sort.Float64s(values)

	summary := DistributionSummary{Factor: factor, Count: len(values)}
	if len(values) == 0 {
		return summary
	}

	summary.Mean, summary.StdDev = stat.MeanStdDev(values, nil)
	summary.P10 = stat.Quantile(0.10, stat.Empirical, values, nil)
	summary.Median = stat.Quantile(0.50, stat.Empirical, values, nil)
	summary.P90 = stat.Quantile(0.90, stat.Empirical, values, nil)

	return summary
}

// LogSummary writes one distribution summary at debug level.
func LogSummary(log zerolog.Logger, s DistributionSummary) {
	log.Debug().
		Str("factor", string(s.Factor)).
		Int("count", s.Count).
		Float64("mean", s.Mean).
		Float64("std_dev", s.StdDev).
		Float64("p10", s.P10).
		Float64("median", s.Median).
		Float64("p90", s.P90).
		Msg("Factor z-score distribution")
}
