// Package explain renders factor drivers and constraint notes into the prose
// explanation attached to each recommendation.
package explain

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// percentileCallout is the universe percentile above which a factor earns a
// "top X% of universe" mention.
var percentileCallout = decimal.NewFromInt(80)

// Builder assembles recommendation explanations.
type Builder struct {
	log zerolog.Logger
}

// NewBuilder creates an explanation builder.
func NewBuilder(log zerolog.Logger) *Builder {
	return &Builder{log: log.With().Str("module", "explain").Logger()}
}

// TopDrivers returns up to three factors sorted by descending z-score, ties
// broken by factor name so repeated builds agree.
func (b *Builder) TopDrivers(scores map[domain.FactorType]domain.FactorScore) []domain.FactorDriver {
	drivers := make([]domain.FactorDriver, 0, len(scores))
	for ft, s := range scores {
		drivers = append(drivers, domain.FactorDriver{Factor: ft, Score: s.SectorNormalized})
	}

	sort.Slice(drivers, func(i, j int) bool {
		if !drivers[i].Score.Equal(drivers[j].Score) {
			return drivers[i].Score.GreaterThan(drivers[j].Score)
		}
		return drivers[i].Factor < drivers[j].Factor
	})

	if len(drivers) > 3 {
		drivers = drivers[:3]
	}
	return drivers
}

// Build renders one recommendation's explanation: rank clause, driver
// clauses with strength labels, percentile callouts for factors above the
// 80th universe percentile, then constraint notes verbatim.
func (b *Builder) Build(
	symbol string,
	rank int,
	scores map[domain.FactorType]domain.FactorScore,
	drivers []domain.FactorDriver,
	constraintNotes string,
) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Ranked #%d. ", rank)

	if len(drivers) > 0 {
		clauses := make([]string, 0, 3)
		for i, d := range drivers {
			if i == 3 {
				break
			}
			clauses = append(clauses, fmt.Sprintf(
				"%s %s (%s)", StrengthLabel(d.Score), d.Factor.DisplayName(), d.Score.StringFixed(2)))
		}
		sb.WriteString("Primary drivers: ")
		sb.WriteString(strings.Join(clauses, ", "))
		sb.WriteString(". ")
	}

	var callouts []string
	for _, ft := range domain.AllFactorTypes() {
		s, ok := scores[ft]
		if !ok {
			continue
		}
		if s.UniversePercentile.GreaterThan(percentileCallout) {
			callouts = append(callouts, fmt.Sprintf(
				"%s in top %s%% of universe",
				ft.DisplayName(), domain.Hundred.Sub(s.UniversePercentile).StringFixed(0)))
		}
	}
	if len(callouts) > 0 {
		sb.WriteString(strings.Join(callouts, ", "))
		sb.WriteString(". ")
	}

	if constraintNotes != "" {
		sb.WriteString("Note: ")
		sb.WriteString(constraintNotes)
	}

	return strings.TrimSpace(sb.String())
}

// StrengthLabel buckets a z-score into a qualitative label. Boundaries are
// strict: a score of exactly 2.0 reads "Strong", not "Very strong".
func StrengthLabel(score decimal.Decimal) string {
	switch {
	case score.GreaterThan(decimal.NewFromFloat(2.0)):
		return "Very strong"
	case score.GreaterThan(decimal.NewFromFloat(1.0)):
		return "Strong"
	case score.GreaterThan(decimal.NewFromFloat(0.5)):
		return "Moderate"
	case score.GreaterThan(decimal.NewFromFloat(-0.5)):
		return "Neutral"
	case score.GreaterThan(decimal.NewFromFloat(-1.0)):
		return "Weak"
	default:
		return "Very weak"
	}
}
