// Package changes labels how a run's pick list moved relative to the prior
// finalized run.
package changes

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// weightDeadband is the weight-difference threshold (1 basis point) below
// which a position counts as UNCHANGED.
var weightDeadband = decimal.NewFromFloat(0.01)

// IndicatorStore persists change indicators onto current-run rows.
type IndicatorStore interface {
	SetChangeIndicators(runID string, indicators map[string]domain.ChangeIndicator) error
}

// Summary reports the classification outcome. Removed names have no row in
// the current run; they appear here only.
type Summary struct {
	Counts         map[domain.ChangeIndicator]int
	RemovedSymbols []string
}

// Classifier compares a run's recommendations against the prior baseline.
type Classifier struct {
	log zerolog.Logger
}

// NewClassifier creates a change classifier.
func NewClassifier(log zerolog.Logger) *Classifier {
	return &Classifier{log: log.With().Str("module", "changes").Logger()}
}

// Classify labels every current-run symbol. With no baseline every symbol is
// NEW. Classification is a pure function of the two weight sets, so
// re-running it against the same pair always yields the same labels.
func (c *Classifier) Classify(current, previous []domain.Recommendation) (map[string]domain.ChangeIndicator, []string) {
	indicators := make(map[string]domain.ChangeIndicator, len(current))

	if len(previous) == 0 {
		for _, rec := range current {
			indicators[rec.Symbol] = domain.ChangeNew
		}
		return indicators, nil
	}

	previousWeights := make(map[string]decimal.Decimal, len(previous))
	for _, rec := range previous {
		previousWeights[rec.Symbol] = rec.TargetWeightPct
	}

	for _, rec := range current {
		prevWeight, existed := previousWeights[rec.Symbol]
		if !existed {
			indicators[rec.Symbol] = domain.ChangeNew
			continue
		}
		diff := rec.TargetWeightPct.Sub(prevWeight)
		switch {
		case diff.Abs().LessThanOrEqual(weightDeadband):
			indicators[rec.Symbol] = domain.ChangeUnchanged
		case diff.IsPositive():
			indicators[rec.Symbol] = domain.ChangeIncreased
		default:
			indicators[rec.Symbol] = domain.ChangeDecreased
		}
	}

	currentSymbols := make(map[string]struct{}, len(current))
	for _, rec := range current {
		currentSymbols[rec.Symbol] = struct{}{}
	}
	var removed []string
	for _, rec := range previous {
		if _, kept := currentSymbols[rec.Symbol]; !kept {
			removed = append(removed, rec.Symbol)
		}
	}
	sort.Strings(removed)

	return indicators, removed
}

// Apply classifies and persists the indicators onto the current run's rows,
// returning the summary.
func (c *Classifier) Apply(store IndicatorStore, runID string, current, previous []domain.Recommendation) (Summary, error) {
	indicators, removed := c.Classify(current, previous)

	if err := store.SetChangeIndicators(runID, indicators); err != nil {
		return Summary{}, fmt.Errorf("failed to persist change indicators: %w", err)
	}

	counts := make(map[domain.ChangeIndicator]int)
	for _, ind := range indicators {
		counts[ind]++
	}
	if len(removed) > 0 {
		counts[domain.ChangeRemoved] = len(removed)
	}

	c.log.Info().
		Str("run_id", runID).
		Int("new", counts[domain.ChangeNew]).
		Int("increased", counts[domain.ChangeIncreased]).
		Int("decreased", counts[domain.ChangeDecreased]).
		Int("unchanged", counts[domain.ChangeUnchanged]).
		Int("removed", counts[domain.ChangeRemoved]).
		Msg("Change classification applied")

	return Summary{Counts: counts, RemovedSymbols: removed}, nil
}
