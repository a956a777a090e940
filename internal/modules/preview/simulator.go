// Package preview answers "what would change" for a modified constraint
// set by re-running selection against a finalized run's frozen rank order.
// No factor scores are recomputed and the baseline run is never touched.
package preview

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	"github.com/quantfolio/advisor/internal/modules/portfolio"
	"github.com/quantfolio/advisor/internal/modules/ranking"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
	"github.com/quantfolio/advisor/internal/modules/selection"
)

// ErrNoHistoricalRun is returned when no finalized run exists to preview
// against. This is a caller-visible precondition, never an empty result.
var ErrNoHistoricalRun = errors.New("no historical run data for preview")

// Stated accuracy bands on the approximation. Fixed, not data-derived.
var (
	turnoverBandLow  = decimal.NewFromFloat(0.85)
	turnoverBandHigh = decimal.NewFromFloat(1.15)
)

// Result is one preview outcome with its accuracy bands.
type Result struct {
	BaselineRunID string

	ExpectedPickCount      int
	PickCountLow           int
	PickCountHigh          int
	ExpectedPickCountRange string

	ExpectedTurnoverPct   decimal.Decimal
	TurnoverLow           decimal.Decimal
	TurnoverHigh          decimal.Decimal
	ExpectedTurnoverRange string

	AffectedPositionsCount int
	DroppedSymbols         []string
	AddedSymbols           []string

	ConstraintChangesSummary string
	AccuracyNote             string
	Warnings                 []string
}

// Simulator re-executes selection and turnover trimming against modified
// constraints.
type Simulator struct {
	constraintRepo *constraints.Repository
	runRepo        *recommendation.RunRepository
	recRepo        *recommendation.Repository
	portfolioRepo  *portfolio.Repository
	snapshots      *SnapshotStore
	engine         *selection.Engine
	targetHoldings int
	log            zerolog.Logger
}

// NewSimulator creates a preview simulator.
func NewSimulator(
	constraintRepo *constraints.Repository,
	runRepo *recommendation.RunRepository,
	recRepo *recommendation.Repository,
	portfolioRepo *portfolio.Repository,
	snapshots *SnapshotStore,
	engine *selection.Engine,
	targetHoldings int,
	log zerolog.Logger,
) *Simulator {
	if targetHoldings <= 0 {
		targetHoldings = 30
	}
	return &Simulator{
		constraintRepo: constraintRepo,
		runRepo:        runRepo,
		recRepo:        recRepo,
		portfolioRepo:  portfolioRepo,
		snapshots:      snapshots,
		engine:         engine,
		targetHoldings: targetHoldings,
		log:            log.With().Str("module", "preview").Logger(),
	}
}

// Preview simulates selection for the portfolio under the overlaid
// constraints, using the most recent finalized run as the frozen baseline.
func (s *Simulator) Preview(portfolioID string, overlay Overlay) (*Result, error) {
	p, err := s.portfolioRepo.GetPortfolio(portfolioID)
	if err != nil {
		return nil, err
	}

	active, err := s.constraintRepo.GetActive(p.UserID)
	if err != nil {
		return nil, err
	}
	modified, changesSummary := overlay.Apply(active)

	baseline, err := s.runRepo.PreviousFinalized(p.UserID, nil)
	if errors.Is(err, recommendation.ErrNoFinalizedRun) {
		return nil, ErrNoHistoricalRun
	}
	if err != nil {
		return nil, err
	}

	ranked, constituentsBySymbol, baselineSymbols, err := s.frozenInputs(baseline.ID)
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, ErrNoHistoricalRun
	}

	holdings, err := s.portfolioRepo.GetHoldings(portfolioID)
	if err != nil {
		return nil, err
	}

	selected := s.engine.Select(ranked, constituentsBySymbol, s.targetHoldings, modified, holdings, p.TotalValue())

	result := s.buildResult(baseline, selected, baselineSymbols, changesSummary)
	s.log.Info().
		Str("portfolio_id", portfolioID).
		Str("baseline_run_id", baseline.ID).
		Int("expected_picks", result.ExpectedPickCount).
		Str("expected_turnover_pct", result.ExpectedTurnoverPct.String()).
		Msg("Constraint preview simulated")
	return result, nil
}

// frozenInputs loads the baseline rank order, preferring the snapshot cache
// and backfilling it after a miss. Every baseline recommendation was a pick,
// so the ranked symbols double as the baseline pick set.
func (s *Simulator) frozenInputs(runID string) ([]ranking.RankedSymbol, map[string]domain.UniverseConstituent, []string, error) {
	ranked, constituents, ok, err := s.snapshots.Load(runID)
	if err != nil {
		return nil, nil, nil, err
	}
	if !ok {
		recs, err := s.recRepo.GetByRunID(runID)
		if err != nil {
			return nil, nil, nil, err
		}
		ranked, constituents = FromRecommendations(recs)
		if len(recs) > 0 {
			if err := s.snapshots.Save(runID, recs); err != nil {
				s.log.Warn().Err(err).Str("run_id", runID).Msg("Failed to backfill run snapshot")
			}
		}
	}

	symbols := make([]string, 0, len(ranked))
	for _, rs := range ranked {
		symbols = append(symbols, rs.Symbol)
	}
	return ranked, constituents, symbols, nil
}

func (s *Simulator) buildResult(
	baseline domain.RecommendationRun,
	selected selection.Result,
	baselineSymbols []string,
	changesSummary string,
) *Result {
	picked := make(map[string]struct{}, len(selected.Picks))
	for _, p := range selected.Picks {
		picked[p.Symbol] = struct{}{}
	}
	baselineSet := make(map[string]struct{}, len(baselineSymbols))
	var dropped []string
	for _, symbol := range baselineSymbols {
		baselineSet[symbol] = struct{}{}
		if _, kept := picked[symbol]; !kept {
			dropped = append(dropped, symbol)
		}
	}
	var added []string
	for _, p := range selected.Picks {
		if _, existed := baselineSet[p.Symbol]; !existed {
			added = append(added, p.Symbol)
		}
	}
	sort.Strings(dropped)
	sort.Strings(added)

	count := len(selected.Picks)
	low := int(math.Floor(float64(count) * 0.90))
	high := int(math.Ceil(float64(count) * 1.10))

	turnoverLow := selected.TurnoverPct.Mul(turnoverBandLow).Round(1)
	turnoverHigh := selected.TurnoverPct.Mul(turnoverBandHigh).Round(1)

	result := &Result{
		BaselineRunID:     baseline.ID,
		ExpectedPickCount: count,
		PickCountLow:      low,
		PickCountHigh:     high,
		ExpectedPickCountRange: fmt.Sprintf("±10%% (%d-%d picks)", low, high),
		ExpectedTurnoverPct:    selected.TurnoverPct,
		TurnoverLow:            turnoverLow,
		TurnoverHigh:           turnoverHigh,
		ExpectedTurnoverRange: fmt.Sprintf("±15%% (%s-%s%%)",
			turnoverLow.StringFixed(1), turnoverHigh.StringFixed(1)),
		AffectedPositionsCount:   len(dropped) + len(added),
		DroppedSymbols:           dropped,
		AddedSymbols:             added,
		ConstraintChangesSummary: changesSummary,
	}

	if baseline.CompletedAt != nil {
		result.AccuracyNote = fmt.Sprintf(
			"Based on last run's factor scores from %s, actual results may vary. Pick count ±10%%, turnover ±15%%",
			baseline.CompletedAt.Format("2006-01-02"))
	}

	if len(dropped) > 5 {
		result.Warnings = append(result.Warnings, fmt.Sprintf(
			"Warning: %d positions would be dropped with these constraints", len(dropped)))
	}
	if count < 15 {
		result.Warnings = append(result.Warnings,
			"Warning: Very few picks may reduce diversification and increase concentration risk")
	}

	return result
}
