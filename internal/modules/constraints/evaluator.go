// Package constraints holds the versioned constraint-set repository and the
// evaluator that gates candidates during selection.
package constraints

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// SelectionState is the evaluator's view of the picks accepted so far plus
// the portfolio's current holdings. The engine owns and updates it; the
// evaluator only reads.
type SelectionState struct {
	SectorCounts  map[string]int
	TotalSelected int
	Holdings      map[string]domain.Holding
}

// NewSelectionState builds the evaluator input from current holdings.
func NewSelectionState(holdings []domain.Holding) *SelectionState {
	bysym := make(map[string]domain.Holding, len(holdings))
	for _, h := range holdings {
		bysym[h.Symbol] = h
	}
	return &SelectionState{
		SectorCounts: make(map[string]int),
		Holdings:     bysym,
	}
}

// Accept records a pick so subsequent sector-exposure checks see it.
func (s *SelectionState) Accept(sector string) {
	s.SectorCounts[sector]++
	s.TotalSelected++
}

// Result is the evaluator's verdict on one candidate.
type Result struct {
	Passed    bool
	Violation domain.ViolationReason // set only when Passed is false
	Notes     string
}

// Evaluator applies the active constraint set to one candidate at a time.
// It is pure over its inputs; all state lives in SelectionState.
type Evaluator struct {
	log zerolog.Logger
}

// NewEvaluator creates a constraint evaluator.
func NewEvaluator(log zerolog.Logger) *Evaluator {
	return &Evaluator{log: log.With().Str("module", "constraints").Logger()}
}

// Evaluate checks a candidate against the constraint set. All rules are
// checked; the first violated rule in precedence order supplies the note.
// Rules for which no data is available pass with a note rather than failing
// the candidate.
func (e *Evaluator) Evaluate(
	c domain.UniverseConstituent,
	targetWeightPct decimal.Decimal,
	set domain.ConstraintSet,
	state *SelectionState,
) Result {
	var (
		violation domain.ViolationReason
		notes     []string
	)

	fail := func(v domain.ViolationReason, note string) {
		if violation == "" {
			violation = v
		}
		notes = append(notes, note)
	}

	// 1. Position-size cap by market-cap tier
	maxWeight := set.MaxNameWeightFor(c.MarketCapTier)
	if maxWeight.IsPositive() && targetWeightPct.GreaterThan(maxWeight) {
		fail(domain.ViolationPositionSize, fmt.Sprintf(
			"Target weight %s%% exceeds %s limit of %s%%",
			targetWeightPct.StringFixed(2), c.MarketCapTier.DisplayName(), maxWeight.StringFixed(2)))
	}

	// 2. Sector exposure cap, count-weighted over the picks so far. Early in
	// selection even a brand-new sector computes above any realistic cap
	// (the first pick is always 100%), so the effective limit is the larger
	// of the cap and the minimum achievable exposure at this step. Once
	// enough picks exist the minimum drops below the cap and the cap binds
	// exactly.
	sectorCount := 0
	totalSelected := 0
	if state != nil {
		sectorCount = state.SectorCounts[c.Sector]
		totalSelected = state.TotalSelected
	}
	denominator := decimal.NewFromInt(int64(totalSelected + 1))
	exposure := domain.DivPct(
		decimal.NewFromInt(int64(sectorCount+1)).Mul(domain.Hundred), denominator)
	if set.MaxSectorExposurePct.IsPositive() {
		limit := set.MaxSectorExposurePct
		if floor := domain.DivPct(domain.Hundred, denominator); floor.GreaterThan(limit) {
			limit = floor
		}
		if exposure.GreaterThan(limit) {
			fail(domain.ViolationSectorExposure, fmt.Sprintf(
				"Adding %s would put %s exposure at %s%%, above the %s%% cap",
				c.Symbol, c.Sector, exposure.StringFixed(2), set.MaxSectorExposurePct.StringFixed(2)))
		}
	}

	// 3. Liquidity floor. Zero ADV means no data, which passes with a note.
	if c.AvgDailyValue.IsPositive() && set.LiquidityFloorADVUSD.IsPositive() &&
		c.AvgDailyValue.LessThan(set.LiquidityFloorADVUSD) {
		fail(domain.ViolationLiquidityFloor, fmt.Sprintf(
			"Average daily value $%s below the $%s liquidity floor",
			c.AvgDailyValue.StringFixed(0), set.LiquidityFloorADVUSD.StringFixed(0)))
	} else if c.AvgDailyValue.IsZero() && set.LiquidityFloorADVUSD.IsPositive() {
		notes = append(notes, "Liquidity data unavailable; floor check skipped")
	}

	// 4. Earnings-blackout and spread gates. No live calendar or quote feed
	// is attached here, so both default to pass with a note.
	if set.EarningsBlackoutHours > 0 {
		notes = append(notes, "Earnings calendar unavailable; blackout check skipped")
	}
	if set.SpreadThresholdBps > 0 {
		notes = append(notes, "Spread data unavailable; threshold check skipped")
	}

	// Deadband warning for existing holdings whose weight barely moves.
	if state != nil {
		if h, held := state.Holdings[c.Symbol]; held && set.WeightDeadbandBps > 0 {
			deadbandPct := domain.DivPct(decimal.NewFromInt(int64(set.WeightDeadbandBps)), domain.Hundred)
			change := targetWeightPct.Sub(h.WeightPct).Abs()
			if change.LessThanOrEqual(deadbandPct) {
				notes = append(notes, fmt.Sprintf(
					"Weight change %s%% is inside the %dbps deadband", change.StringFixed(2), set.WeightDeadbandBps))
			}
		}
	}

	return Result{
		Passed:    violation == "",
		Violation: violation,
		Notes:     strings.Join(notes, "; "),
	}
}
