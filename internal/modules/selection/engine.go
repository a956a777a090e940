// Package selection walks the composite ranking, applies constraints and
// turnover control, and emits the final weighted pick list.
package selection

import (
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	"github.com/quantfolio/advisor/internal/modules/ranking"
)

// minPicks is the floor below which turnover trimming never reduces the
// pick list, even if the cap is still exceeded.
const minPicks = 10

// Pick is one selected position.
type Pick struct {
	ranking.RankedSymbol

	Constituent      domain.UniverseConstituent
	TargetWeightPct  decimal.Decimal
	CurrentWeightPct decimal.Decimal
	WeightChangePct  decimal.Decimal
	ConstraintNotes  string
}

// Result is the outcome of one selection pass.
type Result struct {
	Picks       []Pick
	TurnoverPct decimal.Decimal
	// Notes carries run-level conditions such as an undefined turnover.
	Notes []string
}

// Engine selects and sizes positions from a ranked list.
type Engine struct {
	evaluator *constraints.Evaluator
	log       zerolog.Logger
}

// NewEngine creates a selection engine.
func NewEngine(evaluator *constraints.Evaluator, log zerolog.Logger) *Engine {
	return &Engine{
		evaluator: evaluator,
		log:       log.With().Str("module", "selection").Logger(),
	}
}

// Select walks the ranked list top-down, skipping candidates the evaluator
// rejects, until targetCount slots are filled or the list is exhausted. It
// then trims the lowest-ranked picks while turnover exceeds the cap, never
// going below minPicks. An empty ranked list yields an empty result, not an
// error.
func (e *Engine) Select(
	ranked []ranking.RankedSymbol,
	constituents map[string]domain.UniverseConstituent,
	targetCount int,
	set domain.ConstraintSet,
	holdings []domain.Holding,
	totalPortfolioValue decimal.Decimal,
) Result {
	var result Result
	if len(ranked) == 0 || targetCount <= 0 {
		return result
	}

	// Equal-weight sizing: every position targets 100/N.
	targetWeight := domain.DivZ(domain.Hundred, decimal.NewFromInt(int64(targetCount)))

	state := constraints.NewSelectionState(holdings)
	for _, rs := range ranked {
		if len(result.Picks) >= targetCount {
			break
		}
		c, ok := constituents[rs.Symbol]
		if !ok {
			e.log.Warn().Str("symbol", rs.Symbol).Msg("Ranked symbol missing from universe, skipped")
			continue
		}

		verdict := e.evaluator.Evaluate(c, targetWeight, set, state)
		if !verdict.Passed {
			e.log.Debug().
				Str("symbol", rs.Symbol).
				Str("violation", string(verdict.Violation)).
				Msg("Candidate rejected")
			continue
		}

		current := decimal.Zero
		if h, held := state.Holdings[rs.Symbol]; held {
			current = h.WeightPct
		}

		result.Picks = append(result.Picks, Pick{
			RankedSymbol:     rs,
			Constituent:      c,
			TargetWeightPct:  targetWeight,
			CurrentWeightPct: current,
			WeightChangePct:  targetWeight.Sub(current),
			ConstraintNotes:  verdict.Notes,
		})
		state.Accept(c.Sector)
	}

	if totalPortfolioValue.IsZero() {
		result.Notes = append(result.Notes,
			"Portfolio value is zero; turnover is undefined and treated as 0")
		return result
	}

	result.TurnoverPct = Turnover(pickSymbols(result.Picks), holdings, totalPortfolioValue)

	// Turnover control: drop the lowest-ranked pick until under the cap or
	// at the floor.
	if set.TurnoverCapPct.IsPositive() {
		for result.TurnoverPct.GreaterThan(set.TurnoverCapPct) && len(result.Picks) > minPicks {
			dropped := result.Picks[len(result.Picks)-1]
			result.Picks = result.Picks[:len(result.Picks)-1]
			result.TurnoverPct = Turnover(pickSymbols(result.Picks), holdings, totalPortfolioValue)
			e.log.Debug().
				Str("symbol", dropped.Symbol).
				Str("turnover_pct", result.TurnoverPct.String()).
				Msg("Pick trimmed for turnover")
		}
		if result.TurnoverPct.GreaterThan(set.TurnoverCapPct) {
			result.Notes = append(result.Notes,
				"Turnover cap still exceeded at the minimum pick count")
		}
	}

	e.log.Info().
		Int("picks", len(result.Picks)).
		Str("turnover_pct", result.TurnoverPct.String()).
		Msg("Selection complete")

	return result
}

// Turnover approximates the portfolio fraction traded when moving from the
// current holdings to the pick set. Sells are valued at current market
// value; buys at an equal share of portfolio value per new name. An empty
// pick set trades nothing.
func Turnover(picks map[string]struct{}, holdings []domain.Holding, totalPortfolioValue decimal.Decimal) decimal.Decimal {
	if len(picks) == 0 || totalPortfolioValue.IsZero() {
		return decimal.Zero
	}

	held := make(map[string]struct{}, len(holdings))
	sellValue := decimal.Zero
	for _, h := range holdings {
		held[h.Symbol] = struct{}{}
		if _, kept := picks[h.Symbol]; !kept {
			sellValue = sellValue.Add(h.MarketValue)
		}
	}

	toBuy := 0
	for symbol := range picks {
		if _, ok := held[symbol]; !ok {
			toBuy++
		}
	}

	buyValue := decimal.NewFromInt(int64(toBuy)).
		Mul(totalPortfolioValue).
		DivRound(decimal.NewFromInt(int64(len(picks))), domain.ScaleZScore)

	return domain.DivZ(sellValue.Add(buyValue), totalPortfolioValue).Mul(domain.Hundred)
}

func pickSymbols(picks []Pick) map[string]struct{} {
	symbols := make(map[string]struct{}, len(picks))
	for _, p := range picks {
		symbols[p.Symbol] = struct{}{}
	}
	return symbols
}
