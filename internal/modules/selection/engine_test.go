package selection

import (
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	"github.com/quantfolio/advisor/internal/modules/ranking"
)

// permissiveSet disables every gate so tests can exercise one rule at a time.
func permissiveSet() domain.ConstraintSet {
	set := domain.DefaultConstraintSet("user-1")
	set.MaxNameWeightLargeCapPct = decimal.NewFromInt(100)
	set.MaxNameWeightMidCapPct = decimal.NewFromInt(100)
	set.MaxNameWeightSmallCapPct = decimal.NewFromInt(100)
	set.MaxSectorExposurePct = decimal.NewFromInt(100)
	set.TurnoverCapPct = decimal.Zero
	set.LiquidityFloorADVUSD = decimal.Zero
	set.WeightDeadbandBps = 0
	set.SpreadThresholdBps = 0
	set.EarningsBlackoutHours = 0
	return set
}

func newEngine() *Engine {
	return NewEngine(constraints.NewEvaluator(zerolog.Nop()), zerolog.Nop())
}

type candidate struct {
	symbol string
	sector string
	z      string
}

func universe(cands []candidate) ([]ranking.RankedSymbol, map[string]domain.UniverseConstituent) {
	ranked := make([]ranking.RankedSymbol, len(cands))
	constituents := make(map[string]domain.UniverseConstituent, len(cands))
	for i, c := range cands {
		ranked[i] = ranking.RankedSymbol{
			Symbol:    c.symbol,
			Sector:    c.sector,
			Rank:      i + 1,
			Composite: decimal.RequireFromString(c.z),
		}
		constituents[c.symbol] = domain.UniverseConstituent{
			Symbol:        c.symbol,
			Sector:        c.sector,
			MarketCapTier: domain.CapLarge,
			LiquidityTier: 2,
			AvgDailyValue: decimal.NewFromInt(50_000_000),
		}
	}
	return ranked, constituents
}

func TestEngine_SelectsTopRankedAtEqualWeight(t *testing.T) {
	engine := newEngine()
	ranked, constituents := universe([]candidate{
		{"AAA", "Technology", "2.0"},
		{"BBB", "Technology", "1.0"},
		{"CCC", "Financials", "0.5"},
	})

	result := engine.Select(ranked, constituents, 2, permissiveSet(), nil, decimal.NewFromInt(1_000_000))

	require.Len(t, result.Picks, 2)
	assert.Equal(t, "AAA", result.Picks[0].Symbol)
	assert.Equal(t, "BBB", result.Picks[1].Symbol)
	for _, p := range result.Picks {
		assert.True(t, p.TargetWeightPct.Equal(decimal.NewFromInt(50)),
			"expected 50%% weight, got %s", p.TargetWeightPct)
	}
}

func TestEngine_RejectedCandidateDoesNotConsumeSlot(t *testing.T) {
	engine := newEngine()
	ranked, constituents := universe([]candidate{
		{"AAA", "Technology", "2.0"},
		{"BBB", "Technology", "1.0"},
		{"CCC", "Financials", "0.5"},
	})

	// BBB fails the liquidity floor; CCC takes its slot.
	c := constituents["BBB"]
	c.AvgDailyValue = decimal.NewFromInt(100)
	constituents["BBB"] = c
	set := permissiveSet()
	set.LiquidityFloorADVUSD = decimal.NewFromInt(1_000_000)

	result := engine.Select(ranked, constituents, 2, set, nil, decimal.NewFromInt(1_000_000))

	require.Len(t, result.Picks, 2)
	assert.Equal(t, "AAA", result.Picks[0].Symbol)
	assert.Equal(t, "CCC", result.Picks[1].Symbol)
}

func TestEngine_EmptyRankedList(t *testing.T) {
	engine := newEngine()

	result := engine.Select(nil, nil, 30, permissiveSet(), nil, decimal.NewFromInt(1_000_000))

	assert.Empty(t, result.Picks)
	assert.True(t, result.TurnoverPct.IsZero())
}

func TestEngine_ZeroPortfolioValue(t *testing.T) {
	engine := newEngine()
	ranked, constituents := universe([]candidate{{"AAA", "Technology", "1.0"}})

	result := engine.Select(ranked, constituents, 1, permissiveSet(), nil, decimal.Zero)

	require.Len(t, result.Picks, 1)
	assert.True(t, result.TurnoverPct.IsZero())
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "turnover is undefined")
}

func TestEngine_TurnoverTrimStopsAtCap(t *testing.T) {
	engine := newEngine()

	// Twelve currently-held names ranked first, three new names at the
	// bottom. All fifteen selected: 3 buys of 1200*3/15 = 240 on a 1200
	// portfolio is 20% turnover.
	var cands []candidate
	var holdings []domain.Holding
	for i := 0; i < 12; i++ {
		symbol := fmt.Sprintf("HLD%02d", i)
		cands = append(cands, candidate{symbol, "Technology", "1.0"})
		holdings = append(holdings, domain.Holding{
			Symbol:      symbol,
			MarketValue: decimal.NewFromInt(100),
			WeightPct:   decimal.NewFromFloat(8.33),
		})
	}
	for i := 0; i < 3; i++ {
		cands = append(cands, candidate{fmt.Sprintf("NEW%02d", i), "Energy", "0.5"})
	}
	ranked, constituents := universe(cands)

	set := permissiveSet()
	set.TurnoverCapPct = decimal.NewFromInt(15)

	result := engine.Select(ranked, constituents, 15, set, holdings, decimal.NewFromInt(1200))

	// One trim: 14 picks leave 2 buys at 2*1200/14 = 171.43, 14.29%.
	require.Len(t, result.Picks, 14)
	assert.True(t, result.TurnoverPct.LessThanOrEqual(set.TurnoverCapPct),
		"turnover %s above cap", result.TurnoverPct)
	// The lowest-ranked pick (NEW02) was the one dropped.
	assert.Equal(t, "NEW01", result.Picks[len(result.Picks)-1].Symbol)
	assert.Empty(t, result.Notes)
}

func TestEngine_TrimNeverGoesBelowFloor(t *testing.T) {
	engine := newEngine()

	// All-new picks on an existing portfolio keep turnover at 100% no
	// matter how many are dropped, so trimming must stop at the floor.
	var cands []candidate
	for i := 0; i < 20; i++ {
		cands = append(cands, candidate{fmt.Sprintf("NEW%02d", i), "Technology", "1.0"})
	}
	ranked, constituents := universe(cands)
	holdings := []domain.Holding{{Symbol: "OLD", MarketValue: decimal.NewFromInt(1000), WeightPct: decimal.NewFromInt(100)}}

	set := permissiveSet()
	set.TurnoverCapPct = decimal.NewFromInt(5)

	result := engine.Select(ranked, constituents, 20, set, holdings, decimal.NewFromInt(1000))

	assert.Len(t, result.Picks, 10)
	require.Len(t, result.Notes, 1)
	assert.Contains(t, result.Notes[0], "cap still exceeded")
}

func TestTurnover_IdenticalPickSetIsZero(t *testing.T) {
	holdings := []domain.Holding{
		{Symbol: "AAA", MarketValue: decimal.NewFromInt(500)},
		{Symbol: "BBB", MarketValue: decimal.NewFromInt(500)},
	}
	picks := map[string]struct{}{"AAA": {}, "BBB": {}}

	turnover := Turnover(picks, holdings, decimal.NewFromInt(1000))
	assert.True(t, turnover.IsZero())
}

func TestTurnover_EmptyPickSetIsZero(t *testing.T) {
	holdings := []domain.Holding{{Symbol: "AAA", MarketValue: decimal.NewFromInt(500)}}
	assert.True(t, Turnover(nil, holdings, decimal.NewFromInt(1000)).IsZero())
}

func TestTurnover_MonotonicInSwaps(t *testing.T) {
	total := decimal.NewFromInt(1000)
	holdings := []domain.Holding{
		{Symbol: "AAA", MarketValue: decimal.NewFromInt(250)},
		{Symbol: "BBB", MarketValue: decimal.NewFromInt(250)},
		{Symbol: "CCC", MarketValue: decimal.NewFromInt(250)},
		{Symbol: "DDD", MarketValue: decimal.NewFromInt(250)},
	}

	// Swap in 0, 1, 2 new names for held ones, pick count fixed at 4.
	noSwap := Turnover(map[string]struct{}{"AAA": {}, "BBB": {}, "CCC": {}, "DDD": {}}, holdings, total)
	oneSwap := Turnover(map[string]struct{}{"AAA": {}, "BBB": {}, "CCC": {}, "NEW1": {}}, holdings, total)
	twoSwap := Turnover(map[string]struct{}{"AAA": {}, "BBB": {}, "NEW1": {}, "NEW2": {}}, holdings, total)

	assert.True(t, noSwap.LessThan(oneSwap))
	assert.True(t, oneSwap.LessThan(twoSwap))

	// One swap: sell 250 + buy 1000/4 = 500 over 1000 is 50%.
	assert.Equal(t, "50", oneSwap.String())
}
