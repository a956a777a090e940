package ranking

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/advisor/internal/domain"
)

func zscores(pairs map[domain.FactorType]string) map[domain.FactorType]domain.FactorScore {
	scores := make(map[domain.FactorType]domain.FactorScore, len(pairs))
	for ft, z := range pairs {
		scores[ft] = domain.FactorScore{
			FactorType:       ft,
			Sector:           "Technology",
			SectorNormalized: decimal.RequireFromString(z),
		}
	}
	return scores
}

func TestRanker_EqualWeightComposite(t *testing.T) {
	ranker := NewRanker(nil, zerolog.Nop())

	composite, ok := ranker.Composite(zscores(map[domain.FactorType]string{
		domain.FactorValue:    "2.0",
		domain.FactorMomentum: "1.0",
		domain.FactorQuality:  "0.0",
		domain.FactorRevisions: "1.0",
	}))

	require.True(t, ok)
	assert.Equal(t, "1", composite.String())
}

func TestRanker_AbsentFactorsShrinkDenominator(t *testing.T) {
	ranker := NewRanker(nil, zerolog.Nop())

	// Only two of four factors present: mean over two, not four.
	composite, ok := ranker.Composite(zscores(map[domain.FactorType]string{
		domain.FactorValue:    "2.0",
		domain.FactorMomentum: "1.0",
	}))

	require.True(t, ok)
	assert.Equal(t, "1.5", composite.String())
}

func TestRanker_NoScoredFactors(t *testing.T) {
	ranker := NewRanker(nil, zerolog.Nop())

	_, ok := ranker.Composite(map[domain.FactorType]domain.FactorScore{})
	assert.False(t, ok)
}

func TestRanker_CustomWeights(t *testing.T) {
	ranker := NewRanker(map[domain.FactorType]decimal.Decimal{
		domain.FactorValue:    decimal.NewFromInt(3),
		domain.FactorMomentum: decimal.NewFromInt(1),
	}, zerolog.Nop())

	composite, ok := ranker.Composite(zscores(map[domain.FactorType]string{
		domain.FactorValue:    "2.0",
		domain.FactorMomentum: "-2.0",
		// Quality carries no weight and must not contribute.
		domain.FactorQuality: "-100",
	}))

	require.True(t, ok)
	// (3*2 + 1*-2) / 4 = 1
	assert.Equal(t, "1", composite.String())
}

func TestRanker_RankDescendingWithSymbolTieBreak(t *testing.T) {
	ranker := NewRanker(nil, zerolog.Nop())

	ranked := ranker.Rank(map[string]map[domain.FactorType]domain.FactorScore{
		"CCC": zscores(map[domain.FactorType]string{domain.FactorValue: "0.5"}),
		"BBB": zscores(map[domain.FactorType]string{domain.FactorValue: "1.0"}),
		"AAA": zscores(map[domain.FactorType]string{domain.FactorValue: "2.0"}),
		"ZZZ": zscores(map[domain.FactorType]string{domain.FactorValue: "1.0"}),
	})

	require.Len(t, ranked, 4)
	assert.Equal(t, "AAA", ranked[0].Symbol)
	// BBB and ZZZ tie at 1.0; ascending symbol breaks the tie.
	assert.Equal(t, "BBB", ranked[1].Symbol)
	assert.Equal(t, "ZZZ", ranked[2].Symbol)
	assert.Equal(t, "CCC", ranked[3].Symbol)

	for i, rs := range ranked {
		assert.Equal(t, i+1, rs.Rank)
	}
}

func TestRanker_UnscoredSymbolsExcluded(t *testing.T) {
	ranker := NewRanker(nil, zerolog.Nop())

	ranked := ranker.Rank(map[string]map[domain.FactorType]domain.FactorScore{
		"AAA": zscores(map[domain.FactorType]string{domain.FactorValue: "1.0"}),
		"BBB": {},
	})

	require.Len(t, ranked, 1)
	assert.Equal(t, "AAA", ranked[0].Symbol)
}
