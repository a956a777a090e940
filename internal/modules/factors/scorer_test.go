package factors

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/advisor/internal/domain"
)

func constituent(symbol, sector string) domain.UniverseConstituent {
	return domain.UniverseConstituent{
		Symbol: symbol,
		Name:   symbol + " Corp",
		Sector: sector,
	}
}

func raw(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestScorer_SectorZScores(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())
	date := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Technology"),
		constituent("BBB", "Technology"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("10"),
		"BBB": raw("20"),
	}

	scores := scorer.Score(constituents, domain.FactorValue, date, rawValues)
	require.Len(t, scores, 2)

	// mean 15, sample stddev sqrt(50) = 7.0711, so z = +/- 5/7.0711
	assert.Equal(t, "-0.7071", scores["AAA"].SectorNormalized.String())
	assert.Equal(t, "0.7071", scores["BBB"].SectorNormalized.String())

	assert.Equal(t, domain.FactorValue, scores["AAA"].FactorType)
	assert.Equal(t, "Technology", scores["AAA"].Sector)
	assert.True(t, scores["AAA"].CalculationDate.Equal(date))
}

func TestScorer_ZScoresCenterOnSectorMean(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Energy"),
		constituent("BBB", "Energy"),
		constituent("CCC", "Energy"),
		constituent("DDD", "Energy"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("1.5"),
		"BBB": raw("3.25"),
		"CCC": raw("-2"),
		"DDD": raw("7.75"),
	}

	scores := scorer.Score(constituents, domain.FactorQuality, time.Now(), rawValues)
	require.Len(t, scores, 4)

	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(s.SectorNormalized)
	}
	// Rounding at scale 4 leaves at most a basis point of drift.
	assert.True(t, sum.Abs().LessThan(raw("0.001")),
		"z-scores should sum to ~0 within a sector, got %s", sum)
}

func TestScorer_SingleMemberSector(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Utilities"),
		constituent("BBB", "Technology"),
		constituent("CCC", "Technology"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("42"),
		"BBB": raw("1"),
		"CCC": raw("2"),
	}

	scores := scorer.Score(constituents, domain.FactorValue, time.Now(), rawValues)
	require.Len(t, scores, 3)

	// A lone member sits at its own sector mean with stddev pinned to 1.
	assert.True(t, scores["AAA"].SectorNormalized.IsZero(),
		"singleton sector z-score should be zero, got %s", scores["AAA"].SectorNormalized)
}

func TestScorer_ZeroStdDevSector(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Financials"),
		constituent("BBB", "Financials"),
		constituent("CCC", "Financials"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("5"),
		"BBB": raw("5"),
		"CCC": raw("5"),
	}

	scores := scorer.Score(constituents, domain.FactorRevisions, time.Now(), rawValues)
	require.Len(t, scores, 3)

	for symbol, s := range scores {
		assert.True(t, s.SectorNormalized.IsZero(), "expected zero z-score for %s", symbol)
	}
}

func TestScorer_Percentiles(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Technology"),
		constituent("BBB", "Technology"),
		constituent("CCC", "Technology"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("1"),
		"BBB": raw("2"),
		"CCC": raw("3"),
	}

	scores := scorer.Score(constituents, domain.FactorValue, time.Now(), rawValues)
	require.Len(t, scores, 3)

	// Percentile counts strictly lower peers.
	assert.Equal(t, "0", scores["AAA"].SectorPercentile.String())
	assert.Equal(t, "33.33", scores["BBB"].SectorPercentile.String())
	assert.Equal(t, "66.67", scores["CCC"].SectorPercentile.String())

	// Single-sector universe: universe percentile matches sector percentile.
	assert.True(t, scores["BBB"].UniversePercentile.Equal(scores["BBB"].SectorPercentile))
}

func TestScorer_MissingRawValuesExcluded(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	constituents := []domain.UniverseConstituent{
		constituent("AAA", "Technology"),
		constituent("BBB", "Technology"),
		constituent("CCC", "Technology"),
	}
	rawValues := map[string]decimal.Decimal{
		"AAA": raw("10"),
		"CCC": raw("30"),
	}

	scores := scorer.Score(constituents, domain.FactorRevisions, time.Now(), rawValues)

	require.Len(t, scores, 2)
	assert.NotContains(t, scores, "BBB")
}

func TestScorer_EmptyInputs(t *testing.T) {
	scorer := NewScorer(zerolog.Nop())

	scores := scorer.Score(nil, domain.FactorValue, time.Now(), nil)
	assert.Empty(t, scores)

	scores = scorer.Score(
		[]domain.UniverseConstituent{constituent("AAA", "Technology")},
		domain.FactorValue, time.Now(),
		map[string]decimal.Decimal{},
	)
	assert.Empty(t, scores)
}
