package explain

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfolio/advisor/internal/domain"
)

func score(ft domain.FactorType, z, universePct string) domain.FactorScore {
	return domain.FactorScore{
		FactorType:         ft,
		SectorNormalized:   decimal.RequireFromString(z),
		UniversePercentile: decimal.RequireFromString(universePct),
	}
}

func TestStrengthLabel(t *testing.T) {
	tests := []struct {
		score string
		want  string
	}{
		{"2.5", "Very strong"},
		{"2.01", "Very strong"},
		{"2.0", "Strong"}, // strict boundary
		{"1.01", "Strong"},
		{"1.0", "Moderate"},
		{"0.51", "Moderate"},
		{"0.5", "Neutral"},
		{"0", "Neutral"},
		{"-0.5", "Weak"},
		{"-0.99", "Weak"},
		{"-1.0", "Very weak"},
		{"-3", "Very weak"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, StrengthLabel(decimal.RequireFromString(tt.score)), "score %s", tt.score)
	}
}

func TestBuilder_TopDrivers(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	drivers := b.TopDrivers(map[domain.FactorType]domain.FactorScore{
		domain.FactorValue:     score(domain.FactorValue, "0.5", "50"),
		domain.FactorMomentum:  score(domain.FactorMomentum, "2.1", "90"),
		domain.FactorQuality:   score(domain.FactorQuality, "-0.3", "40"),
		domain.FactorRevisions: score(domain.FactorRevisions, "1.2", "70"),
	})

	require.Len(t, drivers, 3)
	assert.Equal(t, domain.FactorMomentum, drivers[0].Factor)
	assert.Equal(t, domain.FactorRevisions, drivers[1].Factor)
	assert.Equal(t, domain.FactorValue, drivers[2].Factor)
}

func TestBuilder_Build(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	scores := map[domain.FactorType]domain.FactorScore{
		domain.FactorValue:    score(domain.FactorValue, "2.1", "92"),
		domain.FactorMomentum: score(domain.FactorMomentum, "0.8", "60"),
	}
	drivers := b.TopDrivers(scores)

	text := b.Build("AAA", 1, scores, drivers, "")

	assert.Contains(t, text, "Ranked #1.")
	assert.Contains(t, text, "Very strong Value (2.10)")
	assert.Contains(t, text, "Moderate Momentum (0.80)")
	assert.Contains(t, text, "Value in top 8% of universe")
	assert.NotContains(t, text, "Momentum in top")
	assert.NotContains(t, text, "Note:")
}

func TestBuilder_BuildAppendsConstraintNotes(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	scores := map[domain.FactorType]domain.FactorScore{
		domain.FactorValue: score(domain.FactorValue, "1.5", "75"),
	}
	text := b.Build("AAA", 4, scores, b.TopDrivers(scores), "Spread data unavailable; threshold check skipped")

	assert.Contains(t, text, "Ranked #4.")
	assert.Contains(t, text, "Note: Spread data unavailable; threshold check skipped")
}

func TestBuilder_BuildNoDrivers(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	text := b.Build("AAA", 7, nil, nil, "")
	assert.Equal(t, "Ranked #7.", text)
}

func TestBuilder_ExactlyEightiethPercentileNotCalledOut(t *testing.T) {
	b := NewBuilder(zerolog.Nop())

	scores := map[domain.FactorType]domain.FactorScore{
		domain.FactorValue: score(domain.FactorValue, "1.0", "80"),
	}
	text := b.Build("AAA", 2, scores, b.TopDrivers(scores), "")
	assert.NotContains(t, text, "top")
}
