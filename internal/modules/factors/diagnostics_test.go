package factors

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/quantfolio/advisor/internal/domain"
)

func TestSummarize(t *testing.T) {
	scores := map[string]domain.FactorScore{}
	for i, z := range []string{"-1.0", "-0.5", "0", "0.5", "1.0"} {
		symbol := string(rune('A' + i))
		scores[symbol] = domain.FactorScore{
			Symbol:           symbol,
			SectorNormalized: decimal.RequireFromString(z),
		}
	}

	s := Summarize(domain.FactorValue, scores)
	assert.Equal(t, domain.FactorValue, s.Factor)
	assert.Equal(t, 5, s.Count)
	assert.InDelta(t, 0, s.Mean, 1e-9)
	assert.InDelta(t, 0, s.Median, 1e-9)
	assert.Less(t, s.P10, s.P90)
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(domain.FactorMomentum, nil)
	assert.Equal(t, 0, s.Count)
	assert.Zero(t, s.Mean)
	assert.Zero(t, s.StdDev)
}
