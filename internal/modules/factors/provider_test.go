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

type fakeCloseSource struct {
	closes map[string][]float64
}

func (f *fakeCloseSource) GetCloses(symbol string, _ time.Time, limit int) ([]float64, error) {
	c := f.closes[symbol]
	if len(c) > limit {
		c = c[len(c)-limit:]
	}
	return c, nil
}

func flatCloses(n int, first, rest float64) []float64 {
	closes := make([]float64, n)
	closes[0] = first
	for i := 1; i < n; i++ {
		closes[i] = rest
	}
	return closes
}

func TestMomentumProvider_ComputesRateOfChange(t *testing.T) {
	source := &fakeCloseSource{closes: map[string][]float64{
		// 10% appreciation over the lookback, flat since.
		"AAA": flatCloses(momentumHistoryDays, 100, 110),
	}}
	provider := NewMomentumProvider(source, nil, zerolog.Nop())

	values, err := provider.RawValues(
		[]domain.UniverseConstituent{constituent("AAA", "Technology")},
		domain.FactorMomentum, time.Now(),
	)

	require.NoError(t, err)
	require.Contains(t, values, "AAA")
	assert.True(t, values["AAA"].Equal(decimal.NewFromInt(10)),
		"expected 10%% momentum, got %s", values["AAA"])
}

func TestMomentumProvider_InsufficientHistoryOmitted(t *testing.T) {
	source := &fakeCloseSource{closes: map[string][]float64{
		"AAA": flatCloses(momentumSkipDays+1, 100, 110),
		"BBB": flatCloses(momentumHistoryDays, 100, 110),
	}}
	provider := NewMomentumProvider(source, nil, zerolog.Nop())

	values, err := provider.RawValues(
		[]domain.UniverseConstituent{
			constituent("AAA", "Technology"),
			constituent("BBB", "Technology"),
		},
		domain.FactorMomentum, time.Now(),
	)

	require.NoError(t, err)
	assert.NotContains(t, values, "AAA")
	assert.Contains(t, values, "BBB")
}

func TestMomentumProvider_DelegatesOtherFactors(t *testing.T) {
	static := NewStaticProvider(map[domain.FactorType]map[string]decimal.Decimal{
		domain.FactorValue: {"AAA": raw("1.25")},
	})
	provider := NewMomentumProvider(&fakeCloseSource{}, static, zerolog.Nop())

	values, err := provider.RawValues(
		[]domain.UniverseConstituent{constituent("AAA", "Technology")},
		domain.FactorValue, time.Now(),
	)

	require.NoError(t, err)
	assert.True(t, values["AAA"].Equal(raw("1.25")))
}

func TestMomentumProvider_NoFallback(t *testing.T) {
	provider := NewMomentumProvider(&fakeCloseSource{}, nil, zerolog.Nop())

	values, err := provider.RawValues(nil, domain.FactorQuality, time.Now())

	require.NoError(t, err)
	assert.Empty(t, values)
}
