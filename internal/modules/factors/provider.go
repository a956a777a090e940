package factors

import (
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// RawValueProvider supplies raw factor values per symbol for one factor on
// one date. Most factors arrive pre-computed from the data feed; providers
// exist so factors that can be derived locally (momentum from stored closes)
// have a hook.
type RawValueProvider interface {
	RawValues(constituents []domain.UniverseConstituent, factorType domain.FactorType, asOf time.Time) (map[string]decimal.Decimal, error)
}

// StaticProvider returns pre-loaded raw values. This is the normal path:
// the ingestion layer delivers already-computed factor values per security.
type StaticProvider struct {
	// values[factorType][symbol]
	values map[domain.FactorType]map[string]decimal.Decimal
}

// NewStaticProvider creates a provider over pre-computed values.
func NewStaticProvider(values map[domain.FactorType]map[string]decimal.Decimal) *StaticProvider {
	return &StaticProvider{values: values}
}

// RawValues returns the stored values for a factor.
func (p *StaticProvider) RawValues(_ []domain.UniverseConstituent, factorType domain.FactorType, _ time.Time) (map[string]decimal.Decimal, error) {
	vals, ok := p.values[factorType]
	if !ok {
		return map[string]decimal.Decimal{}, nil
	}
	return vals, nil
}

// CloseSource provides daily closes for momentum computation.
type CloseSource interface {
	GetCloses(symbol string, asOf time.Time, limit int) ([]float64, error)
}

// Momentum lookback in trading days: a year of history with the most recent
// month excluded (12-1 momentum).
const (
	momentumHistoryDays = 252
	momentumSkipDays    = 21
)

// MomentumProvider derives the MOMENTUM raw value from stored daily closes
// as the 12-1 month rate of change. Symbols without enough history are
// omitted, which excludes them from the momentum factor rather than
// defaulting them to zero.
type MomentumProvider struct {
	closes   CloseSource
	fallback RawValueProvider // other factor types pass through
	log      zerolog.Logger
}

// NewMomentumProvider wraps a fallback provider, overriding MOMENTUM.
func NewMomentumProvider(closes CloseSource, fallback RawValueProvider, log zerolog.Logger) *MomentumProvider {
	return &MomentumProvider{
		closes:   closes,
		fallback: fallback,
		log:      log.With().Str("provider", "momentum").Logger(),
	}
}

// RawValues computes momentum from closes, delegating other factors.
func (p *MomentumProvider) RawValues(constituents []domain.UniverseConstituent, factorType domain.FactorType, asOf time.Time) (map[string]decimal.Decimal, error) {
	if factorType != domain.FactorMomentum {
		if p.fallback == nil {
			return map[string]decimal.Decimal{}, nil
		}
		return p.fallback.RawValues(constituents, factorType, asOf)
	}

	values := make(map[string]decimal.Decimal, len(constituents))
	for _, c := range constituents {
		closes, err := p.closes.GetCloses(c.Symbol, asOf, momentumHistoryDays)
		if err != nil {
			return nil, fmt.Errorf("failed to load closes for %s: %w", c.Symbol, err)
		}
		if len(closes) <= momentumSkipDays+1 {
			p.log.Debug().Str("symbol", c.Symbol).Int("closes", len(closes)).Msg("Insufficient history for momentum")
			continue
		}

		// Drop the most recent month, then take the rate of change over the
		// remaining window.
		window := closes[:len(closes)-momentumSkipDays]
		roc := talib.Roc(window, len(window)-1)
		last := roc[len(roc)-1]
		if last != last { // NaN
			continue
		}

		values[c.Symbol] = decimal.NewFromFloat(last).Round(domain.ScaleZScore)
	}

	return values, nil
}
