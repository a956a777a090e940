package preview

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
)

// Overlay is a partial constraint set: nil fields inherit from the active
// version, set fields replace it for the simulation only.
type Overlay struct {
	MaxNameWeightLargeCapPct *decimal.Decimal `json:"maxNameWeightLargeCapPct"`
	MaxNameWeightMidCapPct   *decimal.Decimal `json:"maxNameWeightMidCapPct"`
	MaxNameWeightSmallCapPct *decimal.Decimal `json:"maxNameWeightSmallCapPct"`
	MaxSectorExposurePct     *decimal.Decimal `json:"maxSectorExposurePct"`
	TurnoverCapPct           *decimal.Decimal `json:"turnoverCapPct"`
	LiquidityFloorADVUSD     *decimal.Decimal `json:"liquidityFloorAdvUsd"`
	WeightDeadbandBps        *int             `json:"weightDeadbandBps"`
	SpreadThresholdBps       *int             `json:"spreadThresholdBps"`
	EarningsBlackoutHours    *int             `json:"earningsBlackoutHours"`
	CostMarginRequiredBps    *int             `json:"costMarginRequiredBps"`
}

// Apply overlays the set fields onto the active constraints and returns the
// modified set plus a human-readable summary of what changed.
func (o Overlay) Apply(active domain.ConstraintSet) (domain.ConstraintSet, string) {
	modified := active
	var changed []string

	overlayDecimal := func(dst *decimal.Decimal, src *decimal.Decimal, label, unit string) {
		if src == nil || dst.Equal(*src) {
			return
		}
		changed = append(changed, fmt.Sprintf("%s: %s%s → %s%s",
			label, dst.StringFixed(1), unit, src.StringFixed(1), unit))
		*dst = *src
	}
	overlayInt := func(dst *int, src *int, label, unit string) {
		if src == nil || *dst == *src {
			return
		}
		changed = append(changed, fmt.Sprintf("%s: %d%s → %d%s", label, *dst, unit, *src, unit))
		*dst = *src
	}

	overlayDecimal(&modified.MaxNameWeightLargeCapPct, o.MaxNameWeightLargeCapPct, "Large cap position size", "%")
	overlayDecimal(&modified.MaxNameWeightMidCapPct, o.MaxNameWeightMidCapPct, "Mid cap position size", "%")
	overlayDecimal(&modified.MaxNameWeightSmallCapPct, o.MaxNameWeightSmallCapPct, "Small cap position size", "%")
	overlayDecimal(&modified.MaxSectorExposurePct, o.MaxSectorExposurePct, "Sector cap", "%")
	overlayDecimal(&modified.TurnoverCapPct, o.TurnoverCapPct, "Turnover cap", "%")

	if o.LiquidityFloorADVUSD != nil && !modified.LiquidityFloorADVUSD.Equal(*o.LiquidityFloorADVUSD) {
		million := decimal.NewFromInt(1_000_000)
		changed = append(changed, fmt.Sprintf("Liquidity floor: $%sM → $%sM",
			modified.LiquidityFloorADVUSD.DivRound(million, 2).StringFixed(2),
			o.LiquidityFloorADVUSD.DivRound(million, 2).StringFixed(2)))
		modified.LiquidityFloorADVUSD = *o.LiquidityFloorADVUSD
	}

	overlayInt(&modified.WeightDeadbandBps, o.WeightDeadbandBps, "Weight deadband", "bps")
	overlayInt(&modified.SpreadThresholdBps, o.SpreadThresholdBps, "Spread threshold", "bps")
	overlayInt(&modified.EarningsBlackoutHours, o.EarningsBlackoutHours, "Earnings blackout", "h")
	overlayInt(&modified.CostMarginRequiredBps, o.CostMarginRequiredBps, "Cost margin", "bps")

	summary := "No changes"
	if len(changed) > 0 {
		summary = strings.Join(changed, ", ")
	}
	return modified, summary
}
