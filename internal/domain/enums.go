// Package domain contains the core types shared across the recommendation
// pipeline. The domain layer is pure: no database, HTTP, or logging
// dependencies.
package domain

import "fmt"

// FactorType identifies a quantitative factor computed per security.
type FactorType string

const (
	FactorValue     FactorType = "VALUE"
	FactorMomentum  FactorType = "MOMENTUM"
	FactorQuality   FactorType = "QUALITY"
	FactorRevisions FactorType = "REVISIONS"
)

// AllFactorTypes lists every factor in canonical order.
func AllFactorTypes() []FactorType {
	return []FactorType{FactorValue, FactorMomentum, FactorQuality, FactorRevisions}
}

// ParseFactorType converts a stored string into a FactorType.
func ParseFactorType(s string) (FactorType, error) {
	switch FactorType(s) {
	case FactorValue, FactorMomentum, FactorQuality, FactorRevisions:
		return FactorType(s), nil
	default:
		return "", fmt.Errorf("unknown factor type: %q", s)
	}
}

// DisplayName returns the human-readable factor name used in explanations.
func (f FactorType) DisplayName() string {
	switch f {
	case FactorValue:
		return "Value"
	case FactorMomentum:
		return "Momentum"
	case FactorQuality:
		return "Quality"
	case FactorRevisions:
		return "Revisions"
	}
	return string(f)
}

// ChangeIndicator labels how a recommendation line moved versus the prior
// finalized run.
type ChangeIndicator string

const (
	ChangeNew       ChangeIndicator = "NEW"
	ChangeIncreased ChangeIndicator = "INCREASED"
	ChangeDecreased ChangeIndicator = "DECREASED"
	ChangeUnchanged ChangeIndicator = "UNCHANGED"
	// ChangeRemoved is reported in run summaries only; removed names get no
	// recommendation row in the current run.
	ChangeRemoved ChangeIndicator = "REMOVED"
)

// ParseChangeIndicator converts a stored string into a ChangeIndicator.
func ParseChangeIndicator(s string) (ChangeIndicator, error) {
	switch ChangeIndicator(s) {
	case ChangeNew, ChangeIncreased, ChangeDecreased, ChangeUnchanged, ChangeRemoved:
		return ChangeIndicator(s), nil
	default:
		return "", fmt.Errorf("unknown change indicator: %q", s)
	}
}

// RunType distinguishes official month-end runs from manual test runs.
type RunType string

const (
	RunScheduled RunType = "SCHEDULED"
	RunOffCycle  RunType = "OFF_CYCLE"
)

// ParseRunType converts a request string into a RunType.
func ParseRunType(s string) (RunType, error) {
	switch RunType(s) {
	case RunScheduled, RunOffCycle:
		return RunType(s), nil
	default:
		return "", fmt.Errorf("invalid run type %q (must be SCHEDULED or OFF_CYCLE)", s)
	}
}

// RunStatus tracks the lifecycle of a recommendation run.
// FINALIZED is set by the approval workflow, never by the pipeline itself.
type RunStatus string

const (
	RunRunning   RunStatus = "RUNNING"
	RunCompleted RunStatus = "COMPLETED"
	RunFailed    RunStatus = "FAILED"
	RunFinalized RunStatus = "FINALIZED"
)

// RunDecision is the user's disposition of a completed run.
type RunDecision string

const (
	DecisionPending  RunDecision = "PENDING"
	DecisionApproved RunDecision = "APPROVED"
	DecisionRejected RunDecision = "REJECTED"
)

// MarketCapTier buckets constituents for position-size limits.
type MarketCapTier string

const (
	CapLarge MarketCapTier = "LARGE_CAP"
	CapMid   MarketCapTier = "MID_CAP"
	CapSmall MarketCapTier = "SMALL_CAP"
)

// ParseMarketCapTier accepts both the canonical and short spellings found in
// upstream universe files ("Large", "Mid", "Small").
func ParseMarketCapTier(s string) (MarketCapTier, error) {
	switch s {
	case "LARGE_CAP", "Large":
		return CapLarge, nil
	case "MID_CAP", "Mid":
		return CapMid, nil
	case "SMALL_CAP", "Small":
		return CapSmall, nil
	default:
		return "", fmt.Errorf("unknown market cap tier: %q", s)
	}
}

// DisplayName returns the tier label used in notes and explanations.
func (t MarketCapTier) DisplayName() string {
	switch t {
	case CapLarge:
		return "large-cap"
	case CapMid:
		return "mid-cap"
	case CapSmall:
		return "small-cap"
	default:
		return string(t)
	}
}

// ViolationReason identifies which constraint rejected a candidate.
type ViolationReason string

const (
	ViolationPositionSize    ViolationReason = "POSITION_SIZE"
	ViolationSectorExposure  ViolationReason = "SECTOR_EXPOSURE"
	ViolationLiquidityFloor  ViolationReason = "LIQUIDITY_FLOOR"
	ViolationSpreadThreshold ViolationReason = "SPREAD_THRESHOLD"
	ViolationEarningsWindow  ViolationReason = "EARNINGS_BLACKOUT"
)
