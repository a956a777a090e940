package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// UniverseConstituent is one security in a universe snapshot.
// Snapshots are immutable per universe version; identified by
// (UniverseID, Symbol).
type UniverseConstituent struct {
	UniverseID    string
	Symbol        string
	Name          string
	Sector        string
	MarketCapTier MarketCapTier
	LiquidityTier int // 1 (most liquid) to 5 (least liquid)
	AvgDailyValue decimal.Decimal
	IsActive      bool
}

// FactorScore is one (symbol, factor, date) score. Created fresh each run,
// never mutated.
type FactorScore struct {
	Symbol             string
	FactorType         FactorType
	CalculationDate    time.Time
	Sector             string
	RawScore           decimal.Decimal
	SectorNormalized   decimal.Decimal // z-score at scale 4
	SectorPercentile   decimal.Decimal // 0-100 at scale 2
	UniversePercentile decimal.Decimal
}

// ConstraintSet is a versioned bag of portfolio construction limits.
// Saved versions are immutable; updates create a new version and flip the
// portfolio's active pointer.
type ConstraintSet struct {
	ID     string
	UserID string
	Name   string
	// Version is monotonically increasing per user.
	Version  int
	IsActive bool

	MaxNameWeightLargeCapPct decimal.Decimal
	MaxNameWeightMidCapPct   decimal.Decimal
	MaxNameWeightSmallCapPct decimal.Decimal
	MaxSectorExposurePct     decimal.Decimal
	TurnoverCapPct           decimal.Decimal
	LiquidityFloorADVUSD     decimal.Decimal
	WeightDeadbandBps        int
	SpreadThresholdBps       int
	EarningsBlackoutHours    int
	CostMarginRequiredBps    int

	CreatedAt time.Time
}

// DefaultConstraintSet returns the limits a new user starts with.
func DefaultConstraintSet(userID string) ConstraintSet {
	return ConstraintSet{
		UserID:                   userID,
		Name:                     "Default",
		Version:                  1,
		IsActive:                 true,
		MaxNameWeightLargeCapPct: decimal.NewFromFloat(5.00),
		MaxNameWeightMidCapPct:   decimal.NewFromFloat(2.00),
		MaxNameWeightSmallCapPct: decimal.NewFromFloat(1.00),
		MaxSectorExposurePct:     decimal.NewFromFloat(20.00),
		TurnoverCapPct:           decimal.NewFromFloat(25.00),
		LiquidityFloorADVUSD:     decimal.NewFromInt(1_000_000),
		WeightDeadbandBps:        30,
		SpreadThresholdBps:       50,
		EarningsBlackoutHours:    48,
		CostMarginRequiredBps:    20,
	}
}

// MaxNameWeightFor returns the position-size cap for a market-cap tier.
func (c ConstraintSet) MaxNameWeightFor(tier MarketCapTier) decimal.Decimal {
	switch tier {
	case CapLarge:
		return c.MaxNameWeightLargeCapPct
	case CapMid:
		return c.MaxNameWeightMidCapPct
	case CapSmall:
		return c.MaxNameWeightSmallCapPct
	}
	return decimal.Zero
}

// Holding is a current position. Read-only input to the pipeline; the
// pipeline never places trades or alters holdings.
type Holding struct {
	PortfolioID string
	Symbol      string
	Sector      string
	Quantity    decimal.Decimal
	CostBasis   decimal.Decimal
	MarketValue decimal.Decimal
	WeightPct   decimal.Decimal
}

// FactorDriver is one of the top factors behind a recommendation.
type FactorDriver struct {
	Factor FactorType
	Score  decimal.Decimal
}

// Recommendation is one line of a run's pick list. Created once per run;
// only ChangeIndicator is set post-hoc by change classification.
type Recommendation struct {
	ID    string
	RunID string

	Symbol        string
	Sector        string
	MarketCapTier MarketCapTier
	LiquidityTier int

	Rank             int // 1 = best
	TargetWeightPct  decimal.Decimal
	CurrentWeightPct decimal.Decimal
	WeightChangePct  decimal.Decimal

	ConfidenceScore  int // 0-100
	ExpectedAlphaBps decimal.Decimal
	ExpectedCostBps  decimal.Decimal
	EdgeOverCostBps  decimal.Decimal

	Drivers         []FactorDriver // up to 3, strongest first
	Explanation     string
	ConstraintNotes string
	ChangeIndicator ChangeIndicator

	CreatedAt time.Time
}

// RecommendationRun is the metadata record owning a pick list.
type RecommendationRun struct {
	ID              string
	UserID          string
	PortfolioID     string
	UniverseID      string
	ConstraintSetID string

	RunType  RunType
	Status   RunStatus
	Decision RunDecision

	ScheduledDate *time.Time
	StartedAt     time.Time
	CompletedAt   *time.Time

	DataFreshnessOK       bool
	DataFreshnessSnapshot string

	RecommendationCount int
	ExpectedAlphaBps    decimal.Decimal
	EstimatedCostBps    decimal.Decimal

	ErrorMessage string
}

// Portfolio holds the value inputs the pipeline needs: total market value
// plus cash. Everything else about portfolios lives outside the core.
type Portfolio struct {
	ID                    string
	UserID                string
	ActiveConstraintSetID string
	TotalMarketValue      decimal.Decimal
	CashBalance           decimal.Decimal
}

// TotalValue is market value plus cash.
func (p Portfolio) TotalValue() decimal.Decimal {
	return p.TotalMarketValue.Add(p.CashBalance)
}
