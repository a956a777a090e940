package handlers

import (
	"time"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
)

// Decimals travel as strings so precision survives the JSON boundary.

type runDTO struct {
	ID              string `json:"id"`
	UserID          string `json:"userId"`
	PortfolioID     string `json:"portfolioId"`
	UniverseID      string `json:"universeId"`
	ConstraintSetID string `json:"constraintSetId"`

	RunType  string `json:"runType"`
	Status   string `json:"status"`
	Decision string `json:"decision"`

	ScheduledDate *string    `json:"scheduledDate,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`

	DataFreshnessOK       bool   `json:"dataFreshnessOk"`
	DataFreshnessSnapshot string `json:"dataFreshnessSnapshot,omitempty"`

	RecommendationCount int    `json:"recommendationCount"`
	ExpectedAlphaBps    string `json:"expectedAlphaBps"`
	EstimatedCostBps    string `json:"estimatedCostBps"`
	ErrorMessage        string `json:"errorMessage,omitempty"`
}

func toRunDTO(run domain.RecommendationRun) runDTO {
	dto := runDTO{
		ID:                    run.ID,
		UserID:                run.UserID,
		PortfolioID:           run.PortfolioID,
		UniverseID:            run.UniverseID,
		ConstraintSetID:       run.ConstraintSetID,
		RunType:               string(run.RunType),
		Status:                string(run.Status),
		Decision:              string(run.Decision),
		StartedAt:             run.StartedAt,
		CompletedAt:           run.CompletedAt,
		DataFreshnessOK:       run.DataFreshnessOK,
		DataFreshnessSnapshot: run.DataFreshnessSnapshot,
		RecommendationCount:   run.RecommendationCount,
		ExpectedAlphaBps:      run.ExpectedAlphaBps.String(),
		EstimatedCostBps:      run.EstimatedCostBps.String(),
		ErrorMessage:          run.ErrorMessage,
	}
	if run.ScheduledDate != nil {
		scheduled := run.ScheduledDate.Format("2006-01-02")
		dto.ScheduledDate = &scheduled
	}
	return dto
}

type driverDTO struct {
	Factor string `json:"factor"`
	Score  string `json:"score"`
}

type recommendationDTO struct {
	Symbol        string `json:"symbol"`
	Sector        string `json:"sector"`
	MarketCapTier string `json:"marketCapTier"`
	LiquidityTier int    `json:"liquidityTier"`

	Rank             int    `json:"rank"`
	TargetWeightPct  string `json:"targetWeightPct"`
	CurrentWeightPct string `json:"currentWeightPct"`
	WeightChangePct  string `json:"weightChangePct"`

	ConfidenceScore  int    `json:"confidenceScore"`
	ExpectedAlphaBps string `json:"expectedAlphaBps"`
	ExpectedCostBps  string `json:"expectedCostBps"`
	EdgeOverCostBps  string `json:"edgeOverCostBps"`

	Drivers         []driverDTO `json:"drivers"`
	Explanation     string      `json:"explanation"`
	ConstraintNotes string      `json:"constraintNotes,omitempty"`
	ChangeIndicator string      `json:"changeIndicator"`
}

func toRecommendationDTO(rec domain.Recommendation) recommendationDTO {
	drivers := make([]driverDTO, 0, len(rec.Drivers))
	for _, d := range rec.Drivers {
		drivers = append(drivers, driverDTO{
			Factor: string(d.Factor),
			Score:  d.Score.String(),
		})
	}
	return recommendationDTO{
		Symbol:           rec.Symbol,
		Sector:           rec.Sector,
		MarketCapTier:    string(rec.MarketCapTier),
		LiquidityTier:    rec.LiquidityTier,
		Rank:             rec.Rank,
		TargetWeightPct:  rec.TargetWeightPct.String(),
		CurrentWeightPct: rec.CurrentWeightPct.String(),
		WeightChangePct:  rec.WeightChangePct.String(),
		ConfidenceScore:  rec.ConfidenceScore,
		ExpectedAlphaBps: rec.ExpectedAlphaBps.String(),
		ExpectedCostBps:  rec.ExpectedCostBps.String(),
		EdgeOverCostBps:  rec.EdgeOverCostBps.String(),
		Drivers:          drivers,
		Explanation:      rec.Explanation,
		ConstraintNotes:  rec.ConstraintNotes,
		ChangeIndicator:  string(rec.ChangeIndicator),
	}
}

type changeSummaryDTO struct {
	Counts         map[domain.ChangeIndicator]int `json:"counts"`
	RemovedSymbols []string                       `json:"removedSymbols"`
}

func runResultResponse(result *recommendation.RunResult) map[string]any {
	recs := make([]recommendationDTO, 0, len(result.Recommendations))
	for _, rec := range result.Recommendations {
		recs = append(recs, toRecommendationDTO(rec))
	}
	return map[string]any{
		"run":             toRunDTO(result.Run),
		"recommendations": recs,
		"changes": changeSummaryDTO{
			Counts:         result.Changes.Counts,
			RemovedSymbols: result.Changes.RemovedSymbols,
		},
	}
}
