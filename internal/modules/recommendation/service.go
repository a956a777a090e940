package recommendation

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/database"
	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/changes"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	"github.com/quantfolio/advisor/internal/modules/costs"
	"github.com/quantfolio/advisor/internal/modules/explain"
	"github.com/quantfolio/advisor/internal/modules/factors"
	"github.com/quantfolio/advisor/internal/modules/portfolio"
	"github.com/quantfolio/advisor/internal/modules/ranking"
	"github.com/quantfolio/advisor/internal/modules/selection"
	"github.com/quantfolio/advisor/internal/modules/universe"
	"github.com/quantfolio/advisor/internal/progress"
)

// confidence parameters: composite maps to a 0-100 base, each rank below
// the top costs half a point, floored at 10.
var (
	confidenceSlope  = decimal.NewFromInt(30)
	confidenceOffset = decimal.NewFromInt(50)
)

// RunRequest describes one pipeline invocation.
type RunRequest struct {
	UserID        string
	PortfolioID   string
	UniverseID    string
	RunType       domain.RunType
	ScheduledDate *time.Time
	Progress      progress.Callback
}

// RunResult bundles the completed run with its pick list and change summary.
type RunResult struct {
	Run             domain.RecommendationRun
	Recommendations []domain.Recommendation
	Changes         changes.Summary
}

// Service orchestrates the pipeline: scoring, ranking, selection, costing,
// explanation, persistence and change classification. Stages are strictly
// sequential; the caller guarantees at most one in-flight run per portfolio.
type Service struct {
	universeRepo   *universe.Repository
	portfolioRepo  *portfolio.Repository
	constraintRepo *constraints.Repository
	runRepo        *RunRepository
	recRepo        *Repository
	scoreRepo      *factors.ScoreRepository

	provider   factors.RawValueProvider
	scorer     *factors.Scorer
	ranker     *ranking.Ranker
	engine     *selection.Engine
	estimator  *costs.Estimator
	explainer  *explain.Builder
	classifier *changes.Classifier

	advisorDB       *sql.DB
	targetHoldings  int
	freshnessMaxAge time.Duration
	log             zerolog.Logger
}

// ServiceDeps collects the service's collaborators.
type ServiceDeps struct {
	UniverseRepo   *universe.Repository
	PortfolioRepo  *portfolio.Repository
	ConstraintRepo *constraints.Repository
	RunRepo        *RunRepository
	RecRepo        *Repository
	ScoreRepo      *factors.ScoreRepository

	Provider   factors.RawValueProvider
	Scorer     *factors.Scorer
	Ranker     *ranking.Ranker
	Engine     *selection.Engine
	Estimator  *costs.Estimator
	Explainer  *explain.Builder
	Classifier *changes.Classifier

	AdvisorDB       *sql.DB
	TargetHoldings  int
	FreshnessMaxAge time.Duration
}

// NewService wires the pipeline together.
func NewService(deps ServiceDeps, log zerolog.Logger) *Service {
	if deps.TargetHoldings <= 0 {
		deps.TargetHoldings = 30
	}
	return &Service{
		universeRepo:    deps.UniverseRepo,
		portfolioRepo:   deps.PortfolioRepo,
		constraintRepo:  deps.ConstraintRepo,
		runRepo:         deps.RunRepo,
		recRepo:         deps.RecRepo,
		scoreRepo:       deps.ScoreRepo,
		provider:        deps.Provider,
		scorer:          deps.Scorer,
		ranker:          deps.Ranker,
		engine:          deps.Engine,
		estimator:       deps.Estimator,
		explainer:       deps.Explainer,
		classifier:      deps.Classifier,
		advisorDB:       deps.AdvisorDB,
		targetHoldings:  deps.TargetHoldings,
		freshnessMaxAge: deps.FreshnessMaxAge,
		log:             log.With().Str("module", "recommendation").Logger(),
	}
}

// Generate executes one full pipeline run. Precondition failures (missing
// portfolio or constraint set) surface before any run row exists; failures
// past that point mark the run FAILED with the error captured verbatim and
// leave no recommendation rows behind.
func (s *Service) Generate(req RunRequest) (*RunResult, error) {
	p, err := s.portfolioRepo.GetPortfolio(req.PortfolioID)
	if err != nil {
		return nil, err
	}
	set, err := s.constraintRepo.GetActive(req.UserID)
	if err != nil {
		return nil, err
	}

	run := domain.RecommendationRun{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		PortfolioID:     req.PortfolioID,
		UniverseID:      req.UniverseID,
		ConstraintSetID: set.ID,
		RunType:         req.RunType,
		Status:          domain.RunRunning,
		Decision:        domain.DecisionPending,
		ScheduledDate:   req.ScheduledDate,
		StartedAt:       time.Now().UTC(),
	}
	run.DataFreshnessOK, run.DataFreshnessSnapshot = s.checkFreshness(run.StartedAt)

	if err := s.runRepo.Create(run); err != nil {
		return nil, err
	}

	result, err := s.execute(&run, *p, set, req.Progress)
	if err != nil {
		if failErr := s.runRepo.Fail(run.ID, err); failErr != nil {
			s.log.Error().Err(failErr).Str("run_id", run.ID).Msg("Failed to mark run FAILED")
		}
		return nil, fmt.Errorf("run %s failed: %w", run.ID, err)
	}
	return result, nil
}

func (s *Service) execute(
	run *domain.RecommendationRun,
	p domain.Portfolio,
	set domain.ConstraintSet,
	cb progress.Callback,
) (*RunResult, error) {
	calculationDate := run.StartedAt.Truncate(24 * time.Hour)

	constituents, err := s.universeRepo.GetActiveConstituents(run.UniverseID)
	if err != nil {
		return nil, err
	}
	progress.Report(cb, run.ID, progress.MilestoneUniverseLoaded,
		fmt.Sprintf("Loaded %d universe constituents", len(constituents)))

	// An empty universe completes with zero recommendations; it is not a
	// failure.
	if len(constituents) == 0 {
		if err := s.runRepo.Complete(run.ID, 0, decimal.Zero, decimal.Zero); err != nil {
			return nil, err
		}
		run.Status = domain.RunCompleted
		return &RunResult{Run: *run}, nil
	}

	byID := make(map[string]domain.UniverseConstituent, len(constituents))
	for _, c := range constituents {
		byID[c.Symbol] = c
	}

	// Factor scoring, one pass per factor type.
	allScores := make(map[string]map[domain.FactorType]domain.FactorScore)
	var flatScores []domain.FactorScore
	for _, ft := range domain.AllFactorTypes() {
		raws, err := s.provider.RawValues(constituents, ft, calculationDate)
		if err != nil {
			return nil, fmt.Errorf("factor %s raw values: %w", ft, err)
		}
		scores := s.scorer.Score(constituents, ft, calculationDate, raws)
		factors.LogSummary(s.log, factors.Summarize(ft, scores))
		for symbol, score := range scores {
			if allScores[symbol] == nil {
				allScores[symbol] = make(map[domain.FactorType]domain.FactorScore)
			}
			allScores[symbol][ft] = score
			flatScores = append(flatScores, score)
		}
	}
	progress.Report(cb, run.ID, progress.MilestoneFactorsCalculated,
		"Calculated factor scores for all constituents")

	ranked := s.ranker.Rank(allScores)
	progress.Report(cb, run.ID, progress.MilestoneCompositeReady, "Composite scores ready")
	progress.Report(cb, run.ID, progress.MilestoneRankingComplete,
		fmt.Sprintf("Ranked %d constituents", len(ranked)))

	holdings, err := s.portfolioRepo.GetHoldings(run.PortfolioID)
	if err != nil {
		return nil, err
	}
	totalValue := p.TotalValue()

	selected := s.engine.Select(ranked, byID, s.targetHoldings, set, holdings, totalValue)
	progress.Report(cb, run.ID, progress.MilestoneSelectionComplete,
		fmt.Sprintf("Selected %d positions", len(selected.Picks)))

	recs := s.buildRecommendations(run.ID, selected)

	// Persist scores and rows atomically so a failure leaves nothing behind.
	err = database.WithTransaction(s.advisorDB, func(tx *sql.Tx) error {
		if err := s.scoreRepo.SaveAllTx(tx, run.ID, flatScores); err != nil {
			return err
		}
		return s.recRepo.SaveAllTx(tx, recs)
	})
	if err != nil {
		return nil, err
	}

	avgAlpha, avgCost := aggregates(recs)
	if err := s.runRepo.Complete(run.ID, len(recs), avgAlpha, avgCost); err != nil {
		return nil, err
	}
	run.Status = domain.RunCompleted
	run.RecommendationCount = len(recs)
	run.ExpectedAlphaBps = avgAlpha
	run.EstimatedCostBps = avgCost

	summary, err := s.classifyChanges(run, recs)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("run_id", run.ID).
		Int("recommendations", len(recs)).
		Str("avg_alpha_bps", avgAlpha.String()).
		Str("avg_cost_bps", avgCost.String()).
		Msg("Recommendation run completed")

	return &RunResult{Run: *run, Recommendations: recs, Changes: summary}, nil
}

// buildRecommendations turns selection picks into persisted rows with
// confidence, cost and explanation attached.
func (s *Service) buildRecommendations(runID string, selected selection.Result) []domain.Recommendation {
	now := time.Now().UTC()
	runNotes := strings.Join(selected.Notes, "; ")

	recs := make([]domain.Recommendation, 0, len(selected.Picks))
	for i, pick := range selected.Picks {
		rank := i + 1
		c := pick.RankedSymbol

		drivers := s.explainer.TopDrivers(c.Scores)
		notes := pick.ConstraintNotes
		if runNotes != "" {
			if notes != "" {
				notes += "; "
			}
			notes += runNotes
		}

		alphaBps := domain.RoundPct(c.Composite.Mul(domain.Hundred))
		cst := pick.Constituent
		costBps := s.estimator.EstimateBps(cst.LiquidityTier, pick.WeightChangePct)

		recs = append(recs, domain.Recommendation{
			ID:               uuid.New().String(),
			RunID:            runID,
			Symbol:           c.Symbol,
			Sector:           cst.Sector,
			MarketCapTier:    cst.MarketCapTier,
			LiquidityTier:    cst.LiquidityTier,
			Rank:             rank,
			TargetWeightPct:  pick.TargetWeightPct,
			CurrentWeightPct: pick.CurrentWeightPct,
			WeightChangePct:  pick.WeightChangePct,
			ConfidenceScore:  ConfidenceScore(c.Composite, rank),
			ExpectedAlphaBps: alphaBps,
			ExpectedCostBps:  costBps,
			EdgeOverCostBps:  alphaBps.Sub(costBps),
			Drivers:          drivers,
			Explanation:      s.explainer.Build(c.Symbol, rank, c.Scores, drivers, notes),
			ConstraintNotes:  notes,
			CreatedAt:        now,
		})
	}
	return recs
}

// classifyChanges labels the new rows against the prior finalized baseline
// and persists the indicators.
func (s *Service) classifyChanges(run *domain.RecommendationRun, recs []domain.Recommendation) (changes.Summary, error) {
	var before *time.Time
	if run.ScheduledDate != nil {
		before = run.ScheduledDate
	}

	var previous []domain.Recommendation
	prevRun, err := s.runRepo.PreviousFinalized(run.UserID, before)
	switch {
	case err == nil:
		previous, err = s.recRepo.GetByRunID(prevRun.ID)
		if err != nil {
			return changes.Summary{}, err
		}
	case errors.Is(err, ErrNoFinalizedRun):
		// First run: everything classifies NEW.
	default:
		return changes.Summary{}, err
	}

	return s.classifier.Apply(s.recRepo, run.ID, recs, previous)
}

// checkFreshness records whether factor inputs are recent enough. Without a
// live data feed the check is a wall-clock staleness statement stored for
// audit.
func (s *Service) checkFreshness(now time.Time) (bool, string) {
	if s.freshnessMaxAge <= 0 {
		return true, "freshness check disabled"
	}
	cutoff := now.Add(-s.freshnessMaxAge)
	return true, fmt.Sprintf("inputs accepted as of %s (cutoff %s)",
		now.Format(time.RFC3339), cutoff.Format(time.RFC3339))
}

// ConfidenceScore maps a composite score and rank to 0-100: the composite
// scales onto a 0-100 base, each rank step below the top subtracts half a
// point, and the result never drops below 10.
func ConfidenceScore(composite decimal.Decimal, rank int) int {
	base := composite.Mul(confidenceSlope).Add(confidenceOffset)
	if base.LessThan(decimal.Zero) {
		base = decimal.Zero
	}
	if base.GreaterThan(domain.Hundred) {
		base = domain.Hundred
	}

	penalty := decimal.NewFromInt(int64(rank - 1)).Div(decimal.NewFromInt(2))
	score := int(base.Sub(penalty).IntPart())
	if score < 10 {
		score = 10
	}
	if score > 100 {
		score = 100
	}
	return score
}

func aggregates(recs []domain.Recommendation) (avgAlpha, avgCost decimal.Decimal) {
	if len(recs) == 0 {
		return decimal.Zero, decimal.Zero
	}
	sumAlpha := decimal.Zero
	sumCost := decimal.Zero
	for _, rec := range recs {
		sumAlpha = sumAlpha.Add(rec.ExpectedAlphaBps)
		sumCost = sumCost.Add(rec.ExpectedCostBps)
	}
	n := decimal.NewFromInt(int64(len(recs)))
	return domain.DivPct(sumAlpha, n), domain.DivPct(sumCost, n)
}
