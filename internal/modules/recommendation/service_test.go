package recommendation

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

var testDBCounter int

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	testDBCounter++
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:recommendation_test_%s_%d?mode=memory&cache=shared", name, testDBCounter),
		Name: name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db.Conn()
}

type fixture struct {
	service        *Service
	universeRepo   *universe.Repository
	portfolioRepo  *portfolio.Repository
	constraintRepo *constraints.Repository
	runRepo        *RunRepository
	recRepo        *Repository
}

func newFixture(t *testing.T, provider factors.RawValueProvider, targetHoldings int) *fixture {
	t.Helper()
	log := zerolog.Nop()

	universeDB := openTestDB(t, "universe")
	portfolioDB := openTestDB(t, "portfolio")
	advisorDB := openTestDB(t, "advisor")

	f := &fixture{
		universeRepo:   universe.NewRepository(universeDB, log),
		portfolioRepo:  portfolio.NewRepository(portfolioDB, log),
		constraintRepo: constraints.NewRepository(advisorDB, log),
		runRepo:        NewRunRepository(advisorDB, log),
		recRepo:        NewRepository(advisorDB, log),
	}

	f.service = NewService(ServiceDeps{
		UniverseRepo:   f.universeRepo,
		PortfolioRepo:  f.portfolioRepo,
		ConstraintRepo: f.constraintRepo,
		RunRepo:        f.runRepo,
		RecRepo:        f.recRepo,
		ScoreRepo:      factors.NewScoreRepository(advisorDB, log),
		Provider:       provider,
		Scorer:         factors.NewScorer(log),
		Ranker:         ranking.NewRanker(nil, log),
		Engine:         selection.NewEngine(constraints.NewEvaluator(log), log),
		Estimator:      costs.NewEstimator(log),
		Explainer:      explain.NewBuilder(log),
		Classifier:     changes.NewClassifier(log),
		AdvisorDB:      advisorDB,
		TargetHoldings: targetHoldings,
	}, log)

	return f
}

func (f *fixture) seedUser(t *testing.T) {
	t.Helper()
	set := domain.DefaultConstraintSet("user-1")
	set.MaxNameWeightLargeCapPct = decimal.NewFromInt(100)
	set.MaxSectorExposurePct = decimal.NewFromInt(100)
	set.TurnoverCapPct = decimal.NewFromInt(200)
	set.EarningsBlackoutHours = 0
	set.SpreadThresholdBps = 0
	_, err := f.constraintRepo.CreateVersion(set)
	require.NoError(t, err)

	require.NoError(t, f.portfolioRepo.UpsertPortfolio(domain.Portfolio{
		ID:               "port-1",
		UserID:           "user-1",
		TotalMarketValue: decimal.NewFromInt(900_000),
		CashBalance:      decimal.NewFromInt(100_000),
	}))
}

func (f *fixture) seedUniverse(t *testing.T, symbols map[string]string) {
	t.Helper()
	for symbol, sector := range symbols {
		require.NoError(t, f.universeRepo.Upsert(domain.UniverseConstituent{
			UniverseID:    "univ-1",
			Symbol:        symbol,
			Name:          symbol + " Corp",
			Sector:        sector,
			MarketCapTier: domain.CapLarge,
			LiquidityTier: 1,
			AvgDailyValue: decimal.NewFromInt(50_000_000),
			IsActive:      true,
		}))
	}
}

func staticValues(values map[string]string) factors.RawValueProvider {
	raw := make(map[string]decimal.Decimal, len(values))
	for s, v := range values {
		raw[s] = decimal.RequireFromString(v)
	}
	return factors.NewStaticProvider(map[domain.FactorType]map[string]decimal.Decimal{
		domain.FactorValue: raw,
	})
}

func TestService_GenerateEndToEnd(t *testing.T) {
	provider := staticValues(map[string]string{
		"AAA": "30", // Technology: well above sector mean
		"BBB": "10",
		"CCC": "20",
		"DDD": "5", // Financials
		"EEE": "3",
	})
	f := newFixture(t, provider, 2)
	f.seedUser(t)
	f.seedUniverse(t, map[string]string{
		"AAA": "Technology", "BBB": "Technology", "CCC": "Technology",
		"DDD": "Financials", "EEE": "Financials",
	})

	var milestones []progress.Milestone
	result, err := f.service.Generate(RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-1",
		RunType:     domain.RunOffCycle,
		Progress: func(u progress.Update) {
			milestones = append(milestones, u.Milestone)
		},
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, result.Run.Status)
	assert.Equal(t, 2, result.Run.RecommendationCount)
	require.Len(t, result.Recommendations, 2)

	// AAA has the highest z-score within Technology; DDD leads Financials.
	top := result.Recommendations[0]
	assert.Equal(t, "AAA", top.Symbol)
	assert.Equal(t, 1, top.Rank)
	assert.True(t, top.TargetWeightPct.Equal(decimal.NewFromInt(50)))
	assert.Equal(t, domain.ChangeNew, top.ChangeIndicator)
	assert.Contains(t, top.Explanation, "Ranked #1.")
	assert.NotEmpty(t, top.Drivers)

	assert.Equal(t, []progress.Milestone{
		progress.MilestoneUniverseLoaded,
		progress.MilestoneFactorsCalculated,
		progress.MilestoneCompositeReady,
		progress.MilestoneRankingComplete,
		progress.MilestoneSelectionComplete,
	}, milestones)

	// Rows are persisted and readable back in rank order.
	stored, err := f.recRepo.GetByRunID(result.Run.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "AAA", stored[0].Symbol)
	assert.Equal(t, domain.ChangeNew, stored[0].ChangeIndicator)

	assert.Equal(t, 2, result.Changes.Counts[domain.ChangeNew])
}

func TestService_EmptyUniverseCompletesWithZeroRecommendations(t *testing.T) {
	f := newFixture(t, staticValues(nil), 30)
	f.seedUser(t)

	result, err := f.service.Generate(RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-empty",
		RunType:     domain.RunOffCycle,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.RunCompleted, result.Run.Status)
	assert.Empty(t, result.Recommendations)

	stored, err := f.runRepo.GetByID(result.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.RecommendationCount)
}

type failingProvider struct{}

func (failingProvider) RawValues([]domain.UniverseConstituent, domain.FactorType, time.Time) (map[string]decimal.Decimal, error) {
	return nil, errors.New("feed unavailable")
}

func TestService_FailureMarksRunFailedWithoutRows(t *testing.T) {
	f := newFixture(t, failingProvider{}, 30)
	f.seedUser(t)
	f.seedUniverse(t, map[string]string{"AAA": "Technology"})

	_, err := f.service.Generate(RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-1",
		RunType:     domain.RunOffCycle,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feed unavailable")

	runs, err := f.runRepo.ListByUser("user-1", nil)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.RunFailed, runs[0].Status)
	assert.Contains(t, runs[0].ErrorMessage, "feed unavailable")

	stored, err := f.recRepo.GetByRunID(runs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestService_MissingConstraintSetIsPrecondition(t *testing.T) {
	f := newFixture(t, staticValues(nil), 30)
	require.NoError(t, f.portfolioRepo.UpsertPortfolio(domain.Portfolio{
		ID: "port-1", UserID: "user-1",
		TotalMarketValue: decimal.NewFromInt(1), CashBalance: decimal.Zero,
	}))

	_, err := f.service.Generate(RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-1",
		RunType:     domain.RunOffCycle,
	})
	assert.ErrorIs(t, err, constraints.ErrNoActiveConstraintSet)

	// No run row exists for a precondition failure.
	runs, err := f.runRepo.ListByUser("user-1", nil)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestService_ChangeClassificationAgainstFinalizedBaseline(t *testing.T) {
	provider := staticValues(map[string]string{
		"AAA": "30", "BBB": "10", "CCC": "20",
	})
	f := newFixture(t, provider, 2)
	f.seedUser(t)
	f.seedUniverse(t, map[string]string{
		"AAA": "Technology", "BBB": "Technology", "CCC": "Technology",
	})

	req := RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-1",
		RunType:     domain.RunScheduled,
	}

	first, err := f.service.Generate(req)
	require.NoError(t, err)
	require.NoError(t, f.runRepo.Finalize(first.Run.ID))

	second, err := f.service.Generate(req)
	require.NoError(t, err)

	// Same universe and constraints select the same names at the same
	// weights: everything is UNCHANGED against the finalized baseline.
	assert.Equal(t, 2, second.Changes.Counts[domain.ChangeUnchanged])
	assert.Empty(t, second.Changes.RemovedSymbols)
}

func TestConfidenceScore(t *testing.T) {
	tests := []struct {
		composite string
		rank      int
		want      int
	}{
		{"0", 1, 50},
		{"1.6667", 1, 100},  // clamped at 100 before the penalty
		{"2.0", 1, 100},
		{"0", 3, 49},        // 50 - 1.0 penalty
		{"-2.0", 1, 10},     // floor
		{"-1.0", 30, 10},    // 20 - 14.5 = 5.5 floors to 10
		{"1.0", 11, 75},     // 80 - 5.0
	}

	for _, tt := range tests {
		got := ConfidenceScore(decimal.RequireFromString(tt.composite), tt.rank)
		assert.Equal(t, tt.want, got, "composite %s rank %d", tt.composite, tt.rank)
	}
}
