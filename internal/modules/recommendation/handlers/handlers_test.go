package handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
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
	"github.com/quantfolio/advisor/internal/modules/preview"
	"github.com/quantfolio/advisor/internal/modules/ranking"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
	"github.com/quantfolio/advisor/internal/modules/selection"
	"github.com/quantfolio/advisor/internal/modules/universe"
)

var testDBCounter int

func openTestDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	testDBCounter++
	db, err := database.New(database.Config{
		Path: fmt.Sprintf("file:rec_handlers_test_%s_%d?mode=memory&cache=shared", name, testDBCounter),
		Name: name,
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate())
	return db.Conn()
}

type fixture struct {
	router        *chi.Mux
	handler       *Handler
	service       *recommendation.Service
	runRepo       *recommendation.RunRepository
	recRepo       *recommendation.Repository
	portfolioRepo *portfolio.Repository
	snapshots     *preview.SnapshotStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()

	universeDB := openTestDB(t, "universe")
	portfolioDB := openTestDB(t, "portfolio")
	advisorDB := openTestDB(t, "advisor")
	cacheDB := openTestDB(t, "cache")

	universeRepo := universe.NewRepository(universeDB, log)
	portfolioRepo := portfolio.NewRepository(portfolioDB, log)
	constraintRepo := constraints.NewRepository(advisorDB, log)
	runRepo := recommendation.NewRunRepository(advisorDB, log)
	recRepo := recommendation.NewRepository(advisorDB, log)
	classifier := changes.NewClassifier(log)

	provider := factors.NewStaticProvider(map[domain.FactorType]map[string]decimal.Decimal{
		domain.FactorValue: {
			"AAA": decimal.NewFromInt(30),
			"BBB": decimal.NewFromInt(10),
			"CCC": decimal.NewFromInt(20),
		},
	})

	service := recommendation.NewService(recommendation.ServiceDeps{
		UniverseRepo:   universeRepo,
		PortfolioRepo:  portfolioRepo,
		ConstraintRepo: constraintRepo,
		RunRepo:        runRepo,
		RecRepo:        recRepo,
		ScoreRepo:      factors.NewScoreRepository(advisorDB, log),
		Provider:       provider,
		Scorer:         factors.NewScorer(log),
		Ranker:         ranking.NewRanker(nil, log),
		Engine:         selection.NewEngine(constraints.NewEvaluator(log), log),
		Estimator:      costs.NewEstimator(log),
		Explainer:      explain.NewBuilder(log),
		Classifier:     classifier,
		AdvisorDB:      advisorDB,
		TargetHoldings: 2,
	}, log)

	snapshots := preview.NewSnapshotStore(cacheDB, log)
	handler := NewHandler(service, runRepo, recRepo, classifier, snapshots, log)
	router := chi.NewRouter()
	handler.RegisterRoutes(router)

	// Seeded user with permissive limits so two names always survive.
	set := domain.DefaultConstraintSet("user-1")
	set.MaxNameWeightLargeCapPct = decimal.NewFromInt(100)
	set.MaxSectorExposurePct = decimal.NewFromInt(100)
	set.TurnoverCapPct = decimal.NewFromInt(200)
	set.EarningsBlackoutHours = 0
	set.SpreadThresholdBps = 0
	_, err := constraintRepo.CreateVersion(set)
	require.NoError(t, err)

	require.NoError(t, portfolioRepo.UpsertPortfolio(domain.Portfolio{
		ID:               "port-1",
		UserID:           "user-1",
		TotalMarketValue: decimal.NewFromInt(900_000),
		CashBalance:      decimal.NewFromInt(100_000),
	}))

	for symbol, sector := range map[string]string{
		"AAA": "Technology", "BBB": "Technology", "CCC": "Technology",
	} {
		require.NoError(t, universeRepo.Upsert(domain.UniverseConstituent{
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

	return &fixture{
		router:        router,
		handler:       handler,
		service:       service,
		runRepo:       runRepo,
		recRepo:       recRepo,
		portfolioRepo: portfolioRepo,
		snapshots:     snapshots,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) generateScheduled(t *testing.T) *recommendation.RunResult {
	t.Helper()
	result, err := f.service.Generate(recommendation.RunRequest{
		UserID:      "user-1",
		PortfolioID: "port-1",
		UniverseID:  "univ-1",
		RunType:     domain.RunScheduled,
	})
	require.NoError(t, err)
	return result
}

func TestHandleGenerate(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/recommendations/generate", `{"userId":"user-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, "missing portfolioId and universeId")

	rec = f.do(t, http.MethodPost, "/recommendations/generate",
		`{"userId":"user-1","portfolioId":"port-1","universeId":"univ-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var body struct {
		Run struct {
			ID      string `json:"id"`
			RunType string `json:"runType"`
			Status  string `json:"status"`
		} `json:"run"`
		Recommendations []struct {
			Symbol string `json:"symbol"`
			Rank   int    `json:"rank"`
		} `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(domain.RunOffCycle), body.Run.RunType)
	assert.Equal(t, string(domain.RunCompleted), body.Run.Status)
	require.Len(t, body.Recommendations, 2)
	assert.Equal(t, "AAA", body.Recommendations[0].Symbol)
	assert.Equal(t, 1, body.Recommendations[0].Rank)
}

func TestHandleGenerateWithoutConstraintSet(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.portfolioRepo.UpsertPortfolio(domain.Portfolio{
		ID:               "port-2",
		UserID:           "user-2",
		TotalMarketValue: decimal.NewFromInt(500_000),
		CashBalance:      decimal.Zero,
	}))

	rec := f.do(t, http.MethodPost, "/recommendations/generate",
		`{"userId":"user-2","portfolioId":"port-2","universeId":"univ-1"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleGetCurrentIgnoresOffCycleRuns(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/recommendations/generate",
		`{"userId":"user-1","portfolioId":"port-1","universeId":"univ-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	// An off-cycle run never becomes current.
	rec = f.do(t, http.MethodGet, "/recommendations/current?userId=user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.generateScheduled(t)

	rec = f.do(t, http.MethodGet, "/recommendations/current?userId=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Run struct {
			RunType string `json:"runType"`
		} `json:"run"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, string(domain.RunScheduled), body.Run.RunType)
}

func TestHandleListRunsFiltersByType(t *testing.T) {
	f := newFixture(t)
	f.generateScheduled(t)
	rec := f.do(t, http.MethodPost, "/recommendations/generate",
		`{"userId":"user-1","portfolioId":"port-1","universeId":"univ-1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, http.MethodGet, "/recommendations/runs?userId=user-1&type=BOGUS", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/recommendations/runs?userId=user-1&type=SCHEDULED", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []struct {
			RunType string `json:"runType"`
		} `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, string(domain.RunScheduled), body.Runs[0].RunType)

	rec = f.do(t, http.MethodGet, "/recommendations/runs?userId=user-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Runs, 2)
}

type recordingArchiver struct {
	runIDs []string
}

func (a *recordingArchiver) Archive(_ context.Context, runID string) error {
	a.runIDs = append(a.runIDs, runID)
	return nil
}

func TestHandleDecideApproveFinalizes(t *testing.T) {
	f := newFixture(t)
	archiver := &recordingArchiver{}
	f.handler.SetArchiver(archiver)

	result := f.generateScheduled(t)
	runID := result.Run.ID

	rec := f.do(t, http.MethodPost, "/recommendations/runs/missing/decision", `{"decision":"APPROVED"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/recommendations/runs/"+runID+"/decision", `{"decision":"MAYBE"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/recommendations/runs/"+runID+"/decision", `{"decision":"APPROVED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto struct {
		Status   string `json:"status"`
		Decision string `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, string(domain.RunFinalized), dto.Status)
	assert.Equal(t, string(domain.DecisionApproved), dto.Decision)

	// Finalizing freezes the rank snapshot and archives the run.
	ranked, _, ok, err := f.snapshots.Load(runID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "AAA", ranked[0].Symbol)
	assert.Equal(t, []string{runID}, archiver.runIDs)

	// A finalized run cannot be decided again.
	rec = f.do(t, http.MethodPost, "/recommendations/runs/"+runID+"/decision", `{"decision":"REJECTED"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandleDecideRejectLeavesRunCompleted(t *testing.T) {
	f := newFixture(t)
	result := f.generateScheduled(t)

	rec := f.do(t, http.MethodPost, "/recommendations/runs/"+result.Run.ID+"/decision", `{"decision":"REJECTED"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var dto struct {
		Status   string `json:"status"`
		Decision string `json:"decision"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dto))
	assert.Equal(t, string(domain.RunCompleted), dto.Status)
	assert.Equal(t, string(domain.DecisionRejected), dto.Decision)

	// Rejected runs never enter the preview snapshot cache.
	_, _, ok, err := f.snapshots.Load(result.Run.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandleGetChangesFirstRunIsAllNew(t *testing.T) {
	f := newFixture(t)
	result := f.generateScheduled(t)

	rec := f.do(t, http.MethodGet, "/recommendations/runs/"+result.Run.ID+"/changes", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID          string         `json:"runId"`
		Counts         map[string]int `json:"counts"`
		RemovedSymbols []string       `json:"removedSymbols"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, result.Run.ID, body.RunID)
	assert.Equal(t, 2, body.Counts[string(domain.ChangeNew)])
	assert.Empty(t, body.RemovedSymbols)
}
