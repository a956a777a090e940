// Package main is the entry point for the advisor service: a monthly
// portfolio rebalancing recommendation engine. It scores an investment
// universe on value, momentum, quality and revision factors, ranks it,
// selects an equal-weight pick list under portfolio constraints, and
// surfaces the result for an approve/reject decision.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantfolio/advisor/internal/backup"
	"github.com/quantfolio/advisor/internal/config"
	"github.com/quantfolio/advisor/internal/database"
	"github.com/quantfolio/advisor/internal/modules/changes"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	constrainthandlers "github.com/quantfolio/advisor/internal/modules/constraints/handlers"
	"github.com/quantfolio/advisor/internal/modules/costs"
	"github.com/quantfolio/advisor/internal/modules/explain"
	"github.com/quantfolio/advisor/internal/modules/factors"
	factorhandlers "github.com/quantfolio/advisor/internal/modules/factors/handlers"
	"github.com/quantfolio/advisor/internal/modules/portfolio"
	"github.com/quantfolio/advisor/internal/modules/preview"
	previewhandlers "github.com/quantfolio/advisor/internal/modules/preview/handlers"
	"github.com/quantfolio/advisor/internal/modules/ranking"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
	recommendationhandlers "github.com/quantfolio/advisor/internal/modules/recommendation/handlers"
	"github.com/quantfolio/advisor/internal/modules/selection"
	"github.com/quantfolio/advisor/internal/modules/universe"
	"github.com/quantfolio/advisor/internal/scheduler"
	"github.com/quantfolio/advisor/internal/server"
	"github.com/quantfolio/advisor/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})
	logger.SetGlobalLogger(log)

	log.Info().Str("data_dir", cfg.DataDir).Msg("Starting advisor")

	// Databases: universe and portfolio hold ingested market/holdings state,
	// advisor holds runs and constraint versions, cache holds rank snapshots.
	openDB := func(name string) *database.DB {
		db, err := database.New(database.Config{
			Path: cfg.DatabasePath(name),
			Name: name,
		})
		if err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to open database")
		}
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", name).Msg("Failed to migrate database")
		}
		return db
	}
	universeDB := openDB("universe")
	portfolioDB := openDB("portfolio")
	advisorDB := openDB("advisor")
	cacheDB := openDB("cache")
	databases := []*database.DB{universeDB, portfolioDB, advisorDB, cacheDB}
	defer func() {
		for _, db := range databases {
			if err := db.Close(); err != nil {
				log.Error().Err(err).Str("database", db.Name()).Msg("Failed to close database")
			}
		}
	}()

	// Repositories.
	universeRepo := universe.NewRepository(universeDB.Conn(), log)
	priceRepo := universe.NewPriceRepository(universeDB.Conn(), log)
	factorValueRepo := universe.NewFactorValueRepository(universeDB.Conn(), log)
	portfolioRepo := portfolio.NewRepository(portfolioDB.Conn(), log)
	constraintRepo := constraints.NewRepository(advisorDB.Conn(), log)
	runRepo := recommendation.NewRunRepository(advisorDB.Conn(), log)
	recRepo := recommendation.NewRepository(advisorDB.Conn(), log)
	scoreRepo := factors.NewScoreRepository(advisorDB.Conn(), log)
	snapshots := preview.NewSnapshotStore(cacheDB.Conn(), log)

	// Pipeline components.
	evaluator := constraints.NewEvaluator(log)
	engine := selection.NewEngine(evaluator, log)
	classifier := changes.NewClassifier(log)
	provider := factors.NewMomentumProvider(priceRepo, factorValueRepo, log)

	service := recommendation.NewService(recommendation.ServiceDeps{
		UniverseRepo:    universeRepo,
		PortfolioRepo:   portfolioRepo,
		ConstraintRepo:  constraintRepo,
		RunRepo:         runRepo,
		RecRepo:         recRepo,
		ScoreRepo:       scoreRepo,
		Provider:        provider,
		Scorer:          factors.NewScorer(log),
		Ranker:          ranking.NewRanker(nil, log),
		Engine:          engine,
		Estimator:       costs.NewEstimator(log),
		Explainer:       explain.NewBuilder(log),
		Classifier:      classifier,
		AdvisorDB:       advisorDB.Conn(),
		TargetHoldings:  cfg.TargetHoldings,
		FreshnessMaxAge: time.Duration(cfg.FreshnessMaxAgeHours) * time.Hour,
	}, log)

	simulator := preview.NewSimulator(
		constraintRepo, runRepo, recRepo, portfolioRepo,
		snapshots, engine, cfg.TargetHoldings, log)

	// HTTP surface.
	hub := server.NewRunStatusHub(log)

	recommendationHandler := recommendationhandlers.NewHandler(
		service, runRepo, recRepo, classifier, snapshots, log)
	recommendationHandler.SetProgressCallback(hub.Callback())

	if cfg.BackupEnabled {
		s3Client, err := backup.NewS3Client(context.Background(), cfg.AWSRegion, cfg.BackupBucket, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize S3 client")
		}
		archiver := backup.NewArchiver(s3Client, databases, cfg.DataDir, cfg.BackupPrefix, log)
		recommendationHandler.SetArchiver(archiver)
		log.Info().Str("bucket", cfg.BackupBucket).Msg("Finalized-run archival enabled")
	}

	srv := server.New(server.Config{
		Log:                   log,
		Config:                cfg,
		Port:                  cfg.Port,
		DevMode:               cfg.DevMode,
		UniverseDB:            universeDB,
		PortfolioDB:           portfolioDB,
		AdvisorDB:             advisorDB,
		CacheDB:               cacheDB,
		RecommendationHandler: recommendationHandler,
		ConstraintHandler:     constrainthandlers.NewHandler(constraintRepo, log),
		PreviewHandler:        previewhandlers.NewHandler(simulator, log),
		FactorHandler:         factorhandlers.NewHandler(scoreRepo, log),
		Hub:                   hub,
	})

	// Month-end cadence: evaluated every weekday evening; generates runs
	// only on T-3, T-1 and T0.
	sched := scheduler.New(log)
	if cfg.SchedulerEnabled {
		monthEnd := scheduler.NewMonthEndJob(service, portfolioRepo, cfg.UniverseID, hub.Callback(), log)
		if err := sched.AddJob("0 18 * * 1-5", monthEnd); err != nil {
			log.Fatal().Err(err).Msg("Failed to register month-end job")
		}
		sched.Start()
		defer sched.Stop()
	} else {
		log.Info().Msg("Scheduler disabled")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Graceful shutdown failed")
	}

	log.Info().Msg("Advisor stopped")
}
