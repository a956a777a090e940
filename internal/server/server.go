// Package server provides the HTTP server and routing for the advisor.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/config"
	"github.com/quantfolio/advisor/internal/database"
	constrainthandlers "github.com/quantfolio/advisor/internal/modules/constraints/handlers"
	factorhandlers "github.com/quantfolio/advisor/internal/modules/factors/handlers"
	previewhandlers "github.com/quantfolio/advisor/internal/modules/preview/handlers"
	recommendationhandlers "github.com/quantfolio/advisor/internal/modules/recommendation/handlers"
)

// Config holds server configuration.
type Config struct {
	Log         zerolog.Logger
	Config      *config.Config
	Port        int
	DevMode     bool
	UniverseDB  *database.DB
	PortfolioDB *database.DB
	AdvisorDB   *database.DB
	CacheDB     *database.DB

	RecommendationHandler *recommendationhandlers.Handler
	ConstraintHandler     *constrainthandlers.Handler
	PreviewHandler        *previewhandlers.Handler
	FactorHandler         *factorhandlers.Handler
	Hub                   *RunStatusHub
}

// Server is the HTTP server.
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	systemHandlers *SystemHandlers
	hub            *RunStatusHub
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		log:    cfg.Log.With().Str("component", "server").Logger(),
		cfg:    cfg.Config,
		hub:    cfg.Hub,
		systemHandlers: NewSystemHandlers(cfg.Log, []*database.DB{
			cfg.UniverseDB, cfg.PortfolioDB, cfg.AdvisorDB, cfg.CacheDB,
		}),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes(cfg)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes(cfg Config) {
	s.router.Get("/health", s.systemHandlers.HandleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/runs/ws", s.hub.HandleWS)
		r.Get("/system/status", s.systemHandlers.HandleSystemStatus)
		r.Get("/system/database/stats", s.systemHandlers.HandleDatabaseStats)

		cfg.RecommendationHandler.RegisterRoutes(r)
		cfg.ConstraintHandler.RegisterRoutes(r)
		cfg.PreviewHandler.RegisterRoutes(r)
		cfg.FactorHandler.RegisterRoutes(r)
	})
}

// loggingMiddleware logs each request at debug with latency.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration_ms", time.Since(start)).
			Msg("Request handled")
	})
}

// Start begins serving. It blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("HTTP server shutting down")
	return s.server.Shutdown(ctx)
}

// Router exposes the chi mux, used by tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}
