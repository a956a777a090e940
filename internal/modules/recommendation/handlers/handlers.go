// Package handlers provides HTTP handlers for recommendation runs.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/changes"
	"github.com/quantfolio/advisor/internal/modules/constraints"
	"github.com/quantfolio/advisor/internal/modules/preview"
	"github.com/quantfolio/advisor/internal/modules/recommendation"
	"github.com/quantfolio/advisor/internal/progress"
)

// Archiver pushes finalized-run data to cold storage. Optional; a nil
// archiver skips the step.
type Archiver interface {
	Archive(ctx context.Context, runID string) error
}

// Handler provides HTTP handlers for run generation, querying, and the
// approve/reject decision flow.
type Handler struct {
	service    *recommendation.Service
	runRepo    *recommendation.RunRepository
	recRepo    *recommendation.Repository
	classifier *changes.Classifier
	snapshots  *preview.SnapshotStore
	archiver   Archiver
	progressCb progress.Callback
	log        zerolog.Logger
}

// NewHandler creates a new recommendation handler.
func NewHandler(
	service *recommendation.Service,
	runRepo *recommendation.RunRepository,
	recRepo *recommendation.Repository,
	classifier *changes.Classifier,
	snapshots *preview.SnapshotStore,
	log zerolog.Logger,
) *Handler {
	return &Handler{
		service:    service,
		runRepo:    runRepo,
		recRepo:    recRepo,
		classifier: classifier,
		snapshots:  snapshots,
		log:        log.With().Str("handler", "recommendation").Logger(),
	}
}

// SetArchiver wires the cold-storage archiver (for dependency injection).
func (h *Handler) SetArchiver(archiver Archiver) {
	h.archiver = archiver
}

// SetProgressCallback wires live progress delivery (for dependency injection).
func (h *Handler) SetProgressCallback(cb progress.Callback) {
	h.progressCb = cb
}

type generateRequest struct {
	UserID      string `json:"userId"`
	PortfolioID string `json:"portfolioId"`
	UniverseID  string `json:"universeId"`
}

// HandleGenerate handles POST /api/recommendations/generate. Manual runs are
// OFF_CYCLE: they never become the scheduled baseline.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.PortfolioID == "" || req.UniverseID == "" {
		http.Error(w, "userId, portfolioId and universeId are required", http.StatusBadRequest)
		return
	}

	now := time.Now().UTC()
	result, err := h.service.Generate(recommendation.RunRequest{
		UserID:        req.UserID,
		PortfolioID:   req.PortfolioID,
		UniverseID:    req.UniverseID,
		RunType:       domain.RunOffCycle,
		ScheduledDate: &now,
		Progress:      h.progressCb,
	})
	if err != nil {
		if errors.Is(err, constraints.ErrNoActiveConstraintSet) {
			http.Error(w, "No active constraint set for user", http.StatusConflict)
			return
		}
		h.log.Error().Err(err).Str("portfolio_id", req.PortfolioID).Msg("Run generation failed")
		http.Error(w, "Run generation failed", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, runResultResponse(result))
}

// HandleGetCurrent handles GET /api/recommendations/current. Current means
// the latest completed SCHEDULED run; off-cycle runs are ignored.
func (h *Handler) HandleGetCurrent(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	run, err := h.runRepo.LatestScheduledCompleted(userID)
	if errors.Is(err, recommendation.ErrRunNotFound) {
		http.Error(w, "No completed scheduled run", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load current run")
		http.Error(w, "Failed to load current run", http.StatusInternalServerError)
		return
	}

	h.respondRunWithRecommendations(w, run)
}

// HandleListRuns handles GET /api/recommendations/runs with optional
// ?type=SCHEDULED|OFF_CYCLE filtering.
func (h *Handler) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	var runType *domain.RunType
	if typeParam := r.URL.Query().Get("type"); typeParam != "" {
		parsed, err := domain.ParseRunType(typeParam)
		if err != nil {
			http.Error(w, "Invalid run type", http.StatusBadRequest)
			return
		}
		runType = &parsed
	}

	runs, err := h.runRepo.ListByUser(userID, runType)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list runs")
		http.Error(w, "Failed to list runs", http.StatusInternalServerError)
		return
	}

	out := make([]runDTO, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunDTO(run))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// HandleGetRun handles GET /api/recommendations/runs/{runID}.
func (h *Handler) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}
	h.respondRunWithRecommendations(w, run)
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

// HandleDecide handles POST /api/recommendations/runs/{runID}/decision.
// Approving a COMPLETED run finalizes it, making it the next baseline.
func (h *Handler) HandleDecide(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var decision domain.RunDecision
	switch req.Decision {
	case string(domain.DecisionApproved):
		decision = domain.DecisionApproved
	case string(domain.DecisionRejected):
		decision = domain.DecisionRejected
	default:
		http.Error(w, "decision must be APPROVED or REJECTED", http.StatusBadRequest)
		return
	}

	if run.Status != domain.RunCompleted {
		http.Error(w, "Only COMPLETED runs can be decided", http.StatusConflict)
		return
	}

	if err := h.runRepo.SetDecision(run.ID, decision); err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to record decision")
		http.Error(w, "Failed to record decision", http.StatusInternalServerError)
		return
	}

	if decision == domain.DecisionApproved {
		if err := h.finalize(r.Context(), run.ID); err != nil {
			h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to finalize run")
			http.Error(w, "Failed to finalize run", http.StatusInternalServerError)
			return
		}
	}

	updated, err := h.runRepo.GetByID(run.ID)
	if err != nil {
		http.Error(w, "Failed to reload run", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, toRunDTO(updated))
}

// finalize flips the run to FINALIZED, freezes its rank snapshot for
// previews, and archives the data directory when an archiver is wired.
func (h *Handler) finalize(ctx context.Context, runID string) error {
	if err := h.runRepo.Finalize(runID); err != nil {
		return err
	}

	recs, err := h.recRepo.GetByRunID(runID)
	if err != nil {
		return err
	}
	if err := h.snapshots.Save(runID, recs); err != nil {
		// The preview path falls back to the repository, so a snapshot
		// failure is not fatal.
		h.log.Warn().Err(err).Str("run_id", runID).Msg("Failed to save run snapshot")
	}

	if h.archiver != nil {
		if err := h.archiver.Archive(ctx, runID); err != nil {
			h.log.Warn().Err(err).Str("run_id", runID).Msg("Failed to archive finalized run")
		}
	}
	return nil
}

// HandleGetChanges handles GET /api/recommendations/runs/{runID}/changes,
// the per-indicator change summary against the prior finalized baseline.
func (h *Handler) HandleGetChanges(w http.ResponseWriter, r *http.Request) {
	run, ok := h.loadRun(w, r)
	if !ok {
		return
	}

	current, err := h.recRepo.GetByRunID(run.ID)
	if err != nil {
		http.Error(w, "Failed to load recommendations", http.StatusInternalServerError)
		return
	}

	var previous []domain.Recommendation
	baseline, err := h.runRepo.PreviousFinalized(run.UserID, run.ScheduledDate)
	switch {
	case errors.Is(err, recommendation.ErrNoFinalizedRun):
		// First run: everything is NEW.
	case err != nil:
		http.Error(w, "Failed to load baseline run", http.StatusInternalServerError)
		return
	default:
		if previous, err = h.recRepo.GetByRunID(baseline.ID); err != nil {
			http.Error(w, "Failed to load baseline recommendations", http.StatusInternalServerError)
			return
		}
	}

	indicators, removed := h.classifier.Classify(current, previous)
	counts := map[domain.ChangeIndicator]int{}
	for _, indicator := range indicators {
		counts[indicator]++
	}
	counts[domain.ChangeRemoved] = len(removed)

	h.writeJSON(w, http.StatusOK, map[string]any{
		"runId":          run.ID,
		"counts":         counts,
		"removedSymbols": removed,
	})
}

func (h *Handler) loadRun(w http.ResponseWriter, r *http.Request) (domain.RecommendationRun, bool) {
	runID := chi.URLParam(r, "runID")
	run, err := h.runRepo.GetByID(runID)
	if errors.Is(err, recommendation.ErrRunNotFound) {
		http.Error(w, "Run not found", http.StatusNotFound)
		return domain.RecommendationRun{}, false
	}
	if err != nil {
		h.log.Error().Err(err).Str("run_id", runID).Msg("Failed to load run")
		http.Error(w, "Failed to load run", http.StatusInternalServerError)
		return domain.RecommendationRun{}, false
	}
	return run, true
}

func (h *Handler) respondRunWithRecommendations(w http.ResponseWriter, run domain.RecommendationRun) {
	recs, err := h.recRepo.GetByRunID(run.ID)
	if err != nil {
		h.log.Error().Err(err).Str("run_id", run.ID).Msg("Failed to load recommendations")
		http.Error(w, "Failed to load recommendations", http.StatusInternalServerError)
		return
	}

	out := make([]recommendationDTO, 0, len(recs))
	for _, rec := range recs {
		out = append(out, toRecommendationDTO(rec))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"run":             toRunDTO(run),
		"recommendations": out,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
