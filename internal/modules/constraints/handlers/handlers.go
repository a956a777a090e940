// Package handlers provides HTTP handlers for constraint set versioning.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/constraints"
)

// Handler provides HTTP handlers for constraint endpoints. Versions are
// immutable; edits always create a new version and flip the active pointer.
type Handler struct {
	repo *constraints.Repository
	log  zerolog.Logger
}

// NewHandler creates a new constraints handler.
func NewHandler(repo *constraints.Repository, log zerolog.Logger) *Handler {
	return &Handler{
		repo: repo,
		log:  log.With().Str("handler", "constraints").Logger(),
	}
}

// RegisterRoutes mounts the constraint endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/constraints", func(r chi.Router) {
		r.Get("/active", h.HandleGetActive)
		r.Route("/versions", func(r chi.Router) {
			r.Get("/", h.HandleListVersions)
			r.Post("/", h.HandleCreateVersion)
			r.Get("/{setID}", h.HandleGetVersion)
			r.Post("/{setID}/activate", h.HandleActivate)
		})
	})
}

// HandleGetActive handles GET /api/constraints/active.
func (h *Handler) HandleGetActive(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	set, err := h.repo.GetActive(userID)
	if errors.Is(err, constraints.ErrNoActiveConstraintSet) {
		http.Error(w, "No active constraint set", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to load active constraint set")
		http.Error(w, "Failed to load active constraint set", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, toConstraintSetDTO(set))
}

// HandleListVersions handles GET /api/constraints/versions, newest first.
func (h *Handler) HandleListVersions(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	versions, err := h.repo.ListVersions(userID)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", userID).Msg("Failed to list constraint versions")
		http.Error(w, "Failed to list constraint versions", http.StatusInternalServerError)
		return
	}

	out := make([]constraintSetDTO, 0, len(versions))
	for _, set := range versions {
		out = append(out, toConstraintSetDTO(set))
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"versions": out})
}

// HandleGetVersion handles GET /api/constraints/versions/{setID}.
func (h *Handler) HandleGetVersion(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")
	set, err := h.repo.GetByID(setID)
	if errors.Is(err, constraints.ErrConstraintSetNotFound) {
		http.Error(w, "Constraint set not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("set_id", setID).Msg("Failed to load constraint set")
		http.Error(w, "Failed to load constraint set", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, toConstraintSetDTO(set))
}

type createVersionRequest struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`

	MaxNameWeightLargeCapPct decimal.Decimal `json:"maxNameWeightLargeCapPct"`
	MaxNameWeightMidCapPct   decimal.Decimal `json:"maxNameWeightMidCapPct"`
	MaxNameWeightSmallCapPct decimal.Decimal `json:"maxNameWeightSmallCapPct"`
	MaxSectorExposurePct     decimal.Decimal `json:"maxSectorExposurePct"`
	TurnoverCapPct           decimal.Decimal `json:"turnoverCapPct"`
	LiquidityFloorADVUSD     decimal.Decimal `json:"liquidityFloorAdvUsd"`
	WeightDeadbandBps        int             `json:"weightDeadbandBps"`
	SpreadThresholdBps       int             `json:"spreadThresholdBps"`
	EarningsBlackoutHours    int             `json:"earningsBlackoutHours"`
	CostMarginRequiredBps    int             `json:"costMarginRequiredBps"`
}

// HandleCreateVersion handles POST /api/constraints/versions. The new
// version becomes active immediately.
func (h *Handler) HandleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}
	if req.TurnoverCapPct.IsNegative() || req.MaxSectorExposurePct.IsNegative() {
		http.Error(w, "Constraint limits must not be negative", http.StatusBadRequest)
		return
	}

	name := req.Name
	if name == "" {
		name = "Custom"
	}

	created, err := h.repo.CreateVersion(domain.ConstraintSet{
		UserID:                   req.UserID,
		Name:                     name,
		MaxNameWeightLargeCapPct: req.MaxNameWeightLargeCapPct,
		MaxNameWeightMidCapPct:   req.MaxNameWeightMidCapPct,
		MaxNameWeightSmallCapPct: req.MaxNameWeightSmallCapPct,
		MaxSectorExposurePct:     req.MaxSectorExposurePct,
		TurnoverCapPct:           req.TurnoverCapPct,
		LiquidityFloorADVUSD:     req.LiquidityFloorADVUSD,
		WeightDeadbandBps:        req.WeightDeadbandBps,
		SpreadThresholdBps:       req.SpreadThresholdBps,
		EarningsBlackoutHours:    req.EarningsBlackoutHours,
		CostMarginRequiredBps:    req.CostMarginRequiredBps,
	})
	if err != nil {
		h.log.Error().Err(err).Str("user_id", req.UserID).Msg("Failed to create constraint version")
		http.Error(w, "Failed to create constraint version", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, toConstraintSetDTO(created))
}

// HandleActivate handles POST /api/constraints/versions/{setID}/activate.
func (h *Handler) HandleActivate(w http.ResponseWriter, r *http.Request) {
	setID := chi.URLParam(r, "setID")

	set, err := h.repo.GetByID(setID)
	if errors.Is(err, constraints.ErrConstraintSetNotFound) {
		http.Error(w, "Constraint set not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to load constraint set", http.StatusInternalServerError)
		return
	}

	if err := h.repo.Activate(set.UserID, setID); err != nil {
		h.log.Error().Err(err).Str("set_id", setID).Msg("Failed to activate constraint set")
		http.Error(w, "Failed to activate constraint set", http.StatusInternalServerError)
		return
	}

	activated, err := h.repo.GetByID(setID)
	if err != nil {
		http.Error(w, "Failed to reload constraint set", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, toConstraintSetDTO(activated))
}

type constraintSetDTO struct {
	ID       string `json:"id"`
	UserID   string `json:"userId"`
	Name     string `json:"name"`
	Version  int    `json:"version"`
	IsActive bool   `json:"isActive"`

	MaxNameWeightLargeCapPct string `json:"maxNameWeightLargeCapPct"`
	MaxNameWeightMidCapPct   string `json:"maxNameWeightMidCapPct"`
	MaxNameWeightSmallCapPct string `json:"maxNameWeightSmallCapPct"`
	MaxSectorExposurePct     string `json:"maxSectorExposurePct"`
	TurnoverCapPct           string `json:"turnoverCapPct"`
	LiquidityFloorADVUSD     string `json:"liquidityFloorAdvUsd"`
	WeightDeadbandBps        int    `json:"weightDeadbandBps"`
	SpreadThresholdBps       int    `json:"spreadThresholdBps"`
	EarningsBlackoutHours    int    `json:"earningsBlackoutHours"`
	CostMarginRequiredBps    int    `json:"costMarginRequiredBps"`

	CreatedAt int64 `json:"createdAt"`
}

func toConstraintSetDTO(set domain.ConstraintSet) constraintSetDTO {
	return constraintSetDTO{
		ID:                       set.ID,
		UserID:                   set.UserID,
		Name:                     set.Name,
		Version:                  set.Version,
		IsActive:                 set.IsActive,
		MaxNameWeightLargeCapPct: set.MaxNameWeightLargeCapPct.String(),
		MaxNameWeightMidCapPct:   set.MaxNameWeightMidCapPct.String(),
		MaxNameWeightSmallCapPct: set.MaxNameWeightSmallCapPct.String(),
		MaxSectorExposurePct:     set.MaxSectorExposurePct.String(),
		TurnoverCapPct:           set.TurnoverCapPct.String(),
		LiquidityFloorADVUSD:     set.LiquidityFloorADVUSD.String(),
		WeightDeadbandBps:        set.WeightDeadbandBps,
		SpreadThresholdBps:       set.SpreadThresholdBps,
		EarningsBlackoutHours:    set.EarningsBlackoutHours,
		CostMarginRequiredBps:    set.CostMarginRequiredBps,
		CreatedAt:                set.CreatedAt.Unix(),
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
