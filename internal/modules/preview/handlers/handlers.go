// Package handlers provides the constraint preview HTTP surface.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/modules/preview"
)

// Handler provides the what-if preview endpoint.
type Handler struct {
	simulator *preview.Simulator
	log       zerolog.Logger
}

// NewHandler creates a new preview handler.
func NewHandler(simulator *preview.Simulator, log zerolog.Logger) *Handler {
	return &Handler{
		simulator: simulator,
		log:       log.With().Str("handler", "preview").Logger(),
	}
}

// RegisterRoutes mounts the preview endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/preview", h.HandlePreview)
}

type previewRequest struct {
	PortfolioID string          `json:"portfolioId"`
	Constraints preview.Overlay `json:"constraints"`
}

type previewResponse struct {
	BaselineRunID string `json:"baselineRunId"`

	ExpectedPickCount      int    `json:"expectedPickCount"`
	ExpectedPickCountRange string `json:"expectedPickCountRange"`

	ExpectedTurnoverPct   string `json:"expectedTurnoverPct"`
	ExpectedTurnoverRange string `json:"expectedTurnoverRange"`

	AffectedPositionsCount int      `json:"affectedPositionsCount"`
	DroppedSymbols         []string `json:"droppedSymbols"`
	AddedSymbols           []string `json:"addedSymbols"`

	ConstraintChangesSummary string   `json:"constraintChangesSummary"`
	AccuracyNote             string   `json:"accuracyNote"`
	Warnings                 []string `json:"warnings"`
}

// HandlePreview handles POST /api/preview. The simulation reads the last
// finalized run's frozen ranking and writes nothing.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.PortfolioID == "" {
		http.Error(w, "portfolioId is required", http.StatusBadRequest)
		return
	}

	result, err := h.simulator.Preview(req.PortfolioID, req.Constraints)
	if errors.Is(err, preview.ErrNoHistoricalRun) {
		http.Error(w, "No historical run data for preview", http.StatusConflict)
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("portfolio_id", req.PortfolioID).Msg("Preview failed")
		http.Error(w, "Preview failed", http.StatusInternalServerError)
		return
	}

	resp := previewResponse{
		BaselineRunID:            result.BaselineRunID,
		ExpectedPickCount:        result.ExpectedPickCount,
		ExpectedPickCountRange:   result.ExpectedPickCountRange,
		ExpectedTurnoverPct:      result.ExpectedTurnoverPct.String(),
		ExpectedTurnoverRange:    result.ExpectedTurnoverRange,
		AffectedPositionsCount:   result.AffectedPositionsCount,
		DroppedSymbols:           result.DroppedSymbols,
		AddedSymbols:             result.AddedSymbols,
		ConstraintChangesSummary: result.ConstraintChangesSummary,
		AccuracyNote:             result.AccuracyNote,
		Warnings:                 result.Warnings,
	}
	if resp.DroppedSymbols == nil {
		resp.DroppedSymbols = []string{}
	}
	if resp.AddedSymbols == nil {
		resp.AddedSymbols = []string{}
	}
	if resp.Warnings == nil {
		resp.Warnings = []string{}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
