// Package handlers exposes stored factor scores over HTTP.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/quantfolio/advisor/internal/domain"
	"github.com/quantfolio/advisor/internal/modules/factors"
)

// Handler provides read access to persisted factor scores.
type Handler struct {
	scoreRepo *factors.ScoreRepository
	log       zerolog.Logger
}

// NewHandler creates a new factors handler.
func NewHandler(scoreRepo *factors.ScoreRepository, log zerolog.Logger) *Handler {
	return &Handler{
		scoreRepo: scoreRepo,
		log:       log.With().Str("handler", "factors").Logger(),
	}
}

// RegisterRoutes mounts the factor endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/factors", func(r chi.Router) {
		r.Get("/scores", h.HandleGetScores)
	})
}

type scoreDTO struct {
	FactorType         string `json:"factorType"`
	Sector             string `json:"sector"`
	RawScore           string `json:"rawScore"`
	SectorNormalized   string `json:"sectorNormalized"`
	SectorPercentile   string `json:"sectorPercentile"`
	UniversePercentile string `json:"universePercentile"`
}

// HandleGetScores handles GET /api/factors/scores?date=YYYY-MM-DD, returning
// every symbol's scores for that calculation date.
func (h *Handler) HandleGetScores(w http.ResponseWriter, r *http.Request) {
	dateParam := r.URL.Query().Get("date")
	if dateParam == "" {
		http.Error(w, "date is required (YYYY-MM-DD)", http.StatusBadRequest)
		return
	}
	date, err := time.Parse("2006-01-02", dateParam)
	if err != nil {
		http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	scores, err := h.scoreRepo.GetByDate(date)
	if err != nil {
		h.log.Error().Err(err).Str("date", dateParam).Msg("Failed to load factor scores")
		http.Error(w, "Failed to load factor scores", http.StatusInternalServerError)
		return
	}

	out := make(map[string][]scoreDTO, len(scores))
	for symbol, bySector := range scores {
		list := make([]scoreDTO, 0, len(bySector))
		// Canonical factor order keeps the payload deterministic.
		for _, ft := range domain.AllFactorTypes() {
			score, ok := bySector[ft]
			if !ok {
				continue
			}
			list = append(list, scoreDTO{
				FactorType:         string(score.FactorType),
				Sector:             score.Sector,
				RawScore:           score.RawScore.String(),
				SectorNormalized:   score.SectorNormalized.String(),
				SectorPercentile:   score.SectorPercentile.String(),
				UniversePercentile: score.UniversePercentile.String(),
			})
		}
		out[symbol] = list
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"date":   dateParam,
		"scores": out,
	}); err != nil {
		h.log.Error().Err(err).Msg("Failed to encode response")
	}
}
