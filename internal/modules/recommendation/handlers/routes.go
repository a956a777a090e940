package handlers

import "github.com/go-chi/chi/v5"

// RegisterRoutes mounts the recommendation endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/recommendations", func(r chi.Router) {
		r.Post("/generate", h.HandleGenerate)
		r.Get("/current", h.HandleGetCurrent)

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.HandleListRuns)
			r.Get("/{runID}", h.HandleGetRun)
			r.Post("/{runID}/decision", h.HandleDecide)
			r.Get("/{runID}/changes", h.HandleGetChanges)
		})
	})
}
