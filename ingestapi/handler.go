package ingestapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shortsgen/httputil"
	"shortsgen/ingest"
)

// Handler triggers ingest runs over HTTP.
type Handler struct {
	Runner *ingest.Runner
	Log    *zap.SugaredLogger
}

// HandleRun scrapes the matching sources and inserts what they yield.
// Per-source failures are reported in the body; 409 when a run is active.
func (h *Handler) HandleRun(w http.ResponseWriter, r *http.Request) {
	var f ingest.RunFilter
	if err := httputil.DecodeJSON(r, &f); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	res, err := h.Runner.Run(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, res)
}

// HandlePreview scrapes without inserting. 502 when every source failed.
func (h *Handler) HandlePreview(w http.ResponseWriter, r *http.Request) {
	var f ingest.RunFilter
	if err := httputil.DecodeJSON(r, &f); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	res, err := h.Runner.Preview(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	status := 200
	if res.AllFailed() {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, status, res)
}

// HandleSources lists the catalog.
func (h *Handler) HandleSources(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, 200, map[string]interface{}{"sources": h.Runner.Catalog.Sources})
}

func (h *Handler) Routes(r chi.Router) {
	r.Post("/api/ingest/run", h.HandleRun)
	r.Post("/api/ingest/preview", h.HandlePreview)
	r.Get("/api/ingest/sources", h.HandleSources)
}
