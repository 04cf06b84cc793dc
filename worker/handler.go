package worker

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shortsgen/httputil"
	"shortsgen/queue"
	"shortsgen/queueapi"
)

const defaultStaleMinutes = 120

// Handler holds dependencies for the internal API used by the video
// pipeline.
type Handler struct {
	Queue        *queue.Service
	WorkerSecret string
	Log          *zap.SugaredLogger
}

// WorkerAuthMiddleware validates requests from the video pipeline.
func (h *Handler) WorkerAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.WorkerSecret == "" {
			httputil.WriteErrorMessage(w, 503, "worker API not configured (WORKER_SECRET not set)")
			return
		}
		authHeader := r.Header.Get("Authorization")
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || subtle.ConstantTimeCompare([]byte(token), []byte(h.WorkerSecret)) != 1 {
			httputil.WriteErrorMessage(w, 401, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HandleReserve claims the next pending candidate; 204 when there is none.
func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	c, ok, err := queueapi.Reserve(r, h.Queue)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"candidate": c})
}

// HandleStatus reports the outcome of a reserved candidate.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := queueapi.ApplyStatus(r, h.Queue); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

func (h *Handler) HandlePublished(w http.ResponseWriter, r *http.Request) {
	if err := queueapi.ApplyPublished(r, h.Queue); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]string{"status": "updated"})
}

// HandleReclaimStale returns reservations older than stale_minutes
// (default 120) to pending.
func (h *Handler) HandleReclaimStale(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StaleMinutes int `json:"stale_minutes"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil || req.StaleMinutes <= 0 {
		req.StaleMinutes = defaultStaleMinutes
	}
	n, err := h.Queue.ReclaimStale(r.Context(), time.Duration(req.StaleMinutes)*time.Minute)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"reclaimed": n, "stale_minutes": req.StaleMinutes})
}

// Routes mounts the worker endpoints behind WorkerAuthMiddleware.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.WorkerAuthMiddleware)
		r.Post("/api/worker/reserve", h.HandleReserve)
		r.Post("/api/worker/status", h.HandleStatus)
		r.Post("/api/worker/published", h.HandlePublished)
		r.Post("/api/worker/reclaim-stale", h.HandleReclaimStale)
	})
}
