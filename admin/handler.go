package admin

import (
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/httputil"
	"shortsgen/queue"
)

// Handler holds dependencies for the debug endpoints. They are not mounted
// in production.
type Handler struct {
	Queue     *queue.Service
	StartedAt time.Time
	Log       *zap.SugaredLogger
}

// HandleStatus returns process stats and the queue histogram.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	hist, err := h.Queue.Histogram(r.Context())
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	stats := map[string]interface{}{
		"system": map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"memory_mb":  m.Alloc / 1024 / 1024,
			"os_threads": runtime.GOMAXPROCS(0),
			"go_version": runtime.Version(),
			"uptime":     time.Since(h.StartedAt).Round(time.Second).String(),
		},
		"queue":           hist,
		"max_text_length": h.Queue.MaxTextLength(),
	}
	httputil.WriteJSON(w, 200, stats)
}

// HandleCleanupLong soft-deletes pending candidates whose text exceeds
// maxLength (query or body; defaults to the configured maximum).
func (h *Handler) HandleCleanupLong(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxLength int            `json:"maxLength"`
		Kind      candidate.Kind `json:"kind"`
		Language  string         `json:"language"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	if v := r.URL.Query().Get("maxLength"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.WriteErrorMessage(w, 400, "maxLength must be a positive number")
			return
		}
		req.MaxLength = n
	}
	if req.MaxLength < 0 {
		httputil.WriteErrorMessage(w, 400, "maxLength must be a positive number")
		return
	}
	n, err := h.Queue.CleanupLongText(r.Context(), req.MaxLength, candidate.ListFilter{Kind: req.Kind, Language: req.Language})
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	maxLen := req.MaxLength
	if maxLen == 0 {
		maxLen = h.Queue.MaxTextLength()
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"deleted": n, "maxLength": maxLen})
}

// HandleCountDeleted previews what HandlePurgeDeleted would remove.
func (h *Handler) HandleCountDeleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.Queue.CountDeleted(r.Context())
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"deleted": n})
}

// HandlePurgeDeleted permanently removes soft-deleted candidates.
func (h *Handler) HandlePurgeDeleted(w http.ResponseWriter, r *http.Request) {
	n, err := h.Queue.PurgeDeleted(r.Context())
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"purged": n})
}

// HandleResetStatus moves candidates from one set of statuses to another.
func (h *Handler) HandleResetStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From []candidate.Status `json:"from"`
		To   candidate.Status   `json:"to"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	if req.To == "" {
		req.To = candidate.StatusPending
	}
	if len(req.From) == 0 {
		req.From = []candidate.Status{candidate.StatusUsed, candidate.StatusReserved}
	}
	h.reset(w, r, req.From, req.To)
}

// HandleResetReserved returns every reserved candidate to pending.
func (h *Handler) HandleResetReserved(w http.ResponseWriter, r *http.Request) {
	h.reset(w, r, []candidate.Status{candidate.StatusReserved}, candidate.StatusPending)
}

func (h *Handler) reset(w http.ResponseWriter, r *http.Request, from []candidate.Status, to candidate.Status) {
	res, err := h.Queue.ResetBulk(r.Context(), from, to)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, res)
}

// HandleReclaimStale returns reservations older than olderThan (a Go
// duration, default 2h) to pending.
func (h *Handler) HandleReclaimStale(w http.ResponseWriter, r *http.Request) {
	olderThan := 2 * time.Hour
	if v := r.URL.Query().Get("olderThan"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			httputil.WriteError(w, h.Log, errors.Invalidf("olderThan: %v", err))
			return
		}
		olderThan = d
	}
	n, err := h.Queue.ReclaimStale(r.Context(), olderThan)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"reclaimed": n, "olderThan": olderThan.String()})
}

// Routes mounts the debug endpoints; the caller applies admin auth.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/debug/status", h.HandleStatus)
	r.Post("/api/debug/cleanup-long", h.HandleCleanupLong)
	r.Get("/api/debug/cleanup-deleted", h.HandleCountDeleted)
	r.Delete("/api/debug/cleanup-deleted", h.HandlePurgeDeleted)
	r.Post("/api/debug/reset-status", h.HandleResetStatus)
	r.Post("/api/debug/reset-reserved", h.HandleResetReserved)
	r.Post("/api/debug/reclaim-stale", h.HandleReclaimStale)
}
