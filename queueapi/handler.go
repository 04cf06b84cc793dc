// Package queueapi serves the candidate queue: listing, reservation,
// status transitions, batch insertion and single-candidate edits.
package queueapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"shortsgen/archive"
	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/httputil"
	"shortsgen/queue"
)

const (
	// NoneAvailable is the 404 message of an empty reservation.
	NoneAvailable = "no pending jokes available"

	rawURLExpiry = 15 * time.Minute
)

// Handler holds dependencies for queue endpoints. Archive is optional.
type Handler struct {
	Queue   *queue.Service
	Archive archive.Archiver
	Log     *zap.SugaredLogger
}

// ReserveRequest is the body of a reservation.
type ReserveRequest struct {
	Kind     candidate.Kind `json:"kind"`
	Language string         `json:"language"`
	Sources  []string       `json:"sources"`
}

func (r ReserveRequest) Filter() candidate.ReserveFilter {
	return candidate.ReserveFilter{Kind: r.Kind, Language: r.Language, Sources: r.Sources}
}

// StatusRequest is the body of a status transition.
type StatusRequest struct {
	ID     string           `json:"id"`
	Status candidate.Status `json:"status"`
	Notes  *string          `json:"notes,omitempty"`
}

// PublishedRequest records the video a candidate was used for.
type PublishedRequest struct {
	ID       string `json:"id"`
	VideoURL string `json:"videoUrl"`
	VideoID  string `json:"videoId"`
}

// Reserve claims one candidate for req. ok is false when none is available.
func Reserve(r *http.Request, q *queue.Service) (*candidate.Candidate, bool, error) {
	var req ReserveRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return nil, false, err
	}
	return q.Reserve(r.Context(), req.Filter())
}

// ApplyStatus decodes a StatusRequest and applies it.
func ApplyStatus(r *http.Request, q *queue.Service) error {
	var req StatusRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return err
	}
	if !req.Status.Settable() {
		return errors.Invalidf("status must be one of used, rejected, pending, deleted; got %q", req.Status)
	}
	return q.MarkStatus(r.Context(), req.ID, req.Status, req.Notes)
}

// ApplyPublished decodes a PublishedRequest and marks the candidate used.
func ApplyPublished(r *http.Request, q *queue.Service) error {
	var req PublishedRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		return err
	}
	return q.MarkUsed(r.Context(), req.ID, candidate.PublishMeta{VideoURL: req.VideoURL, VideoID: req.VideoID})
}

// HandleListQueue lists recent candidates, newest first.
func (h *Handler) HandleListQueue(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := candidate.ListFilter{
		Kind:     candidate.Kind(q.Get("kind")),
		Language: q.Get("language"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			httputil.WriteErrorMessage(w, 400, "limit must be a number")
			return
		}
		f.Limit = n
	}
	for _, s := range strings.Split(q.Get("status"), ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		st := candidate.Status(s)
		if !st.Valid() {
			httputil.WriteErrorMessage(w, 400, "invalid status "+s)
			return
		}
		f.Statuses = append(f.Statuses, st)
	}
	list, err := h.Queue.List(r.Context(), f)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{
		"candidates": list,
		"limit":      candidate.ClampLimit(f.Limit),
	})
}

// HandleReserve claims the next pending candidate.
func (h *Handler) HandleReserve(w http.ResponseWriter, r *http.Request) {
	c, ok, err := Reserve(r, h.Queue)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	if !ok {
		httputil.WriteErrorMessage(w, 404, NoneAvailable)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"candidate": c, "joke": c.DisplayText()})
}

// HandleStatus applies a status transition.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := ApplyStatus(r, h.Queue); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

// HandlePublished marks a candidate used and records its video.
func (h *Handler) HandlePublished(w http.ResponseWriter, r *http.Request) {
	if err := ApplyPublished(r, h.Queue); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

// HandleInsert stores a batch of scraped candidates.
func (h *Handler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []candidate.Draft `json:"candidates"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	res, err := h.Queue.Insert(r.Context(), req.Candidates)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, res)
}

// HandleGetCandidate returns one candidate.
func (h *Handler) HandleGetCandidate(w http.ResponseWriter, r *http.Request) {
	c, err := h.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"candidate": c})
}

// HandleEditCandidate replaces the edited text of a candidate.
func (h *Handler) HandleEditCandidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	c, err := h.Queue.EditText(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]interface{}{"candidate": c})
}

// HandleDeleteCandidate soft-deletes a candidate.
func (h *Handler) HandleDeleteCandidate(w http.ResponseWriter, r *http.Request) {
	if err := h.Queue.SoftDelete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	httputil.WriteJSON(w, 200, map[string]string{"status": "deleted"})
}

// HandleRawSnapshot redirects to a presigned URL of the archived raw HTML.
func (h *Handler) HandleRawSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.Archive == nil {
		httputil.WriteErrorMessage(w, 404, "raw archive not configured")
		return
	}
	c, err := h.Queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, h.Log, err)
		return
	}
	if c.RawKey == "" {
		httputil.WriteErrorMessage(w, 404, "no raw snapshot for this candidate")
		return
	}
	u, err := h.Archive.URL(r.Context(), c.RawKey, rawURLExpiry)
	if err != nil {
		httputil.WriteError(w, h.Log, errors.Mark(err, errors.ErrUpstream))
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// Routes mounts the queue and candidate endpoints on an authenticated router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/api/ingest/queue", h.HandleListQueue)
	r.Post("/api/ingest/queue/reserve", h.HandleReserve)
	r.Post("/api/ingest/queue/status", h.HandleStatus)
	r.Post("/api/ingest/queue/published", h.HandlePublished)
	r.Post("/api/ingest/candidates", h.HandleInsert)
	for _, base := range []string{"/api/candidates", "/api/jokes"} {
		r.Get(base+"/{id}", h.HandleGetCandidate)
		r.Patch(base+"/{id}", h.HandleEditCandidate)
		r.Delete(base+"/{id}", h.HandleDeleteCandidate)
		r.Get(base+"/{id}/raw", h.HandleRawSnapshot)
	}
}
