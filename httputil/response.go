package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"shortsgen/errors"
)

// DefaultBodyLimit is the default maximum request body size (1 MB).
const DefaultBodyLimit int64 = 1 << 20

// WriteJSON sends a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage sends {"error": msg}.
func WriteErrorMessage(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// StatusOf maps an error to its HTTP status.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, errors.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, errors.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errors.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, errors.ErrUpstream):
		return http.StatusBadGateway
	case errors.Is(err, errors.ErrStore):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// WriteError maps err onto a status and an {"error": ...} body. Internal and
// store failures are logged and answered with a generic message.
func WriteError(w http.ResponseWriter, log *zap.SugaredLogger, err error) {
	status := StatusOf(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal error"
	case http.StatusServiceUnavailable:
		msg = "store unavailable"
	}
	if status >= 500 && log != nil {
		log.Errorw("Request failed", "status", status, "error", err)
	}
	WriteErrorMessage(w, status, msg)
}

// MaxBody wraps r.Body with a size limit to prevent oversized payloads.
func MaxBody(r *http.Request, n int64) {
	r.Body = http.MaxBytesReader(nil, r.Body, n)
}

// LimitedBodyReader returns an io.Reader capped at DefaultBodyLimit.
func LimitedBodyReader(r *http.Request) io.Reader {
	return io.LimitReader(r.Body, DefaultBodyLimit)
}

// DecodeJSON decodes the request body into v. An empty body leaves v
// untouched; malformed JSON is an invalid-request error.
func DecodeJSON(r *http.Request, v interface{}) error {
	err := json.NewDecoder(LimitedBodyReader(r)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return errors.Mark(errors.Wrap(err, "invalid request body"), errors.ErrInvalidRequest)
}

// AccessLog logs one line per request through log.
func AccessLog(log *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Infow("HTTP request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration", time.Since(start),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
