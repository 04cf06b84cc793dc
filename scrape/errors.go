package scrape

import (
	"fmt"

	"shortsgen/errors"
)

// UpstreamError describes a failed fetch of one source. It matches
// errors.ErrUpstream.
type UpstreamError struct {
	Source     string `json:"source"`
	URL        string `json:"url"`
	StatusCode int    `json:"statusCode,omitempty"`
	Message    string `json:"message"`

	cause error
}

func newUpstreamError(source, url string, status int, cause error, format string, args ...interface{}) *UpstreamError {
	msg := fmt.Sprintf(format, args...)
	if cause == nil {
		cause = errors.New(msg)
	}
	return &UpstreamError{
		Source:     source,
		URL:        url,
		StatusCode: status,
		Message:    msg,
		cause:      errors.Mark(cause, errors.ErrUpstream),
	}
}

func (e *UpstreamError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("%s: %s", e.Source, e.Message)
	}
	return fmt.Sprintf("%s: %s (%s)", e.Source, e.Message, e.URL)
}

func (e *UpstreamError) Unwrap() error { return e.cause }

// AsUpstream extracts an *UpstreamError from err's chain.
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
