// Package errors re-exports github.com/cockroachdb/errors and defines the
// error taxonomy shared by the store, the ingest runner and the HTTP layer.
//
//	if err := store.Get(ctx, id); errors.Is(err, errors.ErrNotFound) {
//	    // 404
//	}
//
// Wrap sentinels with Wrap/Wrapf to add context while keeping errors.Is working.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing hints and details
var (
	WithHint       = crdb.WithHint
	WithHintf      = crdb.WithHintf
	WithDetail     = crdb.WithDetail
	WithDetailf    = crdb.WithDetailf
	GetAllHints    = crdb.GetAllHints
	FlattenHints   = crdb.FlattenHints
	FlattenDetails = crdb.FlattenDetails
)

// Error inspection
var (
	Is        = crdb.Is
	IsAny     = crdb.IsAny
	As        = crdb.As
	Unwrap    = crdb.Unwrap
	UnwrapAll = crdb.UnwrapAll
)

// Taxonomy sentinels. Match with errors.Is.
var (
	// ErrNotFound indicates the requested candidate or record does not exist.
	ErrNotFound = New("not found")

	// ErrInvalidRequest indicates bad input shape (validation error).
	ErrInvalidRequest = New("invalid request")

	// ErrUnauthorized indicates missing or invalid credentials.
	ErrUnauthorized = New("unauthorized")

	// ErrUpstream indicates a scraper or third-party API failure.
	ErrUpstream = New("upstream failure")

	// ErrStore indicates the backing store is unavailable. Retryable.
	ErrStore = New("store unavailable")

	// ErrConflict indicates a concurrent operation already holds the resource.
	ErrConflict = New("conflict")
)

// Invalidf builds a validation error whose message is safe to show to callers.
func Invalidf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrInvalidRequest)
}

// NotFoundf builds a not-found error with a caller-facing message.
func NotFoundf(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrNotFound)
}

// StoreError marks err as a store failure, keeping the original chain.
func StoreError(err error, op string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, op), ErrStore)
}

// IsNotFound reports whether err is or wraps ErrNotFound.
func IsNotFound(err error) bool { return Is(err, ErrNotFound) }

// IsInvalid reports whether err is or wraps ErrInvalidRequest.
func IsInvalid(err error) bool { return Is(err, ErrInvalidRequest) }

// IsRetryable reports whether the caller may retry the operation as-is.
func IsRetryable(err error) bool { return Is(err, ErrStore) }
