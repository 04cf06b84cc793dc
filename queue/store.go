package queue

import (
	"context"
	"time"

	"shortsgen/candidate"
)

// Record is a fully-built candidate row ready for insertion.
type Record struct {
	Candidate *candidate.Candidate
	DedupKey  string
}

// Store is the persistence contract behind Service. Implementations must make
// Claim atomic: two concurrent calls never return the same candidate.
//
// Every method returns errors marked with errors.ErrStore when the backend is
// unreachable and errors.ErrNotFound for unknown ids.
type Store interface {
	// Claim moves one pending or status-less candidate matching f to reserved
	// and returns it. It returns (nil, nil) when nothing matches.
	Claim(ctx context.Context, f candidate.ReserveFilter, now time.Time) (*candidate.Candidate, error)

	// SetStatus overwrites the status with timestamp bookkeeping. A nil notes
	// leaves the stored notes untouched.
	SetStatus(ctx context.Context, id string, status candidate.Status, notes *string, now time.Time) error

	MarkPublished(ctx context.Context, id string, meta candidate.PublishMeta, now time.Time) error

	// ResetStatuses moves every candidate whose status is in from to status to.
	ResetStatuses(ctx context.Context, from []candidate.Status, to candidate.Status, now time.Time) (candidate.ResetResult, error)

	// ReclaimStale returns reservations older than cutoff to pending.
	ReclaimStale(ctx context.Context, cutoff time.Time, note string) (int, error)

	// InsertNew stores records whose dedup key is not yet taken within their
	// (kind, source) scope. The returned slice reports, per record, whether it
	// was inserted. Existing rows are never modified.
	InsertNew(ctx context.Context, recs []Record) ([]bool, error)

	Get(ctx context.Context, id string) (*candidate.Candidate, error)
	List(ctx context.Context, f candidate.ListFilter) ([]*candidate.Candidate, error)
	SetEditedText(ctx context.Context, id, text string) error

	// DeleteLongText soft-deletes pending or status-less candidates matching
	// f whose text is longer than maxLen characters.
	DeleteLongText(ctx context.Context, maxLen int, f candidate.ListFilter, note string, now time.Time) (int, error)

	CountDeleted(ctx context.Context) (int, error)
	PurgeDeleted(ctx context.Context) (int, error)
	Histogram(ctx context.Context, sampleSize int) (candidate.Histogram, error)
}
