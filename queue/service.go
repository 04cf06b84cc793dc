// Package queue implements the reservation protocol, the status lifecycle
// and batch insertion on top of a pluggable Store.
package queue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shortsgen/candidate"
	"shortsgen/errors"
)

const (
	NoteDeletedByUser = "Deleted by user"
	NoteReclaimed     = "Reservation expired"
)

// LongTextNote is the note stored on candidates removed for exceeding maxLen.
func LongTextNote(maxLen int) string {
	return fmt.Sprintf("Text too long: exceeds %d character limit", maxLen)
}

// Service is the entry point for every queue operation.
type Service struct {
	store         Store
	log           *zap.SugaredLogger
	maxTextLength int
	now           func() time.Time
	newID         func() string
}

type Option func(*Service)

// WithMaxTextLength overrides candidate.DefaultMaxTextLength.
func WithMaxTextLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxTextLength = n
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, log *zap.SugaredLogger, opts ...Option) *Service {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Service{
		store:         store,
		log:           log,
		maxTextLength: candidate.DefaultMaxTextLength,
		now:           func() time.Time { return time.Now().UTC() },
		newID:         func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) MaxTextLength() int { return s.maxTextLength }

// Reserve claims the best pending candidate matching f. ok is false with a
// nil error when nothing is available.
func (s *Service) Reserve(ctx context.Context, f candidate.ReserveFilter) (*candidate.Candidate, bool, error) {
	if f.Kind != "" && !f.Kind.Valid() {
		return nil, false, errors.Invalidf("unknown kind %q", f.Kind)
	}
	c, err := s.store.Claim(ctx, f, s.now())
	if err != nil {
		return nil, false, errors.Wrap(err, "reserve candidate")
	}
	if c == nil {
		return nil, false, nil
	}
	s.log.Debugw("Reserved candidate", "id", c.ID, "kind", c.Kind, "language", c.Language, "source", c.Source)
	return c, true, nil
}

// MarkStatus overwrites the status of id. notes is only written when non-nil.
func (s *Service) MarkStatus(ctx context.Context, id string, status candidate.Status, notes *string) error {
	if strings.TrimSpace(id) == "" {
		return errors.Invalidf("id is required")
	}
	if !status.Valid() {
		return errors.Invalidf("invalid status %q", status)
	}
	if err := s.store.SetStatus(ctx, id, status, notes, s.now()); err != nil {
		return errors.Wrapf(err, "mark %s as %s", id, status)
	}
	return nil
}

// MarkUsed is the terminal transition after a video was published.
func (s *Service) MarkUsed(ctx context.Context, id string, meta candidate.PublishMeta) error {
	if strings.TrimSpace(id) == "" {
		return errors.Invalidf("id is required")
	}
	if err := s.store.MarkPublished(ctx, id, meta, s.now()); err != nil {
		return errors.Wrapf(err, "mark %s as published", id)
	}
	return nil
}

// ResetBulk moves every candidate in one of the from statuses to to.
func (s *Service) ResetBulk(ctx context.Context, from []candidate.Status, to candidate.Status) (candidate.ResetResult, error) {
	if len(from) == 0 {
		return candidate.ResetResult{}, errors.Invalidf("at least one source status is required")
	}
	for _, st := range from {
		if !st.Valid() {
			return candidate.ResetResult{}, errors.Invalidf("invalid status %q", st)
		}
	}
	if !to.Valid() {
		return candidate.ResetResult{}, errors.Invalidf("invalid status %q", to)
	}
	res, err := s.store.ResetStatuses(ctx, from, to, s.now())
	if err != nil {
		return candidate.ResetResult{}, errors.Wrap(err, "reset statuses")
	}
	s.log.Infow("Reset candidate statuses", "from", from, "to", to, "modified", res.Modified)
	return res, nil
}

// ReclaimStale returns reservations older than olderThan to pending.
func (s *Service) ReclaimStale(ctx context.Context, olderThan time.Duration) (int, error) {
	if olderThan <= 0 {
		return 0, errors.Invalidf("reclaim age must be positive")
	}
	n, err := s.store.ReclaimStale(ctx, s.now().Add(-olderThan), NoteReclaimed)
	if err != nil {
		return 0, errors.Wrap(err, "reclaim stale reservations")
	}
	if n > 0 {
		s.log.Infow("Reclaimed stale reservations", "count", n, "older_than", olderThan)
	}
	return n, nil
}

// RunReclaimer calls ReclaimStale every interval until ctx is done. A zero
// ttl disables the loop.
func (s *Service) RunReclaimer(ctx context.Context, ttl, interval time.Duration) {
	if ttl <= 0 {
		return
	}
	if interval <= 0 {
		interval = ttl / 2
		if interval < time.Second {
			interval = time.Second
		}
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ReclaimStale(ctx, ttl); err != nil {
				s.log.Warnw("Stale reclaim failed", "error", err)
			}
		}
	}
}

// Insert stores a scraped batch. Duplicates (against any stored candidate,
// whatever its status, or earlier in the same batch) are skipped. Drafts
// whose text exceeds the configured maximum are stored as deleted so they
// are never fetched again, and counted as rejected.
func (s *Service) Insert(ctx context.Context, drafts []candidate.Draft) (candidate.InsertResult, error) {
	var res candidate.InsertResult
	if len(drafts) > candidate.MaxBatchSize {
		return res, errors.Invalidf("batch of %d candidates exceeds the limit of %d", len(drafts), candidate.MaxBatchSize)
	}
	for i, d := range drafts {
		if err := validateDraft(d); err != nil {
			return res, errors.Wrapf(err, "candidate %d", i)
		}
	}

	now := s.now()
	seen := make(map[string]bool, len(drafts))
	recs := make([]Record, 0, len(drafts))
	tooLong := make([]bool, 0, len(drafts))
	for _, d := range drafts {
		key := d.DedupKey()
		scope := string(d.Kind) + "\x00" + d.Source + "\x00" + key
		if seen[scope] {
			res.Skipped++
			continue
		}
		seen[scope] = true

		c := &candidate.Candidate{
			ID:            s.newID(),
			Kind:          d.Kind,
			Source:        d.Source,
			Language:      d.Language,
			Title:         strings.TrimSpace(d.Title),
			Text:          strings.TrimSpace(d.Text),
			URL:           d.URL,
			ExternalID:    d.ExternalID,
			Category:      d.Category,
			ImageURL:      d.ImageURL,
			RatingPercent: d.RatingPercent,
			Meta:          d.Meta,
			RawKey:        d.RawKey,
			Status:        candidate.StatusPending,
			CreatedAt:     now,
		}
		long := candidate.TextLength(c.Text) > s.maxTextLength
		if long {
			c.Status = candidate.StatusDeleted
			c.Notes = LongTextNote(s.maxTextLength)
			deletedAt := now
			c.DeletedAt = &deletedAt
		}
		recs = append(recs, Record{Candidate: c, DedupKey: key})
		tooLong = append(tooLong, long)
	}
	if len(recs) == 0 {
		return res, nil
	}

	inserted, err := s.store.InsertNew(ctx, recs)
	if err != nil {
		return res, errors.Wrap(err, "insert candidates")
	}
	for i, ok := range inserted {
		switch {
		case !ok:
			res.Skipped++
		case tooLong[i]:
			res.Rejected++
		default:
			res.Inserted++
		}
	}
	return res, nil
}

func validateDraft(d candidate.Draft) error {
	switch {
	case !d.Kind.Valid():
		return errors.Invalidf("invalid kind %q", d.Kind)
	case strings.TrimSpace(d.Source) == "":
		return errors.Invalidf("source is required")
	case strings.TrimSpace(d.Language) == "":
		return errors.Invalidf("language is required")
	case strings.TrimSpace(d.Text) == "":
		return errors.Invalidf("text is required")
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*candidate.Candidate, error) {
	c, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get candidate %s", id)
	}
	return c, nil
}

// List returns candidates newest first. Without statuses it lists the
// active queue (pending and reserved).
func (s *Service) List(ctx context.Context, f candidate.ListFilter) ([]*candidate.Candidate, error) {
	f.Limit = candidate.ClampLimit(f.Limit)
	if len(f.Statuses) == 0 {
		f.Statuses = []candidate.Status{candidate.StatusPending, candidate.StatusReserved}
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, errors.Invalidf("invalid status %q", st)
		}
	}
	list, err := s.store.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list candidates")
	}
	return list, nil
}

// EditText stores an operator correction shown instead of the scraped text.
func (s *Service) EditText(ctx context.Context, id, text string) (*candidate.Candidate, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.Invalidf("text must not be empty")
	}
	if err := s.store.SetEditedText(ctx, id, text); err != nil {
		return nil, errors.Wrapf(err, "edit candidate %s", id)
	}
	return s.Get(ctx, id)
}

func (s *Service) SoftDelete(ctx context.Context, id string) error {
	note := NoteDeletedByUser
	return s.MarkStatus(ctx, id, candidate.StatusDeleted, &note)
}

// CleanupLongText soft-deletes pending candidates longer than maxLen
// characters. Zero maxLen uses the configured maximum.
func (s *Service) CleanupLongText(ctx context.Context, maxLen int, f candidate.ListFilter) (int, error) {
	if maxLen <= 0 {
		maxLen = s.maxTextLength
	}
	n, err := s.store.DeleteLongText(ctx, maxLen, f, LongTextNote(maxLen), s.now())
	if err != nil {
		return 0, errors.Wrap(err, "clean up long text")
	}
	s.log.Infow("Cleaned up long candidates", "max_length", maxLen, "deleted", n)
	return n, nil
}

func (s *Service) CountDeleted(ctx context.Context) (int, error) {
	n, err := s.store.CountDeleted(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "count deleted")
	}
	return n, nil
}

// PurgeDeleted permanently removes soft-deleted candidates.
func (s *Service) PurgeDeleted(ctx context.Context) (int, error) {
	n, err := s.store.PurgeDeleted(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "purge deleted")
	}
	s.log.Infow("Purged deleted candidates", "count", n)
	return n, nil
}

func (s *Service) Histogram(ctx context.Context) (candidate.Histogram, error) {
	h, err := s.store.Histogram(ctx, candidate.HistogramSampleSize)
	if err != nil {
		return candidate.Histogram{}, errors.Wrap(err, "status histogram")
	}
	return h, nil
}
