// Package ingest walks the source catalog, feeds scraped drafts into the
// candidate queue and keeps a page cursor per paged source.
package ingest

import (
	"context"
	"time"

	"go.uber.org/zap"

	"shortsgen/archive"
	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/lock"
	"shortsgen/queue"
	"shortsgen/scrape"
)

const (
	runLockKey = "ingest:run"
	runLockTTL = 10 * time.Minute
)

// StateStore keeps the page cursor of paged sources.
type StateStore interface {
	NextPage(ctx context.Context, source, key string) (int, error)
	SaveState(ctx context.Context, source, key string, page, fetched int) error
}

// SourceError is the failure envelope of one source.
type SourceError struct {
	Message    string `json:"message"`
	StatusCode int    `json:"statusCode,omitempty"`
	URL        string `json:"url,omitempty"`
}

// SourceReport is the outcome of one source within a run.
type SourceReport struct {
	Name      string         `json:"name"`
	Source    string         `json:"source"`
	Kind      candidate.Kind `json:"kind"`
	Language  string         `json:"language"`
	OK        bool           `json:"ok"`
	Page      int            `json:"page,omitempty"`
	Collected int            `json:"collected"`
	Inserted  int            `json:"inserted"`
	Skipped   int            `json:"skipped"`
	Rejected  int            `json:"rejected"`
	Error     *SourceError   `json:"error,omitempty"`

	upstream bool
}

type RunResult struct {
	TotalCollected int            `json:"totalCollected"`
	Inserted       int            `json:"inserted"`
	Skipped        int            `json:"skipped"`
	Rejected       int            `json:"rejected"`
	Sources        []SourceReport `json:"sources"`
}

type PreviewResult struct {
	Candidates []candidate.Draft `json:"candidates"`
	Sources    []SourceReport    `json:"sources"`
}

// AllFailed reports whether at least one source ran and every source failed
// upstream. Catalog and registry errors do not count.
func (p PreviewResult) AllFailed() bool {
	if len(p.Sources) == 0 {
		return false
	}
	for _, s := range p.Sources {
		if s.OK || !s.upstream {
			return false
		}
	}
	return true
}

// Runner executes ingest runs. Archiver is optional.
type Runner struct {
	Registry *scrape.Registry
	Queue    *queue.Service
	State    StateStore
	Locker   lock.Locker
	Archiver archive.Archiver
	Catalog  *Catalog
	Log      *zap.SugaredLogger
}

func (r *Runner) logger() *zap.SugaredLogger {
	if r.Log == nil {
		return zap.NewNop().Sugar()
	}
	return r.Log
}

// Run fetches every enabled source matching f and inserts what it finds.
// A failing source is reported and never aborts the run; a store failure
// does. Only one run may be active across instances sharing the locker.
func (r *Runner) Run(ctx context.Context, f RunFilter) (RunResult, error) {
	res := RunResult{Sources: []SourceReport{}}
	release, ok, err := r.Locker.TryLock(ctx, runLockKey, runLockTTL)
	if err != nil {
		return res, errors.Wrap(err, "acquire ingest lock")
	}
	if !ok {
		return res, errors.Mark(errors.New("another ingest run is in progress"), errors.ErrConflict)
	}
	defer release()

	log := r.logger()
	start := time.Now()
	for _, src := range r.Catalog.Select(f) {
		rep, err := r.runSource(ctx, src)
		res.Sources = append(res.Sources, rep)
		res.TotalCollected += rep.Collected
		res.Inserted += rep.Inserted
		res.Skipped += rep.Skipped
		res.Rejected += rep.Rejected
		if err != nil {
			return res, err
		}
	}
	log.Infow("Ingest run finished",
		"sources", len(res.Sources), "collected", res.TotalCollected,
		"inserted", res.Inserted, "skipped", res.Skipped, "rejected", res.Rejected,
		"duration", time.Since(start))
	return res, nil
}

func (r *Runner) runSource(ctx context.Context, src scrape.Source) (SourceReport, error) {
	log := r.logger().With("source", src.Name)
	rep := newReport(src)

	page, err := r.page(ctx, src)
	if err != nil {
		return rep, err
	}
	rep.Page = page

	drafts, err := r.fetch(ctx, src, page)
	if err != nil {
		rep.Error = envelope(err, src)
		_, rep.upstream = scrape.AsUpstream(err)
		log.Warnw("Source failed", "error", err)
		return rep, nil
	}
	rep.Collected = len(drafts)
	r.archive(ctx, src, drafts)

	for start := 0; start < len(drafts); start += candidate.MaxBatchSize {
		end := start + candidate.MaxBatchSize
		if end > len(drafts) {
			end = len(drafts)
		}
		ins, err := r.Queue.Insert(ctx, drafts[start:end])
		if err != nil {
			rep.Error = &SourceError{Message: err.Error()}
			if errors.Is(err, errors.ErrStore) {
				return rep, err
			}
			log.Warnw("Insert failed", "error", err)
			return rep, nil
		}
		rep.Inserted += ins.Inserted
		rep.Skipped += ins.Skipped
		rep.Rejected += ins.Rejected
	}

	if src.Paged && r.State != nil {
		// An empty page means the listing is exhausted; start over next time.
		next := page
		if len(drafts) == 0 {
			next = 0
		}
		if err := r.State.SaveState(ctx, src.Source, src.StateKey(), next, len(drafts)); err != nil {
			return rep, err
		}
	}
	rep.OK = true
	log.Infow("Source ingested", "page", page, "collected", rep.Collected,
		"inserted", rep.Inserted, "skipped", rep.Skipped, "rejected", rep.Rejected)
	return rep, nil
}

// Preview fetches like Run but takes no lock, inserts nothing and leaves
// page cursors untouched.
func (r *Runner) Preview(ctx context.Context, f RunFilter) (PreviewResult, error) {
	res := PreviewResult{Candidates: []candidate.Draft{}, Sources: []SourceReport{}}
	for _, src := range r.Catalog.Select(f) {
		rep := newReport(src)
		page, err := r.page(ctx, src)
		if err != nil {
			return res, err
		}
		rep.Page = page
		drafts, err := r.fetch(ctx, src, page)
		if err != nil {
			rep.Error = envelope(err, src)
			_, rep.upstream = scrape.AsUpstream(err)
		} else {
			rep.OK = true
			rep.Collected = len(drafts)
			res.Candidates = append(res.Candidates, drafts...)
		}
		res.Sources = append(res.Sources, rep)
	}
	return res, nil
}

// Schedule runs Run every interval until ctx is done. A zero interval
// disables scheduling.
func (r *Runner) Schedule(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	log := r.logger()
	log.Infow("Ingest scheduler started", "interval", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, RunFilter{}); err != nil {
				if errors.Is(err, errors.ErrConflict) {
					log.Infow("Scheduled ingest skipped, run already in progress")
					continue
				}
				log.Errorw("Scheduled ingest failed", "error", err)
			}
		}
	}
}

func (r *Runner) page(ctx context.Context, src scrape.Source) (int, error) {
	if !src.Paged || r.State == nil {
		return 1, nil
	}
	return r.State.NextPage(ctx, src.Source, src.StateKey())
}

func (r *Runner) fetch(ctx context.Context, src scrape.Source, page int) ([]candidate.Draft, error) {
	s, err := r.Registry.Resolve(src.Scraper)
	if err != nil {
		return nil, err
	}
	return s.Fetch(ctx, scrape.Request{Source: src, Page: page})
}

// archive stores each draft's raw snapshot and records its key. Snapshots
// already in the archive are not uploaded again. Archive failures are logged
// and leave RawKey empty.
func (r *Runner) archive(ctx context.Context, src scrape.Source, drafts []candidate.Draft) {
	if r.Archiver == nil {
		return
	}
	ext, contentType := "html", "text/html; charset=utf-8"
	switch src.Scraper {
	case "json":
		ext, contentType = "json", "application/json"
	case "rss":
		ext, contentType = "xml", "application/xml"
	}
	for i := range drafts {
		d := &drafts[i]
		if d.RawHTML == "" {
			continue
		}
		key := archive.Key(d.Kind, d.Source, d.DedupKey(), ext)
		exists, err := r.Archiver.Exists(ctx, key)
		if err == nil && !exists {
			err = r.Archiver.Put(ctx, key, []byte(d.RawHTML), contentType)
		}
		if err != nil {
			r.logger().Warnw("Archive snapshot failed", "source", src.Name, "key", key, "error", err)
			continue
		}
		d.RawKey = key
	}
}

func newReport(src scrape.Source) SourceReport {
	return SourceReport{Name: src.Name, Source: src.Source, Kind: src.Kind, Language: src.Language}
}

func envelope(err error, src scrape.Source) *SourceError {
	if ue, ok := scrape.AsUpstream(err); ok {
		return &SourceError{Message: ue.Message, StatusCode: ue.StatusCode, URL: ue.URL}
	}
	return &SourceError{Message: err.Error(), URL: src.URL}
}
