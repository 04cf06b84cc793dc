// Package sqlstore is the SQL implementation of queue.Store and
// ingest.StateStore, running on SQLite or Postgres through db.CompatDB.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"shortsgen/candidate"
	"shortsgen/db"
	"shortsgen/errors"
	"shortsgen/queue"
)

const table = "candidates"

var columns = []string{
	"id", "kind", "source", "language", "title", "text", "edited_text", "url",
	"external_id", "category", "image_url", "rating_percent", "meta", "raw_key",
	"status", "notes", "created_at", "reserved_at", "used_at", "deleted_at",
	"published_at", "video_url", "video_id",
}

var columnList = strings.Join(columns, ", ")

// Store implements queue.Store over a CompatDB. Queries are built with ?
// placeholders and rewritten by CompatDB for Postgres.
type Store struct {
	DB *db.CompatDB
}

func New(d *db.CompatDB) *Store {
	return &Store{DB: d}
}

// execer is satisfied by both CompatDB and CompatConn.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// pendingCond matches pending rows and rows stored before status existed.
func pendingCond() sq.Sqlizer {
	return sq.Or{sq.Eq{"status": string(candidate.StatusPending)}, sq.Eq{"status": nil}}
}

// statusCond matches any of statuses, treating NULL as pending.
func statusCond(statuses []candidate.Status) sq.Sqlizer {
	vals := make([]string, 0, len(statuses))
	withNull := false
	for _, s := range statuses {
		vals = append(vals, string(s))
		if s == candidate.StatusPending {
			withNull = true
		}
	}
	if withNull {
		return sq.Or{sq.Eq{"status": vals}, sq.Eq{"status": nil}}
	}
	return sq.Eq{"status": vals}
}

// statusSet returns the column assignments that accompany a transition to s.
func statusSet(s candidate.Status, now time.Time) map[string]interface{} {
	ts := db.FormatTime(now)
	set := map[string]interface{}{"status": string(s)}
	switch s {
	case candidate.StatusUsed:
		set["used_at"] = ts
		set["reserved_at"] = sq.Expr("COALESCE(reserved_at, ?)", ts)
	case candidate.StatusReserved:
		set["reserved_at"] = ts
	case candidate.StatusDeleted:
		set["deleted_at"] = ts
	case candidate.StatusPending:
		set["reserved_at"] = nil
		set["used_at"] = nil
		set["deleted_at"] = nil
		set["published_at"] = nil
	}
	return set
}

func applyListFilter(b sq.SelectBuilder, f candidate.ListFilter) sq.SelectBuilder {
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.Language != "" {
		b = b.Where(sq.Eq{"language": f.Language})
	}
	if len(f.Statuses) > 0 {
		b = b.Where(statusCond(f.Statuses))
	}
	return b
}

func (s *Store) Claim(ctx context.Context, f candidate.ReserveFilter, now time.Time) (*candidate.Candidate, error) {
	sub := sq.Select("id").From(table).Where(pendingCond())
	if f.Kind != "" {
		sub = sub.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.Language != "" {
		sub = sub.Where(sq.Eq{"language": f.Language})
	}
	if len(f.Sources) > 0 {
		sub = sub.Where(sq.Eq{"source": f.Sources})
	}
	sub = sub.OrderBy("COALESCE(rating_percent, -1) DESC", "created_at ASC", "id ASC").Limit(1)
	if lock := s.DB.ClaimLockSuffix(); lock != "" {
		sub = sub.Suffix(lock)
	}

	query, args, err := sq.Update(table).
		Set("status", string(candidate.StatusReserved)).
		Set("reserved_at", db.FormatTime(now)).
		Where(sq.Expr("id = (?)", sub)).
		Where(pendingCond()).
		Suffix("RETURNING " + columnList).
		ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build claim query")
	}

	c, err := scanCandidate(s.DB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.StoreError(err, "claim candidate")
	}
	return c, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status candidate.Status, notes *string, now time.Time) error {
	b := sq.Update(table).SetMap(statusSet(status, now)).Where(sq.Eq{"id": id})
	if notes != nil {
		b = b.Set("notes", *notes)
	}
	return s.execOne(ctx, s.DB, b, id, "set status")
}

func (s *Store) MarkPublished(ctx context.Context, id string, meta candidate.PublishMeta, now time.Time) error {
	b := sq.Update(table).
		SetMap(statusSet(candidate.StatusUsed, now)).
		Set("published_at", db.FormatTime(now)).
		Set("video_url", meta.VideoURL).
		Set("video_id", meta.VideoID).
		Where(sq.Eq{"id": id})
	return s.execOne(ctx, s.DB, b, id, "mark published")
}

// execOne runs an update that must touch exactly the row id.
func (s *Store) execOne(ctx context.Context, ex execer, b sq.UpdateBuilder, id, op string) error {
	query, args, err := b.ToSql()
	if err != nil {
		return errors.Wrapf(err, "build %s query", op)
	}
	res, err := ex.ExecContext(ctx, query, args...)
	if err != nil {
		return errors.StoreError(err, op)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NotFoundf("candidate %s not found", id)
	}
	return nil
}

func (s *Store) ResetStatuses(ctx context.Context, from []candidate.Status, to candidate.Status, now time.Time) (candidate.ResetResult, error) {
	res := candidate.ResetResult{Before: map[candidate.Status]int{}}
	cond := statusCond(from)

	err := db.WithTx(ctx, s.DB, func(conn *db.CompatConn) error {
		query, args, err := sq.Select("COALESCE(status, 'pending')", "COUNT(*)").
			From(table).Where(cond).
			GroupBy("COALESCE(status, 'pending')").
			ToSql()
		if err != nil {
			return err
		}
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		for rows.Next() {
			var st string
			var n int
			if err := rows.Scan(&st, &n); err != nil {
				rows.Close()
				return err
			}
			res.Before[candidate.Status(st)] += n
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		query, args, err = sq.Update(table).SetMap(statusSet(to, now)).Where(cond).ToSql()
		if err != nil {
			return err
		}
		r, err := conn.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, _ := r.RowsAffected()
		res.Modified = int(n)
		return nil
	})
	if err != nil {
		return candidate.ResetResult{}, errors.StoreError(err, "reset statuses")
	}
	return res, nil
}

func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time, note string) (int, error) {
	query, args, err := sq.Update(table).
		Set("status", string(candidate.StatusPending)).
		Set("reserved_at", nil).
		Set("notes", note).
		Where(sq.Eq{"status": string(candidate.StatusReserved)}).
		Where(sq.Lt{"reserved_at": db.FormatTime(cutoff)}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build reclaim query")
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.StoreError(err, "reclaim stale")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) InsertNew(ctx context.Context, recs []queue.Record) ([]bool, error) {
	inserted := make([]bool, len(recs))
	err := db.WithTx(ctx, s.DB, func(conn *db.CompatConn) error {
		for i, rec := range recs {
			c := rec.Candidate
			meta, err := encodeMeta(c.Meta)
			if err != nil {
				return err
			}
			query, args, err := sq.Insert(table).
				Columns(
					"id", "kind", "source", "language", "title", "text", "url",
					"external_id", "category", "image_url", "rating_percent", "meta",
					"raw_key", "dedup_key", "status", "notes", "created_at", "deleted_at",
				).
				Values(
					c.ID, string(c.Kind), c.Source, c.Language, c.Title, c.Text, c.URL,
					c.ExternalID, c.Category, c.ImageURL, c.RatingPercent, meta,
					c.RawKey, rec.DedupKey, string(c.Status), c.Notes, db.FormatTime(c.CreatedAt), formatTimePtr(c.DeletedAt),
				).
				Suffix("ON CONFLICT DO NOTHING").
				ToSql()
			if err != nil {
				return err
			}
			res, err := conn.ExecContext(ctx, query, args...)
			if err != nil {
				return err
			}
			n, _ := res.RowsAffected()
			inserted[i] = n == 1
		}
		return nil
	})
	if err != nil {
		return nil, errors.StoreError(err, "insert candidates")
	}
	return inserted, nil
}

func (s *Store) Get(ctx context.Context, id string) (*candidate.Candidate, error) {
	query, args, err := sq.Select(columns...).From(table).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "build get query")
	}
	c, err := scanCandidate(s.DB.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundf("candidate %s not found", id)
	}
	if err != nil {
		return nil, errors.StoreError(err, "get candidate")
	}
	return c, nil
}

func (s *Store) List(ctx context.Context, f candidate.ListFilter) ([]*candidate.Candidate, error) {
	b := applyListFilter(sq.Select(columns...).From(table), f).
		OrderBy("created_at DESC", "id DESC")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	return s.query(ctx, b, "list candidates")
}

func (s *Store) query(ctx context.Context, b sq.SelectBuilder, op string) ([]*candidate.Candidate, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, errors.Wrapf(err, "build %s query", op)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.StoreError(err, op)
	}
	defer rows.Close()

	out := []*candidate.Candidate{}
	for rows.Next() {
		c, err := scanCandidate(rows)
		if err != nil {
			return nil, errors.StoreError(err, op)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.StoreError(err, op)
	}
	return out, nil
}

func (s *Store) SetEditedText(ctx context.Context, id, text string) error {
	b := sq.Update(table).Set("edited_text", text).Where(sq.Eq{"id": id})
	return s.execOne(ctx, s.DB, b, id, "edit text")
}

func (s *Store) DeleteLongText(ctx context.Context, maxLen int, f candidate.ListFilter, note string, now time.Time) (int, error) {
	b := sq.Update(table).
		SetMap(statusSet(candidate.StatusDeleted, now)).
		Set("notes", note).
		Where(pendingCond()).
		Where(sq.Expr(s.DB.CharLengthExpr("text")+" > ?", maxLen))
	if f.Kind != "" {
		b = b.Where(sq.Eq{"kind": string(f.Kind)})
	}
	if f.Language != "" {
		b = b.Where(sq.Eq{"language": f.Language})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "build cleanup query")
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.StoreError(err, "delete long text")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) CountDeleted(ctx context.Context) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM candidates WHERE status = ?", string(candidate.StatusDeleted)).Scan(&n)
	if err != nil {
		return 0, errors.StoreError(err, "count deleted")
	}
	return n, nil
}

func (s *Store) PurgeDeleted(ctx context.Context) (int, error) {
	res, err := s.DB.ExecContext(ctx, "DELETE FROM candidates WHERE status = ?", string(candidate.StatusDeleted))
	if err != nil {
		return 0, errors.StoreError(err, "purge deleted")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *Store) Histogram(ctx context.Context, sampleSize int) (candidate.Histogram, error) {
	h := candidate.Histogram{Samples: map[candidate.Status][]*candidate.Candidate{}}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT COALESCE(status, 'pending') AS st, COUNT(*)
		FROM candidates
		GROUP BY COALESCE(status, 'pending')
		ORDER BY st`)
	if err != nil {
		return h, errors.StoreError(err, "status histogram")
	}
	for rows.Next() {
		var sc candidate.StatusCount
		var st string
		if err := rows.Scan(&st, &sc.Count); err != nil {
			rows.Close()
			return h, errors.StoreError(err, "status histogram")
		}
		sc.Status = candidate.Status(st)
		h.ByStatus = append(h.ByStatus, sc)
		h.Total += sc.Count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return h, errors.StoreError(err, "status histogram")
	}

	for _, sc := range h.ByStatus {
		b := sq.Select(columns...).From(table).
			Where(statusCond([]candidate.Status{sc.Status})).
			OrderBy("created_at DESC", "id DESC").
			Limit(uint64(sampleSize))
		samples, err := s.query(ctx, b, "histogram samples")
		if err != nil {
			return h, err
		}
		h.Samples[sc.Status] = samples
	}
	return h, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCandidate(row scanner) (*candidate.Candidate, error) {
	var (
		c                                          candidate.Candidate
		kind, meta, createdAt                      string
		editedText, status                         sql.NullString
		rating                                     sql.NullFloat64
		reservedAt, usedAt, deletedAt, publishedAt sql.NullString
	)
	err := row.Scan(
		&c.ID, &kind, &c.Source, &c.Language, &c.Title, &c.Text, &editedText, &c.URL,
		&c.ExternalID, &c.Category, &c.ImageURL, &rating, &meta, &c.RawKey,
		&status, &c.Notes, &createdAt, &reservedAt, &usedAt, &deletedAt,
		&publishedAt, &c.VideoURL, &c.VideoID,
	)
	if err != nil {
		return nil, err
	}
	c.Kind = candidate.Kind(kind)
	c.EditedText = editedText.String
	c.Status = candidate.ParseStatus(status.String)
	if rating.Valid {
		v := rating.Float64
		c.RatingPercent = &v
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &c.Meta); err != nil {
			return nil, errors.Wrapf(err, "decode meta of %s", c.ID)
		}
	}
	if t := db.ParseTime(sql.NullString{String: createdAt, Valid: true}); t != nil {
		c.CreatedAt = *t
	}
	c.ReservedAt = db.ParseTime(reservedAt)
	c.UsedAt = db.ParseTime(usedAt)
	c.DeletedAt = db.ParseTime(deletedAt)
	c.PublishedAt = db.ParseTime(publishedAt)
	return &c, nil
}

func encodeMeta(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", errors.Wrap(err, "encode meta")
	}
	return string(b), nil
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return db.FormatTime(*t)
}
