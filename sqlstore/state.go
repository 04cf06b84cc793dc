package sqlstore

import (
	"context"
	"database/sql"
	"time"

	"shortsgen/db"
	"shortsgen/errors"
)

// NextPage returns the page after the last one fetched for (source, key),
// or 1 when the source has never been fetched.
func (s *Store) NextPage(ctx context.Context, source, key string) (int, error) {
	var last int
	err := s.DB.QueryRowContext(ctx,
		"SELECT last_page FROM ingest_state WHERE source = ? AND source_key = ?",
		source, key).Scan(&last)
	if err == sql.ErrNoRows {
		return 1, nil
	}
	if err != nil {
		return 0, errors.StoreError(err, "read ingest state")
	}
	return last + 1, nil
}

// SaveState records page as the last fetched page and adds fetched to the
// running total.
func (s *Store) SaveState(ctx context.Context, source, key string, page, fetched int) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO ingest_state (source, source_key, last_page, fetched, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (source, source_key) DO UPDATE SET
			last_page = excluded.last_page,
			fetched = ingest_state.fetched + excluded.fetched,
			updated_at = excluded.updated_at`,
		source, key, page, fetched, db.FormatTime(time.Now()))
	if err != nil {
		return errors.StoreError(err, "save ingest state")
	}
	return nil
}
