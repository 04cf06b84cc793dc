package queue_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsgen/candidate"
	"shortsgen/db/dbtest"
	"shortsgen/errors"
	"shortsgen/queue"
	"shortsgen/sqlstore"
)

func newService(t *testing.T, opts ...queue.Option) *queue.Service {
	t.Helper()
	return queue.NewService(sqlstore.New(dbtest.New(t)), nil, opts...)
}

func draft(lang, text string) candidate.Draft {
	return candidate.Draft{Kind: candidate.KindJoke, Source: "test", Language: lang, Text: text}
}

func TestInsert_RejectsOversizedBatch(t *testing.T) {
	svc := newService(t)
	drafts := make([]candidate.Draft, candidate.MaxBatchSize+1)
	for i := range drafts {
		drafts[i] = draft("es", fmt.Sprintf("chiste %d", i))
	}
	_, err := svc.Insert(context.Background(), drafts)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))

	res, err := svc.Insert(context.Background(), drafts[:candidate.MaxBatchSize])
	require.NoError(t, err)
	assert.Equal(t, candidate.MaxBatchSize, res.Inserted)
}

func TestInsert_ValidatesDrafts(t *testing.T) {
	svc := newService(t)
	cases := map[string]candidate.Draft{
		"kind":     {Source: "s", Language: "es", Text: "x"},
		"source":   {Kind: candidate.KindJoke, Language: "es", Text: "x"},
		"language": {Kind: candidate.KindJoke, Source: "s", Text: "x"},
		"text":     {Kind: candidate.KindJoke, Source: "s", Language: "es", Text: "  "},
	}
	for name, d := range cases {
		_, err := svc.Insert(context.Background(), []candidate.Draft{d})
		assert.True(t, errors.IsInvalid(err), "missing %s should be invalid", name)
	}
}

func TestInsert_DedupAndTooLong(t *testing.T) {
	svc := newService(t, queue.WithMaxTextLength(20))
	ctx := context.Background()

	res, err := svc.Insert(ctx, []candidate.Draft{
		draft("de", "kurz"),
		draft("de", "kurz"),
		draft("de", strings.Repeat("w", 21)),
	})
	require.NoError(t, err)
	assert.Equal(t, candidate.InsertResult{Inserted: 1, Skipped: 1, Rejected: 1}, res)

	// Re-running the same scrape only skips, including the deleted long one.
	res, err = svc.Insert(ctx, []candidate.Draft{draft("de", "kurz"), draft("de", strings.Repeat("w", 21))})
	require.NoError(t, err)
	assert.Equal(t, candidate.InsertResult{Skipped: 2}, res)

	list, err := svc.List(ctx, candidate.ListFilter{Statuses: []candidate.Status{candidate.StatusDeleted}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, queue.LongTextNote(20), list[0].Notes)
}

func TestReserve_NoneAvailable(t *testing.T) {
	svc := newService(t)
	c, ok, err := svc.Reserve(context.Background(), candidate.ReserveFilter{Language: "fr"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, c)
}

func TestReserve_ThenMarkUsed(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Insert(ctx, []candidate.Draft{draft("es", "¿Qué le dice un pez a otro? Nada.")})
	require.NoError(t, err)

	c, ok, err := svc.Reserve(ctx, candidate.ReserveFilter{Kind: candidate.KindJoke, Language: "es"})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, candidate.StatusReserved, c.Status)

	_, ok, err = svc.Reserve(ctx, candidate.ReserveFilter{Language: "es"})
	require.NoError(t, err)
	assert.False(t, ok, "a reserved candidate is not handed out twice")

	require.NoError(t, svc.MarkUsed(ctx, c.ID, candidate.PublishMeta{VideoURL: "https://youtu.be/abc", VideoID: "abc"}))
	got, err := svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, candidate.StatusUsed, got.Status)
	assert.NotNil(t, got.PublishedAt)
}

func TestReserve_UnknownKind(t *testing.T) {
	svc := newService(t)
	_, _, err := svc.Reserve(context.Background(), candidate.ReserveFilter{Kind: "podcast"})
	assert.True(t, errors.IsInvalid(err))
}

func TestMarkStatus_Errors(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	assert.True(t, errors.IsInvalid(svc.MarkStatus(ctx, "", candidate.StatusUsed, nil)))
	assert.True(t, errors.IsInvalid(svc.MarkStatus(ctx, "x", "archived", nil)))
	assert.True(t, errors.IsNotFound(svc.MarkStatus(ctx, "x", candidate.StatusUsed, nil)))
}

func TestEditTextAndSoftDelete(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Insert(ctx, []candidate.Draft{draft("pt", "piada original")})
	require.NoError(t, err)
	list, err := svc.List(ctx, candidate.ListFilter{})
	require.NoError(t, err)
	require.Len(t, list, 1)
	id := list[0].ID

	_, err = svc.EditText(ctx, id, "   ")
	assert.True(t, errors.IsInvalid(err))

	c, err := svc.EditText(ctx, id, "  piada editada ")
	require.NoError(t, err)
	assert.Equal(t, "piada editada", c.EditedText)
	assert.Equal(t, "piada editada", c.DisplayText())

	_, err = svc.EditText(ctx, "missing", "x")
	assert.True(t, errors.IsNotFound(err))

	require.NoError(t, svc.SoftDelete(ctx, id))
	c, err = svc.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, candidate.StatusDeleted, c.Status)
	assert.Equal(t, queue.NoteDeletedByUser, c.Notes)

	list, err = svc.List(ctx, candidate.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, list, "default list shows only pending and reserved")
}

func TestResetBulk(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()
	_, err := svc.Insert(ctx, []candidate.Draft{draft("es", "uno"), draft("es", "dos")})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, ok, err := svc.Reserve(ctx, candidate.ReserveFilter{})
		require.NoError(t, err)
		require.True(t, ok)
	}

	_, err = svc.ResetBulk(ctx, nil, candidate.StatusPending)
	assert.True(t, errors.IsInvalid(err))

	res, err := svc.ResetBulk(ctx, []candidate.Status{candidate.StatusReserved}, candidate.StatusPending)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Modified)
	assert.Equal(t, 2, res.Before[candidate.StatusReserved])
}

func TestCleanupLongText_DefaultsToConfiguredMax(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store := sqlstore.New(dbtest.New(t))
	ctx := context.Background()

	// Insert through a permissive service, then clean up with a strict one.
	loose := queue.NewService(store, nil, queue.WithMaxTextLength(1000), queue.WithClock(func() time.Time { return now }))
	_, err := loose.Insert(ctx, []candidate.Draft{draft("de", strings.Repeat("a", 30)), draft("de", "kurz")})
	require.NoError(t, err)

	strict := queue.NewService(store, nil, queue.WithMaxTextLength(10))
	n, err := strict.CleanupLongText(ctx, 0, candidate.ListFilter{Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReclaimStaleAndLoop(t *testing.T) {
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc := newService(t, queue.WithClock(func() time.Time { return clock }))
	ctx := context.Background()
	_, err := svc.Insert(ctx, []candidate.Draft{draft("es", "reservado")})
	require.NoError(t, err)
	_, ok, err := svc.Reserve(ctx, candidate.ReserveFilter{})
	require.NoError(t, err)
	require.True(t, ok)

	_, err = svc.ReclaimStale(ctx, 0)
	assert.True(t, errors.IsInvalid(err))

	clock = clock.Add(2 * time.Hour)
	n, err := svc.ReclaimStale(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// A zero ttl disables the loop and returns immediately.
	done := make(chan struct{})
	go func() {
		svc.RunReclaimer(ctx, 0, time.Millisecond)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunReclaimer with zero ttl did not return")
	}
}
