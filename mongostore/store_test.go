package mongostore

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"shortsgen/candidate"
	"shortsgen/errors"
	"shortsgen/queue"
)

// newStore connects to MONGODB_TEST_URI and returns a store on a throwaway
// database that is dropped when the test ends.
func newStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	require.NoError(t, err)
	database := client.Database(fmt.Sprintf("shortsgen_test_%s", strings.ReplaceAll(uuid.NewString()[:8], "-", "")))
	t.Cleanup(func() {
		database.Drop(ctx)
		client.Disconnect(ctx)
	})
	s := New(database)
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func rec(lang, text string, created time.Time) queue.Record {
	return queue.Record{
		Candidate: &candidate.Candidate{
			ID: uuid.NewString(), Kind: candidate.KindJoke, Source: "test", Language: lang,
			Text: text, Status: candidate.StatusPending, CreatedAt: created,
		},
		DedupKey: "text:" + text,
	}
}

func TestClaimInsertAndLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rating := 80.0

	a := rec("es", "uno", t0)
	b := rec("es", "dos", t0.Add(time.Hour))
	b.Candidate.RatingPercent = &rating
	ok, err := s.InsertNew(ctx, []queue.Record{a, b, rec("es", "uno", t0)})
	require.NoError(t, err)
	assert.Equal(t, []bool{true, true, false}, ok)

	// Legacy document without a status field.
	_, err = s.candidates.InsertOne(ctx, bson.M{
		"_id": "legacy", "kind": "joke", "source": "old", "language": "fr",
		"text": "vieille blague", "dedupKey": "text:vieille blague", "createdAt": t0,
	})
	require.NoError(t, err)

	c, err := s.Claim(ctx, candidate.ReserveFilter{Language: "es"}, t0)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "dos", c.Text, "rated candidates first")
	assert.Equal(t, candidate.StatusReserved, c.Status)

	c, err = s.Claim(ctx, candidate.ReserveFilter{Language: "fr"}, t0)
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.Equal(t, "legacy", c.ID)

	note := "$notes are literal"
	require.NoError(t, s.SetStatus(ctx, a.Candidate.ID, candidate.StatusUsed, &note, t0))
	got, err := s.Get(ctx, a.Candidate.ID)
	require.NoError(t, err)
	assert.Equal(t, note, got.Notes)
	assert.NotNil(t, got.ReservedAt)
	assert.NotNil(t, got.UsedAt)

	res, err := s.ResetStatuses(ctx, []candidate.Status{candidate.StatusUsed, candidate.StatusReserved}, candidate.StatusPending, t0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Modified)
	got, _ = s.Get(ctx, a.Candidate.ID)
	assert.Nil(t, got.UsedAt)

	assert.True(t, errors.IsNotFound(s.SetStatus(ctx, "missing", candidate.StatusUsed, nil, t0)))
}

func TestDeleteLongTextAndState(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	t0 := time.Now().UTC()
	_, err := s.InsertNew(ctx, []queue.Record{rec("de", strings.Repeat("ü", 11), t0), rec("de", "kurz", t0)})
	require.NoError(t, err)

	n, err := s.DeleteLongText(ctx, 10, candidate.ListFilter{}, queue.LongTextNote(10), t0)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	h, err := s.Histogram(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 2, h.Total)

	page, err := s.NextPage(ctx, "aberwitzig", "k")
	require.NoError(t, err)
	assert.Equal(t, 1, page)
	require.NoError(t, s.SaveState(ctx, "aberwitzig", "k", 4, 10))
	page, err = s.NextPage(ctx, "aberwitzig", "k")
	require.NoError(t, err)
	assert.Equal(t, 5, page)
}
