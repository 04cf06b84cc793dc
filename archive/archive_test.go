package archive

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shortsgen/candidate"
)

func TestKey(t *testing.T) {
	k := Key(candidate.KindJoke, "aberwitzig", "url:https://x/1", "html")
	assert.True(t, strings.HasPrefix(k, "raw/joke/aberwitzig/"))
	assert.True(t, strings.HasSuffix(k, ".html"))
	assert.Len(t, strings.TrimSuffix(strings.TrimPrefix(k, "raw/joke/aberwitzig/"), ".html"), 40)

	assert.Equal(t, k, Key(candidate.KindJoke, "aberwitzig", "url:https://x/1", "html"), "deterministic")
	assert.NotEqual(t, k, Key(candidate.KindJoke, "aberwitzig", "url:https://x/2", "html"))
	assert.Contains(t, Key(candidate.KindNews, "a b", "x", "json"), "raw/news/a%20b/")
}

func TestMinioArchiver_PutAndPresign(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	ctx := context.Background()
	a, err := NewMinio(ctx, Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_TEST_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_TEST_SECRET_KEY"),
		Bucket:    "shortsgen-test",
	})
	require.NoError(t, err)

	key := "raw/test/" + uuid.NewString() + ".html"
	exists, err := a.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
	require.NoError(t, a.Put(ctx, key, []byte("<p>hola</p>"), "text/html"))
	exists, err = a.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	u, err := a.URL(ctx, key, time.Minute)
	require.NoError(t, err)
	resp, err := http.Get(u)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "<p>hola</p>", string(body))
}
