package ingestapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"shortsgen/candidate"
	"shortsgen/db/dbtest"
	"shortsgen/ingest"
	"shortsgen/lock"
	"shortsgen/queue"
	"shortsgen/scrape"
	"shortsgen/sqlstore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/ok", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<ul><li>Un chiste</li><li>Otro chiste</li></ul>`))
	})
	mux.HandleFunc("/down", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	upstream := httptest.NewServer(mux)
	t.Cleanup(upstream.Close)

	store := sqlstore.New(dbtest.New(t))
	return &Handler{Runner: &ingest.Runner{
		Registry: scrape.DefaultRegistry(scrape.NewFetcher(nil, scrape.FetcherOptions{PerHostRate: rate.Inf})),
		Queue:    queue.NewService(store, nil),
		State:    store,
		Locker:   lock.NewLocalLocker(),
		Catalog: &ingest.Catalog{Sources: []scrape.Source{
			{Name: "ok", Source: "ok", Scraper: "html", Kind: candidate.KindJoke, Language: "es",
				URL: upstream.URL + "/ok", Selectors: scrape.HTMLSelectors{Item: "li"}},
			{Name: "down", Source: "down", Scraper: "html", Kind: candidate.KindJoke, Language: "pt",
				URL: upstream.URL + "/down", Selectors: scrape.HTMLSelectors{Item: "li"}},
		}},
	}}
}

func post(h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	b, _ := json.Marshal(body)
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest("POST", "/", bytes.NewReader(b)))
	return rec
}

func TestHandleRun(t *testing.T) {
	h := newTestHandler(t)

	rec := post(h.HandleRun, map[string]interface{}{})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var res ingest.RunResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Equal(t, 2, res.Inserted)
	require.Len(t, res.Sources, 2)
	assert.False(t, res.Sources[1].OK)
	assert.Equal(t, 500, res.Sources[1].Error.StatusCode)
}

func TestHandleRun_Conflict(t *testing.T) {
	h := newTestHandler(t)
	release, ok, err := h.Runner.Locker.TryLock(context.Background(), "ingest:run", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	rec := post(h.HandleRun, nil)
	assert.Equal(t, 409, rec.Code)
}

func TestHandlePreview(t *testing.T) {
	h := newTestHandler(t)

	rec := post(h.HandlePreview, ingest.RunFilter{Language: "es"})
	require.Equal(t, 200, rec.Code)
	var res ingest.PreviewResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	assert.Len(t, res.Candidates, 2)

	rec = post(h.HandlePreview, ingest.RunFilter{Language: "pt"})
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestHandleSources(t *testing.T) {
	h := newTestHandler(t)
	rec := httptest.NewRecorder()
	h.HandleSources(rec, httptest.NewRequest("GET", "/api/ingest/sources", nil))
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"ok"`)
}
