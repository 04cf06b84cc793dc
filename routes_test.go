package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"shortsgen/auth"
	"shortsgen/config"
	"shortsgen/db/dbtest"
	"shortsgen/ingest"
	"shortsgen/lock"
	"shortsgen/queue"
	"shortsgen/ratelimit"
	"shortsgen/scrape"
	"shortsgen/sqlstore"
)

const testSecret = "test-jwt-secret"

func newTestApp(t *testing.T, env string) *App {
	t.Helper()
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)
	catalog, err := ingest.LoadCatalog("")
	require.NoError(t, err)

	cfg := &config.Config{
		AppEnv:               env,
		JWTSecret:            testSecret,
		JWTTTL:               time.Hour,
		OperatorUser:         "ana",
		OperatorPasswordHash: hash,
		AdminUsers:           []string{"ana"},
		WorkerSecret:         "worker-secret",
		CORSOrigins:          []string{"*"},
		MaxTextLength:        600,
	}
	log := zap.NewNop().Sugar()
	store := sqlstore.New(dbtest.New(t))
	q := queue.NewService(store, log, queue.WithMaxTextLength(cfg.MaxTextLength))
	return &App{
		cfg:   cfg,
		log:   log,
		queue: q,
		runner: &ingest.Runner{
			Registry: scrape.DefaultRegistry(scrape.NewFetcher(http.DefaultClient, scrape.FetcherOptions{})),
			Queue:    q,
			State:    store,
			Locker:   lock.NewLocalLocker(),
			Catalog:  catalog,
			Log:      log,
		},
		started: time.Now(),
	}
}

func do(h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var b []byte
	if body != nil {
		b, _ = json.Marshal(body)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(b))
	req.RemoteAddr = "192.0.2.10:4567"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func login(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := do(h, "POST", "/api/auth/login", "", map[string]string{"username": "ana", "password": "correct-horse"})
	require.Equal(t, 200, rec.Code, rec.Body.String())
	var resp struct {
		Token string `json:"token"`
		Admin bool   `json:"admin"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Admin)
	return resp.Token
}

func TestHealth(t *testing.T) {
	h := newTestApp(t, "development").router(nil)
	rec := do(h, "GET", "/health", "", nil)
	assert.Equal(t, 200, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestQueueRequiresToken(t *testing.T) {
	h := newTestApp(t, "development").router(nil)

	assert.Equal(t, 401, do(h, "GET", "/api/ingest/queue", "", nil).Code)
	assert.Equal(t, 401, do(h, "POST", "/api/ingest/queue/reserve", "garbage", nil).Code)

	token := login(t, h)
	rec := do(h, "GET", "/api/ingest/queue", token, nil)
	assert.Equal(t, 200, rec.Code)

	rec = do(h, "POST", "/api/ingest/queue/reserve", token, map[string]string{"kind": "joke"})
	assert.Equal(t, 404, rec.Code)

	rec = do(h, "GET", "/api/ingest/sources", token, nil)
	require.Equal(t, 200, rec.Code)
	var sources struct {
		Sources []scrape.Source `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sources))
	assert.NotEmpty(t, sources.Sources)
}

func TestDebugRoutes(t *testing.T) {
	h := newTestApp(t, "development").router(nil)
	token := login(t, h)
	assert.Equal(t, 200, do(h, "GET", "/api/debug/status", token, nil).Code)

	operator, err := auth.GenerateToken("bob", false, testSecret, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 401, do(h, "GET", "/api/debug/status", operator, nil).Code)

	prod := newTestApp(t, "production").router(nil)
	token = login(t, prod)
	assert.Equal(t, 404, do(prod, "GET", "/api/debug/status", token, nil).Code)
}

func TestWorkerRoutes(t *testing.T) {
	h := newTestApp(t, "development").router(nil)

	assert.Equal(t, 401, do(h, "POST", "/api/worker/reserve", "", nil).Code)
	assert.Equal(t, 401, do(h, "POST", "/api/worker/reserve", "wrong", nil).Code)
	assert.Equal(t, 204, do(h, "POST", "/api/worker/reserve", "worker-secret", nil).Code)

	jwt := login(t, h)
	assert.Equal(t, 401, do(h, "POST", "/api/worker/reserve", jwt, nil).Code)
}

func TestLoginRateLimited(t *testing.T) {
	h := newTestApp(t, "development").router(ratelimit.New(0.01, 1))
	bad := map[string]string{"username": "ana", "password": "wrong-password"}

	assert.Equal(t, 401, do(h, "POST", "/api/auth/login", "", bad).Code)
	rec := do(h, "POST", "/api/auth/login", "", bad)
	assert.Equal(t, 429, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, 200, do(h, "GET", "/health", "", nil).Code)
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	h := newTestApp(t, "development").router(ratelimit.New(0.001, 2))
	body, _ := json.Marshal(map[string]string{"username": "ana", "password": "wrong-password"})

	limited := 0
	for i := 0; i < 10; i++ {
		req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "203.0.113.5:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code == 429 {
			limited++
		}
	}
	assert.Equal(t, 8, limited)
}

func TestRateLimitHonorsTrustedProxy(t *testing.T) {
	h := newTestApp(t, "development").router(ratelimit.New(0.001, 1))
	body, _ := json.Marshal(map[string]string{"username": "ana", "password": "wrong-password"})

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/api/auth/login", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.2:5000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("198.51.100.%d, 10.0.0.2", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, 401, rec.Code, "client %d has its own bucket", i+1)
	}
}
