package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAllow_BurstThenBlock(t *testing.T) {
	rl := New(0.001, 2)
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("5.6.7.8"), "buckets are per IP")
}

func TestCleanupEvictsIdleVisitors(t *testing.T) {
	rl := New(1, 1)
	rl.Allow("1.2.3.4")
	rl.cleanup(time.Now().Add(time.Hour))
	assert.Empty(t, rl.visitors)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	r.RemoteAddr = "203.0.113.9:5555"
	r.Header.Set("X-Forwarded-For", "198.51.100.1")
	assert.Equal(t, "203.0.113.9", ClientIP(r), "untrusted peers cannot spoof")

	r.RemoteAddr = "172.18.0.2:5555"
	assert.Equal(t, "198.51.100.1", ClientIP(r))

	r.Header.Set("X-Real-IP", "198.51.100.7")
	assert.Equal(t, "198.51.100.7", ClientIP(r))
}

func TestMiddleware(t *testing.T) {
	h := Middleware(New(0.001, 1))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(204)
	}))
	do := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/", nil)
		req.RemoteAddr = "203.0.113.9:1"
		h.ServeHTTP(rec, req)
		return rec
	}
	assert.Equal(t, 204, do().Code)
	rec := do()
	assert.Equal(t, 429, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}
