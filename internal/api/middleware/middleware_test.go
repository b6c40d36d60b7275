package middleware_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/repoanalyst/internal/api/middleware"
	"github.com/kiranshivaraju/repoanalyst/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock Cache ---

type mockCache struct {
	cache.NopCache
	mu       sync.Mutex
	counters map[string]int64
	err      error
}

func newMockCache() *mockCache {
	return &mockCache{counters: make(map[string]int64)}
}

func (m *mockCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[key]++
	return m.counters[key], m.err
}

// --- helpers ---

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}
}

func errBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body["error"].(map[string]any)
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest("POST", "/api/v1/sessions", nil)
	req.RemoteAddr = addr
	return req
}

// ========================================
// Rate Limit Middleware Tests
// ========================================

func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	mc := newMockCache()
	handler := mw.NewRateLimit(mc, 10).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:51000"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, int64(1), mc.counters[cache.RateLimitKey("203.0.113.7")])
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	mc := newMockCache()
	mc.counters[cache.RateLimitKey("203.0.113.7")] = 2
	handler := mw.NewRateLimit(mc, 2).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:51000"))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", errBody(t, w)["code"])
}

func TestRateLimit_PortIgnored(t *testing.T) {
	mc := newMockCache()
	handler := mw.NewRateLimit(mc, 10).Limit(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.7:51000"))
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("203.0.113.7:51001"))

	assert.Equal(t, int64(2), mc.counters[cache.RateLimitKey("203.0.113.7")])
}

func TestRateLimit_CacheErrorFailsOpen(t *testing.T) {
	mc := newMockCache()
	mc.err = errors.New("redis down")
	handler := mw.NewRateLimit(mc, 1).Limit(okHandler())

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.7:51000"))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit_NopCacheNeverLimits(t *testing.T) {
	handler := mw.NewRateLimit(cache.NopCache{}, 1).Limit(okHandler())

	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.7:51000"))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

// ========================================
// Recovery Middleware Tests
// ========================================

func TestRecovery_CatchesPanic(t *testing.T) {
	panicking := http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
		panic("something went wrong")
	})

	handler := mw.Recovery(panicking)

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "INTERNAL_ERROR", errBody(t, w)["code"])
}

func TestRecovery_NoPanic(t *testing.T) {
	handler := mw.Recovery(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

// ========================================
// Logging Middleware Tests
// ========================================

func TestLogger_SetsStatus(t *testing.T) {
	handler := mw.Logger(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_IncludesRouteIDs(t *testing.T) {
	logs := captureLogs(t)

	r := chi.NewRouter()
	r.Use(mw.Logger)
	r.Get("/api/v1/sessions/{sessionID}", okHandler())
	r.Get("/api/v1/reports/{jobID}", okHandler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/sessions/0b7e8c3a-3f3e-4a59-9d3c-1f2e5b8b7c11", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/v1/reports/42", nil))

	dec := json.NewDecoder(logs)
	var first, second map[string]any
	require.NoError(t, dec.Decode(&first))
	require.NoError(t, dec.Decode(&second))

	assert.Equal(t, "0b7e8c3a-3f3e-4a59-9d3c-1f2e5b8b7c11", first["session_id"])
	assert.Equal(t, "/api/v1/sessions/{sessionID}", first["route"])
	assert.NotContains(t, first, "job_id")

	assert.Equal(t, "42", second["job_id"])
	assert.Equal(t, float64(http.StatusOK), second["status"])
}
