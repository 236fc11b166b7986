package middleware_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"learn.hostlimit/core"
	"learn.hostlimit/internal/clock"
	"learn.hostlimit/internal/storage/inmemory"
	"learn.hostlimit/metrics"
	"learn.hostlimit/middleware"
	"learn.hostlimit/types"
)

var mockTime = time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("42"))
})

func newMiddleware(t *testing.T, b *core.Builder, m *metrics.RateLimitMetrics) *middleware.RateLimitMiddleware {
	t.Helper()
	policy, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	mw, err := middleware.NewRateLimitMiddleware(core.NewEngine(policy), m, "test", middleware.WithCORSInstalled())
	if err != nil {
		t.Fatalf("NewRateLimitMiddleware failed: %v", err)
	}
	return mw
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestMiddleware_BlocksAfterLimit(t *testing.T) {
	h := newMiddleware(t, core.NewBuilder(inmemory.NewStorage()).Limit(10), nil).Handler(ok)

	for i := 0; i < 10; i++ {
		if rec := get(h, "/"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	rec := get(h, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	retryAfter, err := strconv.ParseInt(rec.Header().Get("Retry-After"), 10, 64)
	if err != nil {
		t.Fatalf("Retry-After header %q: %v", rec.Header().Get("Retry-After"), err)
	}
	if retryAfter <= 0 || retryAfter > 60*60 {
		t.Fatalf("Retry-After = %d, want within (0, 3600]", retryAfter)
	}
}

func TestMiddleware_RetryAfterValue(t *testing.T) {
	c := clock.NewManual(mockTime)
	storage := inmemory.NewStorage(inmemory.WithClock(c.Now))
	h := newMiddleware(t, core.NewBuilder(storage).Limit(1).Timeout(3*time.Second), nil).Handler(ok)

	get(h, "/")
	if got := get(h, "/").Header().Get("Retry-After"); got != "3" {
		t.Fatalf("Retry-After = %q, want 3", got)
	}
	c.Advance(1500 * time.Millisecond)
	if got := get(h, "/").Header().Get("Retry-After"); got != "2" {
		t.Fatalf("Retry-After after 1.5s = %q, want 2", got)
	}
	c.Advance(1500 * time.Millisecond)
	if rec := get(h, "/"); rec.Code != http.StatusOK {
		t.Fatalf("status after timeout = %d, want 200", rec.Code)
	}
}

func TestMiddleware_NoHeader(t *testing.T) {
	h := newMiddleware(t, core.NewBuilder(inmemory.NewStorage()).Limit(10).SendRetryAfterHeader(false), nil).Handler(ok)

	for i := 0; i < 10; i++ {
		get(h, "/")
	}
	rec := get(h, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if v := rec.Header().Get("Retry-After"); v != "" {
		t.Fatalf("Retry-After = %q, want no header", v)
	}
}

func TestMiddleware_AlwaysBlockedHost(t *testing.T) {
	h := newMiddleware(t, core.NewBuilder(inmemory.NewStorage()).
		Timeout(time.Hour).
		AlwaysBlock(func(host string) bool { return host == "192.0.2.1" }), nil).Handler(ok)

	rec := get(h, "/")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "3600" {
		t.Fatalf("Retry-After = %q, want 3600", got)
	}
}

func TestMiddleware_RateLimitOnlyLoginEndpoint(t *testing.T) {
	storage := inmemory.NewStorage()
	reg := prometheus.NewRegistry()
	m := metrics.NewRateLimitMetrics(reg, "login")
	h := newMiddleware(t, core.NewBuilder(storage).Limit(3).Skip(middleware.OnlyPaths("/login")), m).Handler(ok)

	for i := 0; i < 10; i++ {
		if rec := get(h, "/"); rec.Code != http.StatusOK {
			t.Fatalf("unlimited route: status = %d, want 200", rec.Code)
		}
	}
	if storage.Len() != 0 {
		t.Fatalf("skipped requests touched the storage")
	}
	for i := 0; i < 3; i++ {
		if rec := get(h, "/login"); rec.Code != http.StatusOK {
			t.Fatalf("login %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	if rec := get(h, "/login"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("login over limit: status = %d, want 429", rec.Code)
	}

	if got := testutil.ToFloat64(m.Requests(metrics.OutcomeSkipped)); got != 10 {
		t.Errorf("skipped = %v, want 10", got)
	}
	if got := testutil.ToFloat64(m.Requests(metrics.OutcomeAllowed)); got != 3 {
		t.Errorf("allowed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.Requests(metrics.OutcomeBlocked)); got != 1 {
		t.Errorf("blocked = %v, want 1", got)
	}
}

func TestMiddleware_SkipKeepsStoredState(t *testing.T) {
	storage := inmemory.NewStorage()
	h := newMiddleware(t, core.NewBuilder(storage).Skip(middleware.SkipPaths("/health")), nil).Handler(ok)

	get(h, "/")
	before, _ := storage.Get(context.Background(), "192.0.2.1")
	for i := 0; i < 5; i++ {
		get(h, "/health")
	}
	after, _ := storage.Get(context.Background(), "192.0.2.1")
	if before == nil || after == nil || *before != *after {
		t.Fatalf("skipped requests changed the record: %+v -> %+v", before, after)
	}
}

type failingStorage struct{ *inmemory.Storage }

func (failingStorage) Get(context.Context, string) (*types.Requested, error) {
	return nil, errors.New("storage unavailable")
}

func TestMiddleware_StorageFailure(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewRateLimitMetrics(reg, "test")
	h := newMiddleware(t, core.NewBuilder(failingStorage{inmemory.NewStorage()}), m).Handler(ok)

	if rec := get(h, "/"); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := testutil.ToFloat64(m.Requests(metrics.OutcomeError)); got != 1 {
		t.Fatalf("error counter = %v, want 1", got)
	}
}

func TestNewRateLimitMiddleware_CORSCheck(t *testing.T) {
	policy, _ := core.NewBuilder(inmemory.NewStorage()).Build()
	if _, err := middleware.NewRateLimitMiddleware(core.NewEngine(policy), nil, "test"); !errors.Is(err, types.ErrCORSNotInstalled) {
		t.Fatalf("err = %v, want ErrCORSNotInstalled", err)
	}

	ignoring, _ := core.NewBuilder(inmemory.NewStorage()).IgnoreCORSCheck(true).Build()
	if _, err := middleware.NewRateLimitMiddleware(core.NewEngine(ignoring), nil, "test"); err != nil {
		t.Fatalf("IgnoreCORSCheck: unexpected error %v", err)
	}
}

func TestMiddleware_CORSPreflightNotCounted(t *testing.T) {
	storage := inmemory.NewStorage()
	mw := newMiddleware(t, core.NewBuilder(storage).Limit(1), nil)

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"https://example.com"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}))
	r.Use(mw.Handler)
	r.Post("/login", ok)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/login", nil)
		req.Header.Set("Origin", "https://example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("preflight %d was rate limited", i+1)
		}
	}
	if storage.Len() != 0 {
		t.Fatalf("preflight requests were counted")
	}
}

func TestHandle(t *testing.T) {
	mw := newMiddleware(t, core.NewBuilder(inmemory.NewStorage()).Limit(1), nil)
	h := mw.Handle(ok)

	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "42" {
		t.Fatalf("first request: %d %q", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want int64
	}{
		{0, 0},
		{-time.Second, 0},
		{time.Nanosecond, 1},
		{time.Second, 1},
		{1500 * time.Millisecond, 2},
		{300 * time.Millisecond, 1},
		{time.Hour, 3600},
	}
	for _, tt := range tests {
		if got := middleware.RetryAfterSeconds(tt.in); got != tt.want {
			t.Errorf("RetryAfterSeconds(%v) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
