package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type fakeCounter struct {
	counts  map[string]int64
	expires map[string]time.Duration
	err     error
}

func newFakeCounter() *fakeCounter {
	return &fakeCounter{counts: map[string]int64{}, expires: map[string]time.Duration{}}
}

func (f *fakeCounter) Incr(_ context.Context, key string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	f.counts[key]++
	return redis.NewIntResult(f.counts[key], nil)
}

func (f *fakeCounter) Expire(_ context.Context, key string, d time.Duration) *redis.BoolCmd {
	f.expires[key] = d
	return redis.NewBoolResult(true, nil)
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw...)
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func get(r http.Handler, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		for _, vv := range v {
			req.Header.Add(k, vv)
		}
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	counter := newFakeCounter()
	r := newRouter(RateLimitMiddleware(counter, 2, time.Minute, nil))

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		w := get(r, "/ping", nil)
		if w.Code != want {
			t.Fatalf("request %d: status = %d, want %d", i+1, w.Code, want)
		}
	}
	if len(counter.expires) != 1 {
		t.Fatalf("expire should be set once per window, got %v", counter.expires)
	}
	for _, d := range counter.expires {
		if d != time.Minute {
			t.Fatalf("window = %v, want 1m", d)
		}
	}

	for i := 0; i < 5; i++ {
		if w := get(r, "/health", nil); w.Code != http.StatusOK {
			t.Fatalf("health check was limited: %d", w.Code)
		}
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	counter := newFakeCounter()
	counter.err = errors.New("connection refused")
	r := newRouter(RateLimitMiddleware(counter, 1, time.Minute, nil))

	for i := 0; i < 3; i++ {
		if w := get(r, "/ping", nil); w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 while redis is down", w.Code)
		}
	}
}

func TestRequestIDMiddleware(t *testing.T) {
	r := newRouter(RequestIDMiddleware())

	w := get(r, "/ping", http.Header{RequestIDHeader: {"abc-123"}})
	if got := w.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("header = %q, want propagated id", got)
	}
	if w.Body.String() != "abc-123" {
		t.Fatalf("context id = %q", w.Body.String())
	}

	w = get(r, "/ping", nil)
	if got := w.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Fatalf("generated id = %q, want a uuid", got)
	}
}
