package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLocalFixedWindowLimiterResetsLazily(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLocalFixedWindowLimiter(clock.Now)
	policy := RateLimitPolicy{Limit: 3, Window: 15 * time.Minute}
	ctx := context.Background()

	for i := range 3 {
		d, _ := l.Allow(ctx, "login:1.2.3.4", policy)
		if !d.Allowed || d.Remaining != 2-i {
			t.Fatalf("attempt %d: unexpected decision %+v", i+1, d)
		}
	}
	clock.Advance(5 * time.Minute)
	d, _ := l.Allow(ctx, "login:1.2.3.4", policy)
	if d.Allowed || d.RetryAfter != 10*time.Minute {
		t.Fatalf("expected denial with 10m retry, got %+v", d)
	}
	if other, _ := l.Allow(ctx, "login:5.6.7.8", policy); !other.Allowed {
		t.Fatal("other addresses must have their own window")
	}

	clock.Advance(10 * time.Minute)
	d, _ = l.Allow(ctx, "login:1.2.3.4", policy)
	if !d.Allowed || d.Remaining != 2 {
		t.Fatalf("window must reset after expiry, got %+v", d)
	}
}

func TestLocalFixedWindowLimiterSweepsExpiredEntries(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	l := newLocalFixedWindowLimiter(clock.Now)
	policy := RateLimitPolicy{Limit: 1, Window: 30 * time.Second}
	for _, k := range []string{"a", "b", "c"} {
		_, _ = l.Allow(context.Background(), k, policy)
	}
	if l.size() != 3 {
		t.Fatalf("expected 3 entries, got %d", l.size())
	}
	clock.Advance(2 * time.Minute)
	_, _ = l.Allow(context.Background(), "d", policy)
	if l.size() != 1 {
		t.Fatalf("expired entries must be swept, got %d", l.size())
	}
}

func TestRateLimiterMiddlewareDeniesWithHeaders(t *testing.T) {
	rl := NewRateLimiter(NewLocalFixedWindowLimiter(), RateLimitPolicy{Limit: 2, Window: time.Minute}, FailClosed, "login")
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) }))

	do := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}
	for i := range 2 {
		if rr := do("10.0.0.1:1111"); rr.Code != http.StatusNoContent {
			t.Fatalf("request %d expected 204, got %d", i+1, rr.Code)
		}
	}
	rr := do("10.0.0.1:2222")
	if rr.Code != http.StatusTooManyRequests || errorCode(t, rr) != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d", rr.Code)
	}
	retry, err := strconv.Atoi(rr.Header().Get("Retry-After"))
	if err != nil || retry < 1 || retry > 60 {
		t.Fatalf("unexpected Retry-After %q", rr.Header().Get("Retry-After"))
	}
	if rr.Header().Get("X-RateLimit-Limit") != "2" || rr.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected rate limit headers %v", rr.Header())
	}
	if rr := do("10.0.0.2:1111"); rr.Code != http.StatusNoContent {
		t.Fatalf("different source address must pass, got %d", rr.Code)
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, RateLimitPolicy) (Decision, error) {
	return Decision{}, errors.New("backend down")
}

func TestRateLimiterFailureModes(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })
	policy := RateLimitPolicy{Limit: 5, Window: time.Minute}

	rr := httptest.NewRecorder()
	NewRateLimiter(failingLimiter{}, policy, FailOpen, "login").Middleware()(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("fail open must allow, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	NewRateLimiter(failingLimiter{}, policy, FailClosed, "login").Middleware()(next).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
	if rr.Code != http.StatusTooManyRequests || rr.Header().Get("Retry-After") != "60" {
		t.Fatalf("fail closed must reject with full window retry, got %d %q", rr.Code, rr.Header().Get("Retry-After"))
	}
}

func TestRedisFixedWindowLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	l := NewRedisFixedWindowLimiter(client, "test")
	policy := RateLimitPolicy{Limit: 2, Window: time.Minute}
	ctx := context.Background()

	for i := range 2 {
		d, err := l.Allow(ctx, "login:1.1.1.1", policy)
		if err != nil || !d.Allowed || d.Remaining != 1-i {
			t.Fatalf("attempt %d: decision=%+v err=%v", i+1, d, err)
		}
	}
	d, err := l.Allow(ctx, "login:1.1.1.1", policy)
	if err != nil || d.Allowed || d.RetryAfter <= 0 || d.RetryAfter > time.Minute {
		t.Fatalf("expected denial, got %+v err=%v", d, err)
	}
	if ttl := mr.TTL("test:login:1.1.1.1"); ttl <= 0 {
		t.Fatalf("window key must carry a ttl, got %s", ttl)
	}

	mr.FastForward(61 * time.Second)
	d, err = l.Allow(ctx, "login:1.1.1.1", policy)
	if err != nil || !d.Allowed {
		t.Fatalf("window must reset after expiry, got %+v err=%v", d, err)
	}
}

func TestRedisFixedWindowLimiterSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = clientA.Close(); _ = clientB.Close() })
	policy := RateLimitPolicy{Limit: 1, Window: time.Minute}

	if d, _ := NewRedisFixedWindowLimiter(clientA, "rl").Allow(context.Background(), "k", policy); !d.Allowed {
		t.Fatal("first instance should be allowed")
	}
	if d, _ := NewRedisFixedWindowLimiter(clientB, "rl").Allow(context.Background(), "k", policy); d.Allowed {
		t.Fatal("second instance must see the shared counter")
	}
}

func TestRedisFixedWindowLimiterBackendError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()
	if _, err := NewRedisFixedWindowLimiter(client, "rl").Allow(context.Background(), "k", RateLimitPolicy{Limit: 1, Window: time.Minute}); err == nil {
		t.Fatal("expected backend error")
	}
	if _, err := NewRedisFixedWindowLimiter(nil, "rl").Allow(context.Background(), "k", RateLimitPolicy{}); err == nil {
		t.Fatal("expected nil client error")
	}
}
