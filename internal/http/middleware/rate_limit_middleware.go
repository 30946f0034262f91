package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/http/response"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
)

type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
	ResetAt    time.Time
}

// RateLimitPolicy is a fixed window: Limit attempts per Window, reset
// lazily by the first request after the window ends.
type RateLimitPolicy struct {
	Limit  int
	Window time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, key string, policy RateLimitPolicy) (Decision, error)
}

type FailureMode string

const (
	FailOpen   FailureMode = "fail_open"
	FailClosed FailureMode = "fail_closed"
)

type RateLimiter struct {
	limiter Limiter
	policy  RateLimitPolicy
	mode    FailureMode
	scope   string
	keyFunc func(r *http.Request) string
	logger  *slog.Logger
}

func NewRateLimiter(limiter Limiter, policy RateLimitPolicy, mode FailureMode, scope string) *RateLimiter {
	if limiter == nil {
		limiter = NewLocalFixedWindowLimiter()
	}
	if scope == "" {
		scope = "api"
	}
	if mode == "" {
		mode = FailClosed
	}
	return &RateLimiter{
		limiter: limiter,
		policy:  normalizePolicy(policy),
		mode:    mode,
		scope:   scope,
		keyFunc: clientIPKey,
		logger:  slog.Default(),
	}
}

func (rl *RateLimiter) WithKeyFunc(keyFunc func(r *http.Request) string) *RateLimiter {
	if keyFunc != nil {
		rl.keyFunc = keyFunc
	}
	return rl
}

func (rl *RateLimiter) WithLogger(logger *slog.Logger) *RateLimiter {
	if logger != nil {
		rl.logger = logger
	}
	return rl
}

func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyFunc(r)
			if key == "" {
				key = clientIPKey(r)
			}
			decision, err := rl.limiter.Allow(r.Context(), rl.scope+":"+key, rl.policy)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				if rl.mode == FailOpen {
					rl.logger.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
						"scope", rl.scope, "mode", string(rl.mode), "error", err)
					next.ServeHTTP(w, r)
					return
				}
				rl.logger.ErrorContext(r.Context(), "rate limiter backend unavailable, rejecting request",
					"scope", rl.scope, "mode", string(rl.mode), "error", err)
				writeRateLimitHeaders(w.Header(), rl.policy.Limit, 0, time.Now().Add(rl.policy.Window))
				w.Header().Set("Retry-After", retryAfterHeader(rl.policy.Window))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.policy.Limit, decision.Remaining, decision.ResetAt)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests",
					map[string]any{"retryAfterSeconds": retrySeconds(decision.RetryAfter)})
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

type localWindow struct {
	count   int
	resetAt time.Time
}

// LocalFixedWindowLimiter is process local. Entries whose window ended are
// swept at most once per sweepEvery.
type LocalFixedWindowLimiter struct {
	mu         sync.Mutex
	store      map[string]*localWindow
	now        func() time.Time
	nextSweep  time.Time
	sweepEvery time.Duration
}

func NewLocalFixedWindowLimiter() *LocalFixedWindowLimiter {
	return newLocalFixedWindowLimiter(time.Now)
}

func newLocalFixedWindowLimiter(now func() time.Time) *LocalFixedWindowLimiter {
	return &LocalFixedWindowLimiter{
		store:      make(map[string]*localWindow),
		now:        now,
		nextSweep:  now().Add(time.Minute),
		sweepEvery: time.Minute,
	}
}

func (l *LocalFixedWindowLimiter) Allow(_ context.Context, key string, policy RateLimitPolicy) (Decision, error) {
	policy = normalizePolicy(policy)
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if !now.Before(l.nextSweep) {
		for k, v := range l.store {
			if !now.Before(v.resetAt) {
				delete(l.store, k)
			}
		}
		l.nextSweep = now.Add(l.sweepEvery)
	}

	win, ok := l.store[key]
	if !ok || !now.Before(win.resetAt) {
		win = &localWindow{resetAt: now.Add(policy.Window)}
		l.store[key] = win
	}
	if win.count >= policy.Limit {
		return Decision{Allowed: false, RetryAfter: win.resetAt.Sub(now), ResetAt: win.resetAt}, nil
	}
	win.count++
	return Decision{Allowed: true, Remaining: policy.Limit - win.count, ResetAt: win.resetAt}, nil
}

func (l *LocalFixedWindowLimiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.store)
}

func clientIPKey(r *http.Request) string {
	return security.ClientIP(r)
}

func retrySeconds(d time.Duration) int64 {
	if d <= 0 {
		return 1
	}
	s := int64((d + time.Second - 1) / time.Second)
	if s <= 0 {
		s = 1
	}
	return s
}

func retryAfterHeader(d time.Duration) string {
	return strconv.FormatInt(retrySeconds(d), 10)
}

func writeRateLimitHeaders(h http.Header, limit int, remaining int, resetAt time.Time) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(max(limit, 0)))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(max(remaining, 0)))
	if resetAt.IsZero() {
		resetAt = time.Now().Add(time.Second)
	}
	h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
}

func normalizePolicy(policy RateLimitPolicy) RateLimitPolicy {
	if policy.Limit <= 0 {
		policy.Limit = 1
	}
	if policy.Window <= 0 {
		policy.Window = time.Minute
	}
	return policy
}
