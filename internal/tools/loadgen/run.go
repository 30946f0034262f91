package loadgen

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sandeepkv93/taskmanager-auth/internal/tools/common"
)

const (
	ProfileHealth = "health"
	ProfileAuth   = "auth"
	ProfileMixed  = "mixed"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        uint64
}

type Result struct {
	TotalRequests int            `json:"totalRequests"`
	Failures      int            `json:"failures"`
	StatusClasses map[string]int `json:"statusClasses"`
	Operations    map[string]int `json:"operations"`
	Elapsed       time.Duration  `json:"elapsed"`
}

type recorder struct {
	mu  sync.Mutex
	res Result
}

func (r *recorder) observe(op string, status int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.res.TotalRequests++
	r.res.Operations[op]++
	if err != nil {
		r.res.Failures++
		r.res.StatusClasses["error"]++
		return
	}
	class := classifyStatusClass(status)
	r.res.StatusClasses[class]++
	if class == "5xx" || class == "other" {
		r.res.Failures++
	}
}

// Run drives traffic at cfg.RPS across cfg.Concurrency workers until
// cfg.Duration elapses or ctx is cancelled.
func Run(ctx context.Context, cfg Config) (Result, error) {
	if cfg.BaseURL == "" {
		return Result{}, errors.New("base url is required")
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	cfg.Profile = normalizeProfile(cfg.Profile)
	switch cfg.Profile {
	case ProfileHealth, ProfileAuth, ProfileMixed:
	default:
		return Result{}, fmt.Errorf("unknown profile %q", cfg.Profile)
	}

	runCtx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	limiter := rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Concurrency)
	client := common.NewAPIClient(cfg.BaseURL)
	rec := &recorder{res: Result{StatusClasses: map[string]int{}, Operations: map[string]int{}}}
	started := time.Now()

	g, gctx := errgroup.WithContext(runCtx)
	for i := range cfg.Concurrency {
		w := &worker{
			id:     i,
			client: client,
			rec:    rec,
			rng:    rand.New(rand.NewPCG(cfg.Seed, uint64(i))),
			runID:  fmt.Sprintf("%x", started.UnixNano()),
		}
		g.Go(func() error {
			for {
				if err := limiter.Wait(gctx); err != nil {
					return nil
				}
				w.step(gctx, cfg.Profile)
			}
		})
	}
	_ = g.Wait()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.res.Elapsed = time.Since(started)
	return rec.res, nil
}

type worker struct {
	id      int
	client  *common.APIClient
	rec     *recorder
	rng     *rand.Rand
	runID   string
	session *common.TokenPayload
	failed  bool
}

func (w *worker) step(ctx context.Context, profile string) {
	if profile == ProfileHealth || (profile == ProfileMixed && w.rng.IntN(3) == 0) {
		w.call(ctx, "health", http.MethodGet, "/health/live", "", nil)
		return
	}
	if w.session == nil {
		if w.failed {
			w.call(ctx, "health", http.MethodGet, "/health/ready", "", nil)
			return
		}
		w.register(ctx)
		return
	}
	switch w.rng.IntN(4) {
	case 0:
		w.login(ctx)
	case 1:
		res := w.call(ctx, "refresh", http.MethodPost, "/auth/refresh", "", map[string]string{"refreshToken": w.session.Tokens.RefreshToken})
		w.adopt(res)
	default:
		w.call(ctx, "me", http.MethodGet, "/auth/me", w.session.Tokens.AccessToken, nil)
	}
}

func (w *worker) username() string {
	return fmt.Sprintf("lg_%s_%d", w.runID, w.id)
}

func (w *worker) register(ctx context.Context) {
	res := w.call(ctx, "register", http.MethodPost, "/auth/register", "", map[string]string{
		"username": w.username(),
		"email":    w.username() + "@loadgen.test",
		"password": "Loadgen123",
	})
	if !w.adopt(res) {
		// Registration is throttled per client; stick to health checks.
		w.failed = true
	}
}

func (w *worker) login(ctx context.Context) {
	res := w.call(ctx, "login", http.MethodPost, "/auth/login", "", map[string]string{
		"username": w.username(),
		"password": "Loadgen123",
	})
	w.adopt(res)
}

func (w *worker) adopt(res *common.Response) bool {
	if res == nil || res.Status >= 300 {
		return false
	}
	p, err := res.Tokens()
	if err != nil {
		return false
	}
	w.session = &p
	return true
}

func (w *worker) call(ctx context.Context, op, method, path, bearer string, body any) *common.Response {
	res, err := w.client.Do(ctx, method, path, bearer, body)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		w.rec.observe(op, 0, err)
		return nil
	}
	w.rec.observe(op, res.Status, nil)
	return res
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	if p == "" {
		return ProfileMixed
	}
	return p
}
