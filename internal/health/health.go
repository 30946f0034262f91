package health

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

type CheckResult struct {
	Name      string `json:"name"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latencyMs"`
}

type Checker interface {
	Check(ctx context.Context) CheckResult
}

type CheckerFunc func(ctx context.Context) CheckResult

func (f CheckerFunc) Check(ctx context.Context) CheckResult { return f(ctx) }

// ReadinessRunner runs readiness checks concurrently with a per-run timeout and
// caches the last outcome for cacheTTL.
type ReadinessRunner struct {
	timeout  time.Duration
	cacheTTL time.Duration
	checkers []Checker

	mu       sync.Mutex
	cachedAt time.Time
	ready    bool
	results  []CheckResult
}

func NewReadinessRunner(timeout, cacheTTL time.Duration, checkers ...Checker) *ReadinessRunner {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadinessRunner{timeout: timeout, cacheTTL: cacheTTL, checkers: checkers}
}

func (p *ReadinessRunner) Ready(ctx context.Context) (bool, []CheckResult) {
	if p.cacheTTL > 0 {
		p.mu.Lock()
		if !p.cachedAt.IsZero() && time.Since(p.cachedAt) < p.cacheTTL {
			ready, results := p.ready, append([]CheckResult(nil), p.results...)
			p.mu.Unlock()
			return ready, results
		}
		p.mu.Unlock()
	}

	runCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	results := make([]CheckResult, len(p.checkers))
	var g errgroup.Group
	for i, c := range p.checkers {
		g.Go(func() error {
			start := time.Now()
			res := c.Check(runCtx)
			res.LatencyMS = time.Since(start).Milliseconds()
			if !res.Healthy && res.Error == "" && runCtx.Err() != nil {
				res.Error = runCtx.Err().Error()
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	ready := true
	for _, r := range results {
		if !r.Healthy {
			ready = false
			break
		}
	}
	if p.cacheTTL > 0 {
		p.mu.Lock()
		p.cachedAt = time.Now()
		p.ready = ready
		p.results = append([]CheckResult(nil), results...)
		p.mu.Unlock()
	}
	return ready, results
}

// DBChecker pings the SQL pool behind gorm.
func DBChecker(db *gorm.DB) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		res := CheckResult{Name: "db"}
		if db == nil {
			res.Error = "database not connected"
			return res
		}
		sqlDB, err := db.DB()
		if err != nil {
			res.Error = err.Error()
			return res
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Healthy = true
		return res
	})
}

func RedisChecker(client redis.UniversalClient) Checker {
	return CheckerFunc(func(ctx context.Context) CheckResult {
		res := CheckResult{Name: "redis"}
		if client == nil {
			res.Error = "redis not connected"
			return res
		}
		if err := client.Ping(ctx).Err(); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Healthy = true
		return res
	})
}
