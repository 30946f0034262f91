package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
)

const DefaultSessionRetention = 24 * time.Hour

// SessionReaper periodically deletes expired sessions, long-deactivated
// sessions and stale rotated-token records.
type SessionReaper struct {
	sessions  repository.SessionRepository
	interval  time.Duration
	retention time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewSessionReaper(sessions repository.SessionRepository, interval, retention time.Duration, logger *slog.Logger) *SessionReaper {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if retention <= 0 {
		retention = DefaultSessionRetention
	}
	return &SessionReaper{
		sessions:  sessions,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *SessionReaper) WithClock(now func() time.Time) *SessionReaper {
	if now != nil {
		r.now = now
	}
	return r
}

// Run reaps once immediately and then on every tick until ctx is done.
func (r *SessionReaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "session cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (r *SessionReaper) RunOnce(ctx context.Context) (repository.CleanupResult, error) {
	res, err := r.sessions.CleanupExpired(ctx, r.now(), r.retention)
	if err != nil {
		return res, err
	}
	observability.RecordSessionCleanup(ctx, "expired_sessions", res.ExpiredSessions)
	observability.RecordSessionCleanup(ctx, "inactive_sessions", res.InactiveSessions)
	observability.RecordSessionCleanup(ctx, "rotated_tokens", res.RotatedTokens)
	if res.Total() > 0 {
		r.logger.InfoContext(ctx, "session cleanup completed",
			"expired_sessions", res.ExpiredSessions,
			"inactive_sessions", res.InactiveSessions,
			"rotated_tokens", res.RotatedTokens,
		)
	}
	return res, nil
}
