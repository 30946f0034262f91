package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
)

// SessionView is the client-facing shape of a session. It never carries the
// refresh token hash or the fingerprint.
type SessionView struct {
	SessionID      string     `json:"sessionId"`
	UserID         uint       `json:"userId"`
	UserAgent      string     `json:"userAgent"`
	IPAddress      string     `json:"ipAddress"`
	Location       string     `json:"location"`
	LoginMethod    string     `json:"loginMethod"`
	IsActive       bool       `json:"isActive"`
	RiskScore      int        `json:"riskScore"`
	Suspicious     bool       `json:"suspicious"`
	CreatedAt      time.Time  `json:"createdAt"`
	LastAccessedAt time.Time  `json:"lastAccessedAt"`
	ExpiresAt      time.Time  `json:"expiresAt"`
	DeactivatedAt  *time.Time `json:"deactivatedAt,omitempty"`
	IsCurrent      bool       `json:"isCurrent"`
}

func NewSessionView(s *domain.Session, currentSessionID string) SessionView {
	return SessionView{
		SessionID:      s.SessionID,
		UserID:         s.UserID,
		UserAgent:      s.UserAgent,
		IPAddress:      s.IPAddress,
		Location:       s.Location,
		LoginMethod:    s.LoginMethod,
		IsActive:       s.IsActive,
		RiskScore:      s.RiskScore,
		Suspicious:     domain.IsSuspicious(s.RiskScore),
		CreatedAt:      s.CreatedAt,
		LastAccessedAt: s.LastAccessedAt,
		ExpiresAt:      s.ExpiresAt,
		DeactivatedAt:  s.DeactivatedAt,
		IsCurrent:      currentSessionID != "" && s.SessionID == currentSessionID,
	}
}

// activeSessionCache keeps User.ActiveSessions in line with the session
// store, which stays authoritative. Failures are logged and swallowed.
type activeSessionCache struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	logger   *slog.Logger
}

// Sync rewrites the cached id list from the authoritative active list. The
// cache holds at most the user's session limit, newest ids kept; sessions
// that drop out of it stay valid in the session store.
func (c *activeSessionCache) Sync(ctx context.Context, user *domain.User, now time.Time) {
	active, err := c.sessions.ListActiveByUser(ctx, user.ID, now)
	if err != nil {
		c.logger.WarnContext(ctx, "active session cache sync failed", "user_id", user.ID, "error", err)
		return
	}
	if excess := len(active) - user.SessionLimit(); excess > 0 {
		active = active[excess:]
	}

	ids := make(domain.SessionIDList, 0, len(active))
	for _, s := range active {
		ids = append(ids, s.SessionID)
	}
	if slices.Equal(ids, user.ActiveSessions) {
		return
	}
	if err := c.users.SetActiveSessions(ctx, user.ID, ids); err != nil {
		c.logger.WarnContext(ctx, "active session cache write failed", "user_id", user.ID, "error", err)
		return
	}
	user.ActiveSessions = ids
}

// Clear empties the cache after a full revocation.
func (c *activeSessionCache) Clear(ctx context.Context, user *domain.User) {
	if err := c.users.SetActiveSessions(ctx, user.ID, domain.SessionIDList{}); err != nil {
		c.logger.WarnContext(ctx, "active session cache clear failed", "user_id", user.ID, "error", err)
		return
	}
	user.ActiveSessions = domain.SessionIDList{}
}

type SessionService struct {
	sessions repository.SessionRepository
	cache    *activeSessionCache
	now      func() time.Time
}

func NewSessionService(users repository.UserRepository, sessions repository.SessionRepository, logger *slog.Logger) *SessionService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionService{
		sessions: sessions,
		cache:    &activeSessionCache{users: users, sessions: sessions, logger: logger},
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	if now != nil {
		s.now = now
	}
	return s
}

// ListActiveSessions reads the authoritative list and reconciles the
// user's cached id list against it.
func (s *SessionService) ListActiveSessions(ctx context.Context, user *domain.User, currentSessionID string) ([]SessionView, error) {
	now := s.now()
	sessions, err := s.sessions.ListActiveByUser(ctx, user.ID, now)
	if err != nil {
		return nil, err
	}
	s.cache.Sync(ctx, user, now)

	views := make([]SessionView, 0, len(sessions))
	for i := range sessions {
		views = append(views, NewSessionView(&sessions[i], currentSessionID))
	}
	return views, nil
}

// RevokeSession deactivates one of the user's own sessions. Sessions that
// do not exist or belong to someone else are reported as not found.
func (s *SessionService) RevokeSession(ctx context.Context, user *domain.User, sessionID string) (string, error) {
	session, err := s.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	if session.UserID != user.ID {
		return "", ErrSessionNotFound
	}
	now := s.now()
	changed, err := s.sessions.Deactivate(ctx, sessionID, domain.ReasonUserRevoked, now)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "", ErrSessionNotFound
		}
		return "", err
	}
	s.cache.Sync(ctx, user, now)
	if !changed {
		return "already_revoked", nil
	}
	return "revoked", nil
}
