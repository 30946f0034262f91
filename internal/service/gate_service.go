package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
)

const defaultTouchTimeout = 5 * time.Second

// Identity is what a protected request knows about its caller.
type Identity struct {
	User    *domain.User
	Session *domain.Session
	Claims  *security.Claims
}

// GateService validates an access token against the session and credential
// stores on every protected request.
type GateService struct {
	users        repository.UserRepository
	sessions     repository.SessionRepository
	tokens       *TokenService
	logger       *slog.Logger
	now          func() time.Time
	dispatch     func(func())
	touchTimeout time.Duration
}

func NewGateService(users repository.UserRepository, sessions repository.SessionRepository, tokens *TokenService, logger *slog.Logger) *GateService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GateService{
		users:        users,
		sessions:     sessions,
		tokens:       tokens,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
		dispatch:     func(fn func()) { go fn() },
		touchTimeout: defaultTouchTimeout,
	}
}

func (g *GateService) WithClock(now func() time.Time) *GateService {
	if now != nil {
		g.now = now
	}
	return g
}

// WithDispatcher replaces how background touches are scheduled.
func (g *GateService) WithDispatcher(dispatch func(func())) *GateService {
	if dispatch != nil {
		g.dispatch = dispatch
	}
	return g
}

func (g *GateService) Authenticate(ctx context.Context, rawAccessToken string) (*Identity, error) {
	id, outcome, err := g.authenticate(ctx, rawAccessToken)
	observability.RecordAccessTokenValidation(ctx, outcome)
	return id, err
}

func (g *GateService) authenticate(ctx context.Context, raw string) (*Identity, string, error) {
	claims, err := g.tokens.ParseAccess(raw)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenMissing):
			return nil, "missing", err
		case errors.Is(err, ErrTokenExpired):
			return nil, "expired", err
		default:
			return nil, "invalid", err
		}
	}
	now := g.now()

	session, err := g.sessions.FindBySessionID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "session_invalid", ErrSessionInvalid
		}
		return nil, "error", err
	}
	if session.UserID != claims.UserID {
		return nil, "session_invalid", ErrSessionInvalid
	}
	if !session.IsValid(now) {
		if !session.IsActive && session.DeactivationReason() == domain.ReasonPasswordChanged {
			return nil, "password_changed", ErrPasswordChanged
		}
		return nil, "session_invalid", ErrSessionInvalid
	}

	user, err := g.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, "session_invalid", ErrSessionInvalid
		}
		return nil, "error", err
	}
	if !user.IsActive {
		return nil, "deactivated", ErrAccountDeactivated
	}
	if user.IsLocked(now) {
		return nil, "locked", &AccountLockedError{Until: *user.AccountLockedUntil}
	}
	if user.ChangedPasswordAfter(claims.IssuedAtUnix()) {
		if _, err := g.sessions.Deactivate(ctx, session.SessionID, domain.ReasonPasswordChanged, now); err != nil {
			g.logger.WarnContext(ctx, "deactivate stale session failed", "session_id", session.SessionID, "error", err)
		}
		return nil, "password_changed", ErrPasswordChanged
	}
	return &Identity{User: user, Session: session, Claims: claims}, "success", nil
}

// Touch records activity on the session in the background. The request never
// waits for it and a failure is only logged.
func (g *GateService) Touch(ctx context.Context, id *Identity) {
	if id == nil || id.Session == nil {
		return
	}
	sessionID := id.Session.SessionID
	createdAt := id.Session.CreatedAt
	previous := id.Session.LastAccessedAt
	fingerprint := id.Session.Fingerprint
	parent := context.WithoutCancel(ctx)

	g.dispatch(func() {
		touchCtx, cancel := context.WithTimeout(parent, g.touchTimeout)
		defer cancel()
		now := g.now()
		risk := domain.ComputeRiskScore(createdAt, previous, now, fingerprint)
		if err := g.sessions.Touch(touchCtx, sessionID, now, risk); err != nil {
			g.logger.WarnContext(touchCtx, "session touch failed", "session_id", sessionID, "error", err)
		}
	})
}
