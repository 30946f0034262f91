package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"
	"github.com/sandeepkv93/taskmanager-auth/internal/repository"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
)

const reissueAttempts = 3

type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

type LoginInput struct {
	// Identifier is matched against both email and username.
	Identifier string
	Password   string
	RememberMe bool
}

type AuthResult struct {
	User    *domain.User `json:"user"`
	Tokens  TokenPair    `json:"tokens"`
	Session SessionView  `json:"session"`
}

type AuthConfig struct {
	Lockout               domain.LockoutPolicy
	MaxConcurrentSessions int
}

// AuthService drives the session lifecycle: registration, login, refresh
// rotation with reuse detection, logout and password changes.
type AuthService struct {
	users    repository.UserRepository
	sessions repository.SessionRepository
	tokens   *TokenService
	hasher   *security.Hasher
	cache    *activeSessionCache
	cfg      AuthConfig
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthService(
	users repository.UserRepository,
	sessions repository.SessionRepository,
	tokens *TokenService,
	hasher *security.Hasher,
	cfg AuthConfig,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Lockout.MaxAttempts <= 0 || cfg.Lockout.LockDuration <= 0 {
		cfg.Lockout = domain.DefaultLockoutPolicy()
	}
	if cfg.MaxConcurrentSessions <= 0 {
		cfg.MaxConcurrentSessions = domain.DefaultMaxConcurrentSessions
	}
	return &AuthService{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		hasher:   hasher,
		cache:    &activeSessionCache{users: users, sessions: sessions, logger: logger},
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *AuthService) Register(ctx context.Context, in RegisterInput, device domain.DeviceInfo) (*AuthResult, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	username := strings.ToLower(strings.TrimSpace(in.Username))

	_, err := s.users.FindByEmailOrUsername(ctx, email, username)
	switch {
	case err == nil:
		observability.RecordAuthRegister(ctx, "conflict")
		return nil, ErrUserExists
	case !errors.Is(err, repository.ErrUserNotFound):
		observability.RecordAuthRegister(ctx, "error")
		return nil, err
	}

	hash, err := s.hashPassword(in.Password)
	if err != nil {
		observability.RecordAuthRegister(ctx, "error")
		return nil, err
	}
	user := &domain.User{
		Username:              username,
		Email:                 email,
		PasswordHash:          hash,
		FirstName:             strings.TrimSpace(in.FirstName),
		LastName:              strings.TrimSpace(in.LastName),
		IsActive:              true,
		MaxConcurrentSessions: s.cfg.MaxConcurrentSessions,
		ActiveSessions:        domain.SessionIDList{},
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateUser) {
			observability.RecordAuthRegister(ctx, "conflict")
			return nil, ErrUserExists
		}
		observability.RecordAuthRegister(ctx, "error")
		return nil, err
	}

	result, err := s.startSession(ctx, user, device, domain.LoginMethodRegister, false)
	if err != nil {
		observability.RecordAuthRegister(ctx, "error")
		return nil, err
	}
	observability.RecordAuthRegister(ctx, "success")
	return result, nil
}

func (s *AuthService) Login(ctx context.Context, in LoginInput, device domain.DeviceInfo) (*AuthResult, error) {
	identifier := strings.ToLower(strings.TrimSpace(in.Identifier))
	user, err := s.users.FindByEmailOrUsername(ctx, identifier, identifier)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.hasher.Burn(in.Password)
			observability.RecordAuthLogin(ctx, "invalid_credentials")
			return nil, ErrInvalidCredentials
		}
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}

	now := s.now()
	if user.IsLocked(now) {
		observability.RecordAuthLogin(ctx, "locked")
		return nil, &AccountLockedError{Until: *user.AccountLockedUntil}
	}
	if !user.IsActive {
		observability.RecordAuthLogin(ctx, "deactivated")
		return nil, ErrAccountDeactivated
	}

	ok, err := s.hasher.Verify(user.PasswordHash, in.Password)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		res, err := s.users.RecordFailedLogin(ctx, user.ID, now, s.cfg.Lockout)
		if err != nil {
			observability.RecordAuthLogin(ctx, "error")
			return nil, err
		}
		if res.LockedNow {
			observability.RecordAccountLockout(ctx)
			s.logger.WarnContext(ctx, "account locked after failed logins",
				"user_id", user.ID, "attempts", res.Attempts, "locked_until", res.LockedUntil)
		}
		if res.Locked(now) {
			observability.RecordAuthLogin(ctx, "locked")
			return nil, &AccountLockedError{Until: *res.LockedUntil}
		}
		observability.RecordAuthLogin(ctx, "invalid_credentials")
		return nil, ErrInvalidCredentials
	}

	if err := s.users.RecordSuccessfulLogin(ctx, user.ID, now); err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	user.FailedLoginAttempts = 0
	user.AccountLockedUntil = nil
	user.LastLoginAt = &now

	result, err := s.startSession(ctx, user, device, domain.LoginMethodPassword, in.RememberMe)
	if err != nil {
		observability.RecordAuthLogin(ctx, "error")
		return nil, err
	}
	observability.RecordAuthLogin(ctx, "success")
	return result, nil
}

// Refresh exchanges a refresh token for a new pair on the same session and
// token family. A replayed, already rotated token revokes the whole family.
func (s *AuthService) Refresh(ctx context.Context, rawRefreshToken string) (*AuthResult, error) {
	result, status, err := s.refresh(ctx, rawRefreshToken)
	observability.RecordAuthRefresh(ctx, status)
	return result, err
}

func (s *AuthService) refresh(ctx context.Context, raw string) (*AuthResult, string, error) {
	raw = strings.TrimSpace(raw)
	claims, err := s.tokens.ParseRefresh(raw)
	if err != nil {
		return nil, "invalid_token", err
	}
	now := s.now()
	hash := s.tokens.HashRefreshToken(raw)

	session, err := s.sessions.FindActiveByHash(ctx, claims.SessionID, hash, now)
	if err != nil {
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "error", err
		}
		status, err := s.classifyMissingSession(ctx, claims, hash, now)
		return nil, status, err
	}
	if session.UserID != claims.UserID || session.TokenFamily != claims.TokenFamily {
		return nil, "session_invalid", ErrSessionInvalid
	}

	reused, err := s.sessions.DetectReuse(ctx, session.TokenFamily, session.SessionID, now)
	if err != nil {
		return nil, "error", err
	}
	if reused {
		observability.RecordTokenReuseDetected(ctx, "family_scan")
		s.logger.WarnContext(ctx, "refresh token reuse detected",
			"user_id", session.UserID, "session_id", session.SessionID, "token_family", session.TokenFamily)
		return nil, "reuse_detected", ErrTokenReuseDetected
	}

	user, err := s.users.FindByID(ctx, session.UserID)
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

	pair, newHash, err := s.tokens.Mint(user, session)
	if err != nil {
		return nil, "error", err
	}
	risk := domain.ComputeRiskScore(session.CreatedAt, session.LastAccessedAt, now, session.Fingerprint)
	err = s.sessions.RotateRefreshToken(ctx, repository.RotateParams{
		SessionID:      session.SessionID,
		OldHash:        hash,
		NewHash:        newHash,
		OldTokenExpiry: session.ExpiresAt,
		RiskScore:      risk,
		Now:            now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, "session_invalid", ErrSessionInvalid
		}
		return nil, "error", err
	}
	session.RefreshTokenHash = newHash
	session.LastAccessedAt = now
	session.RiskScore = risk
	s.cache.Sync(ctx, user, now)

	return &AuthResult{User: user, Tokens: pair, Session: NewSessionView(session, session.SessionID)}, "success", nil
}

// classifyMissingSession decides between a plain invalid session and a
// replay of a token this session already rotated away from.
func (s *AuthService) classifyMissingSession(ctx context.Context, claims *security.Claims, hash string, now time.Time) (string, error) {
	rotated, err := s.sessions.FindRotatedToken(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrRotatedTokenNotFound) {
			return "session_invalid", ErrSessionInvalid
		}
		return "error", err
	}
	if rotated.SessionID != claims.SessionID || rotated.TokenFamily != claims.TokenFamily {
		return "session_invalid", ErrSessionInvalid
	}
	session, err := s.sessions.FindBySessionID(ctx, rotated.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return "session_invalid", ErrSessionInvalid
		}
		return "error", err
	}
	if !session.IsValid(now) {
		// Family already revoked or expired; nothing left to protect.
		return "session_invalid", ErrSessionInvalid
	}

	revoked, err := s.sessions.RevokeFamily(ctx, rotated.TokenFamily, domain.ReasonTokenReuse, now)
	if err != nil {
		return "error", err
	}
	observability.RecordTokenReuseDetected(ctx, "rotated_replay")
	s.logger.WarnContext(ctx, "rotated refresh token replayed, family revoked",
		"user_id", session.UserID, "session_id", session.SessionID,
		"token_family", rotated.TokenFamily, "revoked", revoked)
	if user, err := s.users.FindByID(ctx, session.UserID); err == nil {
		s.cache.Sync(ctx, user, now)
	}
	return "reuse_detected", ErrTokenReuseDetected
}

// Logout deactivates only the calling session. Repeated calls are no-ops.
func (s *AuthService) Logout(ctx context.Context, id *Identity) error {
	now := s.now()
	if _, err := s.sessions.Deactivate(ctx, id.Session.SessionID, domain.ReasonLogout, now); err != nil && !errors.Is(err, repository.ErrSessionNotFound) {
		observability.RecordAuthLogout(ctx, "current", "error")
		return err
	}
	s.cache.Sync(ctx, id.User, now)
	observability.RecordAuthLogout(ctx, "current", "success")
	return nil
}

func (s *AuthService) LogoutAll(ctx context.Context, id *Identity) (int64, error) {
	revoked, err := s.sessions.RevokeAllForUser(ctx, id.User.ID, domain.ReasonLogoutAll, "", s.now())
	if err != nil {
		observability.RecordAuthLogout(ctx, "all", "error")
		return 0, err
	}
	s.cache.Clear(ctx, id.User)
	observability.RecordAuthLogout(ctx, "all", "success")
	return revoked, nil
}

// ChangePassword revokes every other session of the user and re-issues the
// calling session's tokens, so the caller stays signed in on this device.
func (s *AuthService) ChangePassword(ctx context.Context, id *Identity, currentPassword, newPassword string) (*AuthResult, error) {
	user, err := s.users.FindByID(ctx, id.User.ID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	ok, err := s.hasher.Verify(user.PasswordHash, currentPassword)
	if err != nil {
		return nil, fmt.Errorf("verify password: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCurrentPassword
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if err := s.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = &now

	revoked, err := s.sessions.RevokeAllForUser(ctx, user.ID, domain.ReasonPasswordChanged, id.Session.SessionID, now)
	if err != nil {
		return nil, err
	}

	session, pair, err := s.reissueCurrent(ctx, user, id.Session.SessionID, now)
	if err != nil {
		return nil, err
	}
	s.cache.Sync(ctx, user, now)

	s.logger.InfoContext(ctx, "password changed", "user_id", user.ID, "revoked_sessions", revoked)
	return &AuthResult{User: user, Tokens: pair, Session: NewSessionView(session, session.SessionID)}, nil
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, security.ErrPasswordTooLong) {
		return "", ErrPasswordTooLong
	}
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return hash, nil
}

// reissueCurrent rotates the caller's session to a fresh token pair. The
// session is re-read on every attempt so a refresh that rotated it in the
// meantime does not fail the password change.
func (s *AuthService) reissueCurrent(ctx context.Context, user *domain.User, sessionID string, now time.Time) (*domain.Session, TokenPair, error) {
	for range reissueAttempts {
		session, err := s.sessions.FindBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return nil, TokenPair{}, ErrSessionInvalid
			}
			return nil, TokenPair{}, err
		}
		if !session.IsActive || !now.Before(session.ExpiresAt) {
			return nil, TokenPair{}, ErrSessionInvalid
		}
		pair, newHash, err := s.tokens.Mint(user, session)
		if err != nil {
			return nil, TokenPair{}, err
		}
		err = s.sessions.RotateRefreshToken(ctx, repository.RotateParams{
			SessionID:      session.SessionID,
			OldHash:        session.RefreshTokenHash,
			NewHash:        newHash,
			OldTokenExpiry: session.ExpiresAt,
			RiskScore:      session.RiskScore,
			Now:            now,
		})
		if err == nil {
			session.RefreshTokenHash = newHash
			session.LastAccessedAt = now
			return session, pair, nil
		}
		if !errors.Is(err, repository.ErrSessionNotFound) {
			return nil, TokenPair{}, err
		}
	}
	return nil, TokenPair{}, ErrSessionInvalid
}

func (s *AuthService) startSession(ctx context.Context, user *domain.User, device domain.DeviceInfo, method string, rememberMe bool) (*AuthResult, error) {
	now := s.now()
	session := &domain.Session{
		SessionID:      uuid.NewString(),
		UserID:         user.ID,
		TokenFamily:    uuid.NewString(),
		UserAgent:      device.UserAgent,
		IPAddress:      device.IPAddress,
		Fingerprint:    device.Fingerprint,
		Location:       device.Location,
		IsActive:       true,
		ExpiresAt:      now.Add(s.tokens.RefreshLifetime(rememberMe)),
		LastAccessedAt: now,
		LoginMethod:    method,
		RiskScore:      domain.ComputeRiskScore(now, now, now, device.Fingerprint),
		Metadata:       domain.Metadata{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	pair, hash, err := s.tokens.Mint(user, session)
	if err != nil {
		return nil, err
	}
	session.RefreshTokenHash = hash
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, err
	}
	s.cache.Sync(ctx, user, now)
	return &AuthResult{User: user, Tokens: pair, Session: NewSessionView(session, session.SessionID)}, nil
}
