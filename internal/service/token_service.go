package service

import (
	"errors"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/security"
)

const (
	DefaultAccessTTL          = 30 * time.Minute
	DefaultRefreshTTL         = 7 * 24 * time.Hour
	DefaultRefreshRememberTTL = 30 * 24 * time.Hour
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	// ExpiresIn is the access token lifetime in seconds.
	ExpiresIn int64 `json:"expiresIn"`
}

type TokenService struct {
	jwtMgr      *security.JWTManager
	pepper      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	rememberTTL time.Duration
}

func NewTokenService(jwtMgr *security.JWTManager, pepper string, accessTTL, refreshTTL, rememberTTL time.Duration) *TokenService {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	if rememberTTL <= 0 {
		rememberTTL = DefaultRefreshRememberTTL
	}
	return &TokenService{
		jwtMgr:      jwtMgr,
		pepper:      pepper,
		accessTTL:   accessTTL,
		refreshTTL:  refreshTTL,
		rememberTTL: rememberTTL,
	}
}

func (s *TokenService) RefreshLifetime(rememberMe bool) time.Duration {
	if rememberMe {
		return s.rememberTTL
	}
	return s.refreshTTL
}

// Mint signs a fresh pair for the session. The refresh token expires with the
// session, so rotation never extends a login beyond its original lifetime.
func (s *TokenService) Mint(user *domain.User, session *domain.Session) (TokenPair, string, error) {
	sub := security.TokenSubject{
		UserID:      user.ID,
		SessionID:   session.SessionID,
		Username:    user.Username,
		Email:       user.Email,
		TokenFamily: session.TokenFamily,
	}
	access, err := s.jwtMgr.SignAccessToken(sub, s.accessTTL)
	if err != nil {
		return TokenPair{}, "", err
	}
	refresh, err := s.jwtMgr.SignRefreshToken(sub, session.ExpiresAt)
	if err != nil {
		return TokenPair{}, "", err
	}
	return TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL / time.Second),
	}, s.HashRefreshToken(refresh), nil
}

func (s *TokenService) HashRefreshToken(raw string) string {
	return security.HashRefreshToken(raw, s.pepper)
}

func (s *TokenService) ParseAccess(raw string) (*security.Claims, error) {
	if raw == "" {
		return nil, ErrTokenMissing
	}
	claims, err := s.jwtMgr.ParseAccessToken(raw)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

func (s *TokenService) ParseRefresh(raw string) (*security.Claims, error) {
	if raw == "" {
		return nil, ErrRefreshTokenMissing
	}
	claims, err := s.jwtMgr.ParseRefreshToken(raw)
	if err != nil {
		if errors.Is(err, security.ErrTokenExpired) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, ErrRefreshTokenInvalid
	}
	if claims.TokenFamily == "" {
		return nil, ErrRefreshTokenInvalid
	}
	return claims, nil
}
