package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	// ErrTokenExpired means the signature checked out but exp has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid covers bad signatures, malformed tokens and wrong token types.
	ErrTokenInvalid = errors.New("invalid token")
)

type Claims struct {
	TokenType   string `json:"token_type"`
	UserID      uint   `json:"uid"`
	SessionID   string `json:"sid"`
	Username    string `json:"username,omitempty"`
	Email       string `json:"email,omitempty"`
	TokenFamily string `json:"fam,omitempty"`
	jwt.RegisteredClaims
}

// IssuedAtUnix returns iat in unix seconds, or 0 when absent.
func (c *Claims) IssuedAtUnix() int64 {
	if c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

// TokenSubject is what a token pair is minted for.
type TokenSubject struct {
	UserID      uint
	SessionID   string
	Username    string
	Email       string
	TokenFamily string
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
	now           func() time.Time
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
		now:           time.Now,
	}
}

// WithClock replaces the time source used for iat/exp and validation.
func (m *JWTManager) WithClock(now func() time.Time) *JWTManager {
	if now != nil {
		m.now = now
	}
	return m
}

func (m *JWTManager) SignAccessToken(sub TokenSubject, ttl time.Duration) (string, error) {
	now := m.now()
	claims := Claims{
		TokenType: TokenTypeAccess,
		UserID:    sub.UserID,
		SessionID: sub.SessionID,
		Username:  sub.Username,
		Email:     sub.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(sub.UserID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.accessSecret)
}

func (m *JWTManager) SignRefreshToken(sub TokenSubject, expiresAt time.Time) (string, error) {
	now := m.now()
	claims := Claims{
		TokenType:   TokenTypeRefresh,
		UserID:      sub.UserID,
		SessionID:   sub.SessionID,
		TokenFamily: sub.TokenFamily,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   strconv.FormatUint(uint64(sub.UserID), 10),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.refreshSecret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, TokenTypeAccess)
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, TokenTypeRefresh)
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	},
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrTokenInvalid, claims.TokenType)
	}
	if claims.SessionID == "" || claims.UserID == 0 {
		return nil, fmt.Errorf("%w: missing subject claims", ErrTokenInvalid)
	}
	return claims, nil
}
