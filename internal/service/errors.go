package service

import (
	"errors"
	"time"
)

var (
	ErrUserExists             = errors.New("user already exists")
	ErrInvalidCredentials     = errors.New("invalid credentials")
	ErrAccountLocked          = errors.New("account locked")
	ErrAccountDeactivated     = errors.New("account deactivated")
	ErrTokenMissing           = errors.New("access token missing")
	ErrTokenExpired           = errors.New("access token expired")
	ErrTokenInvalid           = errors.New("access token invalid")
	ErrRefreshTokenMissing    = errors.New("refresh token missing")
	ErrRefreshTokenInvalid    = errors.New("refresh token invalid")
	ErrRefreshTokenExpired    = errors.New("refresh token expired")
	ErrSessionInvalid         = errors.New("session invalid")
	ErrTokenReuseDetected     = errors.New("refresh token reuse detected")
	ErrPasswordChanged        = errors.New("password changed since token was issued")
	ErrSessionNotFound        = errors.New("session not found")
	ErrInvalidCurrentPassword = errors.New("current password is incorrect")
	ErrUserNotFound           = errors.New("user not found")
	ErrPasswordTooLong        = errors.New("password exceeds 72 bytes")
)

// AccountLockedError carries the lock expiry so callers can report it.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

func (e *AccountLockedError) Unwrap() error { return ErrAccountLocked }

// RetryAfter is the remaining lock time, rounded up to whole seconds.
func (e *AccountLockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return 0
	}
	return d.Truncate(time.Second) + time.Second
}
