package domain

import "time"

const DefaultMaxConcurrentSessions = 5

type User struct {
	ID                    uint          `gorm:"primaryKey" json:"id"`
	Username              string        `gorm:"size:30;uniqueIndex;not null" json:"username"`
	Email                 string        `gorm:"size:255;uniqueIndex;not null" json:"email"`
	PasswordHash          string        `gorm:"size:255;not null" json:"-"`
	FirstName             string        `gorm:"size:100" json:"firstName,omitempty"`
	LastName              string        `gorm:"size:100" json:"lastName,omitempty"`
	IsActive              bool          `gorm:"not null;default:true" json:"isActive"`
	IsEmailVerified       bool          `gorm:"not null;default:false" json:"isEmailVerified"`
	IsAdmin               bool          `gorm:"not null;default:false" json:"isAdmin"`
	FailedLoginAttempts   int           `gorm:"not null;default:0" json:"-"`
	AccountLockedUntil    *time.Time    `json:"-"`
	PasswordChangedAt     *time.Time    `json:"-"`
	LastLoginAt           *time.Time    `json:"lastLoginAt,omitempty"`
	MaxConcurrentSessions int           `gorm:"not null;default:5" json:"-"`
	ActiveSessions        SessionIDList `json:"-"`
	CreatedAt             time.Time     `json:"createdAt"`
	UpdatedAt             time.Time     `json:"updatedAt"`
}

func (u *User) IsLocked(now time.Time) bool {
	return u.AccountLockedUntil != nil && u.AccountLockedUntil.After(now)
}

// ChangedPasswordAfter reports whether a token issued at issuedAt (unix
// seconds) predates the last password change. One second is subtracted from
// the change time so tokens minted right after the change stay valid.
func (u *User) ChangedPasswordAfter(issuedAt int64) bool {
	if u.PasswordChangedAt == nil {
		return false
	}
	return u.PasswordChangedAt.Add(-time.Second).Unix() > issuedAt
}

func (u *User) SessionLimit() int {
	if u.MaxConcurrentSessions <= 0 {
		return DefaultMaxConcurrentSessions
	}
	return u.MaxConcurrentSessions
}

// LockoutPolicy controls the failed-login counter on the credential store.
type LockoutPolicy struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{MaxAttempts: 5, LockDuration: 30 * time.Minute}
}

// NextFailedLoginState applies one failed attempt. A lock that has already
// expired restarts the counter at 1 instead of continuing to climb.
func NextFailedLoginState(attempts int, lockedUntil *time.Time, now time.Time, policy LockoutPolicy) (int, *time.Time) {
	if policy.MaxAttempts <= 0 {
		policy = DefaultLockoutPolicy()
	}
	if lockedUntil != nil && !lockedUntil.After(now) {
		attempts = 0
		lockedUntil = nil
	}
	attempts++
	if attempts >= policy.MaxAttempts && lockedUntil == nil {
		until := now.Add(policy.LockDuration)
		lockedUntil = &until
	}
	return attempts, lockedUntil
}
