package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrDuplicateUser = errors.New("user already exists")
	errCASExhausted  = errors.New("concurrent update retries exhausted")
)

const failedLoginCASRetries = 8

// FailedLoginResult is the counter state after one failed attempt.
type FailedLoginResult struct {
	Attempts    int
	LockedUntil *time.Time
	// LockedNow is set when this attempt is the one that crossed the threshold.
	LockedNow bool
}

// Locked reports whether the account is locked after this attempt, whether
// or not this attempt set the lock.
func (r FailedLoginResult) Locked(now time.Time) bool {
	return r.LockedUntil != nil && r.LockedUntil.After(now)
}

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	RecordFailedLogin(ctx context.Context, id uint, now time.Time, policy domain.LockoutPolicy) (FailedLoginResult, error)
	RecordSuccessfulLogin(ctx context.Context, id uint, now time.Time) error
	UpdatePassword(ctx context.Context, id uint, passwordHash string, changedAt time.Time) error
	Unlock(ctx context.Context, id uint) error
	SetActiveSessions(ctx context.Context, id uint, sessionIDs domain.SessionIDList) error
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

// FindByEmailOrUsername matches either column, case-insensitively. Both
// values are stored lowercased.
func (r *GormUserRepository) FindByEmailOrUsername(ctx context.Context, email, username string) (*domain.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.ToLower(strings.TrimSpace(username))
	var u domain.User
	err := r.db.WithContext(ctx).
		Where("email = ? OR username = ?", email, username).
		Order("id ASC").
		First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email_or_username", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email_or_username", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email_or_username", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.MaxConcurrentSessions <= 0 {
		user.MaxConcurrentSessions = domain.DefaultMaxConcurrentSessions
	}
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		if isUniqueViolation(err) {
			observability.RecordRepositoryOperation(ctx, "user", "create", "conflict")
			return ErrDuplicateUser
		}
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

// RecordFailedLogin applies the failed-login policy with a compare-and-swap on
// the counter, so concurrent failures each count exactly once.
func (r *GormUserRepository) RecordFailedLogin(ctx context.Context, id uint, now time.Time, policy domain.LockoutPolicy) (FailedLoginResult, error) {
	for range failedLoginCASRetries {
		var u domain.User
		if err := r.db.WithContext(ctx).Select("id", "failed_login_attempts", "account_locked_until").First(&u, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "not_found")
				return FailedLoginResult{}, ErrUserNotFound
			}
			observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "error")
			return FailedLoginResult{}, err
		}

		wasLocked := u.IsLocked(now)
		attempts, lockedUntil := domain.NextFailedLoginState(u.FailedLoginAttempts, u.AccountLockedUntil, now, policy)
		res := r.db.WithContext(ctx).Model(&domain.User{}).
			Where("id = ? AND failed_login_attempts = ?", id, u.FailedLoginAttempts).
			Updates(map[string]any{
				"failed_login_attempts": attempts,
				"account_locked_until":  lockedUntil,
			})
		if res.Error != nil {
			observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "error")
			return FailedLoginResult{}, res.Error
		}
		if res.RowsAffected == 1 {
			observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "success")
			return FailedLoginResult{
				Attempts:    attempts,
				LockedUntil: lockedUntil,
				LockedNow:   !wasLocked && lockedUntil != nil && lockedUntil.After(now),
			}, nil
		}
	}
	observability.RecordRepositoryOperation(ctx, "user", "record_failed_login", "conflict")
	return FailedLoginResult{}, fmt.Errorf("record failed login for user %d: %w", id, errCASExhausted)
}

func (r *GormUserRepository) RecordSuccessfulLogin(ctx context.Context, id uint, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"account_locked_until":  nil,
			"last_login_at":         now,
		})
	return r.finishUpdate(ctx, "record_successful_login", res)
}

// UpdatePassword stores a new hash and stamps PasswordChangedAt, which
// invalidates every access token issued before it.
func (r *GormUserRepository) UpdatePassword(ctx context.Context, id uint, passwordHash string, changedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"password_hash":       passwordHash,
			"password_changed_at": changedAt,
		})
	return r.finishUpdate(ctx, "update_password", res)
}

func (r *GormUserRepository) Unlock(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"failed_login_attempts": 0,
			"account_locked_until":  nil,
		})
	return r.finishUpdate(ctx, "unlock", res)
}

func (r *GormUserRepository) SetActiveSessions(ctx context.Context, id uint, sessionIDs domain.SessionIDList) error {
	if sessionIDs == nil {
		sessionIDs = domain.SessionIDList{}
	}
	res := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", id).
		Update("active_sessions", sessionIDs)
	return r.finishUpdate(ctx, "set_active_sessions", res)
}

func (r *GormUserRepository) finishUpdate(ctx context.Context, op string, res *gorm.DB) error {
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "user", op, "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "user", op, "not_found")
		return ErrUserNotFound
	}
	observability.RecordRepositoryOperation(ctx, "user", op, "success")
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}
