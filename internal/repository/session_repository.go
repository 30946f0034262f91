package repository

import (
	"context"
	"errors"
	"time"

	"github.com/sandeepkv93/taskmanager-auth/internal/domain"
	"github.com/sandeepkv93/taskmanager-auth/internal/observability"

	"gorm.io/gorm"
)

var (
	ErrSessionNotFound      = errors.New("session not found")
	ErrRotatedTokenNotFound = errors.New("rotated token not found")
)

// RotateParams describes one refresh-token rotation. The swap only succeeds
// while the session still holds OldHash and is active and unexpired.
type RotateParams struct {
	SessionID      string
	OldHash        string
	NewHash        string
	OldTokenExpiry time.Time
	RiskScore      int
	Now            time.Time
}

type CleanupResult struct {
	ExpiredSessions  int64
	InactiveSessions int64
	RotatedTokens    int64
}

func (c CleanupResult) Total() int64 {
	return c.ExpiredSessions + c.InactiveSessions + c.RotatedTokens
}

type SessionRepository interface {
	Create(ctx context.Context, s *domain.Session) error
	FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error)
	FindActiveByHash(ctx context.Context, sessionID, hash string, now time.Time) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error)
	ListSuspicious(ctx context.Context, threshold int, now time.Time, page PageRequest) (PageResult[domain.Session], error)
	RotateRefreshToken(ctx context.Context, p RotateParams) error
	Touch(ctx context.Context, sessionID string, now time.Time, riskScore int) error
	Deactivate(ctx context.Context, sessionID, reason string, now time.Time) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uint, reason, keepSessionID string, now time.Time) (int64, error)
	DetectReuse(ctx context.Context, tokenFamily, currentSessionID string, now time.Time) (bool, error)
	RevokeFamily(ctx context.Context, tokenFamily, reason string, now time.Time) (int64, error)
	FindRotatedToken(ctx context.Context, hash string) (*domain.RotatedToken, error)
	CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

func (r *GormSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	if s.Metadata == nil {
		s.Metadata = domain.Metadata{}
	}
	err := r.db.WithContext(ctx).Create(s).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "create", "success")
	return nil
}

func (r *GormSessionRepository) FindBySessionID(ctx context.Context, sessionID string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_session_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByHash(ctx context.Context, sessionID, hash string, now time.Time) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND refresh_token_hash = ? AND is_active = ? AND expires_at > ?", sessionID, hash, true, now).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_hash", "success")
	return &s, nil
}

// ListActiveByUser returns the user's valid sessions, oldest first.
func (r *GormSessionRepository) ListActiveByUser(ctx context.Context, userID uint, now time.Time) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, now).
		Order("created_at ASC").
		Order("id ASC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user", "success")
	return sessions, nil
}

func (r *GormSessionRepository) ListSuspicious(ctx context.Context, threshold int, now time.Time, page PageRequest) (PageResult[domain.Session], error) {
	req := normalizePageRequest(page)
	result := PageResult[domain.Session]{Page: req.Page, PageSize: req.PageSize, Items: []domain.Session{}}

	base := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("is_active = ? AND expires_at > ? AND risk_score > ?", true, now, threshold)
	if err := base.Session(&gorm.Session{}).Count(&result.Total).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_suspicious", "error")
		return PageResult[domain.Session]{}, err
	}
	offset := (req.Page - 1) * req.PageSize
	err := base.Order("risk_score DESC").Order("id ASC").
		Offset(offset).Limit(req.PageSize).
		Find(&result.Items).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_suspicious", "error")
		return PageResult[domain.Session]{}, err
	}
	result.TotalPages = calcTotalPages(result.Total, req.PageSize)
	observability.RecordRepositoryOperation(ctx, "session", "list_suspicious", "success")
	return result, nil
}

// RotateRefreshToken swaps the session's refresh hash and records the old one
// in rotated_tokens, atomically. Of two concurrent rotations presenting the
// same old hash exactly one succeeds; the other gets ErrSessionNotFound.
func (r *GormSessionRepository) RotateRefreshToken(ctx context.Context, p RotateParams) error {
	var s domain.Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.Session{}).
			Where("session_id = ? AND refresh_token_hash = ? AND is_active = ? AND expires_at > ?", p.SessionID, p.OldHash, true, p.Now).
			Updates(map[string]any{
				"refresh_token_hash": p.NewHash,
				"last_accessed_at":   p.Now,
				"risk_score":         min(max(p.RiskScore, 0), domain.MaxRiskScore),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotFound
		}
		if err := tx.Select("session_id", "token_family").Where("session_id = ?", p.SessionID).First(&s).Error; err != nil {
			return err
		}
		return tx.Create(&domain.RotatedToken{
			TokenHash:   p.OldHash,
			SessionID:   p.SessionID,
			TokenFamily: s.TokenFamily,
			RotatedAt:   p.Now,
			ExpiresAt:   p.OldTokenExpiry,
		}).Error
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_refresh_token", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "rotate_refresh_token", "error")
		}
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "rotate_refresh_token", "success")
	return nil
}

func (r *GormSessionRepository) Touch(ctx context.Context, sessionID string, now time.Time, riskScore int) error {
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("session_id = ? AND is_active = ?", sessionID, true).
		Updates(map[string]any{
			"last_accessed_at": now,
			"risk_score":       min(max(riskScore, 0), domain.MaxRiskScore),
		})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "error")
		return res.Error
	}
	if res.RowsAffected == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "not_found")
		return ErrSessionNotFound
	}
	observability.RecordRepositoryOperation(ctx, "session", "touch", "success")
	return nil
}

// Deactivate is idempotent: it reports false when the session was already
// inactive and never reactivates anything.
func (r *GormSessionRepository) Deactivate(ctx context.Context, sessionID, reason string, now time.Time) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s domain.Session
		if err := tx.Where("session_id = ?", sessionID).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		var err error
		changed, err = deactivateTx(tx, &s, reason, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "deactivate", "not_found")
		} else {
			observability.RecordRepositoryOperation(ctx, "session", "deactivate", "error")
		}
		return false, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "deactivate", "success")
	return changed, nil
}

// RevokeAllForUser deactivates every active session of the user except
// keepSessionID (which may be empty).
func (r *GormSessionRepository) RevokeAllForUser(ctx context.Context, userID uint, reason, keepSessionID string, now time.Time) (int64, error) {
	var revoked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("user_id = ? AND is_active = ?", userID, true)
		if keepSessionID != "" {
			q = q.Where("session_id <> ?", keepSessionID)
		}
		var sessions []domain.Session
		if err := q.Find(&sessions).Error; err != nil {
			return err
		}
		for i := range sessions {
			changed, err := deactivateTx(tx, &sessions[i], reason, now)
			if err != nil {
				return err
			}
			if changed {
				revoked++
			}
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_all_for_user", "success")
	return revoked, nil
}

// DetectReuse reports whether another active session shares the token
// family. When it does the whole family is revoked as a breach.
func (r *GormSessionRepository) DetectReuse(ctx context.Context, tokenFamily, currentSessionID string, now time.Time) (bool, error) {
	var others int64
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("token_family = ? AND session_id <> ? AND is_active = ?", tokenFamily, currentSessionID, true).
		Count(&others).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "detect_reuse", "error")
		return false, err
	}
	if others == 0 {
		observability.RecordRepositoryOperation(ctx, "session", "detect_reuse", "success")
		return false, nil
	}
	if _, err := r.RevokeFamily(ctx, tokenFamily, domain.ReasonTokenReuse, now); err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "detect_reuse", "error")
		return true, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "detect_reuse", "detected")
	return true, nil
}

// RevokeFamily marks every session of the family as breached: inactive,
// maximum risk and breach metadata.
func (r *GormSessionRepository) RevokeFamily(ctx context.Context, tokenFamily, reason string, now time.Time) (int64, error) {
	var revoked int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sessions []domain.Session
		if err := tx.Where("token_family = ?", tokenFamily).Find(&sessions).Error; err != nil {
			return err
		}
		stamp := now.UTC().Format(time.RFC3339)
		for i := range sessions {
			s := &sessions[i]
			updates := map[string]any{
				"is_active":  false,
				"risk_score": domain.MaxRiskScore,
			}
			meta := domain.MergeMetadata(s.Metadata, domain.MetaBreachDetected, "true", domain.MetaBreachDetectedAt, stamp)
			if s.IsActive {
				meta = domain.MergeMetadata(meta, domain.MetaDeactivationReason, reason, domain.MetaDeactivatedAt, stamp)
				updates["deactivated_at"] = now
				revoked++
			}
			updates["metadata"] = meta
			if err := tx.Model(&domain.Session{}).Where("id = ?", s.ID).Updates(updates).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "revoke_family", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "revoke_family", "success")
	return revoked, nil
}

func (r *GormSessionRepository) FindRotatedToken(ctx context.Context, hash string) (*domain.RotatedToken, error) {
	var rt domain.RotatedToken
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&rt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_rotated_token", "not_found")
			return nil, ErrRotatedTokenNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_rotated_token", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_rotated_token", "success")
	return &rt, nil
}

// CleanupExpired removes sessions past their absolute expiry, sessions that
// were deactivated more than retention ago and rotated-token records whose
// token could no longer verify anyway.
func (r *GormSessionRepository) CleanupExpired(ctx context.Context, now time.Time, retention time.Duration) (CleanupResult, error) {
	var out CleanupResult
	db := r.db.WithContext(ctx)

	res := db.Where("expires_at <= ?", now).Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return out, res.Error
	}
	out.ExpiredSessions = res.RowsAffected

	res = db.Where("is_active = ? AND deactivated_at IS NOT NULL AND deactivated_at <= ?", false, now.Add(-retention)).
		Delete(&domain.Session{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return out, res.Error
	}
	out.InactiveSessions = res.RowsAffected

	res = db.Where("expires_at <= ?", now).Delete(&domain.RotatedToken{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return out, res.Error
	}
	out.RotatedTokens = res.RowsAffected

	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return out, nil
}

func deactivateTx(tx *gorm.DB, s *domain.Session, reason string, now time.Time) (bool, error) {
	if !s.IsActive {
		return false, nil
	}
	meta := domain.MergeMetadata(s.Metadata, domain.MetaDeactivationReason, reason, domain.MetaDeactivatedAt, now.UTC().Format(time.RFC3339))
	res := tx.Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", s.ID, true).
		Updates(map[string]any{
			"is_active":      false,
			"deactivated_at": now,
			"metadata":       meta,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	s.IsActive = false
	s.DeactivatedAt = &now
	s.Metadata = meta
	return true, nil
}
