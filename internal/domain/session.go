package domain

import "time"

const (
	LoginMethodPassword = "password"
	LoginMethodRegister = "register"
)

// Deactivation reasons written to Session.Metadata["deactivation_reason"].
const (
	ReasonLogout          = "logout"
	ReasonLogoutAll       = "logout_all"
	ReasonUserRevoked     = "user_session_revoked"
	ReasonPasswordChanged = "password_changed"
	ReasonTokenReuse      = "token_reuse_detected"
)

const (
	MetaDeactivationReason = "deactivation_reason"
	MetaDeactivatedAt      = "deactivated_at"
	MetaBreachDetected     = "breach_detected"
	MetaBreachDetectedAt   = "breach_detected_at"
)

type Session struct {
	ID               uint       `gorm:"primaryKey" json:"-"`
	SessionID        string     `gorm:"size:64;uniqueIndex;not null" json:"sessionId"`
	UserID           uint       `gorm:"index;not null" json:"userId"`
	RefreshTokenHash string     `gorm:"size:128;index;not null" json:"-"`
	TokenFamily      string     `gorm:"size:64;index;not null" json:"-"`
	UserAgent        string     `gorm:"size:512" json:"userAgent"`
	IPAddress        string     `gorm:"size:64" json:"ipAddress"`
	Fingerprint      string     `gorm:"size:128" json:"-"`
	Location         string     `gorm:"size:64" json:"location"`
	IsActive         bool       `gorm:"index;not null" json:"isActive"`
	ExpiresAt        time.Time  `gorm:"index;not null" json:"expiresAt"`
	LastAccessedAt   time.Time  `gorm:"not null" json:"lastAccessedAt"`
	LoginMethod      string     `gorm:"size:32" json:"loginMethod"`
	RiskScore        int        `gorm:"index;not null;default:0" json:"riskScore"`
	Metadata         Metadata   `json:"-"`
	DeactivatedAt    *time.Time `gorm:"index" json:"deactivatedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

func (s *Session) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.After(now)
}

// IsValid reports whether the session may still authorize requests.
func (s *Session) IsValid(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now)
}

func (s *Session) DeactivationReason() string {
	return MetadataString(s.Metadata, MetaDeactivationReason)
}

// RotatedToken remembers a refresh-token hash that was superseded by rotation,
// so that a later replay of it can be recognised as theft.
type RotatedToken struct {
	ID          uint      `gorm:"primaryKey"`
	TokenHash   string    `gorm:"size:128;uniqueIndex;not null"`
	SessionID   string    `gorm:"size:64;index;not null"`
	TokenFamily string    `gorm:"size:64;index;not null"`
	RotatedAt   time.Time `gorm:"not null"`
	ExpiresAt   time.Time `gorm:"index;not null"`
}
