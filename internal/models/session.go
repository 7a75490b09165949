package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Session grants continued access to one tracker's application data. The
// token is an opaque random identifier, never the primary key, so session
// rows cannot be enumerated from a leaked token shape.
type Session struct {
	ID        string   `gorm:"primaryKey;type:uuid" json:"id"`
	TrackerID string   `gorm:"type:uuid;not null;index" json:"tracker_id"`
	Tracker   *Tracker `gorm:"foreignKey:TrackerID" json:"-"`

	Token string `gorm:"uniqueIndex;not null" json:"-"`

	IPAddress string `json:"ip_address"`
	UserAgent string `json:"user_agent"`

	ExpiresAt  time.Time  `gorm:"index" json:"expires_at"`
	LastUsedAt time.Time  `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at"`
}

func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Revoked reports whether the session has been explicitly invalidated.
func (s *Session) Revoked() bool {
	return s.RevokedAt != nil
}
