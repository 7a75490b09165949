package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records resume-lifecycle events (code issued, check outcome,
// session issued or revoked, tracker terminated). Metadata never contains
// raw secrets or plaintext codes.
type AuditLog struct {
	ID        string         `gorm:"primaryKey;type:uuid" json:"id"`
	TrackerID *string        `gorm:"type:uuid;index" json:"tracker_id"`
	Action    string         `gorm:"not null;index" json:"action"`
	Result    string         `gorm:"not null" json:"result"`
	IPAddress string         `json:"ip_address"`
	UserAgent string         `json:"user_agent"`
	Metadata  datatypes.JSON `json:"metadata"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
}

func (a *AuditLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
