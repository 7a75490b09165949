package models

import "time"

// Code purposes. Only resume exists today; the discriminator is persisted so
// future purposes (re-verification after long inactivity) need no migration.
const (
	PurposeResume = "resume"
)

// VerificationCode binds a hashed identity tuple to a hashed one-time code.
// Records are never deleted when superseded; they expire or exhaust their
// attempt budget and remain as an audit trail until the reaper purges them.
type VerificationCode struct {
	BaseModel

	TrackerID string   `gorm:"type:uuid;not null;index" json:"tracker_id"`
	Tracker   *Tracker `gorm:"foreignKey:TrackerID" json:"-"`

	SINHash   string `gorm:"not null;index:idx_verification_codes_tuple" json:"-"`
	EmailHash string `gorm:"not null;index:idx_verification_codes_tuple" json:"-"`
	CodeHash  string `gorm:"not null" json:"-"`

	Purpose   string    `gorm:"not null;default:resume;index:idx_verification_codes_tuple" json:"purpose"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`

	// Attempts counts every check against this record, right or wrong,
	// while it is still live. MaxAttempts is stamped from policy at issue
	// time and never mutated.
	Attempts    int `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int `gorm:"not null" json:"max_attempts"`
}

// Expired reports whether the code window has elapsed at the given time.
func (v *VerificationCode) Expired(now time.Time) bool {
	return v.ExpiresAt.Before(now)
}

// Exhausted reports whether the attempt budget has been consumed.
func (v *VerificationCode) Exhausted() bool {
	return v.Attempts >= v.MaxAttempts
}
