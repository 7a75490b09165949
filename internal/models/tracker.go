package models

import (
	"gorm.io/datatypes"
)

// Tracker statuses. Terminated trackers cannot be resumed.
const (
	TrackerStatusInProgress = "in_progress"
	TrackerStatusSubmitted  = "submitted"
	TrackerStatusCompleted  = "completed"
	TrackerStatusTerminated = "terminated"
)

// Tracker is the persistent record of one applicant's onboarding progress.
// The identity tuple is stored only as one-way digests; the resume flow
// re-derives them from the applicant-supplied plaintext at lookup time.
type Tracker struct {
	BaseModel

	SINHash   string `gorm:"not null;index:idx_trackers_identity" json:"-"`
	EmailHash string `gorm:"not null;index:idx_trackers_identity" json:"-"`

	Status      string `gorm:"not null;default:in_progress;index" json:"status"`
	CurrentStep int    `gorm:"not null;default:1" json:"current_step"`

	// Profile holds applicant-entered form data owned by the data-entry
	// layer; this subsystem only carries it through.
	Profile datatypes.JSON `json:"profile,omitempty"`

	Sessions          []Session          `gorm:"foreignKey:TrackerID" json:"-"`
	VerificationCodes []VerificationCode `gorm:"foreignKey:TrackerID" json:"-"`
}

// Resumable reports whether the tracker may still be resumed by its applicant.
func (t *Tracker) Resumable() bool {
	switch t.Status {
	case TrackerStatusInProgress, TrackerStatusSubmitted:
		return true
	default:
		return false
	}
}
