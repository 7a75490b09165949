package trackers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/pkg/crypto"
)

var (
	// ErrTrackerNotFound indicates that no tracker matches the lookup.
	ErrTrackerNotFound = errors.New("tracker: not found")
	// ErrTrackerExists signals that a resumable tracker already exists for the identity tuple.
	ErrTrackerExists = errors.New("tracker: application already in progress")
	// ErrTrackerClosed marks an attempt to mutate a completed or terminated tracker.
	ErrTrackerClosed = errors.New("tracker: closed")
)

// SessionRevoker revokes every active session for a tracker. Satisfied by the
// verification session service; declared here so the cascade on terminate and
// complete needs no package cycle.
type SessionRevoker interface {
	RevokeTrackerSessions(ctx context.Context, trackerID string) error
}

// Option customises the Service.
type Option func(*Service)

// WithSessionRevoker wires the cascade used when a tracker is closed.
func WithSessionRevoker(revoker SessionRevoker) Option {
	return func(s *Service) {
		s.revoker = revoker
	}
}

// WithClock injects a custom time source.
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service manages onboarding trackers: the resource the resume subsystem protects.
type Service struct {
	db      *gorm.DB
	hasher  *crypto.Hasher
	revoker SessionRevoker
	now     func() time.Time
}

// NewService constructs a tracker service.
func NewService(db *gorm.DB, hasher *crypto.Hasher, opts ...Option) (*Service, error) {
	if db == nil {
		return nil, errors.New("tracker service: db is required")
	}
	if hasher == nil {
		return nil, errors.New("tracker service: hasher is required")
	}

	service := &Service{db: db, hasher: hasher, now: time.Now}
	for _, opt := range opts {
		opt(service)
	}
	return service, nil
}

// StartInput carries the fields needed to open a new application.
type StartInput struct {
	SIN     string
	Email   string
	Profile map[string]any
}

// Start registers a new onboarding application for the identity tuple. The
// plaintext tuple is hashed immediately and never persisted.
func (s *Service) Start(ctx context.Context, input StartInput) (*models.Tracker, error) {
	sinHash, emailHash, err := s.hashTuple(input.SIN, input.Email)
	if err != nil {
		return nil, err
	}

	if existing, err := s.lookupByHashes(ctx, sinHash, emailHash); err == nil && existing != nil {
		return nil, ErrTrackerExists
	} else if err != nil && !errors.Is(err, ErrTrackerNotFound) {
		return nil, err
	}

	tracker := models.Tracker{
		SINHash:     sinHash,
		EmailHash:   emailHash,
		Status:      models.TrackerStatusInProgress,
		CurrentStep: 1,
	}

	if input.Profile != nil {
		encoded, err := json.Marshal(input.Profile)
		if err != nil {
			return nil, fmt.Errorf("tracker service: marshal profile: %w", err)
		}
		tracker.Profile = encoded
	}

	if err := s.db.WithContext(ctx).Create(&tracker).Error; err != nil {
		return nil, fmt.Errorf("tracker service: create tracker: %w", err)
	}

	return &tracker, nil
}

// Get loads a tracker by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Tracker, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrTrackerNotFound
	}

	var tracker models.Tracker
	if err := s.db.WithContext(ctx).Take(&tracker, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTrackerNotFound
		}
		return nil, fmt.Errorf("tracker service: get tracker: %w", err)
	}
	return &tracker, nil
}

// LookupByIdentity resolves the resumable tracker for a plaintext identity
// tuple, if one exists. Callers must not surface the distinction between a
// miss and a match to unauthenticated clients.
func (s *Service) LookupByIdentity(ctx context.Context, sin, email string) (*models.Tracker, error) {
	sinHash, emailHash, err := s.hashTuple(sin, email)
	if err != nil {
		return nil, err
	}
	return s.lookupByHashes(ctx, sinHash, emailHash)
}

func (s *Service) lookupByHashes(ctx context.Context, sinHash, emailHash string) (*models.Tracker, error) {
	var tracker models.Tracker
	err := s.db.WithContext(ctx).
		Where("sin_hash = ? AND email_hash = ?", sinHash, emailHash).
		Where("status IN ?", []string{models.TrackerStatusInProgress, models.TrackerStatusSubmitted}).
		Order("created_at DESC").
		First(&tracker).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTrackerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tracker service: lookup tracker: %w", err)
	}
	return &tracker, nil
}

// Advance records form progress for an open application.
func (s *Service) Advance(ctx context.Context, id string, step int, profile map[string]any) (*models.Tracker, error) {
	tracker, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tracker.Resumable() {
		return nil, ErrTrackerClosed
	}

	updates := map[string]any{}
	if step > tracker.CurrentStep {
		updates["current_step"] = step
	}
	if profile != nil {
		encoded, err := json.Marshal(profile)
		if err != nil {
			return nil, fmt.Errorf("tracker service: marshal profile: %w", err)
		}
		updates["profile"] = encoded
	}

	if len(updates) > 0 {
		if err := s.db.WithContext(ctx).Model(tracker).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("tracker service: advance tracker: %w", err)
		}
	}

	return s.Get(ctx, id)
}

// Submit marks the application as submitted for review. The applicant keeps
// their session; submitted trackers remain resumable for viewing.
func (s *Service) Submit(ctx context.Context, id string) (*models.Tracker, error) {
	tracker, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !tracker.Resumable() {
		return nil, ErrTrackerClosed
	}

	if err := s.db.WithContext(ctx).Model(tracker).
		Update("status", models.TrackerStatusSubmitted).Error; err != nil {
		return nil, fmt.Errorf("tracker service: submit tracker: %w", err)
	}

	tracker.Status = models.TrackerStatusSubmitted
	return tracker, nil
}

// Complete closes the application as successfully finished and revokes every
// session that still grants access to it.
func (s *Service) Complete(ctx context.Context, id string) error {
	return s.close(ctx, id, models.TrackerStatusCompleted)
}

// Terminate administratively closes the application and revokes its sessions.
func (s *Service) Terminate(ctx context.Context, id string) error {
	return s.close(ctx, id, models.TrackerStatusTerminated)
}

func (s *Service) close(ctx context.Context, id, status string) error {
	tracker, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if tracker.Status == status {
		return nil
	}

	if err := s.db.WithContext(ctx).Model(tracker).Update("status", status).Error; err != nil {
		return fmt.Errorf("tracker service: close tracker: %w", err)
	}

	if s.revoker != nil {
		if err := s.revoker.RevokeTrackerSessions(ctx, tracker.ID); err != nil {
			return fmt.Errorf("tracker service: revoke sessions: %w", err)
		}
	}

	return nil
}

func (s *Service) hashTuple(sin, email string) (string, string, error) {
	sinHash, err := s.hasher.Hash(sin, crypto.ContextSIN)
	if err != nil {
		return "", "", fmt.Errorf("tracker service: hash sin: %w", err)
	}
	emailHash, err := s.hasher.Hash(email, crypto.ContextEmail)
	if err != nil {
		return "", "", fmt.Errorf("tracker service: hash email: %w", err)
	}
	return sinHash, emailHash, nil
}
