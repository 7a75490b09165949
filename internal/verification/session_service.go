package verification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/database"
	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/pkg/crypto"
	"github.com/clearlane/onboard/pkg/metrics"
)

// DefaultSlidingWindow is the fallback session lifetime; each successful
// validation pushes the expiry another window into the future.
const DefaultSlidingWindow = 30 * time.Minute

// DefaultTokenLength is the fallback random-token byte length.
const DefaultTokenLength = 48

var (
	// ErrSessionNotFound indicates that no session matches the provided token.
	ErrSessionNotFound = errors.New("session: not found")
	// ErrSessionRevoked marks a session that has been explicitly invalidated.
	ErrSessionRevoked = errors.New("session: revoked")
	// ErrSessionExpired signals that the sliding window elapsed without use.
	ErrSessionExpired = errors.New("session: expired")
	// ErrSessionInvalidToken is returned when the supplied token is malformed.
	ErrSessionInvalidToken = errors.New("session: invalid token")
)

// SessionConfig describes tunable behaviour for the SessionService.
type SessionConfig struct {
	SlidingWindow time.Duration
	TokenLength   int
	Clock         func() time.Time
}

// SessionMetadata captures contextual information about the client.
type SessionMetadata struct {
	IPAddress string
	UserAgent string
}

// SessionService manages creation, validation, and revocation of applicant
// sessions. Tokens are opaque random identifiers, never database keys.
type SessionService struct {
	db       *gorm.DB
	window   time.Duration
	tokenLen int
	now      func() time.Time
}

// NewSessionService constructs a session manager backed by the provided database.
func NewSessionService(db *gorm.DB, cfg SessionConfig) (*SessionService, error) {
	if db == nil {
		return nil, errors.New("session service: db is required")
	}

	window := cfg.SlidingWindow
	if window <= 0 {
		window = DefaultSlidingWindow
	}

	length := cfg.TokenLength
	if length <= 0 {
		length = DefaultTokenLength
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	svc := &SessionService{
		db:       db,
		window:   window,
		tokenLen: length,
		now:      clock,
	}

	// Seed the gauge from the store so a restart does not report zero
	// while live sessions persist.
	svc.refreshActiveSessions(context.Background())

	return svc, nil
}

// refreshActiveSessions recomputes the active-session gauge from the table.
// Deriving it from a count instead of delta bookkeeping keeps it honest
// across restarts and sessions that idle past their expiry. Best effort.
func (s *SessionService) refreshActiveSessions(ctx context.Context) {
	var active int64
	err := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("revoked_at IS NULL AND expires_at > ?", s.now()).
		Count(&active).Error
	if err != nil {
		return
	}
	metrics.ActiveSessions.Set(float64(active))
}

// Issue mints a session for the tracker and enforces single-active-session
// semantics. The new row is created first and prior sessions revoked after,
// so a racing issuance can at worst revoke an extra session, never leave an
// extra one alive.
func (s *SessionService) Issue(ctx context.Context, trackerID string, meta SessionMetadata) (string, *models.Session, error) {
	trackerID = strings.TrimSpace(trackerID)
	if trackerID == "" {
		return "", nil, errors.New("session service: tracker id is required")
	}

	now := s.now()

	var session *models.Session
	var token string

	// A token collision is a lost uniqueness race; one retry is enough for
	// a 48-byte random value.
	for attempt := 0; attempt < 2; attempt++ {
		generated, err := crypto.GenerateToken(s.tokenLen)
		if err != nil {
			return "", nil, fmt.Errorf("session service: generate token: %w", err)
		}

		candidate := &models.Session{
			TrackerID:  trackerID,
			Token:      generated,
			IPAddress:  strings.TrimSpace(meta.IPAddress),
			UserAgent:  strings.TrimSpace(meta.UserAgent),
			ExpiresAt:  now.Add(s.window),
			LastUsedAt: now,
		}

		err = s.db.WithContext(ctx).Create(candidate).Error
		if err == nil {
			session = candidate
			token = generated
			break
		}
		if database.IsUniqueConstraintError(err) && attempt == 0 {
			continue
		}
		return "", nil, fmt.Errorf("session service: create session: %w", err)
	}

	revoked := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("tracker_id = ? AND id <> ? AND revoked_at IS NULL", trackerID, session.ID).
		Update("revoked_at", now)
	if revoked.Error != nil {
		return "", nil, fmt.Errorf("session service: revoke prior sessions: %w", revoked.Error)
	}
	s.refreshActiveSessions(ctx)

	return token, session, nil
}

// Validate resolves a token to its tracker. On success the sliding window is
// renewed and lastUsedAt stamped; idle sessions expire, active ones never do.
func (s *SessionService) Validate(ctx context.Context, token string) (string, *models.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil, ErrSessionInvalidToken
	}

	var session models.Session
	err := s.db.WithContext(ctx).Where("token = ?", token).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil, ErrSessionNotFound
	}
	if err != nil {
		return "", nil, fmt.Errorf("session service: find session: %w", err)
	}

	now := s.now()

	if session.Revoked() {
		return "", nil, ErrSessionRevoked
	}
	if session.ExpiresAt.Before(now) {
		return "", nil, ErrSessionExpired
	}

	updates := map[string]any{
		"expires_at":   now.Add(s.window),
		"last_used_at": now,
	}
	if err := s.db.WithContext(ctx).Model(&session).Updates(updates).Error; err != nil {
		return "", nil, fmt.Errorf("session service: renew session: %w", err)
	}

	session.ExpiresAt = updates["expires_at"].(time.Time)
	session.LastUsedAt = now

	return session.TrackerID, &session, nil
}

// Revoke marks the session unusable. It is idempotent and succeeds even when
// the token is unknown, already revoked, or expired.
func (s *SessionService) Revoke(ctx context.Context, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("token = ? AND revoked_at IS NULL", token).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke session: %w", result.Error)
	}

	s.refreshActiveSessions(ctx)

	return nil
}

// RevokeTrackerSessions revokes every active session belonging to a tracker.
// Used on logout-everywhere, application completion, and tracker termination.
func (s *SessionService) RevokeTrackerSessions(ctx context.Context, trackerID string) error {
	trackerID = strings.TrimSpace(trackerID)
	if trackerID == "" {
		return errors.New("session service: tracker id is required")
	}

	result := s.db.WithContext(ctx).
		Model(&models.Session{}).
		Where("tracker_id = ? AND revoked_at IS NULL", trackerID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		return fmt.Errorf("session service: revoke tracker sessions: %w", result.Error)
	}

	s.refreshActiveSessions(ctx)

	return nil
}

// CleanupExpired physically deletes sessions that have been expired or
// revoked for longer than the retention window.
func (s *SessionService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := s.now().Add(-retention)

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Or("revoked_at IS NOT NULL AND revoked_at < ?", cutoff).
		Delete(&models.Session{})
	if result.Error != nil {
		return 0, fmt.Errorf("session service: cleanup expired sessions: %w", result.Error)
	}

	s.refreshActiveSessions(ctx)

	return result.RowsAffected, nil
}
