package verification

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/database/testutil"
	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/pkg/metrics"
)

func setupSessions(t *testing.T, cfg SessionConfig) (*gorm.DB, *SessionService, *models.Tracker) {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	hasher := newTestHasher(t)
	sin, email := nextTuple(t)
	tracker := seedTracker(t, db, hasher, sin, email)

	svc, err := NewSessionService(db, cfg)
	require.NoError(t, err)
	return db, svc, tracker
}

func TestSessionIssueAndValidate(t *testing.T) {
	clock := newTestClock()
	_, svc, tracker := setupSessions(t, SessionConfig{SlidingWindow: 30 * time.Minute, Clock: clock.Now})

	token, session, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{IPAddress: "10.0.0.9"})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEqual(t, session.ID, token)
	require.Equal(t, tracker.ID, session.TrackerID)
	require.Equal(t, clock.Now().Add(30*time.Minute), session.ExpiresAt)

	trackerID, validated, err := svc.Validate(context.Background(), token)
	require.NoError(t, err)
	require.Equal(t, tracker.ID, trackerID)
	require.Equal(t, session.ID, validated.ID)
}

func TestSessionSlidingWindowRenewal(t *testing.T) {
	clock := newTestClock()
	_, svc, tracker := setupSessions(t, SessionConfig{SlidingWindow: 30 * time.Minute, Clock: clock.Now})

	token, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	// Each validation pushes the expiry a full window ahead, so an active
	// session outlives its original deadline.
	for i := 0; i < 3; i++ {
		clock.Advance(25 * time.Minute)
		_, session, err := svc.Validate(context.Background(), token)
		require.NoError(t, err)
		require.Equal(t, clock.Now().Add(30*time.Minute), session.ExpiresAt)
	}
}

func TestSessionExpiresWhenIdle(t *testing.T) {
	clock := newTestClock()
	_, svc, tracker := setupSessions(t, SessionConfig{SlidingWindow: 30 * time.Minute, Clock: clock.Now})

	token, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(31 * time.Minute)

	_, _, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionExpired)
}

func TestIssueRevokesPriorSessions(t *testing.T) {
	clock := newTestClock()
	_, svc, tracker := setupSessions(t, SessionConfig{Clock: clock.Now})

	first, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	second, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	_, _, err = svc.Validate(context.Background(), first)
	require.ErrorIs(t, err, ErrSessionRevoked)

	trackerID, _, err := svc.Validate(context.Background(), second)
	require.NoError(t, err)
	require.Equal(t, tracker.ID, trackerID)
}

func TestSessionRevokeIsIdempotent(t *testing.T) {
	clock := newTestClock()
	_, svc, tracker := setupSessions(t, SessionConfig{Clock: clock.Now})

	token, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(context.Background(), token))

	_, _, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionRevoked)

	// Repeat revocations, and revoking tokens that never existed, succeed.
	require.NoError(t, svc.Revoke(context.Background(), token))
	require.NoError(t, svc.Revoke(context.Background(), "no-such-token"))
}

func TestValidateRejectsBadTokens(t *testing.T) {
	_, svc, _ := setupSessions(t, SessionConfig{})

	_, _, err := svc.Validate(context.Background(), "")
	require.ErrorIs(t, err, ErrSessionInvalidToken)

	_, _, err = svc.Validate(context.Background(), "never-issued")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevokeTrackerSessions(t *testing.T) {
	clock := newTestClock()
	db, svc, tracker := setupSessions(t, SessionConfig{Clock: clock.Now})

	token, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	require.NoError(t, svc.RevokeTrackerSessions(context.Background(), tracker.ID))

	_, _, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionRevoked)

	var remaining int64
	require.NoError(t, db.Model(&models.Session{}).
		Where("tracker_id = ? AND revoked_at IS NULL", tracker.ID).
		Count(&remaining).Error)
	require.Zero(t, remaining)
}

func TestSessionCleanupExpired(t *testing.T) {
	clock := newTestClock()
	db, svc, tracker := setupSessions(t, SessionConfig{SlidingWindow: 30 * time.Minute, Clock: clock.Now})

	token, session, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)

	clock.Advance(4 * time.Hour)

	purged, err := svc.CleanupExpired(context.Background(), time.Hour)
	require.NoError(t, err)
	require.GreaterOrEqual(t, purged, int64(1))

	err = db.First(&models.Session{}, "id = ?", session.ID).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)

	_, _, err = svc.Validate(context.Background(), token)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestActiveSessionsGaugeMatchesStore(t *testing.T) {
	clock := newTestClock()
	db, svc, tracker := setupSessions(t, SessionConfig{SlidingWindow: 30 * time.Minute, Clock: clock.Now})

	gaugeMatchesStore := func(t *testing.T) float64 {
		t.Helper()
		var active int64
		require.NoError(t, db.Model(&models.Session{}).
			Where("revoked_at IS NULL AND expires_at > ?", clock.Now()).
			Count(&active).Error)
		value := promtest.ToFloat64(metrics.ActiveSessions)
		require.Equal(t, float64(active), value)
		return value
	}

	token, _, err := svc.Issue(context.Background(), tracker.ID, SessionMetadata{})
	require.NoError(t, err)
	afterIssue := gaugeMatchesStore(t)

	require.NoError(t, svc.Revoke(context.Background(), token))
	afterRevoke := gaugeMatchesStore(t)
	require.Equal(t, afterIssue-1, afterRevoke)

	// A freshly constructed service reseeds the gauge from existing rows,
	// so a restart cannot leave it at a stale value.
	metrics.ActiveSessions.Set(afterRevoke + 1000)
	_, err = NewSessionService(db, SessionConfig{Clock: clock.Now})
	require.NoError(t, err)
	gaugeMatchesStore(t)
}
