package verification

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/database/testutil"
	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/internal/services"
	"github.com/clearlane/onboard/internal/trackers"
	"github.com/clearlane/onboard/pkg/mail"
)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

type captureMailer struct {
	delivered chan mail.Message
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{delivered: make(chan mail.Message, 8)}
}

func (m *captureMailer) Send(_ context.Context, msg mail.Message) error {
	m.delivered <- msg
	return nil
}

func (m *captureMailer) wait(t *testing.T) mail.Message {
	t.Helper()
	select {
	case msg := <-m.delivered:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no mail delivered")
		return mail.Message{}
	}
}

type resumeFixture struct {
	db       *gorm.DB
	clock    *testClock
	mailer   *captureMailer
	trackers *trackers.Service
	codes    *CodeService
	sessions *SessionService
	audit    *services.AuditService
	resume   *ResumeService
}

func setupResume(t *testing.T) *resumeFixture {
	t.Helper()
	return setupResumeWithCodeTTL(t, 0)
}

func setupResumeWithCodeTTL(t *testing.T, codeTTL time.Duration) *resumeFixture {
	t.Helper()

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	hasher := newTestHasher(t)
	clock := newTestClock()
	mailer := newCaptureMailer()

	sessions, err := NewSessionService(db, SessionConfig{Clock: clock.Now})
	require.NoError(t, err)

	trackerSvc, err := trackers.NewService(db, hasher,
		trackers.WithSessionRevoker(sessions),
		trackers.WithClock(clock.Now),
	)
	require.NoError(t, err)

	codes, err := NewCodeService(db, hasher, CodeConfig{TTL: codeTTL, Clock: clock.Now})
	require.NoError(t, err)

	audit, err := services.NewAuditService(db)
	require.NoError(t, err)

	resume, err := NewResumeService(trackerSvc, codes, sessions, mailer, audit)
	require.NoError(t, err)

	return &resumeFixture{
		db:       db,
		clock:    clock,
		mailer:   mailer,
		trackers: trackerSvc,
		codes:    codes,
		sessions: sessions,
		audit:    audit,
		resume:   resume,
	}
}

func (f *resumeFixture) startTracker(t *testing.T) (*models.Tracker, string, string) {
	t.Helper()
	sin, email := nextTuple(t)
	tracker, err := f.trackers.Start(context.Background(), trackers.StartInput{SIN: sin, Email: email})
	require.NoError(t, err)
	return tracker, sin, email
}

func TestRequestResumeUnmatchedTupleAcksSilently(t *testing.T) {
	f := setupResume(t)
	sin, email := nextTuple(t)

	before := countCodes(t, f.db)

	err := f.resume.RequestResume(context.Background(), sin, email, RequestMetadata{})
	require.NoError(t, err)

	// No application, no code. The caller cannot tell the difference.
	require.Equal(t, before, countCodes(t, f.db))
}

func TestRequestResumeDeliversCodeEndToEnd(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	err := f.resume.RequestResume(context.Background(), sin, email, RequestMetadata{IPAddress: "203.0.113.7"})
	require.NoError(t, err)

	msg := f.mailer.wait(t)
	require.Equal(t, []string{email}, msg.To)

	code := codePattern.FindString(msg.Body)
	require.NotEmpty(t, code)

	token, session, err := f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.Equal(t, tracker.ID, session.TrackerID)

	trackerID, _, err := f.resume.Authorize(context.Background(), token, tracker.ID)
	require.NoError(t, err)
	require.Equal(t, tracker.ID, trackerID)
}

func TestConfirmResumeUnknownTupleReportsMismatch(t *testing.T) {
	f := setupResume(t)
	sin, email := nextTuple(t)

	_, _, err := f.resume.ConfirmResume(context.Background(), sin, email, "482913", RequestMetadata{})
	require.ErrorIs(t, err, ErrCodeMismatch)
}

func TestConfirmResumeWrongCodePassesThrough(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	correct, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == correct {
		wrong = "000001"
	}

	_, _, err = f.resume.ConfirmResume(context.Background(), sin, email, wrong, RequestMetadata{})
	require.ErrorIs(t, err, ErrCodeMismatch)

	f.clock.Advance(16 * time.Minute)
	_, _, err = f.resume.ConfirmResume(context.Background(), sin, email, correct, RequestMetadata{})
	require.ErrorIs(t, err, ErrCodeExpired)
}

func TestConfirmResumeRefusesClosedTracker(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	code, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)

	require.NoError(t, f.trackers.Terminate(context.Background(), tracker.ID))

	// A valid code for a terminated application must look like a wrong code.
	_, _, err = f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.ErrorIs(t, err, ErrCodeMismatch)
}

func TestConfirmResumeReplacesExistingSession(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	code, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)
	firstToken, _, err := f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.NoError(t, err)

	code, _, err = f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)
	secondToken, _, err := f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.NoError(t, err)

	_, _, err = f.resume.Authorize(context.Background(), firstToken, tracker.ID)
	require.ErrorIs(t, err, ErrSessionRevoked)

	_, _, err = f.resume.Authorize(context.Background(), secondToken, tracker.ID)
	require.NoError(t, err)
}

func TestAuthorizeRejectsForeignTracker(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)
	other, _, _ := f.startTracker(t)

	code, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)
	token, _, err := f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.NoError(t, err)

	_, _, err = f.resume.Authorize(context.Background(), token, other.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestLogoutRevokesSession(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	code, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)
	token, _, err := f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{})
	require.NoError(t, err)

	require.NoError(t, f.resume.Logout(context.Background(), token, RequestMetadata{}))

	_, _, err = f.resume.Authorize(context.Background(), token, "")
	require.ErrorIs(t, err, ErrSessionRevoked)

	// Logging out twice is fine.
	require.NoError(t, f.resume.Logout(context.Background(), token, RequestMetadata{}))
}

func TestConfirmResumeWritesAuditTrail(t *testing.T) {
	f := setupResume(t)
	tracker, sin, email := f.startTracker(t)

	code, _, err := f.codes.Issue(context.Background(), tracker.ID, sin, email, models.PurposeResume)
	require.NoError(t, err)
	_, _, err = f.resume.ConfirmResume(context.Background(), sin, email, code, RequestMetadata{IPAddress: "198.51.100.4"})
	require.NoError(t, err)

	entries, total, err := f.audit.List(context.Background(), services.AuditListOptions{
		Filters: services.AuditFilters{
			TrackerID: tracker.ID,
			Action:    services.AuditActionSessionIssued,
		},
	})
	require.NoError(t, err)
	require.EqualValues(t, 1, total)
	require.Equal(t, "success", entries[0].Result)
	require.Equal(t, "198.51.100.4", entries[0].IPAddress)
}

func countCodes(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(&models.VerificationCode{}).Count(&n).Error)
	return n
}

func TestDeliveredMailReflectsCodeLifetime(t *testing.T) {
	f := setupResumeWithCodeTTL(t, 5*time.Minute)
	_, sin, email := f.startTracker(t)

	require.NoError(t, f.resume.RequestResume(context.Background(), sin, email, RequestMetadata{}))

	msg := f.mailer.wait(t)
	require.Contains(t, msg.Body, "within 5 minutes")
}
