package verification

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/internal/services"
	"github.com/clearlane/onboard/internal/trackers"
	"github.com/clearlane/onboard/pkg/logger"
	"github.com/clearlane/onboard/pkg/mail"
	"github.com/clearlane/onboard/pkg/metrics"
)

// RequestMetadata captures contextual information about the caller, recorded
// for auditing only.
type RequestMetadata struct {
	IPAddress string
	UserAgent string
}

// ResumeService is the public-facing workflow composing tracker lookup, code
// issuance and checking, and session management. It owns the anti-enumeration
// guarantee: nothing it returns to an unauthenticated caller confirms whether
// an identity tuple has an application on file.
type ResumeService struct {
	trackers *trackers.Service
	codes    *CodeService
	sessions *SessionService
	mailer   mail.Mailer
	audit    *services.AuditService
	log      *zap.Logger
}

// NewResumeService constructs the orchestrator. Mailer and audit are optional;
// a nil mailer skips delivery, a nil audit service skips event records.
func NewResumeService(
	trackerSvc *trackers.Service,
	codes *CodeService,
	sessions *SessionService,
	mailer mail.Mailer,
	audit *services.AuditService,
) (*ResumeService, error) {
	if trackerSvc == nil {
		return nil, errors.New("resume service: tracker service is required")
	}
	if codes == nil {
		return nil, errors.New("resume service: code service is required")
	}
	if sessions == nil {
		return nil, errors.New("resume service: session service is required")
	}

	return &ResumeService{
		trackers: trackerSvc,
		codes:    codes,
		sessions: sessions,
		mailer:   mailer,
		audit:    audit,
		log:      logger.WithModule("resume"),
	}, nil
}

// RequestResume accepts a resume request for an identity tuple. Whether or
// not a tracker matches, the caller receives the same nil acknowledgement;
// only on an internal match is a code issued and dispatched. Infrastructure
// failures still propagate, since they are not tuple-dependent.
func (s *ResumeService) RequestResume(ctx context.Context, sin, email string, meta RequestMetadata) error {
	tracker, err := s.trackers.LookupByIdentity(ctx, sin, email)
	if err != nil {
		if errors.Is(err, trackers.ErrTrackerNotFound) {
			metrics.ResumeRequests.WithLabelValues("unmatched").Inc()
			return nil
		}
		return fmt.Errorf("resume service: lookup tracker: %w", err)
	}

	code, record, err := s.codes.Issue(ctx, tracker.ID, sin, email, models.PurposeResume)
	if err != nil {
		return fmt.Errorf("resume service: issue code: %w", err)
	}

	metrics.ResumeRequests.WithLabelValues("matched").Inc()
	s.auditEvent(ctx, tracker.ID, services.AuditActionCodeIssued, "success", meta, map[string]any{
		"purpose":    record.Purpose,
		"expires_at": record.ExpiresAt,
	})

	// Delivery is fire-and-forget: a failed or slow send must neither fail
	// the request nor make its latency distinguishable from the unmatched
	// path.
	s.deliver(email, code)

	return nil
}

// ConfirmResume validates a submitted code and, on success, mints a session
// for the owning tracker. A missing code record is reported as a mismatch so
// that the absence of an application cannot be probed through this endpoint.
func (s *ResumeService) ConfirmResume(ctx context.Context, sin, email, code string, meta RequestMetadata) (string, *models.Session, error) {
	trackerID, err := s.codes.Check(ctx, sin, email, code, models.PurposeResume)
	if err != nil {
		switch {
		case errors.Is(err, ErrCodeNotFound):
			s.auditEvent(ctx, "", services.AuditActionCodeChecked, "not_found", meta, nil)
			return "", nil, ErrCodeMismatch
		case errors.Is(err, ErrCodeExpired), errors.Is(err, ErrCodeMismatch), errors.Is(err, ErrAttemptsExhausted):
			s.auditEvent(ctx, "", services.AuditActionCodeChecked, checkResult(err), meta, nil)
			return "", nil, err
		default:
			return "", nil, fmt.Errorf("resume service: check code: %w", err)
		}
	}

	tracker, err := s.trackers.Get(ctx, trackerID)
	if err != nil || !tracker.Resumable() {
		// The tracker was closed after the code went out. Reported as a
		// mismatch: this path must stay indistinguishable from a wrong code.
		s.auditEvent(ctx, trackerID, services.AuditActionCodeChecked, "tracker_closed", meta, nil)
		return "", nil, ErrCodeMismatch
	}

	token, session, err := s.sessions.Issue(ctx, trackerID, SessionMetadata(meta))
	if err != nil {
		return "", nil, fmt.Errorf("resume service: issue session: %w", err)
	}

	s.auditEvent(ctx, trackerID, services.AuditActionSessionIssued, "success", meta, map[string]any{
		"session_id": session.ID,
		"expires_at": session.ExpiresAt,
	})

	return token, session, nil
}

// Authorize resolves a session token and optionally pins it to a tracker. A
// mismatch between the session's tracker and the requested resource is always
// an authorization failure, never silently corrected.
func (s *ResumeService) Authorize(ctx context.Context, token, trackerID string) (string, *models.Session, error) {
	resolved, session, err := s.sessions.Validate(ctx, token)
	if err != nil {
		return "", nil, err
	}

	if trackerID != "" && resolved != trackerID {
		return "", nil, ErrSessionNotFound
	}

	return resolved, session, nil
}

// Logout revokes the supplied session token. Idempotent.
func (s *ResumeService) Logout(ctx context.Context, token string, meta RequestMetadata) error {
	if err := s.sessions.Revoke(ctx, token); err != nil {
		return fmt.Errorf("resume service: revoke session: %w", err)
	}

	s.auditEvent(ctx, "", services.AuditActionSessionRevoked, "success", meta, nil)
	return nil
}

func (s *ResumeService) deliver(email, code string) {
	if s.mailer == nil {
		return
	}

	minutes := int(s.codes.TTL().Minutes())
	if minutes < 1 {
		minutes = 1
	}

	go func() {
		msg := mail.Message{
			To:      []string{email},
			Subject: "Your application resume code",
			Body: fmt.Sprintf(
				"Your verification code is %s.\n\nEnter it within %d minutes to continue your driver application. If you did not request this, you can ignore this message.\n",
				code, minutes,
			),
		}
		if err := s.mailer.Send(context.Background(), msg); err != nil {
			if errors.Is(err, mail.ErrSMTPDisabled) {
				s.log.Debug("code delivery skipped, smtp disabled")
				return
			}
			s.log.Warn("code delivery failed", zap.Error(err))
		}
	}()
}

func (s *ResumeService) auditEvent(ctx context.Context, trackerID, action, result string, meta RequestMetadata, extra map[string]any) {
	if s.audit == nil {
		return
	}

	entry := services.AuditEntry{
		Action:    action,
		Result:    result,
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		Metadata:  extra,
	}
	if trackerID != "" {
		entry.TrackerID = &trackerID
	}

	if err := s.audit.Log(ctx, entry); err != nil {
		s.log.Warn("audit write failed", zap.Error(err))
	}
}

func checkResult(err error) string {
	switch {
	case errors.Is(err, ErrCodeExpired):
		return "expired"
	case errors.Is(err, ErrAttemptsExhausted):
		return "exhausted"
	default:
		return "mismatch"
	}
}
