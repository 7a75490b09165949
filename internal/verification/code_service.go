package verification

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/models"
	"github.com/clearlane/onboard/pkg/crypto"
	"github.com/clearlane/onboard/pkg/metrics"
)

// Policy defaults for one-time resume codes.
const (
	DefaultCodeTTL     = 15 * time.Minute
	DefaultCodeDigits  = 6
	DefaultMaxAttempts = 5
)

var (
	// ErrCodeNotFound indicates no code record matches the identity tuple.
	ErrCodeNotFound = errors.New("verification: code not found")
	// ErrCodeExpired signals that the code window has elapsed.
	ErrCodeExpired = errors.New("verification: code expired")
	// ErrCodeMismatch marks a wrong code with attempt budget still available.
	ErrCodeMismatch = errors.New("verification: code mismatch")
	// ErrAttemptsExhausted means the retry budget is consumed; a fresh code is required.
	ErrAttemptsExhausted = errors.New("verification: attempts exhausted")
)

// CodeConfig describes tunable behaviour for the CodeService.
type CodeConfig struct {
	TTL         time.Duration
	Digits      int
	MaxAttempts int
	Clock       func() time.Time
}

// CodeService issues and checks one-time resume codes. Only digests are
// persisted; the plaintext code leaves the process exactly once, through the
// Issue return value, for out-of-band delivery.
type CodeService struct {
	db          *gorm.DB
	hasher      *crypto.Hasher
	ttl         time.Duration
	digits      int
	maxAttempts int
	now         func() time.Time
}

// NewCodeService constructs a code service backed by the provided database.
func NewCodeService(db *gorm.DB, hasher *crypto.Hasher, cfg CodeConfig) (*CodeService, error) {
	if db == nil {
		return nil, errors.New("code service: db is required")
	}
	if hasher == nil {
		return nil, errors.New("code service: hasher is required")
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultCodeTTL
	}

	digits := cfg.Digits
	if digits <= 0 {
		digits = DefaultCodeDigits
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	clock := time.Now
	if cfg.Clock != nil {
		clock = cfg.Clock
	}

	return &CodeService{
		db:          db,
		hasher:      hasher,
		ttl:         ttl,
		digits:      digits,
		maxAttempts: maxAttempts,
		now:         clock,
	}, nil
}

// TTL returns the validity window stamped on newly issued codes.
func (s *CodeService) TTL() time.Duration {
	return s.ttl
}

// Issue creates a fresh code for the tracker and returns the plaintext once.
// Prior codes for the same tuple are not touched: the newest record is the
// only one checked, so they are superseded in place and kept as audit trail.
// Repeated calls are the supported resend path.
func (s *CodeService) Issue(ctx context.Context, trackerID, sin, email, purpose string) (string, *models.VerificationCode, error) {
	trackerID = strings.TrimSpace(trackerID)
	if trackerID == "" {
		return "", nil, errors.New("code service: tracker id is required")
	}

	purpose = normalizePurpose(purpose)

	code, err := crypto.GenerateNumericCode(s.digits)
	if err != nil {
		return "", nil, fmt.Errorf("code service: generate code: %w", err)
	}

	sinHash, emailHash, err := s.hashTuple(sin, email)
	if err != nil {
		return "", nil, err
	}
	codeHash, err := s.hasher.Hash(code, crypto.ContextCode)
	if err != nil {
		return "", nil, fmt.Errorf("code service: hash code: %w", err)
	}

	record := models.VerificationCode{
		TrackerID:   trackerID,
		SINHash:     sinHash,
		EmailHash:   emailHash,
		CodeHash:    codeHash,
		Purpose:     purpose,
		ExpiresAt:   s.now().Add(s.ttl),
		Attempts:    0,
		MaxAttempts: s.maxAttempts,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return "", nil, fmt.Errorf("code service: create code: %w", err)
	}

	return code, &record, nil
}

// Check validates a submitted code against the newest record for the tuple.
// Every live check consumes one attempt, right or wrong; the consumption is a
// single conditional update so concurrent checks can never overdraw the
// budget. On success the owning tracker id is returned.
func (s *CodeService) Check(ctx context.Context, sin, email, submitted, purpose string) (string, error) {
	purpose = normalizePurpose(purpose)

	sinHash, emailHash, err := s.hashTuple(sin, email)
	if err != nil {
		return "", err
	}

	var record models.VerificationCode
	err = s.db.WithContext(ctx).
		Where("sin_hash = ? AND email_hash = ? AND purpose = ?", sinHash, emailHash, purpose).
		Order("created_at DESC").
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		metrics.CodeChecks.WithLabelValues("not_found").Inc()
		return "", ErrCodeNotFound
	}
	if err != nil {
		return "", fmt.Errorf("code service: find code: %w", err)
	}

	now := s.now()
	if record.Expired(now) {
		// Dead record: no further attempt accounting.
		metrics.CodeChecks.WithLabelValues("expired").Inc()
		return "", ErrCodeExpired
	}
	if record.Exhausted() {
		metrics.CodeChecks.WithLabelValues("exhausted").Inc()
		return "", ErrAttemptsExhausted
	}

	// Consume one attempt before comparing. The attempts < max_attempts
	// guard makes the increment atomic: of two racing checks against the
	// last slot, exactly one wins the row update.
	result := s.db.WithContext(ctx).
		Model(&models.VerificationCode{}).
		Where("id = ? AND attempts < max_attempts", record.ID).
		Update("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return "", fmt.Errorf("code service: consume attempt: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		metrics.CodeChecks.WithLabelValues("exhausted").Inc()
		return "", ErrAttemptsExhausted
	}

	submittedHash, err := s.hasher.Hash(submitted, crypto.ContextCode)
	if err != nil {
		metrics.CodeChecks.WithLabelValues("mismatch").Inc()
		return "", ErrCodeMismatch
	}

	if subtle.ConstantTimeCompare([]byte(submittedHash), []byte(record.CodeHash)) != 1 {
		metrics.CodeChecks.WithLabelValues("mismatch").Inc()
		return "", ErrCodeMismatch
	}

	metrics.CodeChecks.WithLabelValues("success").Inc()
	return record.TrackerID, nil
}

// CleanupExpired deletes code records whose expiry lies further in the past
// than the retention window and returns how many rows were purged.
func (s *CodeService) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	cutoff := s.now().Add(-retention)
	result := s.db.WithContext(ctx).
		Where("expires_at < ?", cutoff).
		Delete(&models.VerificationCode{})
	if result.Error != nil {
		return 0, fmt.Errorf("code service: cleanup expired codes: %w", result.Error)
	}

	return result.RowsAffected, nil
}

func (s *CodeService) hashTuple(sin, email string) (string, string, error) {
	sinHash, err := s.hasher.Hash(sin, crypto.ContextSIN)
	if err != nil {
		return "", "", fmt.Errorf("code service: hash sin: %w", err)
	}
	emailHash, err := s.hasher.Hash(email, crypto.ContextEmail)
	if err != nil {
		return "", "", fmt.Errorf("code service: hash email: %w", err)
	}
	return sinHash, emailHash, nil
}

func normalizePurpose(purpose string) string {
	purpose = strings.TrimSpace(purpose)
	if purpose == "" {
		return models.PurposeResume
	}
	return purpose
}
