package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/clearlane/onboard/internal/models"
)

// Audit actions recorded by the resume subsystem.
const (
	AuditActionCodeIssued        = "resume.code_issued"
	AuditActionCodeChecked       = "resume.code_checked"
	AuditActionSessionIssued     = "resume.session_issued"
	AuditActionSessionRevoked    = "resume.session_revoked"
	AuditActionTrackerCompleted  = "tracker.completed"
	AuditActionTrackerTerminated = "tracker.terminated"
)

// AuditEntry captures a single audit event to persist.
type AuditEntry struct {
	TrackerID *string
	Action    string
	Result    string
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// AuditFilters encapsulates optional filters when querying audit logs.
type AuditFilters struct {
	TrackerID string
	Action    string
	Result    string
	Since     *time.Time
	Until     *time.Time
}

// AuditListOptions controls pagination and filtering for audit queries.
type AuditListOptions struct {
	Page     int
	PageSize int
	Filters  AuditFilters
}

// AuditService persists and retrieves audit log entries.
type AuditService struct {
	db *gorm.DB
}

// NewAuditService constructs an AuditService using the provided database handle.
func NewAuditService(db *gorm.DB) (*AuditService, error) {
	if db == nil {
		return nil, errors.New("audit service: db is required")
	}
	return &AuditService{db: db}, nil
}

// Log stores an audit entry, marshalling metadata into JSON form.
// Metadata must never contain raw secrets or plaintext codes.
func (s *AuditService) Log(ctx context.Context, entry AuditEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if strings.TrimSpace(entry.Action) == "" {
		return errors.New("audit service: action is required")
	}
	if strings.TrimSpace(entry.Result) == "" {
		return errors.New("audit service: result is required")
	}

	record := models.AuditLog{
		Action:    strings.TrimSpace(entry.Action),
		Result:    strings.TrimSpace(entry.Result),
		IPAddress: strings.TrimSpace(entry.IPAddress),
		UserAgent: strings.TrimSpace(entry.UserAgent),
	}

	if entry.Metadata != nil {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("audit service: marshal metadata: %w", err)
		}
		record.Metadata = encoded
	}

	if entry.TrackerID != nil && strings.TrimSpace(*entry.TrackerID) != "" {
		id := strings.TrimSpace(*entry.TrackerID)
		record.TrackerID = &id
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return fmt.Errorf("audit service: create log: %w", err)
	}

	return nil
}

// List returns audit log entries matching the provided options, newest first.
func (s *AuditService) List(ctx context.Context, opts AuditListOptions) ([]models.AuditLog, int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if trackerID := strings.TrimSpace(opts.Filters.TrackerID); trackerID != "" {
		query = query.Where("tracker_id = ?", trackerID)
	}
	if action := strings.TrimSpace(opts.Filters.Action); action != "" {
		query = query.Where("action = ?", action)
	}
	if result := strings.TrimSpace(opts.Filters.Result); result != "" {
		query = query.Where("result = ?", result)
	}
	if opts.Filters.Since != nil {
		query = query.Where("created_at >= ?", *opts.Filters.Since)
	}
	if opts.Filters.Until != nil {
		query = query.Where("created_at <= ?", *opts.Filters.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: count logs: %w", err)
	}

	var logs []models.AuditLog
	if err := query.
		Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&logs).Error; err != nil {
		return nil, 0, fmt.Errorf("audit service: list logs: %w", err)
	}

	return logs, total, nil
}

// DeleteOlderThan removes audit entries created before the cutoff and returns
// how many rows were purged.
func (s *AuditService) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.AuditLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("audit service: delete old logs: %w", result.Error)
	}

	return result.RowsAffected, nil
}
