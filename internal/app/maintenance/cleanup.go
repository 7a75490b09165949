package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/clearlane/onboard/internal/services"
	"github.com/clearlane/onboard/internal/verification"
	"github.com/clearlane/onboard/pkg/logger"
)

const (
	defaultSchedule       = "@every 1h"
	defaultRetention      = 7 * 24 * time.Hour
	defaultAuditRetention = 90 * 24 * time.Hour
)

// Cleaner coordinates background maintenance: purging expired verification
// codes, dead sessions, and stale audit logs. Any nil dependency results in
// the corresponding cleanup job being skipped.
type Cleaner struct {
	codes    *verification.CodeService
	sessions *verification.SessionService
	audit    *services.AuditService
	cron     *cron.Cron
	now      func() time.Time
	log      *zap.Logger

	schedule       string
	retention      time.Duration
	auditRetention time.Duration
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithNow overrides the clock used for cleanup comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithSchedule overrides the cron specification for the cleanup run.
func WithSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.schedule = spec
		}
	}
}

// WithRetention adjusts how long expired codes and dead sessions are kept.
func WithRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.retention = retention
		}
	}
}

// WithAuditRetention adjusts how long audit logs are retained.
func WithAuditRetention(retention time.Duration) Option {
	return func(cleaner *Cleaner) {
		if retention > 0 {
			cleaner.auditRetention = retention
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults.
func NewCleaner(codes *verification.CodeService, sessions *verification.SessionService, audit *services.AuditService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		codes:          codes,
		sessions:       sessions,
		audit:          audit,
		now:            time.Now,
		schedule:       defaultSchedule,
		retention:      defaultRetention,
		auditRetention: defaultAuditRetention,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

// Start registers the cleanup job with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if c.codes == nil && c.sessions == nil && c.audit == nil {
		return nil
	}

	if _, err := c.cron.AddFunc(c.schedule, func() {
		if err := c.RunOnce(context.Background()); err != nil {
			c.log.Warn("cleanup run failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured cleanup routines sequentially. Primarily
// used in tests and during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.codes != nil {
		purged, err := c.codes.CleanupExpired(ctx, c.retention)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if purged > 0 {
			c.log.Info("purged verification codes", zap.Int64("count", purged))
		}
	}

	if c.sessions != nil {
		purged, err := c.sessions.CleanupExpired(ctx, c.retention)
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if purged > 0 {
			c.log.Info("purged sessions", zap.Int64("count", purged))
		}
	}

	if c.audit != nil && c.auditRetention > 0 {
		purged, err := c.audit.DeleteOlderThan(ctx, c.now().Add(-c.auditRetention))
		if err != nil {
			errs = multierr.Append(errs, err)
		} else if purged > 0 {
			c.log.Info("purged audit logs", zap.Int64("count", purged))
		}
	}

	return errs
}
