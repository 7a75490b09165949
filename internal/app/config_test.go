package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)
	require.Equal(t, "onboard_rw", cfg.Database.Postgres.Username)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/internal/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.True(t, cfg.Monitoring.Health.Enabled)

	require.Equal(t, "unit-test-pepper-0123456789", cfg.Hashing.Pepper)
	require.EqualValues(t, 2, cfg.Hashing.Argon2.Time)
	require.EqualValues(t, 131072, cfg.Hashing.Argon2.Memory)
	require.EqualValues(t, 2, cfg.Hashing.Argon2.Threads)

	require.Equal(t, 10*time.Minute, cfg.Resume.Code.TTL)
	require.Equal(t, 8, cfg.Resume.Code.Digits)
	require.Equal(t, 3, cfg.Resume.Code.MaxAttempts)
	require.Equal(t, 45*time.Minute, cfg.Resume.Session.SlidingWindow)
	require.Equal(t, 64, cfg.Resume.Session.TokenLength)
	require.Equal(t, 5, cfg.Resume.RateLimit.MaxRequests)
	require.Equal(t, 30*time.Second, cfg.Resume.RateLimit.Window)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.Equal(t, 15*time.Second, cfg.Email.SMTP.Timeout)

	require.False(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@every 30m", cfg.Maintenance.Schedule)
	require.Equal(t, 48*time.Hour, cfg.Maintenance.Retention)
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)

	require.Equal(t, 15*time.Minute, cfg.Resume.Code.TTL)
	require.Equal(t, 6, cfg.Resume.Code.Digits)
	require.Equal(t, 5, cfg.Resume.Code.MaxAttempts)
	require.Equal(t, 30*time.Minute, cfg.Resume.Session.SlidingWindow)
	require.Equal(t, 48, cfg.Resume.Session.TokenLength)

	require.False(t, cfg.Email.SMTP.Enabled)
	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, 7*24*time.Hour, cfg.Maintenance.Retention)
}
