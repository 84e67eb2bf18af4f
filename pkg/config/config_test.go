package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := New()
	require.NoError(t, err)

	assert.Equal(t, EnvDev, cfg.Env)
	assert.Equal(t, 8888, cfg.Server.Port)
	assert.Equal(t, 72*time.Hour, cfg.Lifecycle.GraceWindow)
	assert.Equal(t, 48*time.Hour, cfg.Lifecycle.ReminderWindow)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.ReminderCadence)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Interval)
	assert.Equal(t, 4, cfg.Sync.Workers)
	assert.Equal(t, 6, cfg.Sync.MaxAttempts)
	assert.True(t, cfg.Telegram.DryRun)
	assert.False(t, cfg.Redis.Enabled())
}

func TestNew_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("APP_SERVER_PORT", "9001")
	t.Setenv("APP_WEBHOOKS_GATEWAY_SECRET", "s3cret")
	t.Setenv("APP_LIFECYCLE_GRACE_WINDOW", "24h")

	cfg, err := New()
	require.NoError(t, err)
	assert.Equal(t, 9001, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.Webhooks.GatewaySecret)
	assert.Equal(t, 24*time.Hour, cfg.Lifecycle.GraceWindow)
}
