package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 2*time.Minute, cfg.GuardDuty.RunTimeout)
	assert.Equal(t, "0 7 * * 1-5", cfg.GuardDuty.ReminderCron)
	assert.False(t, cfg.Redis.Enabled)
	assert.Empty(t, cfg.Mail.EscalationEmails)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdirTemp(t)
	t.Setenv("GUARD_RUN_TIMEOUT", "30s")
	t.Setenv("GUARD_ESCALATION_EMAILS", "kepsek@sma.local, wakasek@sma.local ,")
	t.Setenv("ENABLE_REDIS", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, cfg.GuardDuty.RunTimeout)
	assert.Equal(t, []string{"kepsek@sma.local", "wakasek@sma.local"}, cfg.Mail.EscalationEmails)
	assert.True(t, cfg.Redis.Enabled)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 5*time.Second, parseDuration("5s", time.Minute))
}

func chdirTemp(t *testing.T) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}
