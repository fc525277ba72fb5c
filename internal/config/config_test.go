package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupHome points HOME at a temp dir so the loader's allowed-directory
// check resolves against it.
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	dir := filepath.Join(home, ".config", "mendd")
	require.NoError(t, os.MkdirAll(dir, 0700))
	return dir
}

func writeConfig(t *testing.T, dir, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), perm))
	return path
}

func TestLoadDefaults(t *testing.T) {
	setupHome(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 8087, cfg.Server.Port)
	assert.Equal(t, "mendd", cfg.Observability.ServiceName)
	assert.Equal(t, "json", cfg.Observability.LogFormat)

	assert.Equal(t, 5.00, cfg.Budget.SessionLimit)
	assert.Equal(t, 25.00, cfg.Budget.DailyLimit)
	assert.Equal(t, 2.00, cfg.Budget.FeatureLimit)
	assert.Equal(t, 4.00, cfg.Budget.CriticalFeatureLimit)
	assert.Equal(t, 0.8, cfg.Budget.WarnFraction)

	assert.Equal(t, 5, cfg.Router.HardThreshold)
	assert.Equal(t, 0.50, cfg.Router.DefaultCap)
	assert.Equal(t, 1.00, cfg.Router.CriticalCap)

	assert.Equal(t, 0.7, cfg.Repair.ConfidenceThreshold)
	assert.Equal(t, 3, cfg.Repair.MaxAttempts)

	assert.Equal(t, 0.3, cfg.Escalation.WeightAttempts)
	assert.Equal(t, 0.2, cfg.Escalation.WeightCost)
	assert.Equal(t, 0.3, cfg.Escalation.WeightCritical)
	assert.Equal(t, 0.2, cfg.Escalation.WeightAge)
	assert.Equal(t, time.Hour, cfg.Escalation.AgingWindow.Duration())

	assert.Equal(t, 4, cfg.Orchestrator.Workers)
	assert.Equal(t, 64, cfg.Orchestrator.QueueSize)
	assert.Equal(t, 45000, cfg.Orchestrator.RubricCeilingMS)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "mendd_tasks", cfg.NATS.TaskBucket)
}

func TestLoadFromFile(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, `
server:
  port: 9999
budget:
  session_limit: 10.0
  critical_features:
    - checkout
nats:
  embedded: true
`, 0600)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 10.0, cfg.Budget.SessionLimit)
	assert.Equal(t, []string{"checkout"}, cfg.Budget.CriticalFeatures)
	assert.True(t, cfg.NATS.Embedded)

	// Unset fields still receive defaults.
	assert.Equal(t, 25.00, cfg.Budget.DailyLimit)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9999\n", 0600)

	t.Setenv("SERVER_PORT", "7001")
	t.Setenv("BUDGET_SESSION_LIMIT", "12.5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7001, cfg.Server.Port)
	assert.Equal(t, 12.5, cfg.Budget.SessionLimit)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, "server:\n  port: 9999\n", 0644)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permissions")
}

func TestLoadRejectsDisallowedPath(t *testing.T) {
	setupHome(t)
	outside := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(outside, []byte("server:\n  port: 9999\n"), 0600))

	_, err := Load(outside)
	require.Error(t, err)
}

func TestLoadValidationFailure(t *testing.T) {
	dir := setupHome(t)
	path := writeConfig(t, dir, "budget:\n  warn_fraction: 1.5\n", 0600)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "warn_fraction")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		var cfg Config
		applyDefaults(&cfg)
		return &cfg
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"bad log format", func(c *Config) { c.Observability.LogFormat = "xml" }},
		{"negative session limit", func(c *Config) { c.Budget.SessionLimit = -1 }},
		{"warn fraction above one", func(c *Config) { c.Budget.WarnFraction = 1.5 }},
		{"zero hard threshold", func(c *Config) { c.Router.HardThreshold = 0 }},
		{"critical cap below default", func(c *Config) { c.Router.CriticalCap = 0.25 }},
		{"confidence above one", func(c *Config) { c.Repair.ConfidenceThreshold = 1.5 }},
		{"zero max attempts", func(c *Config) { c.Repair.MaxAttempts = 0 }},
		{"weights not summing to one", func(c *Config) { c.Escalation.WeightAge = 0.5 }},
		{"zero workers", func(c *Config) { c.Orchestrator.Workers = 0 }},
		{"zero rubric ceiling", func(c *Config) { c.Orchestrator.RubricCeilingMS = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestEnvTransform(t *testing.T) {
	assert.Equal(t, "server.port", envTransform("SERVER_PORT"))
	assert.Equal(t, "budget.session_limit", envTransform("BUDGET_SESSION_LIMIT"))
	assert.Equal(t, "nats.task_bucket", envTransform("NATS_TASK_BUCKET"))
	assert.Equal(t, "home", envTransform("HOME"))
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1h30m")))
	assert.Equal(t, 90*time.Minute, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("not a duration")))

	out, err := Duration(45 * time.Second).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "45s", string(out))
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("super-secret-key")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "super-secret-key", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.Equal(t, "", empty.String())
	assert.False(t, empty.IsSet())
}
