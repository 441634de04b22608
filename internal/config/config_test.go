package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/cases_test
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/cases_test", cfg.Database.URL)
	assert.Equal(t, 2, cfg.Engine.MaxFollowups)
	assert.Equal(t, 7, cfg.Engine.FollowupDelayDays)
	assert.Equal(t, float64(100), cfg.Engine.FeeAutoApproveMax)
	assert.Equal(t, float64(500), cfg.Engine.FeeModerateMax)
	assert.Equal(t, 5, cfg.Engine.MaxIterations)
	assert.Equal(t, "SUPERVISED", cfg.Engine.AutopilotMode)
	assert.Equal(t, "LIVE", cfg.Engine.ExecutionMode)
	assert.False(t, cfg.Engine.DryRun())
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Queue.Workers)
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
engine:
  max_followups: 4
  fee_auto_approve_max: 250
  execution_mode: DRY
queue:
  workers: 8
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.MaxFollowups)
	assert.Equal(t, float64(250), cfg.Engine.FeeAutoApproveMax)
	assert.True(t, cfg.Engine.DryRun())
	assert.Equal(t, 8, cfg.Queue.Workers)
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost/cases_test
`)

	t.Setenv("DATABASE_URL", "postgres://prod-host/cases")
	t.Setenv("MAX_FOLLOWUPS", "3")
	t.Setenv("FEE_AUTO_APPROVE_MAX", "150.50")
	t.Setenv("LANGGRAPH_MAX_ITERATIONS", "8")
	t.Setenv("AUTOPILOT_MODE", "autonomous")
	t.Setenv("EXECUTION_MODE", "dry")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://prod-host/cases", cfg.Database.URL)
	assert.Equal(t, 3, cfg.Engine.MaxFollowups)
	assert.Equal(t, 150.50, cfg.Engine.FeeAutoApproveMax)
	assert.Equal(t, 8, cfg.Engine.MaxIterations)
	assert.Equal(t, "AUTONOMOUS", cfg.Engine.AutopilotMode)
	assert.Equal(t, "DRY", cfg.Engine.ExecutionMode)
	assert.True(t, cfg.Engine.DryRun())
}

func TestLoadFromEnvIgnoresInvalidNumbers(t *testing.T) {
	path := writeConfig(t, ``)

	t.Setenv("MAX_FOLLOWUPS", "not-a-number")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.MaxFollowups)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}
