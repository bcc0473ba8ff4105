package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default("/tmp/ws")

	assert.Equal(t, "gemini", cfg.Oracle.Provider)
	assert.Equal(t, 0.85, cfg.Improvement.DefaultTargetConfidence)
	assert.Equal(t, 3, cfg.Improvement.DefaultMaxCycles)
	assert.Equal(t, filepath.Join("/tmp/ws", ".forge", "forge.db"), cfg.Store.DatabasePath)
	assert.Equal(t, 60*time.Second, cfg.GetCallTimeout())
	assert.Equal(t, time.Hour, cfg.GetPollInterval())
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	ws := t.TempDir()

	cfg, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, 0.85, cfg.Improvement.DefaultTargetConfidence)
}

func TestLoadFromFile(t *testing.T) {
	ws := t.TempDir()
	dir := filepath.Join(ws, ".forge")
	require.NoError(t, os.MkdirAll(dir, 0755))

	yamlContent := `oracle:
  provider: gemini
  model: gemini-2.5-pro
  call_timeout: 30s
improvement:
  default_target_confidence: 0.9
  default_max_cycles: 5
feedback:
  quality_floor: 0.4
  poll_interval: 15m
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yamlContent), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, "gemini-2.5-pro", cfg.Oracle.Model)
	assert.Equal(t, 30*time.Second, cfg.GetCallTimeout())
	assert.Equal(t, 0.9, cfg.Improvement.DefaultTargetConfidence)
	assert.Equal(t, 5, cfg.Improvement.DefaultMaxCycles)
	assert.Equal(t, 0.4, cfg.Feedback.QualityFloor)
	assert.Equal(t, 15*time.Minute, cfg.GetPollInterval())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("FORGE_DB", "/custom/forge.db")
	t.Setenv("FORGE_ORACLE_TIMEOUT", "90s")
	t.Setenv("FORGE_MAX_CHAINS", "8")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "test-key", cfg.Oracle.APIKey)
	assert.Equal(t, "/custom/forge.db", cfg.Store.DatabasePath)
	assert.Equal(t, 90*time.Second, cfg.GetCallTimeout())
	assert.Equal(t, 8, cfg.Improvement.MaxConcurrentChains)
}

func TestValidate(t *testing.T) {
	cfg := Default(t.TempDir())
	assert.Error(t, cfg.Validate(), "missing API key should fail")

	cfg.Oracle.APIKey = "k"
	assert.NoError(t, cfg.Validate())

	cfg.Improvement.DefaultTargetConfidence = 1.5
	assert.Error(t, cfg.Validate())
}

func TestBadDurationFallsBack(t *testing.T) {
	cfg := Default(t.TempDir())
	cfg.Oracle.CallTimeout = "not-a-duration"
	assert.Equal(t, 60*time.Second, cfg.GetCallTimeout())
}

func TestSaveRoundTrip(t *testing.T) {
	ws := t.TempDir()
	cfg := Default(ws)
	cfg.Oracle.APIKey = "saved-key"

	path := filepath.Join(ws, ".forge", "config.yaml")
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, "saved-key", loaded.Oracle.APIKey)
}
