package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/eidolabs/forge/internal/app/config"
)

func TestLoadSettings_MissingFileReturnsEmpty(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	cfg := appconfig.Load()
	before := cfg
	s.Apply(&cfg)
	assert.Equal(t, before, cfg, "empty settings must not change anything")
}

func TestLoadSettings_OverlaysOnlySetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	content := `
max_agent_retries: 5
max_total_runtime_sec: 7200
default_max_cost: 25.0
stage_delay_sec: 0
models:
  ideation: claude-3-opus
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := LoadSettings(path)
	require.NoError(t, err)

	cfg := appconfig.Load()
	originalBuilding := cfg.BuildingModel
	s.Apply(&cfg)

	assert.Equal(t, 5, cfg.MaxAgentRetries)
	assert.Equal(t, 2*time.Hour, cfg.MaxTotalRuntime)
	assert.Equal(t, 25.0, cfg.DefaultMaxCost)
	assert.Equal(t, time.Duration(0), cfg.StageDelay)
	assert.Equal(t, "claude-3-opus", cfg.IdeationModel)

	// Unset fields keep their base values
	assert.Equal(t, originalBuilding, cfg.BuildingModel)
}

func TestLoadSettings_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("models: [not: a: mapping"), 0o644))

	_, err := LoadSettings(path)
	assert.Error(t, err)
}
