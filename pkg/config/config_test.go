package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModeAuto, cfg.Fetch.Mode)
	assert.Equal(t, 30, cfg.Fetch.ResultsLimit)
	assert.Equal(t, 2, cfg.Fetch.KnownBreakThreshold)
	assert.Equal(t, 20, cfg.Fetch.KnownIDWindow)
	assert.Equal(t, 15, cfg.Fetch.BackoffMinutes)
	assert.Equal(t, 5*time.Minute, cfg.Fetch.LookbackSlack)
	assert.Equal(t, 8, cfg.Remote.BatchSize)
	assert.Equal(t, 180*time.Second, cfg.Remote.JobTimeout)
	assert.Equal(t, "auto", cfg.Remote.Bridge)
	assert.Equal(t, 45, cfg.Monitor.IntervalMinutes)

	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("EVENTSCOUT_FETCH_MODE", "remote")
	t.Setenv("EVENTSCOUT_REMOTE_TOKEN", "tok")
	t.Setenv("EVENTSCOUT_REMOTE_ACTOR_ID", "actor~scraper")
	t.Setenv("EVENTSCOUT_REMOTE_BATCH_SIZE", "4")
	t.Setenv("EVENTSCOUT_REMOTE_TIMEOUT_SECONDS", "60")
	t.Setenv("EVENTSCOUT_BACKOFF_MINUTES", "30")
	t.Setenv("EVENTSCOUT_MONITOR_ENABLED", "false")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, ModeRemote, cfg.Fetch.Mode)
	assert.Equal(t, "tok", cfg.Remote.APIToken)
	assert.Equal(t, "actor~scraper", cfg.Remote.ActorID)
	assert.Equal(t, 4, cfg.Remote.BatchSize)
	assert.Equal(t, 60*time.Second, cfg.Remote.JobTimeout)
	assert.Equal(t, 30, cfg.Fetch.BackoffMinutes)
	assert.False(t, cfg.Monitor.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
fetch:
  mode: direct
  results_limit: 5
  known_break_threshold: 3
remote:
  batch_size: 2
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, ModeDirect, cfg.Fetch.Mode)
	assert.Equal(t, 5, cfg.Fetch.ResultsLimit)
	assert.Equal(t, 3, cfg.Fetch.KnownBreakThreshold)
	assert.Equal(t, 2, cfg.Remote.BatchSize)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Untouched sections keep defaults
	assert.Equal(t, 45, cfg.Monitor.IntervalMinutes)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Fetch.Mode = "hybrid"
	cfg.Fetch.KnownBreakThreshold = 0
	cfg.Remote.BatchSize = 0
	cfg.Database.URL = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid fetch mode")
	assert.Contains(t, err.Error(), "known break threshold")
	assert.Contains(t, err.Error(), "batch size")
	assert.Contains(t, err.Error(), "database url")
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.yaml")

	cfg := DefaultConfig()
	cfg.Fetch.Mode = ModeRemote
	cfg.Remote.ActorID = "actor~scraper"
	require.NoError(t, cfg.Save(path))

	reloaded := DefaultConfig()
	require.NoError(t, reloaded.LoadFromFile(path))
	assert.Equal(t, ModeRemote, reloaded.Fetch.Mode)
	assert.Equal(t, "actor~scraper", reloaded.Remote.ActorID)
}
