package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"ROLLUPSYNC_DATABASE", "ROLLUPSYNC_JOB_KEY",
		"ROLLUPSYNC_GOOGLE_CLIENT_ID", "ROLLUPSYNC_GOOGLE_CLIENT_SECRET",
		"ROLLUPSYNC_SOURCE_CONCURRENCY", "ROLLUPSYNC_WRITE_CONCURRENCY",
		"ROLLUPSYNC_MAX_UPSERTS", "ROLLUPSYNC_MAX_DELETES",
		"ROLLUPSYNC_MARKER_TAG", "ROLLUPSYNC_PHONE_REGION",
	} {
		t.Setenv(name, "")
	}
	// Keep any .env in the repo out of the test.
	t.Chdir(t.TempDir())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultDatabasePath(), cfg.Database)
	assert.Equal(t, "default", cfg.JobKey)
	assert.Equal(t, 3, cfg.Limits.SourceConcurrency)
	assert.Equal(t, 4, cfg.Limits.WriteConcurrency)
	assert.Equal(t, "rollup", cfg.Limits.MarkerTag)
	assert.Equal(t, 20*time.Second, cfg.HTTPTimeout)
	assert.False(t, cfg.GoogleConfigured())
}

func TestLoadYAMLClampsLimits(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database: /tmp/rollup-test.db
job_key: nightly
google:
  client_id: id
  client_secret: secret
limits:
  source_concurrency: 50
  write_concurrency: 0
  max_upserts: 200
  retry_delay: 2s
  lookback_grace: 30m
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/rollup-test.db", cfg.Database)
	assert.Equal(t, "nightly", cfg.JobKey)
	assert.True(t, cfg.GoogleConfigured())
	assert.Equal(t, 10, cfg.Limits.SourceConcurrency, "clamped to the maximum")
	assert.Equal(t, 4, cfg.Limits.WriteConcurrency, "zero falls back to the default")
	assert.Equal(t, 200, cfg.Limits.MaxUpserts)
	assert.Equal(t, 2*time.Second, cfg.Limits.RetryDelay)
	assert.Equal(t, 30*time.Minute, cfg.Limits.LookbackGrace)
}

func TestLoadInvalidYAML(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("limits: [not, a, map]\n"), 0600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverridesWin(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database: /from/file.db\n"), 0600))

	t.Setenv("ROLLUPSYNC_DATABASE", "postgres://localhost/rollup")
	t.Setenv("ROLLUPSYNC_SOURCE_CONCURRENCY", "7")
	t.Setenv("ROLLUPSYNC_PHONE_REGION", "gb")
	t.Setenv("ROLLUPSYNC_GOOGLE_CLIENT_ID", "env-id")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/rollup", cfg.Database)
	assert.Equal(t, 7, cfg.Limits.SourceConcurrency)
	assert.Equal(t, "GB", cfg.Limits.DefaultPhoneRegion)
	assert.Equal(t, "env-id", cfg.Google.ClientID)
}

func TestEnvOverrideInvalidNumber(t *testing.T) {
	clearEnv(t)
	t.Setenv("ROLLUPSYNC_MAX_UPSERTS", "lots")

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDotEnvLoaded(t *testing.T) {
	clearEnv(t)
	require.NoError(t, os.Unsetenv("ROLLUPSYNC_JOB_KEY"))
	t.Cleanup(func() { _ = os.Unsetenv("ROLLUPSYNC_JOB_KEY") })

	require.NoError(t, os.WriteFile(".env", []byte("ROLLUPSYNC_JOB_KEY=from-dotenv\n"), 0600))

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "from-dotenv", cfg.JobKey)
}

func TestSaveRoundTrip(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := Default()
	cfg.JobKey = "weekly"
	cfg.Limits.MaxDeletes = 42
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "weekly", loaded.JobKey)
	assert.Equal(t, 42, loaded.Limits.MaxDeletes)
}
