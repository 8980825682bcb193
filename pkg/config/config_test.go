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

	assert.Equal(t, 10, cfg.Download.MaxConcurrentWorkers)
	assert.Equal(t, 200, cfg.Download.BatchSize)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "58.0", cfg.Salesforce.APIVersion)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ATTACHDL_INSTANCE_URL", "https://example.my.salesforce.com")
	t.Setenv("ATTACHDL_ACCESS_TOKEN", "00Dxx!token")
	t.Setenv("ATTACHDL_MAX_WORKERS", "16")
	t.Setenv("ATTACHDL_BATCH_SIZE", "500")
	t.Setenv("ATTACHDL_BASE_BACKOFF_DELAY", "2s")
	t.Setenv("ATTACHDL_DESTINATION_DIR", "/tmp/att")
	t.Setenv("ATTACHDL_LOG_LEVEL", "debug")

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "https://example.my.salesforce.com", cfg.Salesforce.InstanceURL)
	assert.Equal(t, "00Dxx!token", cfg.Salesforce.AccessToken)
	assert.Equal(t, 16, cfg.Download.MaxConcurrentWorkers)
	assert.Equal(t, 500, cfg.Download.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, "/tmp/att", cfg.Download.DestinationDirectory)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadFromEnvRejectsGarbage(t *testing.T) {
	t.Setenv("ATTACHDL_MAX_WORKERS", "many")
	t.Setenv("ATTACHDL_DOWNLOAD_TIMEOUT", "soon")

	err := DefaultConfig().LoadFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ATTACHDL_MAX_WORKERS")
	assert.Contains(t, err.Error(), "ATTACHDL_DOWNLOAD_TIMEOUT")
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
salesforce:
  username: ops@example.com
  api_version: "59.0"
download:
  max_concurrent_workers: 4
  batch_size: 1000
  download_timeout: 90s
retry:
  max_attempts: 7
  base_delay: 500ms
  max_delay: 10s
state:
  ledger_db: ledger.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg := DefaultConfig()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "ops@example.com", cfg.Salesforce.Username)
	assert.Equal(t, "59.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, 4, cfg.Download.MaxConcurrentWorkers)
	assert.Equal(t, 1000, cfg.Download.BatchSize)
	assert.Equal(t, 90*time.Second, cfg.Download.DownloadTimeout)
	assert.Equal(t, 7, cfg.Retry.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, "ledger.db", cfg.State.LedgerDB)
	// untouched sections keep their defaults
	assert.Equal(t, "attachdl_checkpoint.json", cfg.State.CheckpointFile)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"too many workers", func(c *Config) { c.Download.MaxConcurrentWorkers = 33 }, "max concurrent workers"},
		{"zero workers", func(c *Config) { c.Download.MaxConcurrentWorkers = 0 }, "max concurrent workers"},
		{"batch above service max", func(c *Config) { c.Download.BatchSize = 2001 }, "batch size"},
		{"max delay below base", func(c *Config) { c.Retry.MaxDelay = 100 * time.Millisecond }, "max backoff delay"},
		{"token without instance", func(c *Config) { c.Salesforce.AccessToken = "x" }, "access token requires"},
		{"no destination", func(c *Config) { c.Download.DestinationDirectory = "" }, "destination"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "log level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadPrecedence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("download:\n  max_concurrent_workers: 4\n  batch_size: 100\n"), 0644))
	t.Setenv("ATTACHDL_MAX_WORKERS", "8")

	cfg, err := Load(path, map[string]interface{}{"batch-size": 50})
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Download.MaxConcurrentWorkers, "env overrides file")
	assert.Equal(t, 50, cfg.Download.BatchSize, "flags override file")
}

func TestSaveOmitsAccessToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Salesforce.InstanceURL = "https://example.my.salesforce.com"
	cfg.Salesforce.AccessToken = "secret"

	require.NoError(t, cfg.Save(path))

	loaded := DefaultConfig()
	require.NoError(t, loaded.LoadFromFile(path))
	assert.Equal(t, "https://example.my.salesforce.com", loaded.Salesforce.InstanceURL)
	assert.Empty(t, loaded.Salesforce.AccessToken)
	assert.Equal(t, "secret", cfg.Salesforce.AccessToken)
}
