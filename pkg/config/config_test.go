package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalkit/insights/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, "postgres://localhost/insights?sslmode=disable", cfg.Database.URL)
	assert.Equal(t, 5, cfg.Batch.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Batch.FlushInterval)
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
	assert.False(t, cfg.Batch.Debug)
	assert.Equal(t, 1, cfg.Partition.MaxRetries)
	assert.Equal(t, 0, cfg.Licensing.LicensedUsers)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
	assert.True(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("INSIGHTS_DB_DRIVER", "sqlite")
	t.Setenv("INSIGHTS_DB_PATH", "/tmp/events.db")
	t.Setenv("INSIGHTS_BATCH_SIZE", "50")
	t.Setenv("INSIGHTS_FLUSH_INTERVAL", "500ms")
	t.Setenv("INSIGHTS_MAX_RETRIES", "7")
	t.Setenv("INSIGHTS_DEBUG", "true")
	t.Setenv("INSIGHTS_PARTITION_MAX_RETRIES", "4")
	t.Setenv("INSIGHTS_LICENSED_USERS", "250")
	t.Setenv("INSIGHTS_LOG_LEVEL", "debug")
	t.Setenv("INSIGHTS_METRICS_ENABLED", "false")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/events.db", cfg.Database.Path)
	assert.Equal(t, 50, cfg.Batch.BatchSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Batch.FlushInterval)
	assert.Equal(t, 7, cfg.Batch.MaxRetries)
	assert.True(t, cfg.Batch.Debug)
	assert.Equal(t, 4, cfg.Partition.MaxRetries)
	assert.Equal(t, 250, cfg.Licensing.LicensedUsers)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Observability.MetricsEnabled)
}

func TestLoadConfigFileOverlay(t *testing.T) {
	t.Setenv("INSIGHTS_BATCH_SIZE", "50")

	path := filepath.Join(t.TempDir(), "insights.yaml")
	data := []byte(`
database:
  driver: sqlite
  path: /var/lib/insights/events.db
batch:
  batchSize: 25
  flushInterval: 10s
licensing:
  licensedUsers: 500
observability:
  logLevel: warn
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("INSIGHTS_CONFIG_FILE", path)

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// The file overlay wins over the environment where set.
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/var/lib/insights/events.db", cfg.Database.Path)
	assert.Equal(t, 25, cfg.Batch.BatchSize)
	assert.Equal(t, 10*time.Second, cfg.Batch.FlushInterval)
	assert.Equal(t, 500, cfg.Licensing.LicensedUsers)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
	// Fields absent from the file keep their environment-derived values.
	assert.Equal(t, 3, cfg.Batch.MaxRetries)
}

func TestLoadConfigFileErrors(t *testing.T) {
	t.Setenv("INSIGHTS_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")

	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch: ["), 0o600))
	t.Setenv("INSIGHTS_CONFIG_FILE", path)
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")

	path = filepath.Join(t.TempDir(), "badinterval.yaml")
	require.NoError(t, os.WriteFile(path, []byte("batch:\n  flushInterval: soon\n"), 0o600))
	t.Setenv("INSIGHTS_CONFIG_FILE", path)
	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid batch.flushInterval")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Database: DatabaseConfig{Driver: "postgres", URL: "postgres://localhost/insights"},
			Batch:    BatchConfig{BatchSize: 5, FlushInterval: time.Second, MaxRetries: 3},
			Server:   ServerConfig{HealthPort: "9090"},
		}
	}

	assert.NoError(t, base().Validate())

	cfg := base()
	cfg.Database.Driver = "mysql"
	assert.ErrorContains(t, cfg.Validate(), "invalid database driver")

	cfg = base()
	cfg.Database.URL = ""
	assert.ErrorContains(t, cfg.Validate(), "database URL is required")

	cfg = base()
	cfg.Database.Driver = "sqlite"
	cfg.Database.Path = ""
	assert.ErrorContains(t, cfg.Validate(), "database path is required")

	cfg = base()
	cfg.Batch.BatchSize = 0
	assert.ErrorContains(t, cfg.Validate(), "batch size must be positive")

	cfg = base()
	cfg.Batch.FlushInterval = 0
	assert.ErrorContains(t, cfg.Validate(), "flush interval must be positive")

	cfg = base()
	cfg.Licensing.LicensedUsers = -1
	assert.ErrorContains(t, cfg.Validate(), "licensed users must not be negative")
}
