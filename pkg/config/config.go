package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/portalkit/insights/pkg/observability"
)

// Config holds all worker configuration
type Config struct {
	Database      DatabaseConfig
	Batch         BatchConfig
	Partition     PartitionConfig
	Licensing     LicensingConfig
	Server        ServerConfig
	Observability ObservabilityConfig
}

// DatabaseConfig selects and configures the events store
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite"
	Driver string
	// URL is the connection URL for postgres
	URL string
	// Path is the database file path for sqlite
	Path string
}

// BatchConfig holds the batch processor tunables
type BatchConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	MaxRetries    int
	Debug         bool
}

// PartitionConfig holds partition manager settings
type PartitionConfig struct {
	MaxRetries int
}

// LicensingConfig carries the licensed seat count reported alongside
// active-user counts
type LicensingConfig struct {
	LicensedUsers int
}

// ServerConfig holds the health/metrics listener settings
type ServerConfig struct {
	HealthPort      string
	ShutdownTimeout time.Duration
}

// ObservabilityConfig holds logging and metrics settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// fileConfig is the YAML overlay shape. Only set fields override the
// environment-derived values.
type fileConfig struct {
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
		Path   string `yaml:"path"`
	} `yaml:"database"`
	Batch struct {
		BatchSize     int    `yaml:"batchSize"`
		FlushInterval string `yaml:"flushInterval"`
		MaxRetries    int    `yaml:"maxRetries"`
		Debug         *bool  `yaml:"debug"`
	} `yaml:"batch"`
	Partition struct {
		MaxRetries int `yaml:"maxRetries"`
	} `yaml:"partition"`
	Licensing struct {
		LicensedUsers int `yaml:"licensedUsers"`
	} `yaml:"licensing"`
	Server struct {
		HealthPort string `yaml:"healthPort"`
	} `yaml:"server"`
	Observability struct {
		LogLevel string `yaml:"logLevel"`
	} `yaml:"observability"`
}

// LoadConfig loads configuration from environment variables, applies the
// optional YAML overlay named by INSIGHTS_CONFIG_FILE, and validates the
// result.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Database: DatabaseConfig{
			Driver: getEnv("INSIGHTS_DB_DRIVER", "postgres"),
			URL:    getEnv("INSIGHTS_DB_URL", "postgres://localhost/insights?sslmode=disable"),
			Path:   getEnv("INSIGHTS_DB_PATH", "insights.db"),
		},
		Batch: BatchConfig{
			BatchSize:     getEnvInt("INSIGHTS_BATCH_SIZE", 5),
			FlushInterval: getEnvDuration("INSIGHTS_FLUSH_INTERVAL", 2*time.Second),
			MaxRetries:    getEnvInt("INSIGHTS_MAX_RETRIES", 3),
			Debug:         getEnvBool("INSIGHTS_DEBUG", false),
		},
		Partition: PartitionConfig{
			MaxRetries: getEnvInt("INSIGHTS_PARTITION_MAX_RETRIES", 1),
		},
		Licensing: LicensingConfig{
			LicensedUsers: getEnvInt("INSIGHTS_LICENSED_USERS", 0),
		},
		Server: ServerConfig{
			HealthPort:      getEnv("INSIGHTS_HEALTH_PORT", "9090"),
			ShutdownTimeout: getEnvDuration("INSIGHTS_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:       observability.ParseLogLevel(getEnv("INSIGHTS_LOG_LEVEL", "info")),
			MetricsEnabled: getEnvBool("INSIGHTS_METRICS_ENABLED", true),
		},
	}

	if path := os.Getenv("INSIGHTS_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if fc.Database.Driver != "" {
		c.Database.Driver = fc.Database.Driver
	}
	if fc.Database.URL != "" {
		c.Database.URL = fc.Database.URL
	}
	if fc.Database.Path != "" {
		c.Database.Path = fc.Database.Path
	}
	if fc.Batch.BatchSize > 0 {
		c.Batch.BatchSize = fc.Batch.BatchSize
	}
	if fc.Batch.FlushInterval != "" {
		interval, err := time.ParseDuration(fc.Batch.FlushInterval)
		if err != nil {
			return fmt.Errorf("invalid batch.flushInterval %q: %w", fc.Batch.FlushInterval, err)
		}
		c.Batch.FlushInterval = interval
	}
	if fc.Batch.MaxRetries > 0 {
		c.Batch.MaxRetries = fc.Batch.MaxRetries
	}
	if fc.Batch.Debug != nil {
		c.Batch.Debug = *fc.Batch.Debug
	}
	if fc.Partition.MaxRetries > 0 {
		c.Partition.MaxRetries = fc.Partition.MaxRetries
	}
	if fc.Licensing.LicensedUsers > 0 {
		c.Licensing.LicensedUsers = fc.Licensing.LicensedUsers
	}
	if fc.Server.HealthPort != "" {
		c.Server.HealthPort = fc.Server.HealthPort
	}
	if fc.Observability.LogLevel != "" {
		c.Observability.LogLevel = observability.ParseLogLevel(fc.Observability.LogLevel)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("database URL is required for the postgres driver")
		}
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite)", c.Database.Driver)
	}

	if c.Batch.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.Batch.FlushInterval <= 0 {
		return fmt.Errorf("flush interval must be positive")
	}
	if c.Batch.MaxRetries <= 0 {
		return fmt.Errorf("max retries must be positive")
	}
	if c.Licensing.LicensedUsers < 0 {
		return fmt.Errorf("licensed users must not be negative")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
