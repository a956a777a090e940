// Package config provides configuration management for the advisor service.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir  string // Base directory for all databases (always absolute)
	Port     int
	LogLevel string
	DevMode  bool

	// Selection defaults
	TargetHoldings int    // Target pick count N per run
	UniverseID     string // Universe scheduled runs draw candidates from

	// Data freshness: factor inputs older than this flag the run
	FreshnessMaxAgeHours int

	// Month-end scheduled runs (T-3 preliminary, T-1 dry run, T0 final)
	SchedulerEnabled bool

	// S3 archival of finalized runs
	BackupEnabled bool
	BackupBucket  string
	BackupPrefix  string
	AWSRegion     string
}

// Load reads configuration from environment variables. A .env file is
// honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("ADVISOR_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}

	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:              absDataDir,
		Port:                 getEnvAsInt("ADVISOR_PORT", 8001),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		DevMode:              getEnvAsBool("DEV_MODE", false),
		TargetHoldings:       getEnvAsInt("TARGET_HOLDINGS", 30),
		UniverseID:           getEnv("UNIVERSE_ID", "primary"),
		FreshnessMaxAgeHours: getEnvAsInt("FRESHNESS_MAX_AGE_HOURS", 24),
		SchedulerEnabled:     getEnvAsBool("SCHEDULER_ENABLED", true),
		BackupEnabled:        getEnvAsBool("BACKUP_ENABLED", false),
		BackupBucket:         getEnv("BACKUP_S3_BUCKET", ""),
		BackupPrefix:         getEnv("BACKUP_S3_PREFIX", "advisor"),
		AWSRegion:            getEnv("AWS_REGION", "us-east-1"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.TargetHoldings <= 0 {
		return fmt.Errorf("TARGET_HOLDINGS must be positive, got %d", c.TargetHoldings)
	}
	if c.BackupEnabled && c.BackupBucket == "" {
		return fmt.Errorf("BACKUP_S3_BUCKET required when backups are enabled")
	}
	return nil
}

// DatabasePath returns the path of a named database under the data dir.
func (c *Config) DatabasePath(name string) string {
	return filepath.Join(c.DataDir, name+".db")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
