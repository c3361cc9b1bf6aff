// Package config provides configuration management functionality.
//
// Configuration is loaded from environment variables (.env file) at
// startup and validated once. There is no settings-database override
// layer in this service: all tuning lives in env vars or the
// per-commodity scoring document (see internal/modules/scoring).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	DataDir string // Base directory for the three SQLite databases
	Port    int    // HTTP server port
	LogLevel string
	DevMode  bool

	// Matching Engine (C7) scheduling tuning, spec §4.7.
	MaxInFlightMatches   int           // bounded parallelism, default 50
	MicroBatchMinDelay   time.Duration // default 1s
	MicroBatchMaxDelay   time.Duration // default 3s
	SweeperInterval      time.Duration // default 30s
	QueueDepthThreshold  int           // default 10000, spec §5 backpressure
	AllocationRetries    int           // default 3, spec §4.7/§7
	TopNCandidates       int           // default 5, spec §4.7 step 4

	// Outbox (C10) tuning, spec §4.10.
	OutboxPollInterval time.Duration // default 500ms
	OutboxMaxAttempts  int           // default 5
	OutboxBackoff      []time.Duration

	// Negotiation (C9) tuning, spec §4.9.
	NegotiationDefaultTTL time.Duration // default 72h

	// Notification Router (C8) tuning, spec §4.8/§5.
	NotificationDebounce time.Duration // default 1 minute
	NotificationTopN     int           // default top-N recipients per match

	// External I/O deadlines (database, event publish, notification send), spec §5.
	DBDeadline           time.Duration // default 5s
	PublishDeadline      time.Duration // default 3s
	NotificationDeadline time.Duration // default 10s

	// ScoringConfigPath points at the per-commodity weights/thresholds
	// document (spec §9's "single configuration document keyed by
	// commodity_id with inheritance from a default").
	ScoringConfigPath string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("MATCHENGINE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		MaxInFlightMatches:  getEnvAsInt("MATCHING_MAX_IN_FLIGHT", 50),
		MicroBatchMinDelay:  getEnvAsDuration("MATCHING_BATCH_MIN_DELAY", time.Second),
		MicroBatchMaxDelay:  getEnvAsDuration("MATCHING_BATCH_MAX_DELAY", 3*time.Second),
		SweeperInterval:     getEnvAsDuration("MATCHING_SWEEPER_INTERVAL", 30*time.Second),
		QueueDepthThreshold: getEnvAsInt("MATCHING_QUEUE_DEPTH_THRESHOLD", 10000),
		AllocationRetries:   getEnvAsInt("MATCHING_ALLOCATION_RETRIES", 3),
		TopNCandidates:      getEnvAsInt("MATCHING_TOP_N", 5),

		OutboxPollInterval: getEnvAsDuration("OUTBOX_POLL_INTERVAL", 500*time.Millisecond),
		OutboxMaxAttempts:  getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 5),
		OutboxBackoff: []time.Duration{
			10 * time.Second, 30 * time.Second, 90 * time.Second,
			300 * time.Second, 600 * time.Second,
		},

		NegotiationDefaultTTL: getEnvAsDuration("NEGOTIATION_DEFAULT_TTL", 72*time.Hour),

		NotificationDebounce: getEnvAsDuration("NOTIFICATION_DEBOUNCE", time.Minute),
		NotificationTopN:     getEnvAsInt("NOTIFICATION_TOP_N", 5),

		DBDeadline:           getEnvAsDuration("DB_DEADLINE", 5*time.Second),
		PublishDeadline:      getEnvAsDuration("PUBLISH_DEADLINE", 3*time.Second),
		NotificationDeadline: getEnvAsDuration("NOTIFICATION_DEADLINE", 10*time.Second),

		ScoringConfigPath: getEnv("SCORING_CONFIG_PATH", filepath.Join(absDataDir, "scoring.json")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MaxInFlightMatches <= 0 {
		return fmt.Errorf("MATCHING_MAX_IN_FLIGHT must be positive")
	}
	if c.MicroBatchMinDelay > c.MicroBatchMaxDelay {
		return fmt.Errorf("MATCHING_BATCH_MIN_DELAY must not exceed MATCHING_BATCH_MAX_DELAY")
	}
	if c.AllocationRetries < 0 {
		return fmt.Errorf("MATCHING_ALLOCATION_RETRIES must not be negative")
	}
	if c.OutboxMaxAttempts <= 0 {
		return fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// ==========================================
// Helper Functions
// ==========================================

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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
