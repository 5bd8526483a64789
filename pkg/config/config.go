package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database      DatabaseConfig
	Logging       LoggingConfig
	Observability ObservabilityConfig
	Reconcile     ReconcileConfig
	Learning      LearningConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
}

type LoggingConfig struct {
	Level  string
	Format string // "json" or "text"
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// ReconcileConfig drives the matcher, review and commit behaviour.
type ReconcileConfig struct {
	DateToleranceDays     int
	AmountWeight          float64
	DateWeight            float64
	DescriptionWeight     float64
	MinDescriptionOverlap float64
	HighThreshold         float64
	MediumThreshold       float64
	LowThreshold          float64
	AutoAcceptHigh        bool
	DuplicateStrategy     string // skip, replace, allow
	AllowPendingCommit    bool
	DefaultCurrency       string
	MatchWorkers          int
}

// LearningConfig drives the pattern learning pass and the background learner.
type LearningConfig struct {
	Schedule             string
	MinDescriptionLength int
	MinGroupSize         int
	QueueSize            int
	RatePerSecond        float64
	Burst                int
}

// Load reads configuration from environment variables, loading a .env file
// first when one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "reconciler"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
			MaxConns: getEnvAsInt("POSTGRES_MAX_CONNS", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
		Reconcile: ReconcileConfig{
			DateToleranceDays:     getEnvAsInt("MATCH_DATE_TOLERANCE_DAYS", 3),
			AmountWeight:          getEnvAsFloat("MATCH_AMOUNT_WEIGHT", 0.5),
			DateWeight:            getEnvAsFloat("MATCH_DATE_WEIGHT", 0.2),
			DescriptionWeight:     getEnvAsFloat("MATCH_DESCRIPTION_WEIGHT", 0.3),
			MinDescriptionOverlap: getEnvAsFloat("MATCH_MIN_DESCRIPTION_OVERLAP", 0.5),
			HighThreshold:         getEnvAsFloat("MATCH_HIGH_THRESHOLD", 0.85),
			MediumThreshold:       getEnvAsFloat("MATCH_MEDIUM_THRESHOLD", 0.65),
			LowThreshold:          getEnvAsFloat("MATCH_LOW_THRESHOLD", 0.4),
			AutoAcceptHigh:        getEnvAsBool("REVIEW_AUTO_ACCEPT_HIGH", false),
			DuplicateStrategy:     strings.ToLower(getEnv("IMPORT_DUPLICATE_STRATEGY", "skip")),
			AllowPendingCommit:    getEnvAsBool("COMMIT_ALLOW_PENDING", false),
			DefaultCurrency:       strings.ToUpper(getEnv("DEFAULT_CURRENCY", "GBP")),
			MatchWorkers:          getEnvAsInt("MATCH_WORKERS", 8),
		},
		Learning: LearningConfig{
			Schedule:             getEnv("LEARNING_SCHEDULE", "0 3 * * *"),
			MinDescriptionLength: getEnvAsInt("LEARNING_MIN_DESCRIPTION_LENGTH", 4),
			MinGroupSize:         getEnvAsInt("LEARNING_MIN_GROUP_SIZE", 2),
			QueueSize:            getEnvAsInt("LEARNING_QUEUE_SIZE", 256),
			RatePerSecond:        getEnvAsFloat("LEARNING_RATE_PER_SECOND", 20),
			Burst:                getEnvAsInt("LEARNING_BURST", 5),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks threshold ordering and enumerated values.
func (c *Config) Validate() error {
	r := c.Reconcile
	if !(r.HighThreshold >= r.MediumThreshold && r.MediumThreshold >= r.LowThreshold && r.LowThreshold > 0) {
		return fmt.Errorf("match thresholds must satisfy high >= medium >= low > 0, got %.2f/%.2f/%.2f",
			r.HighThreshold, r.MediumThreshold, r.LowThreshold)
	}
	if r.DateToleranceDays < 0 {
		return errors.New("MATCH_DATE_TOLERANCE_DAYS must not be negative")
	}
	switch r.DuplicateStrategy {
	case "skip", "replace", "allow":
	default:
		return fmt.Errorf("unknown IMPORT_DUPLICATE_STRATEGY %q", r.DuplicateStrategy)
	}
	if c.Learning.MinGroupSize < 1 {
		return errors.New("LEARNING_MIN_GROUP_SIZE must be at least 1")
	}
	return nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}
