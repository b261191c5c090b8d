package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultCacheTTL        = 300
	defaultLockTTL         = 30
	defaultFanoutBatch     = 100
	defaultConflictRetries = 3

	ArchiveAlways   = "always"
	ArchiveOnChange = "on_change"
)

// Config is the process configuration shared by every binary.
type Config struct {
	DatabaseURL       string
	ServerPort        string
	AllowedOrigins    string
	LogLevel          string
	RedisAddress      string
	RedisPassword     string
	SnapshotCacheTTL  time.Duration
	LockTTL           time.Duration
	PubSubProjectID   string
	PubSubTopic       string
	PubSubCredentials string
	ArchivePolicy     string
	FanoutBatchSize   int
	ConflictRetries   int
	AutoMigrate       bool

	// Warnings lists values that were present but unusable and replaced by defaults.
	Warnings []string
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv builds a Config from the current process environment only.
func FromEnv() (*Config, error) {
	c := &Config{
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		ServerPort:        stringOr("SERVER_PORT", defaultPort),
		AllowedOrigins:    os.Getenv("ALLOWED_ORIGINS"),
		LogLevel:          stringOr("LOG_LEVEL", defaultLogLevel),
		RedisAddress:      os.Getenv("REDIS_ADDRESS"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		PubSubProjectID:   os.Getenv("PUBSUB_PROJECT_ID"),
		PubSubTopic:       os.Getenv("PUBSUB_TOPIC"),
		PubSubCredentials: os.Getenv("PUBSUB_CREDENTIALS_JSON"),
		ArchivePolicy:     strings.ToLower(stringOr("ARCHIVE_POLICY", ArchiveAlways)),
	}

	c.SnapshotCacheTTL = time.Duration(c.positiveInt("SNAPSHOT_CACHE_TTL_SECONDS", defaultCacheTTL)) * time.Second
	c.LockTTL = time.Duration(c.positiveInt("LOCK_TTL_SECONDS", defaultLockTTL)) * time.Second
	c.FanoutBatchSize = c.positiveInt("RATE_FANOUT_BATCH_SIZE", defaultFanoutBatch)
	c.ConflictRetries = c.positiveInt("CONFLICT_RETRIES", defaultConflictRetries)
	c.AutoMigrate = c.boolOr("AUTO_MIGRATE", true)

	switch c.ArchivePolicy {
	case ArchiveAlways, ArchiveOnChange:
	default:
		return nil, fmt.Errorf("ARCHIVE_POLICY must be %q or %q, got %q", ArchiveAlways, ArchiveOnChange, c.ArchivePolicy)
	}

	return c, nil
}

// RequireDatabase returns an error when DATABASE_URL is not configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}
	return nil
}

func stringOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (c *Config) positiveInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a positive integer, using %d", key, raw, def))
		return def
	}
	return n
}

func (c *Config) boolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		c.Warnings = append(c.Warnings, fmt.Sprintf("%s=%q is not a boolean, using %t", key, raw, def))
		return def
	}
	return b
}
