package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage adapters accepted by STORAGE_ADAPTER.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

// Config holds application configuration
type Config struct {
	Port           string
	BaseURL        string
	Environment    string // development, staging, production
	AllowedOrigins string

	JetstreamURL string
	Collection   string
	CacheSize    int

	StorageAdapter string
	DataDir        string
	DatabaseURL    string

	PLCDirectoryURL string
	DefaultPDSURL   string

	ReconcileInterval time.Duration

	// RabbitMQURL enables the cross-instance relay when set.
	RabbitMQURL string

	OpenAPIValidation bool

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment (and .env when present) and
// validates it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg := &Config{
		Port:           getEnv("PORT", "3891"),
		BaseURL:        getEnv("BASE_URL", "http://localhost:3891"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3891"),

		JetstreamURL: getEnv("JETSTREAM_URL", "wss://jetstream2.us-east.bsky.network/subscribe"),
		Collection:   getEnv("COLLECTION", "is.keith.fc.message"),
		CacheSize:    getEnvInt("CACHE_SIZE", 20),

		StorageAdapter: strings.ToLower(getEnv("STORAGE_ADAPTER", StorageMemory)),
		DataDir:        getEnv("DATA_DIR", "data"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),

		PLCDirectoryURL: strings.TrimRight(getEnv("PLC_DIRECTORY_URL", "https://plc.directory"), "/"),
		DefaultPDSURL:   strings.TrimRight(getEnv("DEFAULT_PDS_URL", "https://bsky.social"), "/"),

		ReconcileInterval: getEnvDuration("RECONCILE_INTERVAL", 5*time.Minute),

		RabbitMQURL: getEnv("RABBITMQ_URL", ""),

		OpenAPIValidation: getEnvBool("OPENAPI_VALIDATION", true),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for correctness
func (c *Config) Validate() error {
	switch c.StorageAdapter {
	case StorageMemory, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORAGE_ADAPTER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORAGE_ADAPTER %q (want memory, sqlite or postgres)", c.StorageAdapter)
	}

	if c.CacheSize <= 0 {
		return fmt.Errorf("CACHE_SIZE must be positive (got %d)", c.CacheSize)
	}

	if c.Collection == "" {
		return fmt.Errorf("COLLECTION must not be empty")
	}

	if c.ReconcileInterval <= 0 {
		return fmt.Errorf("RECONCILE_INTERVAL must be positive (got %s)", c.ReconcileInterval)
	}

	if c.IsProduction() && !strings.HasPrefix(c.BaseURL, "https://") {
		return fmt.Errorf("BASE_URL must use https in production (got %q)", c.BaseURL)
	}

	return nil
}

// SQLitePath is where the SQLite adapter keeps its database file.
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "chat.db")
}

// RelayEnabled reports whether the cross-instance relay is configured.
func (c *Config) RelayEnabled() bool {
	return c.RabbitMQURL != ""
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev" || c.Environment == ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("ignoring invalid integer setting",
			slog.String("key", key),
			slog.String("value", value))
		return defaultValue
	}
	return n
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("ignoring invalid duration setting",
			slog.String("key", key),
			slog.String("value", value))
		return defaultValue
	}
	return d
}
