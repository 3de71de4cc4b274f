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
	// Application
	AppEnv   string
	LogLevel string
	DataDir  string

	// Account identity used when binding and validating the license.
	AccountID string

	// Library is the local data set kept in sync with the remote store.
	LibraryPath string

	// Database (sync state + history)
	DatabaseDriver string // sqlite or postgres
	DatabaseURL    string
	SQLitePath     string

	// License authority
	AuthorityURL       string
	AuthorityTimeout   time.Duration
	LicensePath        string
	ValidationInterval time.Duration
	GracePeriod        time.Duration

	// Remote data store (WebDAV)
	RemoteURL          string
	RemoteUsername     string
	RemotePassword     string
	RemoteTokenURL     string
	RemoteClientID     string
	RemoteClientSecret string
	RemoteTimeout      time.Duration

	// Sync scheduling
	SyncDebounce   time.Duration
	SyncCooldown   time.Duration
	SyncMaxRetries int

	// Events (empty URL disables publishing)
	RabbitMQURL string

	// Sync lease (empty address disables the lease)
	RedisAddr     string
	RedisPassword string
	LeaseTTL      time.Duration

	// Watch daemon
	HealthAddr string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	dataDir := getEnv("NEKOSYNC_DATA_DIR", defaultDataDir())

	cfg := &Config{
		AppEnv:   getEnv("APP_ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DataDir:  dataDir,

		AccountID: getEnv("NEKOSYNC_ACCOUNT_ID", ""),

		LibraryPath: getEnv("NEKOSYNC_LIBRARY_PATH", filepath.Join(dataDir, "library.json")),

		DatabaseDriver: getEnv("NEKOSYNC_DATABASE_DRIVER", "sqlite"),
		DatabaseURL:    getEnv("NEKOSYNC_DATABASE_URL", ""),
		SQLitePath:     getEnv("NEKOSYNC_SQLITE_PATH", filepath.Join(dataDir, "state.db")),

		AuthorityURL:       getEnv("NEKOSYNC_AUTHORITY_URL", "https://licenses.nekonote.app"),
		AuthorityTimeout:   getDurationEnv("NEKOSYNC_AUTHORITY_TIMEOUT", 15*time.Second),
		LicensePath:        getEnv("NEKOSYNC_LICENSE_PATH", filepath.Join(dataDir, "license.json")),
		ValidationInterval: getDurationEnv("NEKOSYNC_VALIDATION_INTERVAL", 24*time.Hour),
		GracePeriod:        getDurationEnv("NEKOSYNC_GRACE_PERIOD", 7*24*time.Hour),

		RemoteURL:          getEnv("NEKOSYNC_REMOTE_URL", ""),
		RemoteUsername:     getEnv("NEKOSYNC_REMOTE_USERNAME", ""),
		RemotePassword:     getEnv("NEKOSYNC_REMOTE_PASSWORD", ""),
		RemoteTokenURL:     getEnv("NEKOSYNC_REMOTE_TOKEN_URL", ""),
		RemoteClientID:     getEnv("NEKOSYNC_REMOTE_CLIENT_ID", ""),
		RemoteClientSecret: getEnv("NEKOSYNC_REMOTE_CLIENT_SECRET", ""),
		RemoteTimeout:      getDurationEnv("NEKOSYNC_REMOTE_TIMEOUT", 30*time.Second),

		SyncDebounce:   getDurationEnv("NEKOSYNC_SYNC_DEBOUNCE", 5*time.Second),
		SyncCooldown:   getDurationEnv("NEKOSYNC_SYNC_COOLDOWN", 30*time.Second),
		SyncMaxRetries: getIntEnv("NEKOSYNC_SYNC_MAX_RETRIES", 5),

		RabbitMQURL: getEnv("NEKOSYNC_RABBITMQ_URL", ""),

		RedisAddr:     getEnv("NEKOSYNC_REDIS_ADDR", ""),
		RedisPassword: getEnv("NEKOSYNC_REDIS_PASSWORD", ""),
		LeaseTTL:      getDurationEnv("NEKOSYNC_LEASE_TTL", 2*time.Minute),

		HealthAddr: getEnv("NEKOSYNC_HEALTH_ADDR", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

func (c *Config) validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("NEKOSYNC_DATABASE_URL is required when driver is postgres")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.SyncDebounce <= 0 {
		return fmt.Errorf("sync debounce must be positive, got %s", c.SyncDebounce)
	}
	if c.SyncCooldown < 0 {
		return fmt.Errorf("sync cooldown cannot be negative, got %s", c.SyncCooldown)
	}
	if c.SyncMaxRetries < 1 {
		return fmt.Errorf("sync max retries must be at least 1, got %d", c.SyncMaxRetries)
	}
	if c.ValidationInterval <= 0 {
		return fmt.Errorf("validation interval must be positive, got %s", c.ValidationInterval)
	}
	if c.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive, got %s", c.GracePeriod)
	}
	return nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nekosync"
	}
	return filepath.Join(home, ".nekosync")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
