// Package config loads the engine's configuration from environment
// variables (optionally via a local .env file), following the
// teacher's internal/config/config.go Load()/getEnv*() convention.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// SandboxSquareOffTimes maps an exchange segment to the "HH:MM:SS"
// local-market-time square-off cutoff C6 enforces for it.
type SandboxSquareOffTimes struct {
	Equity    string
	Futures   string
	Options   string
	Currency  string
	Commodity string
}

// Config holds the engine's full runtime configuration, generalized
// from spec §6's environment-knob list.
type Config struct {
	DataDir  string // base directory for the on-disk cache backend
	HTTPPort int
	LogLevel string
	DevMode  bool

	// C1 cache backend selection: "memory", "sqlite", or "s3"
	// (distributed mode, spec §4.1).
	CacheBackend      string
	SQLitePath        string
	S3Endpoint        string
	S3Bucket          string
	S3Region          string
	S3AccessKey       string
	S3SecretKey       string
	EncryptionKeyPath string

	// C2/C3 scheduling.
	MarketTimezone  string
	ForceLogoutTime string // "HH:MM:SS" local market tz

	// REST rate limiting (spec §6).
	RESTRateLimitPerMinute int

	// C5 freeze-quantity table, loaded from a JSON file path.
	FreezeQtyTablePath string

	// C6 sandbox execution engine.
	SandboxStartingCapital float64
	SandboxSquareOff       SandboxSquareOffTimes
	SandboxResetCron       string // cron expression, weekly reset

	// C8 alert engine worker pool size.
	AlertWorkerPoolSize int
}

// Load reads configuration from environment variables, with a local
// .env file (if present) loaded first via godotenv — mirroring the
// teacher's Load() precedence (env > .env > builtin default).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("BRIDGE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("config: failed to resolve data directory: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("config: failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:  absDataDir,
		HTTPPort: getEnvAsInt("HTTP_PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		DevMode:  getEnvAsBool("DEV_MODE", false),

		CacheBackend:      getEnv("CACHE_BACKEND", "memory"),
		SQLitePath:        getEnv("CACHE_SQLITE_PATH", filepath.Join(absDataDir, "cache.db")),
		S3Endpoint:        getEnv("CACHE_S3_ENDPOINT", ""),
		S3Bucket:          getEnv("CACHE_S3_BUCKET", ""),
		S3Region:          getEnv("CACHE_S3_REGION", "auto"),
		S3AccessKey:       getEnv("CACHE_S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("CACHE_S3_SECRET_KEY", ""),
		EncryptionKeyPath: getEnv("CACHE_ENCRYPTION_KEY_PATH", filepath.Join(absDataDir, "cache.key")),

		MarketTimezone:  getEnv("MARKET_TIMEZONE", "Asia/Kolkata"),
		ForceLogoutTime: getEnv("FORCE_LOGOUT_TIME", "03:00:00"),

		RESTRateLimitPerMinute: getEnvAsInt("REST_RATE_LIMIT_PER_MINUTE", 600),

		FreezeQtyTablePath: getEnv("FREEZE_QTY_TABLE_PATH", filepath.Join(absDataDir, "freeze_limits.json")),

		SandboxStartingCapital: getEnvAsFloat("SANDBOX_STARTING_CAPITAL", 1000000),
		SandboxSquareOff: SandboxSquareOffTimes{
			Equity:    getEnv("SANDBOX_SQUARE_OFF_EQUITY", "15:15:00"),
			Futures:   getEnv("SANDBOX_SQUARE_OFF_FUTURES", "15:15:00"),
			Options:   getEnv("SANDBOX_SQUARE_OFF_OPTIONS", "15:15:00"),
			Currency:  getEnv("SANDBOX_SQUARE_OFF_CURRENCY", "16:45:00"),
			Commodity: getEnv("SANDBOX_SQUARE_OFF_COMMODITY", "23:30:00"),
		},
		SandboxResetCron: getEnv("SANDBOX_RESET_CRON", "0 0 * * SUN"),

		AlertWorkerPoolSize: getEnvAsInt("ALERT_WORKER_POOL_SIZE", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that backend-specific required fields are present
// for the selected cache backend.
func (c *Config) Validate() error {
	if c.CacheBackend == "s3" {
		if c.S3Endpoint == "" || c.S3Bucket == "" {
			return fmt.Errorf("config: CACHE_S3_ENDPOINT and CACHE_S3_BUCKET are required when CACHE_BACKEND=s3")
		}
	}
	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
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
