package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Env       string
	Port      string
	JWTSecret string
	Database  DatabaseConfig
	Sync      SyncConfig
	Cache     CacheConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// SyncConfig holds bulk synchronization settings
type SyncConfig struct {
	MaxBatchSize         int // records per batch
	MaxExpectedBatches   int // upper bound for a session's expected batch count
	SlowBatchThresholdMs int64
	CleanupDays          int // terminal sessions older than this are purged
	CleanupIntervalMin   int // housekeeping ticker period
}

// CacheConfig holds stock cache settings
type CacheConfig struct {
	TTLMinutes int
	MaxEntries int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	return &Config{
		Env:       getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "3310"),
		JWTSecret: jwtSecret,
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "catasync"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Sync: SyncConfig{
			MaxBatchSize:         getEnvInt("SYNC_MAX_BATCH_SIZE", 1000),
			MaxExpectedBatches:   getEnvInt("SYNC_MAX_EXPECTED_BATCHES", 1000),
			SlowBatchThresholdMs: int64(getEnvInt("SYNC_SLOW_BATCH_MS", 10000)),
			CleanupDays:          getEnvInt("SYNC_CLEANUP_DAYS", 7),
			CleanupIntervalMin:   getEnvInt("SYNC_CLEANUP_INTERVAL_MIN", 60),
		},
		Cache: CacheConfig{
			TTLMinutes: getEnvInt("STOCK_CACHE_TTL_MIN", 360),
			MaxEntries: getEnvInt("STOCK_CACHE_MAX_ENTRIES", 100000),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable with default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}
