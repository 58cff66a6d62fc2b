package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Environment
	Environment string

	// Database
	DatabaseURL    string
	MigrateOnStart bool
	MigrationsPath string

	// Redis
	RedisURL string

	// Server
	Port        string
	FrontendURL string

	// Economy
	InitialCoins             int64
	IdempotencyRetentionDays int
	RakePercent              int

	// Session
	ReconnectGraceSeconds int
	MaxConnectionsPerUser int

	// Rate limiting
	MessagesPerMinute int

	// Game loop
	TickIntervalMs      int
	StaleAfterSeconds   int
	TimeoutBatchSize    int
	LockTTLSeconds      int
	SnapshotIntervalSec int
	OutboxIntervalSec   int
	OutboxBatchSize     int
	OutboxMaxAttempts   int

	// Security
	JWTSecret               string
	RequireHTTPS            bool
	MinAPIKeyLength         int
	EnforceAPIKeyValidation bool
	APIKey                  string
	SessionTimeoutMin       int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		// Environment
		Environment: getEnv("APP_ENV", "development"),

		// Database
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/playrooms?sslmode=disable"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", false),
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "redis://localhost:6379/0"),

		// Server
		Port:        getEnv("APP_PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", "http://localhost:5173"),

		// Economy
		InitialCoins:             int64(getEnvInt("ECONOMY_INITIAL_COINS", 100)),
		IdempotencyRetentionDays: getEnvInt("ECONOMY_IDEMPOTENCY_RETENTION_DAYS", 7),
		RakePercent:              getEnvInt("ECONOMY_RAKE_PERCENT", 3),

		// Session
		ReconnectGraceSeconds: getEnvInt("SESSION_RECONNECT_GRACE_SECONDS", 15),
		MaxConnectionsPerUser: getEnvInt("SESSION_MAX_CONNECTIONS_PER_USER", 3),

		// Rate limiting
		MessagesPerMinute: getEnvInt("RATE_LIMIT_MESSAGES_PER_MINUTE", 60),

		// Game loop
		TickIntervalMs:      getEnvInt("GAME_LOOP_TICK_INTERVAL_MS", 5000),
		StaleAfterSeconds:   getEnvInt("GAME_LOOP_STALE_AFTER_SECONDS", 5),
		TimeoutBatchSize:    getEnvInt("GAME_LOOP_TIMEOUT_BATCH_SIZE", 50),
		LockTTLSeconds:      getEnvInt("LOCK_TTL_SECONDS", 30),
		SnapshotIntervalSec: getEnvInt("SNAPSHOT_INTERVAL_SECONDS", 300),
		OutboxIntervalSec:   getEnvInt("OUTBOX_INTERVAL_SECONDS", 5),
		OutboxBatchSize:     getEnvInt("OUTBOX_BATCH_SIZE", 100),
		OutboxMaxAttempts:   getEnvInt("OUTBOX_MAX_ATTEMPTS", 5),

		// Security
		JWTSecret:               getEnv("JWT_SECRET", "change-me-in-production"),
		RequireHTTPS:            getEnvBool("SECURITY_REQUIRE_HTTPS", false),
		MinAPIKeyLength:         getEnvInt("SECURITY_MIN_API_KEY_LENGTH", 32),
		EnforceAPIKeyValidation: getEnvBool("SECURITY_ENFORCE_API_KEY_VALIDATION", true),
		APIKey:                  getEnv("SECURITY_API_KEY", ""),
		SessionTimeoutMin:       getEnvInt("SESSION_TIMEOUT_MINUTES", 30),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
