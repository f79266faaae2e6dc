package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "BazaarEscrow"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultCurrency        = "USD"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultTxMaxRetries    = 3
	defaultTxRetryBase     = 20 * time.Millisecond
	defaultOrderLockExpiry = 10 * time.Second
	defaultOrderRateLimit  = 30
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 10 * time.Second
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	JWTSecret string
	JWTIssuer string
	Currency  string

	MigrateOnStart bool
	SeedListings   bool

	TxMaxRetries     int
	TxRetryBaseDelay time.Duration

	OrderLockEnabled bool
	OrderLockExpiry  time.Duration
	OrderRateLimit   int

	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration

	// Zero keeps the pgx pool defaults.
	DBMaxConns          int32
	DBMaxConnIdle       time.Duration
	DBHealthCheckPeriod time.Duration
}

// Load reads a .env file when present, then populates a Config from the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv populates a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		AppEnv:         getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		Currency:       strings.ToUpper(getEnv("CURRENCY", defaultCurrency)),
	}

	var err error
	if cfg.ShutdownPeriod, err = durationFromEnv(shutdownSecondsEnvVar, shutdownDurationEnvVar, defaultShutdownDelay); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationFromEnv(idemTTLSecondsEnvVar, idemTTLDurEnvVar, defaultIdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.TxRetryBaseDelay, err = durationFromEnv("", "TX_RETRY_BASE_DELAY", defaultTxRetryBase); err != nil {
		return Config{}, err
	}
	if cfg.OrderLockExpiry, err = durationFromEnv("", "ORDER_LOCK_EXPIRY", defaultOrderLockExpiry); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenTimeout, err = durationFromEnv("", "BREAKER_OPEN_TIMEOUT", defaultBreakerTimeout); err != nil {
		return Config{}, err
	}

	if cfg.TxMaxRetries, err = intFromEnv("TX_MAX_RETRIES", defaultTxMaxRetries); err != nil {
		return Config{}, err
	}
	if cfg.OrderRateLimit, err = intFromEnv("ORDER_RATE_LIMIT_PER_MIN", defaultOrderRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.DBMaxConnIdle, err = durationFromEnv("", "DB_MAX_CONN_IDLE", 0); err != nil {
		return Config{}, err
	}
	if cfg.DBHealthCheckPeriod, err = durationFromEnv("", "DB_HEALTH_CHECK_PERIOD", 0); err != nil {
		return Config{}, err
	}
	maxConns, err := intFromEnv("DB_MAX_CONNS", 0)
	if err != nil {
		return Config{}, err
	}
	if maxConns < 0 || maxConns > math.MaxInt32 {
		return Config{}, fmt.Errorf("DB_MAX_CONNS out of range")
	}
	cfg.DBMaxConns = int32(maxConns)

	failures, err := intFromEnv("BREAKER_MAX_FAILURES", defaultBreakerFailures)
	if err != nil {
		return Config{}, err
	}
	if failures < 1 {
		return Config{}, fmt.Errorf("BREAKER_MAX_FAILURES must be positive")
	}
	cfg.BreakerMaxFailures = uint32(failures)

	if cfg.MigrateOnStart, err = boolFromEnv("MIGRATE_ON_START", true); err != nil {
		return Config{}, err
	}
	if cfg.SeedListings, err = boolFromEnv("SEED_LISTINGS", cfg.IsDevelopment()); err != nil {
		return Config{}, err
	}
	if cfg.OrderLockEnabled, err = boolFromEnv("ORDER_LOCK_ENABLED", cfg.RedisURL != ""); err != nil {
		return Config{}, err
	}

	if cfg.TxMaxRetries < 0 {
		return Config{}, fmt.Errorf("TX_MAX_RETRIES must not be negative")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET must be set")
	}
	if cfg.OrderLockEnabled && cfg.RedisURL == "" {
		return Config{}, fmt.Errorf("ORDER_LOCK_ENABLED requires REDIS_URL")
	}

	// Outside development the in-memory store and the cache-less request
	// pipeline are not acceptable.
	if !cfg.IsDevelopment() {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	}

	return cfg, nil
}

// IsDevelopment reports whether the service runs in a local environment.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "development", "dev", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// durationFromEnv reads whole seconds from secondsKey or a Go duration from
// durationKey, in that order.
func durationFromEnv(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if secondsKey != "" {
		if v := os.Getenv(secondsKey); v != "" {
			seconds, err := strconv.Atoi(v)
			if err != nil {
				return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
			}
			return time.Duration(seconds) * time.Second, nil
		}
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
