package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string // default: 8080

	// Database
	PostgresDSN string

	// Cache
	RedisAddr string

	// Quotas
	DefaultTokenQuotaPerAgent int64 // monthly tokens per agent, default: 10_000_000

	// Periodic jobs (UTC hour of day)
	DailySweepHour   int // default: 2
	MonthlyResetHour int // default: 0, runs on the 1st

	// Admin endpoints
	AdminToken string // required; protects /internal/* triggers

	// Observability
	OTELExporterType     string // "stdout" or "otlp"
	OTELExporterEndpoint string // default: "localhost:4317"
	LogPretty            bool   // console writer instead of JSON

	// Rate Limiting
	DefaultRateLimitRPM int64 // ingest requests per minute per tenant, default: 6000
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		AdminToken:           os.Getenv("ADMIN_TOKEN"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
		LogPretty:            getEnv("LOG_PRETTY", "false") == "true",
	}

	quota, err := getEnvInt64("DEFAULT_TOKEN_QUOTA_PER_AGENT", 10_000_000)
	if err != nil {
		return nil, err
	}
	cfg.DefaultTokenQuotaPerAgent = quota

	rpm, err := getEnvInt64("DEFAULT_RATE_LIMIT_RPM", 6000)
	if err != nil {
		return nil, err
	}
	cfg.DefaultRateLimitRPM = rpm

	sweepHour, err := getEnvInt64("DAILY_SWEEP_HOUR", 2)
	if err != nil {
		return nil, err
	}
	cfg.DailySweepHour = int(sweepHour)

	resetHour, err := getEnvInt64("MONTHLY_RESET_HOUR", 0)
	if err != nil {
		return nil, err
	}
	cfg.MonthlyResetHour = int(resetHour)

	// Validation
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN is required")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("REDIS_ADDR is required")
	}
	if cfg.AdminToken == "" {
		return nil, fmt.Errorf("ADMIN_TOKEN is required")
	}
	if cfg.DefaultTokenQuotaPerAgent <= 0 {
		return nil, fmt.Errorf("DEFAULT_TOKEN_QUOTA_PER_AGENT must be positive")
	}
	if cfg.DailySweepHour < 0 || cfg.DailySweepHour > 23 {
		return nil, fmt.Errorf("DAILY_SWEEP_HOUR must be in [0,23]")
	}
	if cfg.MonthlyResetHour < 0 || cfg.MonthlyResetHour > 23 {
		return nil, fmt.Errorf("MONTHLY_RESET_HOUR must be in [0,23]")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return fallback, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}
