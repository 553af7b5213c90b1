package infra

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	EnvironmentAPIBaseURL string
	EnvironmentAPIKey     string
	AssetAPIBaseURL       string
	AssetAPIKey           string

	SessionTTL       time.Duration
	SaveDebounce     time.Duration
	ClearGrace       time.Duration
	PollBaseInterval time.Duration
	PollMaxAttempts  int
	DefaultQuota     int

	AllowedOrigins   []string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		EnvironmentAPIBaseURL: getEnv("ENVIRONMENT_API_BASE_URL", "https://backend.blockadelabs.com/api/v1"),
		EnvironmentAPIKey:     os.Getenv("ENVIRONMENT_API_KEY"),
		AssetAPIBaseURL:       os.Getenv("ASSET_API_BASE_URL"),
		AssetAPIKey:           os.Getenv("ASSET_API_KEY"),

		SessionTTL:       time.Minute * time.Duration(getEnvInt("SESSION_TTL_MINUTES", 120)),
		SaveDebounce:     time.Millisecond * time.Duration(getEnvInt("SESSION_SAVE_DEBOUNCE_MS", 500)),
		ClearGrace:       time.Millisecond * time.Duration(getEnvInt("SESSION_CLEAR_GRACE_MS", 2000)),
		PollBaseInterval: time.Millisecond * time.Duration(getEnvInt("POLL_BASE_INTERVAL_MS", 2000)),
		PollMaxAttempts:  getEnvInt("POLL_MAX_ATTEMPTS", 180),
		DefaultQuota:     getEnvInt("DEFAULT_DAILY_QUOTA", 0),

		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:3000")),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
