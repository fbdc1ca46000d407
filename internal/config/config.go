package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration read from CHOREBOARD_* variables.
type Config struct {
	Port           string
	DBPath         string
	LogLevel       string
	LogFormat      string
	BaseURL        string
	InviteValidity time.Duration
	CleanupEvery   time.Duration
	PostmarkToken  string
	FromEmail      string
}

// Load reads an optional .env file from the working directory, then the
// environment. Variables already set win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (*Config, error) {
	port := getEnvOrDefault("CHOREBOARD_PORT", "8080")
	cfg := &Config{
		Port:          port,
		DBPath:        getEnvOrDefault("CHOREBOARD_DB_PATH", "choreboard.db"),
		LogLevel:      getEnvOrDefault("CHOREBOARD_LOG_LEVEL", "info"),
		LogFormat:     getEnvOrDefault("CHOREBOARD_LOG_FORMAT", "text"),
		BaseURL:       getEnvOrDefault("CHOREBOARD_BASE_URL", "http://localhost:"+port),
		PostmarkToken: os.Getenv("CHOREBOARD_POSTMARK_TOKEN"),
		FromEmail:     getEnvOrDefault("CHOREBOARD_FROM_EMAIL", "noreply@choreboard.local"),
	}

	hours, err := strconv.Atoi(getEnvOrDefault("CHOREBOARD_INVITE_VALIDITY_HOURS", "24"))
	if err != nil || hours <= 0 {
		return nil, fmt.Errorf("CHOREBOARD_INVITE_VALIDITY_HOURS: want a positive integer, got %q", os.Getenv("CHOREBOARD_INVITE_VALIDITY_HOURS"))
	}
	cfg.InviteValidity = time.Duration(hours) * time.Hour

	every, err := time.ParseDuration(getEnvOrDefault("CHOREBOARD_CLEANUP_INTERVAL", "1h"))
	if err != nil || every <= 0 {
		return nil, fmt.Errorf("CHOREBOARD_CLEANUP_INTERVAL: want a positive duration, got %q", os.Getenv("CHOREBOARD_CLEANUP_INTERVAL"))
	}
	cfg.CleanupEvery = every

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
