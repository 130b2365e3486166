// Package config provides configuration for the teamline service.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int

	// Database
	DatabaseURL string

	// Agent runner (event source)
	RunnerURL     string
	RunnerTimeout time.Duration

	// Retry policy for transient provider failures
	MaxRetryAttempts int

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		HTTPPort:         getEnvInt("HTTP_PORT", 8080),
		DatabaseURL:      getEnv("DATABASE_URL", "file:teamline.db?cache=shared&mode=rwc"),
		RunnerURL:        getEnv("RUNNER_URL", "http://localhost:8090"),
		RunnerTimeout:    time.Duration(getEnvInt("RUNNER_TIMEOUT_MS", 300000)) * time.Millisecond,
		MaxRetryAttempts: getEnvInt("MAX_RETRY_ATTEMPTS", 3),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
