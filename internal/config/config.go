package config

import (
	"fmt"
	"os"
	"strconv"

	"sketchroom/internal/domain"
)

type Config struct {
	AppEnv              string
	Port                string
	LogLevel            string
	LogFormat           string
	MaxClientsPerRoom   int
	MaxConnections      int64
	MaxConnectionsPerIP int
	CursorRateLimit     float64
	CursorRateBurst     int
	ConflictPolicy      domain.ConflictPolicy
}

func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		Port:      getEnv("PORT", "8080"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.MaxClientsPerRoom, err = getEnvInt("MAX_CLIENTS_PER_ROOM", 50); err != nil {
		return nil, err
	}
	if cfg.MaxClientsPerRoom < 0 {
		return nil, fmt.Errorf("MAX_CLIENTS_PER_ROOM must not be negative")
	}

	maxConns, err := getEnvInt("MAX_CONNECTIONS", 10000)
	if err != nil {
		return nil, err
	}
	if maxConns <= 0 {
		return nil, fmt.Errorf("MAX_CONNECTIONS must be positive")
	}
	cfg.MaxConnections = int64(maxConns)

	if cfg.MaxConnectionsPerIP, err = getEnvInt("MAX_CONNECTIONS_PER_IP", 20); err != nil {
		return nil, err
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		return nil, fmt.Errorf("MAX_CONNECTIONS_PER_IP must be positive")
	}

	if cfg.CursorRateLimit, err = getEnvFloat("CURSOR_RATE_LIMIT", 60); err != nil {
		return nil, err
	}
	if cfg.CursorRateLimit <= 0 {
		return nil, fmt.Errorf("CURSOR_RATE_LIMIT must be positive")
	}

	if cfg.CursorRateBurst, err = getEnvInt("CURSOR_RATE_BURST", 120); err != nil {
		return nil, err
	}
	if cfg.CursorRateBurst <= 0 {
		return nil, fmt.Errorf("CURSOR_RATE_BURST must be positive")
	}

	policy, err := domain.ParseConflictPolicy(getEnv("CONFLICT_POLICY", string(domain.ConflictPreserve)))
	if err != nil {
		return nil, fmt.Errorf("CONFLICT_POLICY: %w", err)
	}
	cfg.ConflictPolicy = policy

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s must be a number: %w", key, err)
	}
	return f, nil
}
