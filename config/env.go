package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads variables from the given .env files (default ".env") into
// the process environment. Missing files are ignored and variables that are
// already set win over file values.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides cfg with ROOMCHAT_* environment variables. Overrides
// are not persisted.
func ApplyEnv(cfg *ClientConfig) error {
	cfg.DisplayName = getEnv("ROOMCHAT_DISPLAY_NAME", cfg.DisplayName)
	cfg.BackendURL = getEnv("ROOMCHAT_BACKEND_URL", cfg.BackendURL)
	cfg.Collection = getEnv("ROOMCHAT_COLLECTION", cfg.Collection)
	cfg.CacheBackend = normalizeCacheBackend(getEnv("ROOMCHAT_CACHE_BACKEND", cfg.CacheBackend))
	cfg.CacheKey = getEnv("ROOMCHAT_CACHE_KEY", cfg.CacheKey)
	cfg.RedisAddr = getEnv("ROOMCHAT_REDIS_ADDR", cfg.RedisAddr)
	cfg.RedisPassword = getEnv("ROOMCHAT_REDIS_PASSWORD", cfg.RedisPassword)
	cfg.LogLevel = getEnv("ROOMCHAT_LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RedisDB, err = getEnvAsInt("ROOMCHAT_REDIS_DB", cfg.RedisDB); err != nil {
		return err
	}
	if cfg.SealCache, err = getEnvAsBool("ROOMCHAT_SEAL_CACHE", cfg.SealCache); err != nil {
		return err
	}
	if cfg.OutboxEnabled, err = getEnvAsBool("ROOMCHAT_OUTBOX", cfg.OutboxEnabled); err != nil {
		return err
	}
	if cfg.Discovery, err = getEnvAsBool("ROOMCHAT_DISCOVERY", cfg.Discovery); err != nil {
		return err
	}
	interval, err := getEnvAsDuration("ROOMCHAT_PROBE_INTERVAL", cfg.ProbeInterval())
	if err != nil {
		return err
	}
	cfg.ProbeIntervalMS = interval.Milliseconds()

	return nil
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) (int, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) (bool, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return value, nil
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("parse %s: duration must be positive", key)
	}
	return value, nil
}
