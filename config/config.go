package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"roomchat/models"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "roomchat"
	// DefaultDisplayName is used until the user picks a name.
	DefaultDisplayName = "Guest"
	// DefaultCollection is the feed collection backing the room.
	DefaultCollection = "messages"
	// DefaultCacheKey is the Local Cache slot holding the last snapshot.
	DefaultCacheKey = "messages"
	// DefaultRedisAddr is used when the redis cache backend has no address.
	DefaultRedisAddr = "localhost:6379"
	// DefaultProbeInterval controls how often connectivity is probed.
	DefaultProbeInterval = 5 * time.Second

	CacheBackendSQLite = "sqlite"
	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"

	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

// ClientConfig contains persistent local client settings.
type ClientConfig struct {
	UserID          string `json:"user_id"`
	DisplayName     string `json:"display_name"`
	BackgroundColor string `json:"background_color"`
	BackendURL      string `json:"backend_url"`
	Collection      string `json:"collection"`
	CacheBackend    string `json:"cache_backend"`
	CacheKey        string `json:"cache_key"`
	RedisAddr       string `json:"redis_addr"`
	RedisPassword   string `json:"redis_password,omitempty"`
	RedisDB         int    `json:"redis_db"`
	SealCache       bool   `json:"seal_cache"`
	CacheKeyPath    string `json:"cache_key_path"`
	OutboxEnabled   bool   `json:"outbox_enabled"`
	Discovery       bool   `json:"discovery"`
	ProbeIntervalMS int64  `json:"probe_interval_ms"`
	LogLevel        string `json:"log_level,omitempty"`
}

// ProbeInterval returns the configured probe interval as a duration.
func (c *ClientConfig) ProbeInterval() time.Duration {
	if c.ProbeIntervalMS <= 0 {
		return DefaultProbeInterval
	}
	return time.Duration(c.ProbeIntervalMS) * time.Millisecond
}

// Profile returns the user-facing identity chosen in settings.
func (c *ClientConfig) Profile() models.Profile {
	return models.Profile{
		UserID:          c.UserID,
		DisplayName:     c.DisplayName,
		BackgroundColor: c.BackgroundColor,
	}
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If ROOMCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv("ROOMCHAT_DATA_DIR"); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory layout if needed.
func EnsureDataDirectories(dataDir string) error {
	dirs := []string{
		dataDir,
		filepath.Join(dataDir, "keys"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}

	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*ClientConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ClientConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *ClientConfig) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and config exist, then returns the config,
// its path and the data directory.
func LoadOrCreate() (*ClientConfig, string, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", "", err
		}

		cfg = defaultConfig(dataDir)
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}

		return cfg, cfgPath, dataDir, nil
	}

	if normalizeDefaults(cfg, dataDir) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", "", err
		}
	}

	return cfg, cfgPath, dataDir, nil
}

func defaultConfig(dataDir string) *ClientConfig {
	return &ClientConfig{
		UserID:          uuid.NewString(),
		DisplayName:     DefaultDisplayName,
		BackgroundColor: models.ColorBlack,
		Collection:      DefaultCollection,
		CacheBackend:    CacheBackendSQLite,
		CacheKey:        DefaultCacheKey,
		RedisAddr:       DefaultRedisAddr,
		CacheKeyPath:    filepath.Join(dataDir, "keys", "cache_key.pem"),
		OutboxEnabled:   true,
		Discovery:       true,
		ProbeIntervalMS: DefaultProbeInterval.Milliseconds(),
	}
}

func normalizeDefaults(cfg *ClientConfig, dataDir string) bool {
	updated := false

	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
		updated = true
	}
	if cfg.DisplayName == "" {
		cfg.DisplayName = DefaultDisplayName
		updated = true
	}

	color, err := models.NormalizeColor(cfg.BackgroundColor)
	if err != nil {
		color = models.ColorBlack
	}
	if cfg.BackgroundColor != color {
		cfg.BackgroundColor = color
		updated = true
	}

	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
		updated = true
	}

	backend := normalizeCacheBackend(cfg.CacheBackend)
	if cfg.CacheBackend != backend {
		cfg.CacheBackend = backend
		updated = true
	}

	if cfg.CacheKey == "" {
		cfg.CacheKey = DefaultCacheKey
		updated = true
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = DefaultRedisAddr
		updated = true
	}
	if cfg.CacheKeyPath == "" {
		cfg.CacheKeyPath = filepath.Join(dataDir, "keys", "cache_key.pem")
		updated = true
	}
	if cfg.ProbeIntervalMS <= 0 {
		cfg.ProbeIntervalMS = DefaultProbeInterval.Milliseconds()
		updated = true
	}

	return updated
}

func normalizeCacheBackend(backend string) string {
	switch backend {
	case CacheBackendRedis:
		return CacheBackendRedis
	case CacheBackendMemory:
		return CacheBackendMemory
	default:
		return CacheBackendSQLite
	}
}
