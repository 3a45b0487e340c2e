package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"roomchat/models"
)

func TestLoadOrCreateCreatesAndReloadsConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("ROOMCHAT_DATA_DIR", tempDir)

	firstCfg, firstPath, dataDir, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("first LoadOrCreate failed: %v", err)
	}
	if firstCfg.UserID == "" {
		t.Fatalf("expected non-empty user ID")
	}
	if firstCfg.BackgroundColor != models.ColorBlack {
		t.Fatalf("expected default color %q, got %q", models.ColorBlack, firstCfg.BackgroundColor)
	}
	if firstCfg.CacheBackend != CacheBackendSQLite || !firstCfg.OutboxEnabled {
		t.Fatalf("unexpected defaults: %+v", firstCfg)
	}
	if dataDir != tempDir {
		t.Fatalf("expected data dir %q, got %q", tempDir, dataDir)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "keys")); err != nil {
		t.Fatalf("keys directory not created: %v", err)
	}

	expectedConfigPath := filepath.Join(tempDir, "config.json")
	if firstPath != expectedConfigPath {
		t.Fatalf("expected config path %q, got %q", expectedConfigPath, firstPath)
	}

	secondCfg, secondPath, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("second LoadOrCreate failed: %v", err)
	}
	if secondPath != firstPath {
		t.Fatalf("expected config path to be stable, got %q then %q", firstPath, secondPath)
	}
	if secondCfg.UserID != firstCfg.UserID {
		t.Fatalf("expected stable user ID, got %q then %q", firstCfg.UserID, secondCfg.UserID)
	}
	if secondCfg.CacheKeyPath != firstCfg.CacheKeyPath {
		t.Fatalf("expected stable key path, got %q then %q", firstCfg.CacheKeyPath, secondCfg.CacheKeyPath)
	}
}

func TestLoadOrCreateNormalizesPartialConfig(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("ROOMCHAT_DATA_DIR", tempDir)

	cfgPath := filepath.Join(tempDir, "config.json")
	if err := EnsureDataDirectories(tempDir); err != nil {
		t.Fatalf("EnsureDataDirectories failed: %v", err)
	}

	legacy := &ClientConfig{
		UserID:          "legacy-user",
		DisplayName:     "Ann",
		BackgroundColor: "#b9c6ae",
		CacheBackend:    "etcd",
	}
	if err := Save(cfgPath, legacy); err != nil {
		t.Fatalf("Save legacy config failed: %v", err)
	}

	cfg, _, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}
	if cfg.UserID != "legacy-user" || cfg.DisplayName != "Ann" {
		t.Fatalf("expected identity to be retained, got %+v", cfg)
	}
	if cfg.BackgroundColor != models.ColorGreen {
		t.Fatalf("expected color normalized to %q, got %q", models.ColorGreen, cfg.BackgroundColor)
	}
	if cfg.CacheBackend != CacheBackendSQLite {
		t.Fatalf("expected unknown backend to fall back to sqlite, got %q", cfg.CacheBackend)
	}
	if cfg.Collection != DefaultCollection || cfg.CacheKey != DefaultCacheKey {
		t.Fatalf("expected collection and cache key defaults, got %+v", cfg)
	}

	persisted, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.BackgroundColor != models.ColorGreen || persisted.ProbeIntervalMS != DefaultProbeInterval.Milliseconds() {
		t.Fatalf("expected normalized config persisted, got %+v", persisted)
	}
}

func TestApplyEnvOverridesWithoutPersisting(t *testing.T) {
	tempDir := t.TempDir()
	t.Setenv("ROOMCHAT_DATA_DIR", tempDir)

	cfg, cfgPath, _, err := LoadOrCreate()
	if err != nil {
		t.Fatalf("LoadOrCreate failed: %v", err)
	}

	t.Setenv("ROOMCHAT_BACKEND_URL", "http://relay.local:8080")
	t.Setenv("ROOMCHAT_CACHE_BACKEND", "redis")
	t.Setenv("ROOMCHAT_REDIS_DB", "3")
	t.Setenv("ROOMCHAT_OUTBOX", "false")
	t.Setenv("ROOMCHAT_PROBE_INTERVAL", "1500ms")

	if err := ApplyEnv(cfg); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}
	if cfg.BackendURL != "http://relay.local:8080" || cfg.CacheBackend != CacheBackendRedis || cfg.RedisDB != 3 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.OutboxEnabled {
		t.Fatalf("expected outbox disabled by env")
	}
	if cfg.ProbeInterval() != 1500*time.Millisecond {
		t.Fatalf("expected 1.5s probe interval, got %v", cfg.ProbeInterval())
	}

	persisted, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if persisted.BackendURL != "" || persisted.CacheBackend != CacheBackendSQLite {
		t.Fatalf("env overrides must not be persisted, got %+v", persisted)
	}

	t.Setenv("ROOMCHAT_REDIS_DB", "three")
	if err := ApplyEnv(cfg); err == nil {
		t.Fatalf("expected parse error for bad ROOMCHAT_REDIS_DB")
	}
}

func TestLoadDotEnvReadsFileWithoutOverridingProcessEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("ROOMCHAT_TEST_FROM_FILE=file\nROOMCHAT_TEST_SHADOWED=file\n"), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("ROOMCHAT_TEST_SHADOWED", "process")
	t.Cleanup(func() { _ = os.Unsetenv("ROOMCHAT_TEST_FROM_FILE") })

	if err := LoadDotEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv failed: %v", err)
	}
	if got := os.Getenv("ROOMCHAT_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if got := os.Getenv("ROOMCHAT_TEST_SHADOWED"); got != "process" {
		t.Fatalf("expected process env to win, got %q", got)
	}
}

func TestLoadRelayRequiresSecret(t *testing.T) {
	prevDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatalf("Chdir failed: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(prevDir) })
	t.Setenv("ROOMCHAT_RELAY_JWT_SECRET", "short")
	if _, err := LoadRelay(); err == nil {
		t.Fatalf("expected short secret to be rejected")
	}

	t.Setenv("ROOMCHAT_RELAY_JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("ROOMCHAT_RELAY_ADDR", "127.0.0.1:9000")
	cfg, err := LoadRelay()
	if err != nil {
		t.Fatalf("LoadRelay failed: %v", err)
	}
	if cfg.ListenAddr != "127.0.0.1:9000" || cfg.TokenTTL != 24*time.Hour || !cfg.Advertise {
		t.Fatalf("unexpected relay config: %+v", cfg)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for input, want := range cases {
		if got := ParseLogLevel(input); got != want {
			t.Fatalf("ParseLogLevel(%q) = %v, want %v", input, got, want)
		}
	}
}
