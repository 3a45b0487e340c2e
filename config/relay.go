package config

import (
	"errors"
	"time"
)

// RelayConfig configures the reference backend. It is read from the
// environment only.
type RelayConfig struct {
	ListenAddr     string
	PublicURL      string
	JWTSecret      string
	TokenTTL       time.Duration
	UploadDir      string
	MaxUploadBytes int64
	Advertise      bool
	InstanceName   string
	LogLevel       string
}

// LoadRelay reads ROOMCHAT_RELAY_* variables, loading .env first.
func LoadRelay() (*RelayConfig, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	ttl, err := getEnvAsDuration("ROOMCHAT_RELAY_TOKEN_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	maxUpload, err := getEnvAsInt("ROOMCHAT_RELAY_MAX_UPLOAD_BYTES", 20<<20)
	if err != nil {
		return nil, err
	}
	advertise, err := getEnvAsBool("ROOMCHAT_RELAY_ADVERTISE", true)
	if err != nil {
		return nil, err
	}

	cfg := &RelayConfig{
		ListenAddr:     getEnv("ROOMCHAT_RELAY_ADDR", ":8080"),
		PublicURL:      getEnv("ROOMCHAT_RELAY_PUBLIC_URL", ""),
		JWTSecret:      getEnv("ROOMCHAT_RELAY_JWT_SECRET", ""),
		TokenTTL:       ttl,
		UploadDir:      getEnv("ROOMCHAT_RELAY_UPLOAD_DIR", "uploads"),
		MaxUploadBytes: int64(maxUpload),
		Advertise:      advertise,
		InstanceName:   getEnv("ROOMCHAT_RELAY_INSTANCE", "roomchat-relay"),
		LogLevel:       getEnv("ROOMCHAT_LOG_LEVEL", "info"),
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *RelayConfig) validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("config: ROOMCHAT_RELAY_JWT_SECRET must be at least 16 characters")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("config: ROOMCHAT_RELAY_MAX_UPLOAD_BYTES must be positive")
	}
	return nil
}
