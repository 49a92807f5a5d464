// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the GoChat direct messaging service.
package server

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/Tyrowin/gochat-dm/internal/store"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `envconfig:"BURST"`
	RefillInterval time.Duration `envconfig:"REFILL_INTERVAL"`
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port             string          `envconfig:"SERVER_PORT"`
	AllowedOrigins   []string        `envconfig:"ALLOWED_ORIGINS"`
	// MaxMessageSize is the inbound frame read limit in bytes. It is raised
	// to fit a frame carrying MaxContentLength runes.
	MaxMessageSize   int64           `envconfig:"MAX_MESSAGE_SIZE"`
	MaxContentLength int             `envconfig:"MAX_CONTENT_LENGTH"`
	SendBufferSize   int             `envconfig:"SEND_BUFFER_SIZE"`
	RateLimit        RateLimitConfig `envconfig:"RATE_LIMIT"`

	StoreDriver  string        `envconfig:"STORE_DRIVER"`
	StorePath    string        `envconfig:"STORE_PATH"`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT"`

	JWTSecret string `envconfig:"JWT_SECRET"`
	JWTIssuer string `envconfig:"JWT_ISSUER"`

	// CloseSuperseded closes a user's previous connection when the same
	// user connects again.
	CloseSuperseded bool          `envconfig:"CLOSE_SUPERSEDED"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `envconfig:"LOG_LEVEL"`
	LogFormat string `envconfig:"LOG_FORMAT"`
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:   16384,
		MaxContentLength: 2000,
		SendBufferSize:   256,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		StoreDriver:     store.DriverBadger,
		StorePath:       "data/messages",
		StoreTimeout:    5 * time.Second,
		JWTIssuer:       "gochat",
		CloseSuperseded: true,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// sanitizeConfig replaces unusable values with defaults.
func sanitizeConfig(cfg Config) Config {
	def := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxContentLength <= 0 {
		cfg.MaxContentLength = def.MaxContentLength
	}
	if cfg.SendBufferSize <= 0 {
		cfg.SendBufferSize = def.SendBufferSize
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = def.StoreDriver
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = def.StoreTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	// A frame must be able to carry content of the maximum length, or a
	// valid message would end the session at the read limit.
	if minimum := minFrameSize(cfg.MaxContentLength); cfg.MaxMessageSize < minimum {
		cfg.MaxMessageSize = minimum
	}

	origins := make([]string, 0, len(cfg.AllowedOrigins))
	for _, origin := range cfg.AllowedOrigins {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	cfg.AllowedOrigins = origins

	return cfg
}

// Worst case JSON encoding of one rune is a six byte \uXXXX escape.
const (
	maxEncodedRuneSize = 6
	frameEnvelopeSize  = 256
)

// minFrameSize is the smallest read limit that fits an inbound frame whose
// content has maxContentLength runes.
func minFrameSize(maxContentLength int) int64 {
	return int64(maxContentLength)*maxEncodedRuneSize + frameEnvelopeSize
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config from the environment, after loading any
// of the given .env files that exist. Variables already present in the
// environment win over .env entries; unset variables keep their defaults.
func NewConfigFromEnv(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if file == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := defaultConfig()
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	cfg = sanitizeConfig(cfg)
	return &cfg, nil
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET must be set")
	}
	switch c.StoreDriver {
	case store.DriverBadger, store.DriverSQLite:
	default:
		return fmt.Errorf("STORE_DRIVER must be %q or %q, got %q", store.DriverBadger, store.DriverSQLite, c.StoreDriver)
	}
	return nil
}
