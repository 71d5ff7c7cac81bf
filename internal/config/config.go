// Package config loads and validates chathub configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/spf13/viper"

	"github.com/erilali/chathub/internal/auth"
	"github.com/erilali/chathub/internal/logger"
)

// ErrConfig marks every configuration failure.
var ErrConfig = errors.New("config")

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the listen address for the API and the hub endpoint.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// JWTKey is the shared HMAC secret used to sign and verify access tokens.
	JWTKey string `mapstructure:"JWT_KEY"`
	// JWTIssuer is used as both iss and aud.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTTTL is the access token lifetime (default 720h, 30 days).
	JWTTTL string `mapstructure:"JWT_TTL"`
	// AllowedOrigin is the single browser origin allowed to call the API and open connections.
	AllowedOrigin string `mapstructure:"ALLOWED_ORIGIN"`
	// DatabasePath is the sqlite file backing the identity store.
	DatabasePath string `mapstructure:"DATABASE_PATH"`
	BcryptCost   int    `mapstructure:"BCRYPT_COST"`

	// RelayBackend selects cross-instance fan-out: "", "nats" or "redis".
	RelayBackend string `mapstructure:"RELAY_BACKEND"`
	NatsURL      string `mapstructure:"NATS_URL"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RelaySubject string `mapstructure:"RELAY_SUBJECT"`

	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int `mapstructure:"SEND_BUFFER"`
	// MaxFrameBytes caps inbound websocket messages; 0 leaves them unbounded.
	MaxFrameBytes   int64  `mapstructure:"MAX_FRAME_BYTES"`
	ShutdownTimeout string `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel      string `mapstructure:"LOG_LEVEL"`
	LogToFile     bool   `mapstructure:"LOG_TO_FILE"`
	LogToJSON     bool   `mapstructure:"LOG_TO_JSON"`
	LogFilePath   string `mapstructure:"LOG_FILE_PATH"`
	LogMaxSize    int    `mapstructure:"LOG_MAX_SIZE"`
	LogMaxBackups int    `mapstructure:"LOG_MAX_BACKUPS"`
	LogMaxAge     int    `mapstructure:"LOG_MAX_AGE"`
	LogCompress   bool   `mapstructure:"LOG_COMPRESS"`
}

// Load reads .env (if present), then builds and validates Config from the environment.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // missing .env is fine
	}

	v.AutomaticEnv()

	logDefaults := logger.DefaultLogConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("JWT_KEY", "")
	v.SetDefault("JWT_ISSUER", "")
	v.SetDefault("JWT_TTL", "720h")
	v.SetDefault("ALLOWED_ORIGIN", "")
	v.SetDefault("DATABASE_PATH", "chathub.db")
	v.SetDefault("BCRYPT_COST", 10)
	v.SetDefault("RELAY_BACKEND", "")
	v.SetDefault("NATS_URL", nats.DefaultURL)
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("RELAY_SUBJECT", "chathub.events")
	v.SetDefault("SEND_BUFFER", 256)
	v.SetDefault("MAX_FRAME_BYTES", 0)
	v.SetDefault("SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("LOG_LEVEL", logDefaults.Level)
	v.SetDefault("LOG_TO_FILE", logDefaults.LogToFile)
	v.SetDefault("LOG_TO_JSON", logDefaults.LogToJSON)
	v.SetDefault("LOG_FILE_PATH", logDefaults.FilePath)
	v.SetDefault("LOG_MAX_SIZE", logDefaults.MaxSize)
	v.SetDefault("LOG_MAX_BACKUPS", logDefaults.MaxBackups)
	v.SetDefault("LOG_MAX_AGE", logDefaults.MaxAge)
	v.SetDefault("LOG_COMPRESS", logDefaults.Compress)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("%w: HTTP_ADDR must be set", ErrConfig)
	}
	if c.JWTKey == "" {
		return fmt.Errorf("%w: JWT_KEY must be set", ErrConfig)
	}
	if len(c.JWTKey) < auth.MinKeyBytes {
		return fmt.Errorf("%w: JWT_KEY must be at least %d bytes", ErrConfig, auth.MinKeyBytes)
	}
	if c.JWTIssuer == "" {
		return fmt.Errorf("%w: JWT_ISSUER must be set", ErrConfig)
	}
	if c.AllowedOrigin == "" {
		return fmt.Errorf("%w: ALLOWED_ORIGIN must be set", ErrConfig)
	}
	if d, err := time.ParseDuration(c.JWTTTL); err != nil || d <= 0 {
		return fmt.Errorf("%w: JWT_TTL %q is not a positive duration", ErrConfig, c.JWTTTL)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("%w: BCRYPT_COST must be between 4 and 31", ErrConfig)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("%w: SEND_BUFFER must be positive", ErrConfig)
	}
	if c.MaxFrameBytes < 0 {
		return fmt.Errorf("%w: MAX_FRAME_BYTES must not be negative", ErrConfig)
	}
	switch c.Relay() {
	case "", "nats", "redis":
	default:
		return fmt.Errorf("%w: RELAY_BACKEND %q is not one of nats, redis", ErrConfig, c.RelayBackend)
	}
	return nil
}

// TokenTTL parses JWTTTL. Returns 30 days if unset or invalid.
func (c *Config) TokenTTL() time.Duration {
	d, err := time.ParseDuration(c.JWTTTL)
	if err != nil || d <= 0 {
		return auth.DefaultTTL
	}
	return d
}

// ShutdownGrace parses ShutdownTimeout. Returns 10s if unset or invalid.
func (c *Config) ShutdownGrace() time.Duration {
	d, err := time.ParseDuration(c.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// Relay returns the normalized relay backend name.
func (c *Config) Relay() string {
	return strings.ToLower(strings.TrimSpace(c.RelayBackend))
}

// LogConfig maps the LOG_* keys onto the logger configuration.
func (c *Config) LogConfig() logger.LogConfig {
	return logger.LogConfig{
		Level:      c.LogLevel,
		LogToFile:  c.LogToFile,
		LogToJSON:  c.LogToJSON,
		FilePath:   c.LogFilePath,
		MaxSize:    c.LogMaxSize,
		MaxBackups: c.LogMaxBackups,
		MaxAge:     c.LogMaxAge,
		Compress:   c.LogCompress,
	}
}
