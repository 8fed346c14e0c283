// Package config loads the service configuration.
//
// Sources are applied in order: built-in defaults, the TOML file (if any),
// a .env file in the working directory (if any), then process environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Environment variables that override file values.
const (
	EnvDatabase  = "SANCTIONS_DB"
	EnvPort      = "SANCTIONS_PORT"
	EnvRedisAddr = "SANCTIONS_REDIS_ADDR"
	EnvLogLevel  = "SANCTIONS_LOG_LEVEL"
)

// Lock backends.
const (
	LockMemory = "memory"
	LockRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config represents the entire application configuration.
type Config struct {
	Server    Server    `koanf:"server"`
	Database  Database  `koanf:"database"`
	Scheduler Scheduler `koanf:"scheduler"`
	Engine    Engine    `koanf:"engine"`
	Lock      Lock      `koanf:"lock"`
	Log       Log       `koanf:"log"`
}

type Server struct {
	Port int `koanf:"port" validate:"min=1,max=65535"`
	// Allowed CORS origins.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type Database struct {
	// SQLite file path, or ":memory:".
	Path string `koanf:"path" validate:"required"`
}

type Scheduler struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval" validate:"min=1s"`
}

type Engine struct {
	// Maximum events evaluated concurrently by date-driven runs.
	Parallelism int           `koanf:"parallelism" validate:"min=1,max=64"`
	Retries     int           `koanf:"retries" validate:"min=0,max=10"`
	RetryDelay  time.Duration `koanf:"retry_delay" validate:"min=0"`
	// IANA timezone that event dates are interpreted in.
	Timezone string `koanf:"timezone" validate:"required"`
}

type Lock struct {
	Backend   string        `koanf:"backend" validate:"oneof=memory redis"`
	RedisAddr string        `koanf:"redis_addr" validate:"required_if=Backend redis"`
	TTL       time.Duration `koanf:"ttl" validate:"min=1s"`
}

type Log struct {
	// Log level (debug, info, warn, error).
	Level       string `koanf:"level" validate:"oneof=debug info warn error"`
	Development bool   `koanf:"development"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:    Server{Port: 8080, AllowedOrigins: []string{"*"}},
		Database:  Database{Path: "sanctions.db"},
		Scheduler: Scheduler{Enabled: true, Interval: time.Hour},
		Engine:    Engine{Parallelism: 4, Retries: 3, RetryDelay: 20 * time.Millisecond, Timezone: "UTC"},
		Lock:      Lock{Backend: LockMemory, TTL: 2 * time.Minute},
		Log:       Log{Level: "info"},
	}
}

// Load builds the configuration. An empty path skips the TOML file; a
// non-empty path that cannot be read is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		if err := k.Unmarshal("", &cfg); err != nil {
			return nil, fmt.Errorf("error unmarshaling config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvDatabase); v != "" {
		c.Database.Path = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, EnvPort, v)
		}
		c.Server.Port = port
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Lock.RedisAddr = v
		c.Lock.Backend = LockRedis
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
	return nil
}

// Validate checks field constraints and that the timezone resolves.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := time.LoadLocation(c.Engine.Timezone); err != nil {
		return fmt.Errorf("%w: timezone %q: %w", ErrInvalidConfig, c.Engine.Timezone, err)
	}
	return nil
}

// Location returns the configured timezone. Call after Validate.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Engine.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return ":" + strconv.Itoa(c.Server.Port)
}
