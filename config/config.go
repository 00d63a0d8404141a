/*
Package config loads server configuration from an optional YAML file
with flag overrides layered on top by cmd/server.

Precedence, lowest to highest: defaults, YAML file, command-line flags.
*/
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Settle    SettleConfig    `yaml:"settle"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port            int           `yaml:"port"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type AuthConfig struct {
	// JWTSecret signs and verifies bearer tokens. Must be set in
	// production; the default exists only for local development.
	JWTSecret string `yaml:"jwt_secret"`
}

type RateLimitConfig struct {
	// WriteLimit is the number of mutating requests allowed per actor
	// per window. Zero disables limiting.
	WriteLimit  int           `yaml:"write_limit"`
	WriteWindow time.Duration `yaml:"write_window"`
}

type SettleConfig struct {
	// AutoBatch runs the background scheduler that settles each active
	// vendor's trailing closed window.
	AutoBatch     bool          `yaml:"auto_batch"`
	CheckInterval time.Duration `yaml:"check_interval"`
	PeriodDays    int           `yaml:"period_days"`
}

type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Development switches zap to its human-readable console encoder.
	Development bool `yaml:"development"`
}

// Default returns the development defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			AllowedOrigins:  []string{"http://localhost:3000"},
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{Path: "commission.db"},
		Auth:     AuthConfig{JWTSecret: "dev-secret-change-me"},
		RateLimit: RateLimitConfig{
			WriteLimit:  60,
			WriteWindow: time.Minute,
		},
		Settle: SettleConfig{
			AutoBatch:     false,
			CheckInterval: 24 * time.Hour,
			PeriodDays:    30,
		},
		Log: LogConfig{Level: "info", Development: true},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
