// Package config loads application configuration from a YAML file and
// environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "RESPONDER_"

// Config is the root application configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Log       LogConfig       `koanf:"log"`
	Slack     SlackConfig     `koanf:"slack"`
	Reminders RemindersConfig `koanf:"reminders"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              string        `koanf:"port" validate:"required"`
	MetricsPort       string        `koanf:"metrics_port" validate:"required"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
}

// DatabaseConfig contains PostgreSQL settings.
type DatabaseConfig struct {
	URL             string        `koanf:"url" validate:"required"`
	MigrationsURL   string        `koanf:"migrations_url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`
	ConnectAttempts int           `koanf:"connect_attempts"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `koanf:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `koanf:"format" validate:"omitempty,oneof=text json"`
}

// SlackConfig contains Slack API and workspace settings.
type SlackConfig struct {
	APIToken          string        `koanf:"api_token" validate:"required"`
	SigningSecret     string        `koanf:"signing_secret" validate:"required"`
	IncidentChannelID string        `koanf:"incident_channel_id" validate:"required"`
	SiteURL           string        `koanf:"site_url" validate:"required,url"`
	MaxRetryAttempts  int           `koanf:"max_retry_attempts"`
	RetryBaseBackoff  time.Duration `koanf:"retry_base_backoff"`
	PostRateLimit     float64       `koanf:"post_rate_limit"`
}

// RemindersConfig contains reminder scheduler settings.
type RemindersConfig struct {
	TickInterval     time.Duration `koanf:"tick_interval"`
	CloseHourStart   int           `koanf:"close_hour_start" validate:"min=0,max=23"`
	CloseHourEnd     int           `koanf:"close_hour_end" validate:"min=0,max=24"`
	UserCacheRefresh time.Duration `koanf:"user_cache_refresh"`
}

// Load reads configuration from the given YAML file (optional) and
// RESPONDER_-prefixed environment variables, applies defaults and
// validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	// RESPONDER_SLACK_API_TOKEN -> slack.api_token. Single-word sections
	// keep working because section names contain no underscores.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		return strings.Replace(s, "_", ".", 1)
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env config: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns the configuration defaults applied before file and env
// values are merged in.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              "8080",
			MetricsPort:       "9090",
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		Database: DatabaseConfig{
			MigrationsURL:   "file://migrations",
			MaxOpenConns:    10,
			MinIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnectTimeout:  30 * time.Second,
			ConnectAttempts: 5,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Slack: SlackConfig{
			MaxRetryAttempts: 10,
			RetryBaseBackoff: 200 * time.Millisecond,
			PostRateLimit:    1,
		},
		Reminders: RemindersConfig{
			TickInterval:     time.Minute,
			CloseHourStart:   8,
			CloseHourEnd:     18,
			UserCacheRefresh: 24 * time.Hour,
		},
	}
}
