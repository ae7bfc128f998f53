// Package config loads fixgw's process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all process configuration.
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
type Config struct {
	// Listener
	ListenAddr string `env:"FIXGW_LISTEN_ADDR" envDefault:":9878"`

	// Bus
	NatsURL       string `env:"FIXGW_NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	NatsSubject   string `env:"FIXGW_NATS_SUBJECT" envDefault:"fixgw.replay.complete"`
	BusQueueDepth int    `env:"FIXGW_BUS_QUEUE_DEPTH" envDefault:"4096"`

	// Endpoint defaults (per-connection overrides may lower these at logon)
	MaxBytesInBuffer      int32 `env:"FIXGW_MAX_BYTES_IN_BUFFER" envDefault:"16777216"`
	SlowConsumerTimeoutMs int64 `env:"FIXGW_SLOW_CONSUMER_TIMEOUT_MS" envDefault:"5000"`

	// Throttle reject defaults
	ThrottleWindowMs int64 `env:"FIXGW_THROTTLE_WINDOW_MS" envDefault:"1000"`
	ThrottleLimit    int   `env:"FIXGW_THROTTLE_LIMIT" envDefault:"10"`

	// Framer tick
	TickInterval         time.Duration `env:"FIXGW_TICK_INTERVAL" envDefault:"5ms"`
	HousekeepingInterval time.Duration `env:"FIXGW_HOUSEKEEPING_INTERVAL" envDefault:"30s"`

	// Metrics / health
	MetricsAddr    string        `env:"FIXGW_METRICS_ADDR" envDefault:":9979"`
	SysmonInterval time.Duration `env:"FIXGW_SYSMON_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"FIXGW_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"FIXGW_LOG_FORMAT" envDefault:"json"`

	Environment string `env:"FIXGW_ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from a .env file (if present) and the
// environment. Priority: env vars > .env file > defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("FIXGW_LISTEN_ADDR is required")
	}
	if c.MaxBytesInBuffer < 1 {
		return fmt.Errorf("FIXGW_MAX_BYTES_IN_BUFFER must be > 0, got %d", c.MaxBytesInBuffer)
	}
	if c.SlowConsumerTimeoutMs < 1 {
		return fmt.Errorf("FIXGW_SLOW_CONSUMER_TIMEOUT_MS must be > 0, got %d", c.SlowConsumerTimeoutMs)
	}
	if c.ThrottleLimit < 0 {
		return fmt.Errorf("FIXGW_THROTTLE_LIMIT must be >= 0, got %d", c.ThrottleLimit)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("FIXGW_TICK_INTERVAL must be > 0, got %s", c.TickInterval)
	}
	if c.HousekeepingInterval <= 0 {
		return fmt.Errorf("FIXGW_HOUSEKEEPING_INTERVAL must be > 0, got %s", c.HousekeepingInterval)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("FIXGW_LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "console": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("FIXGW_LOG_FORMAT must be one of: json, console (got: %s)", c.LogFormat)
	}
	return nil
}

// LogConfig emits the loaded configuration via structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("listen_addr", c.ListenAddr).
		Str("nats_url", c.NatsURL).
		Str("nats_subject", c.NatsSubject).
		Int("bus_queue_depth", c.BusQueueDepth).
		Int32("max_bytes_in_buffer", c.MaxBytesInBuffer).
		Int64("slow_consumer_timeout_ms", c.SlowConsumerTimeoutMs).
		Int64("throttle_window_ms", c.ThrottleWindowMs).
		Int("throttle_limit", c.ThrottleLimit).
		Dur("tick_interval", c.TickInterval).
		Dur("housekeeping_interval", c.HousekeepingInterval).
		Str("metrics_addr", c.MetricsAddr).
		Dur("sysmon_interval", c.SysmonInterval).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("configuration loaded")
}
