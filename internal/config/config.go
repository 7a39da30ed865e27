// Package config loads tablesync settings from the environment.
//
// Command-line flags override these values; the environment only supplies
// defaults.
package config

import (
	"fmt"
	"log/slog"

	"github.com/caarlos0/env/v11"

	"github.com/roach88/tablesync/internal/txlog"
)

// Config holds environment configuration.
type Config struct {
	// Database is the trace database path. Empty means an in-memory trace.
	Database string `env:"TABLESYNC_DB"`

	// LogLevel is debug, info, warn or error.
	LogLevel slog.Level `env:"TABLESYNC_LOG_LEVEL" envDefault:"info"`

	// Buffering is per-transaction, always or never. Empty leaves the
	// choice to each scenario.
	Buffering string `env:"TABLESYNC_BUFFERING"`

	// Ruleset is a CUE ruleset directory. Empty means the embedded default.
	Ruleset string `env:"TABLESYNC_RULESET"`
}

// Load parses the environment into a Config.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.Buffering != "" {
		if _, err := txlog.ParseBuffering(cfg.Buffering); err != nil {
			return Config{}, fmt.Errorf("TABLESYNC_BUFFERING: %w", err)
		}
	}
	return cfg, nil
}

// BufferingMode returns the configured buffering and whether one was set.
func (c Config) BufferingMode() (txlog.Buffering, bool, error) {
	if c.Buffering == "" {
		return txlog.BufferPerTransaction, false, nil
	}
	b, err := txlog.ParseBuffering(c.Buffering)
	if err != nil {
		return 0, false, err
	}
	return b, true, nil
}
