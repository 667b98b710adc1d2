// Package config loads SDK settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the SDK and CLI settings read from TSL_* environment
// variables. Command-line flags override it.
type Config struct {
	// ClientKey is the SDK client key issued by TalkShopLive.
	ClientKey string `env:"TSL_CLIENT_KEY"`
	// TestMode selects the staging environment.
	TestMode bool `env:"TSL_TEST_MODE"`
	// Debug enables verbose logging and strict response decoding.
	Debug bool `env:"TSL_DEBUG"`
	// DoNotTrack disables analytics delivery.
	DoNotTrack bool `env:"TSL_DO_NOT_TRACK"`
	// LogLevel is one of trace, debug, info, warn, error.
	LogLevel string `env:"TSL_LOG_LEVEL" envDefault:"info"`
	// HTTPTimeout bounds a single HTTP request.
	HTTPTimeout time.Duration `env:"TSL_HTTP_TIMEOUT" envDefault:"15s"`
	// ShowKey is the default show for CLI commands.
	ShowKey string `env:"TSL_SHOW_KEY"`
}

// Load loads configuration from the process environment.
func Load() (*Config, error) {
	return load(env.Options{})
}

// LoadFrom loads configuration from vars instead of the process
// environment.
func LoadFrom(vars map[string]string) (*Config, error) {
	return load(env.Options{Environment: vars})
}

func load(opts env.Options) (*Config, error) {
	cfg, err := env.ParseAsWithOptions[Config](opts)
	if err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	// DEBUG is honoured for parity with other tools.
	if !cfg.Debug {
		cfg.Debug = truthy(lookup(opts, "DEBUG"))
	}
	if cfg.Debug && cfg.LogLevel == "info" {
		cfg.LogLevel = "debug"
	}
	if cfg.HTTPTimeout <= 0 {
		return nil, fmt.Errorf("invalid TSL_HTTP_TIMEOUT %s", cfg.HTTPTimeout)
	}
	return &cfg, nil
}

func lookup(opts env.Options, key string) string {
	if opts.Environment != nil {
		return opts.Environment[key]
	}
	return os.Getenv(key)
}

func truthy(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}
