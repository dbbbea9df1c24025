// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatehouse Contributors

// Package config loads service configuration from an optional YAML file,
// command-line flags and the environment, in that order of precedence
// (later sources win).
package config

import (
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Defaults applied when neither file nor flags set a value.
const (
	DefaultHTTPAddr          = ":8080"
	DefaultObservabilityAddr = "127.0.0.1:9100"
	DefaultLogFormat         = "json"
	DefaultPurgeInterval     = 5 * time.Minute
)

// Config holds the full service configuration.
type Config struct {
	Database DatabaseConfig `koanf:"database"`
	HTTP     HTTPConfig     `koanf:"http"`
	Obs      ObsConfig      `koanf:"observability"`
	Log      LogConfig      `koanf:"log"`
	Auth     AuthConfig     `koanf:"auth"`
}

// DatabaseConfig configures the PostgreSQL connection.
type DatabaseConfig struct {
	URL string `koanf:"url"`
}

// HTTPConfig configures the public HTTP listener.
type HTTPConfig struct {
	Addr string `koanf:"addr"`
}

// ObsConfig configures the metrics/health listener.
type ObsConfig struct {
	Addr string `koanf:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format"` // "json" or "text"
}

// AuthConfig configures authentication behavior.
type AuthConfig struct {
	RegistrationOpen bool          `koanf:"registration_open"`
	PurgeInterval    time.Duration `koanf:"purge_interval"`
}

// Load reads configuration from the given YAML file (if non-empty) and
// the given flag set (if non-nil). Flags override file values. The
// DATABASE_URL environment variable is honored when neither source sets
// database.url.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("path", path).
				Wrap(err)
		}
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").
				With("operation", "load flags").
				Wrap(err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{Addr: DefaultHTTPAddr},
		Obs:  ObsConfig{Addr: DefaultObservabilityAddr},
		Log:  LogConfig{Format: DefaultLogFormat},
		Auth: AuthConfig{
			RegistrationOpen: true,
			PurgeInterval:    DefaultPurgeInterval,
		},
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, oops.Code("CONFIG_INVALID").
			With("operation", "unmarshal config").
			Wrap(err)
	}

	if cfg.Database.URL == "" {
		cfg.Database.URL = os.Getenv("DATABASE_URL")
	}
	// Flags registered with empty defaults can blank out a value; fall
	// back to the defaults rather than fail later with an unusable addr.
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = DefaultHTTPAddr
	}
	if cfg.Obs.Addr == "" {
		cfg.Obs.Addr = DefaultObservabilityAddr
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Auth.PurgeInterval <= 0 {
		cfg.Auth.PurgeInterval = DefaultPurgeInterval
	}

	return cfg, nil
}
