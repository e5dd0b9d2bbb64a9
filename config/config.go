// Package config loads and validates the mapper service configuration.
// Configuration is a single JSON or YAML file; the format is chosen by file
// extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/songjiao/adaptive-alerting/detectorsource"
	"github.com/songjiao/adaptive-alerting/errors"
	"github.com/songjiao/adaptive-alerting/processor/detectormapper"
)

// NATSConfig holds the stream transport settings.
type NATSConfig struct {
	URL                  string `json:"url"                    yaml:"url"`
	Name                 string `json:"name"                   yaml:"name"`
	MaxReconnects        int    `json:"max_reconnects"         yaml:"max_reconnects"`
	ReconnectWaitSeconds int    `json:"reconnect_wait_seconds" yaml:"reconnect_wait_seconds"`
	DrainTimeoutSeconds  int    `json:"drain_timeout_seconds"  yaml:"drain_timeout_seconds"`
}

// Validate checks NATS settings.
func (c *NATSConfig) Validate() error {
	if c.URL == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "NATSConfig", "Validate", "url is required")
	}
	if !strings.HasPrefix(c.URL, "nats://") && !strings.HasPrefix(c.URL, "tls://") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "NATSConfig", "Validate",
			fmt.Sprintf("url must use nats:// or tls:// scheme, got %q", c.URL))
	}
	return nil
}

// MapperConfig holds settings for the detector mapper core.
type MapperConfig struct {
	// SyncPeriodMinutes is the mapping cache reconciliation period. Must be
	// at least 1.
	SyncPeriodMinutes int `json:"sync_period_minutes" yaml:"sync_period_minutes"`
}

// Validate checks mapper settings.
func (c *MapperConfig) Validate() error {
	if c.SyncPeriodMinutes < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "MapperConfig", "Validate",
			fmt.Sprintf("sync_period_minutes must be >= 1, got %d", c.SyncPeriodMinutes))
	}
	return nil
}

// HTTPConfig holds the metrics/health listener settings.
type HTTPConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"`
}

// Validate checks HTTP settings.
func (c *HTTPConfig) Validate() error {
	if c.ListenAddr == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "HTTPConfig", "Validate", "listen_addr is required")
	}
	return nil
}

// Config represents the complete mapper service configuration.
type Config struct {
	LogLevel  string                `json:"log_level" yaml:"log_level"`
	NATS      NATSConfig            `json:"nats"      yaml:"nats"`
	Source    detectorsource.Config `json:"source"    yaml:"source"`
	Mapper    MapperConfig          `json:"mapper"    yaml:"mapper"`
	Processor detectormapper.Config `json:"processor" yaml:"processor"`
	HTTP      HTTPConfig            `json:"http"      yaml:"http"`
}

// DefaultConfig returns the default service configuration.
func DefaultConfig() Config {
	return Config{
		LogLevel: "info",
		NATS: NATSConfig{
			URL:                  "nats://localhost:4222",
			Name:                 "adaptive-alerting-mapper",
			MaxReconnects:        -1,
			ReconnectWaitSeconds: 2,
			DrainTimeoutSeconds:  30,
		},
		Source: detectorsource.DefaultConfig(),
		Mapper: MapperConfig{
			SyncPeriodMinutes: 5,
		},
		Processor: detectormapper.DefaultConfig(),
		HTTP: HTTPConfig{
			ListenAddr: ":8090",
		},
	}
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}
	if err := c.NATS.Validate(); err != nil {
		return err
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Mapper.Validate(); err != nil {
		return err
	}
	if err := c.Processor.Validate(); err != nil {
		return err
	}
	return c.HTTP.Validate()
}

// Load reads a configuration file on top of the defaults and validates the
// result. Files ending in .yaml or .yml are parsed as YAML, everything else
// as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "config", "Load", "read config file")
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse yaml")
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse json")
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
