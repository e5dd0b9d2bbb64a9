package detectormapper

import (
	"fmt"

	"github.com/songjiao/adaptive-alerting/errors"
)

// Config holds configuration for the detector mapper processor.
type Config struct {
	// InputSubject is the core NATS subject carrying raw metric records.
	// Ignored when Stream is set.
	InputSubject string `json:"input_subject" yaml:"input_subject"`

	// Stream and Consumer select durable JetStream consumption of the
	// metric stream instead of a core subscription.
	Stream   string `json:"stream"   yaml:"stream"`
	Consumer string `json:"consumer" yaml:"consumer"`

	// OutputSubject receives mapped records.
	OutputSubject string `json:"output_subject" yaml:"output_subject"`

	// FlushIntervalMillis bounds how long a cache-missed record waits
	// before its batch is resolved against the backend.
	FlushIntervalMillis int `json:"flush_interval_millis" yaml:"flush_interval_millis"`

	// MaxPendingMisses caps the pending-miss buffer; overflow drops the
	// oldest entries.
	MaxPendingMisses int `json:"max_pending_misses" yaml:"max_pending_misses"`
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.InputSubject == "" && c.Stream == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"either input_subject or stream is required")
	}
	if c.Stream != "" && c.Consumer == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"consumer is required when stream is set")
	}
	if c.OutputSubject == "" {
		return errors.WrapInvalid(errors.ErrMissingConfig, "Config", "Validate",
			"output_subject is required")
	}
	if c.FlushIntervalMillis < 10 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("flush_interval_millis must be >= 10, got %d", c.FlushIntervalMillis))
	}
	if c.MaxPendingMisses < 1 {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Config", "Validate",
			fmt.Sprintf("max_pending_misses must be >= 1, got %d", c.MaxPendingMisses))
	}
	return nil
}

// DefaultConfig returns the default processor configuration.
func DefaultConfig() Config {
	return Config{
		InputSubject:        "metrics.raw",
		OutputSubject:       "metrics.mapped",
		FlushIntervalMillis: 500,
		MaxPendingMisses:    10000,
	}
}
