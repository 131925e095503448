package core

import (
	"time"

	"github.com/signalsfoundry/location-coordinator/model"
)

const (
	// DefaultTimeout bounds an attempt when no continuation predicate is
	// supplied, and every async attempt.
	DefaultTimeout = 240 * time.Second
	// DefaultPollInterval is the first wait between driver steps.
	DefaultPollInterval = 100 * time.Millisecond
	// DefaultMaxPollInterval caps the wait between driver steps.
	DefaultMaxPollInterval = time.Second
)

// Config holds the coordinator tunables.
type Config struct {
	// Timeout is the acquisition budget.
	// Default: 240 seconds
	Timeout time.Duration

	// PollInterval is the initial pause between driver steps; the pause
	// grows while the driver stays in the same phase.
	// Default: 100 milliseconds
	PollInterval time.Duration

	// MaxPollInterval caps the pause between driver steps.
	// Default: 1 second
	MaxPollInterval time.Duration

	// DefaultAssist is used when a request carries no assist.
	// Default: every field unspecified
	DefaultAssist *model.Assist
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	return Config{}.ApplyDefaults()
}

// ApplyDefaults applies default values to config fields that are zero or invalid.
func (c Config) ApplyDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollInterval <= 0 {
		c.MaxPollInterval = DefaultMaxPollInterval
	}
	if c.MaxPollInterval < c.PollInterval {
		c.MaxPollInterval = c.PollInterval
	}
	if c.DefaultAssist == nil {
		a := model.DefaultAssist()
		c.DefaultAssist = &a
	} else {
		a := c.DefaultAssist.Normalize()
		c.DefaultAssist = &a
	}
	return c
}
