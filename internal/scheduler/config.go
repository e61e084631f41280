package scheduler

import (
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/livinlefevreloca/stationsync/internal/cron"
)

// Config defines when sync cycles are triggered
type Config struct {
	// Cron expression for the cycle cadence
	Schedule string `toml:"schedule"`

	// IANA zone the schedule is evaluated in
	Timezone string `toml:"timezone"`

	// Fire one cycle as soon as the scheduler starts
	RunOnStart bool `toml:"run_on_start"`

	// Manual trigger queue
	TriggerBufferSize  int           `toml:"trigger_buffer_size"`
	TriggerSendTimeout time.Duration `toml:"trigger_send_timeout"`
}

// DefaultConfig returns an hourly, on-the-hour schedule
func DefaultConfig() Config {
	return Config{
		Schedule:           "0 * * * *",
		Timezone:           "UTC",
		RunOnStart:         false,
		TriggerBufferSize:  1,
		TriggerSendTimeout: 100 * time.Millisecond,
	}
}

// Validate checks scheduler configuration
func (c Config) Validate() error {
	return validateConfig(c)
}

// validateConfig validates scheduler configuration and returns error if invalid
func validateConfig(config Config) error {
	if _, err := cron.Parse(config.Schedule); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", config.Schedule, err)
	}

	if _, err := time.LoadLocation(config.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", config.Timezone, err)
	}

	if config.TriggerBufferSize <= 0 {
		return fmt.Errorf("TriggerBufferSize must be positive, got %d", config.TriggerBufferSize)
	}

	if config.TriggerSendTimeout <= 0 {
		return fmt.Errorf("TriggerSendTimeout must be positive, got %v", config.TriggerSendTimeout)
	}

	return nil
}
