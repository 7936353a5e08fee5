package config

import (
	"time"

	"github.com/BurntSushi/toml"
	"github.com/juju/errors"
	"github.com/ngaut/log"
)

type Config struct {
	LogLevel string `toml:"log-level"`

	// Maximum time a statement waits on a row lock before deadlock
	// detection runs and the wait is converted to an error.
	LockTimeout Duration `toml:"lock-timeout"`

	// A loop update checks cancellation and yields cooperatively every
	// YieldInterval rows.
	YieldInterval int `toml:"yield-interval"`

	// Interval of the background sweep that prunes old-version chains no
	// live repeatable-read transaction can still see.
	SweepInterval Duration `toml:"sweep-interval"`

	// Number of scheduler workers executing session steps.
	SchedulerWorkers int `toml:"scheduler-workers"`
}

func NewDefaultConfig() *Config {
	return &Config{
		LogLevel:         "info",
		LockTimeout:      NewDuration(2 * time.Second),
		YieldInterval:    128,
		SweepInterval:    NewDuration(time.Second),
		SchedulerWorkers: 4,
	}
}

// FromFile loads a TOML config file over the defaults.
func FromFile(path string) (*Config, error) {
	c := NewDefaultConfig()
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, errors.Trace(err)
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.LockTimeout.Duration <= 0 {
		return errors.Errorf("lock-timeout must be positive, got %v", c.LockTimeout)
	}
	if c.YieldInterval <= 0 {
		return errors.Errorf("yield-interval must be positive, got %d", c.YieldInterval)
	}
	if c.SchedulerWorkers <= 0 {
		return errors.Errorf("scheduler-workers must be positive, got %d", c.SchedulerWorkers)
	}
	if c.SweepInterval.Duration < 100*time.Millisecond {
		log.Warnf("sweep-interval %v is very small, old-version pruning will contend with commits", c.SweepInterval)
	}
	return nil
}
