package scheduler

import "time"

// Config controls sweep cadence and batch sizing.
type Config struct {
	RunInterval time.Duration
	BatchSize   int
	InviteGrace time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval: time.Minute,
		BatchSize:   200,
		InviteGrace: 24 * time.Hour,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.InviteGrace <= 0 {
		c.InviteGrace = defaults.InviteGrace
	}
	return c
}
