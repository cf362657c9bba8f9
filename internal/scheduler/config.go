package scheduler

import (
	"time"
)

// Config controls the scheduler tick and job cadence.
type Config struct {
	// RunInterval paces the tick driving attempt timers. It must be
	// finer than the shortest ladder delay.
	RunInterval time.Duration
	// ExpirySweepInterval paces the reporting-only batch job that flips
	// stale rows to expirada.
	ExpirySweepInterval time.Duration
	// JobTimeout bounds a single job invocation.
	JobTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		RunInterval:         time.Second,
		ExpirySweepInterval: time.Hour,
		JobTimeout:          30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.ExpirySweepInterval <= 0 {
		c.ExpirySweepInterval = defaults.ExpirySweepInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
