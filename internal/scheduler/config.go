package scheduler

import (
	"time"
)

// Config controls scheduler intervals and per-job timeouts.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	// EnabledJobs empty means all jobs run (monolith mode).
	EnabledJobs []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval: 5 * time.Minute,
		JobTimeout:  30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	return c
}
