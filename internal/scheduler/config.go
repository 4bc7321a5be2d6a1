package scheduler

import (
	"time"
)

// Config controls scheduler intervals and batch sizes.
type Config struct {
	RunInterval      time.Duration
	BatchSize        int
	PendingThreshold time.Duration
	JobTimeout       time.Duration
	LockTTL          time.Duration
	EnabledJobs      []string
}

func DefaultConfig() Config {
	return Config{
		RunInterval:      time.Minute,
		BatchSize:        50,
		PendingThreshold: 15 * time.Minute,
		JobTimeout:       2 * time.Minute,
		LockTTL:          5 * time.Minute,
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
	if c.PendingThreshold <= 0 {
		c.PendingThreshold = defaults.PendingThreshold
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LockTTL <= c.JobTimeout {
		c.LockTTL = c.JobTimeout + time.Minute
	}
	return c
}
