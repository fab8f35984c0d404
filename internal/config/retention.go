package config

import (
	"fmt"
	"time"
)

// RetentionConfig holds configuration for raw event retention and cleanup
type RetentionConfig struct {
	// RetentionDays is how long raw events are kept (in days)
	// Events older than this are eligible for deletion
	// Default: 14, Range: 1-365
	RetentionDays int

	// CleanupIntervalHours is how often the runner cleans up (in hours)
	// Default: 24, Range: 1-168 (1 week)
	CleanupIntervalHours int

	// CleanupBatchSize is the number of events to delete per statement
	// Larger batches = faster cleanup but longer locks
	// Default: 1000, Range: 100-10000
	CleanupBatchSize int

	// CleanupEnabled controls whether the runner cleans up automatically
	// Default: true
	CleanupEnabled bool
}

// DefaultRetentionConfig returns the default retention configuration.
// Two weeks of raw events is enough to rebuild any recent bundle.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		RetentionDays:        14,
		CleanupIntervalHours: 24,
		CleanupBatchSize:     1000,
		CleanupEnabled:       true,
	}
}

// Validate checks if the configuration has valid values
func (c RetentionConfig) Validate() error {
	if c.RetentionDays < 1 || c.RetentionDays > 365 {
		return fmt.Errorf("retention_days must be between 1 and 365 (got %d)", c.RetentionDays)
	}

	if c.CleanupIntervalHours < 1 {
		return fmt.Errorf("cleanup_interval_hours must be at least 1 (got %d)",
			c.CleanupIntervalHours)
	}
	if c.CleanupIntervalHours > 168 {
		return fmt.Errorf("cleanup_interval_hours too large (got %d, max 168)",
			c.CleanupIntervalHours)
	}

	if c.CleanupBatchSize < 100 {
		return fmt.Errorf("cleanup_batch_size must be at least 100 (got %d)",
			c.CleanupBatchSize)
	}
	if c.CleanupBatchSize > 10000 {
		return fmt.Errorf("cleanup_batch_size too large (got %d, max 10000)",
			c.CleanupBatchSize)
	}

	return nil
}

// String returns a human-readable representation of the config
func (c RetentionConfig) String() string {
	return fmt.Sprintf(
		"RetentionConfig{RetentionDays: %d, CleanupInterval: %dh, BatchSize: %d, Enabled: %t}",
		c.RetentionDays, c.CleanupIntervalHours, c.CleanupBatchSize, c.CleanupEnabled,
	)
}

// Interval returns the cleanup interval as a time.Duration
func (c RetentionConfig) Interval() time.Duration {
	return time.Duration(c.CleanupIntervalHours) * time.Hour
}

// Cutoff returns the instant before which events are eligible for deletion
func (c RetentionConfig) Cutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.RetentionDays) * 24 * time.Hour)
}
