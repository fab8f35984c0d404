package cost

import (
	"fmt"
	"time"
)

// Config holds the hourly reasoning budget
type Config struct {
	Enabled bool

	// Limits per window; zero means unlimited
	MaxTokensPerHour int64
	MaxCostPerHour   float64

	// AlertThreshold is the fraction of a limit that triggers a warning
	AlertThreshold float64
	ResetInterval  time.Duration

	// PersistStatePath keeps usage across restarts; empty keeps it in memory
	PersistStatePath string

	// USD per million tokens
	InputTokenCost  float64
	OutputTokenCost float64
}

// DefaultConfig returns a disabled budget with Sonnet pricing
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		MaxTokensPerHour: 200000,
		MaxCostPerHour:   2.00,
		AlertThreshold:   0.8,
		ResetInterval:    time.Hour,
		InputTokenCost:   3.00,
		OutputTokenCost:  15.00,
	}
}

// Validate checks that the configuration has safe and reasonable values
func (c Config) Validate() error {
	if c.MaxTokensPerHour < 0 {
		return fmt.Errorf("max_tokens_per_hour must be non-negative, got %d", c.MaxTokensPerHour)
	}
	if c.MaxCostPerHour < 0 {
		return fmt.Errorf("max_cost_per_hour must be non-negative, got %.2f", c.MaxCostPerHour)
	}
	if c.AlertThreshold <= 0 || c.AlertThreshold > 1.0 {
		return fmt.Errorf("alert_threshold must be between 0 and 1, got %.2f", c.AlertThreshold)
	}
	if c.ResetInterval <= 0 {
		return fmt.Errorf("reset_interval must be positive, got %v", c.ResetInterval)
	}
	if c.InputTokenCost < 0 {
		return fmt.Errorf("input_token_cost must be non-negative, got %.2f", c.InputTokenCost)
	}
	if c.OutputTokenCost < 0 {
		return fmt.Errorf("output_token_cost must be non-negative, got %.2f", c.OutputTokenCost)
	}
	return nil
}

// CallCost returns the USD cost of one call
func (c Config) CallCost(inputTokens, outputTokens int64) float64 {
	return float64(inputTokens)/1e6*c.InputTokenCost + float64(outputTokens)/1e6*c.OutputTokenCost
}
