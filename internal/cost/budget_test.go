package cost

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestTracker(t *testing.T, mutate func(*Config)) (*Tracker, *fakeClock) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.MaxTokensPerHour = 1000
	cfg.MaxCostPerHour = 0
	if mutate != nil {
		mutate(&cfg)
	}
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	tr, err := NewTracker(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	return tr, clock
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unlimited", func(c *Config) { c.MaxTokensPerHour, c.MaxCostPerHour = 0, 0 }, false},
		{"negative tokens", func(c *Config) { c.MaxTokensPerHour = -1 }, true},
		{"negative cost", func(c *Config) { c.MaxCostPerHour = -0.5 }, true},
		{"zero threshold", func(c *Config) { c.AlertThreshold = 0 }, true},
		{"threshold above one", func(c *Config) { c.AlertThreshold = 1.5 }, true},
		{"zero interval", func(c *Config) { c.ResetInterval = 0 }, true},
		{"negative price", func(c *Config) { c.OutputTokenCost = -1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCallCost(t *testing.T) {
	cfg := DefaultConfig()
	assert.InDelta(t, 3.0+15.0, cfg.CallCost(1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.0105, cfg.CallCost(1000, 500), 1e-9)
}

func TestTrackerStatusTransitions(t *testing.T) {
	tr, _ := newTestTracker(t, nil)

	assert.Equal(t, BudgetHealthy, tr.RecordUsage(300, 200))
	ok, _ := tr.CanProceed()
	assert.True(t, ok)

	assert.Equal(t, BudgetWarning, tr.RecordUsage(250, 100))
	ok, _ = tr.CanProceed()
	assert.True(t, ok)

	assert.Equal(t, BudgetExceeded, tr.RecordUsage(100, 100))
	ok, reason := tr.CanProceed()
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly token budget exceeded")
	assert.Contains(t, reason, "1050/1000")
}

func TestTrackerCostLimit(t *testing.T) {
	tr, _ := newTestTracker(t, func(c *Config) {
		c.MaxTokensPerHour = 0
		c.MaxCostPerHour = 0.01
	})

	tr.RecordUsage(1000, 500)
	ok, reason := tr.CanProceed()
	assert.False(t, ok)
	assert.Contains(t, reason, "hourly cost budget exceeded")
}

func TestTrackerWindowResets(t *testing.T) {
	tr, clock := newTestTracker(t, nil)

	tr.RecordUsage(800, 400)
	ok, _ := tr.CanProceed()
	require.False(t, ok)

	clock.Advance(59 * time.Minute)
	ok, _ = tr.CanProceed()
	assert.False(t, ok)
	assert.Equal(t, time.Minute, tr.Stats().ResetsIn)

	clock.Advance(time.Minute)
	ok, _ = tr.CanProceed()
	assert.True(t, ok)

	stats := tr.Stats()
	assert.Equal(t, BudgetHealthy, stats.Status)
	assert.Zero(t, stats.HourlyTokensUsed)
	assert.Equal(t, int64(1200), stats.TotalTokensUsed)
	assert.Equal(t, int64(1), stats.TotalCalls)
}

func TestTrackerDisabledStillRecords(t *testing.T) {
	tr, _ := newTestTracker(t, func(c *Config) { c.Enabled = false })

	tr.RecordUsage(5000, 5000)
	ok, reason := tr.CanProceed()
	assert.True(t, ok)
	assert.Empty(t, reason)
	assert.False(t, tr.Enabled())
	assert.Equal(t, int64(10000), tr.Stats().TotalTokensUsed)
}

func TestTrackerPersistsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cost.json")
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}

	cfg := DefaultConfig()
	cfg.Enabled = true
	cfg.PersistStatePath = path

	first, err := NewTracker(cfg, WithClock(clock.Now))
	require.NoError(t, err)
	first.RecordUsage(1000, 2000)

	_, err = os.Stat(path)
	require.NoError(t, err)

	clock.Advance(10 * time.Minute)
	second, err := NewTracker(cfg, WithClock(clock.Now))
	require.NoError(t, err)

	stats := second.Stats()
	assert.Equal(t, int64(3000), stats.HourlyTokensUsed)
	assert.Equal(t, int64(3000), stats.TotalTokensUsed)
	assert.Equal(t, 50*time.Minute, stats.ResetsIn)
}

func TestTrackerIgnoresCorruptState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cost.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	cfg := DefaultConfig()
	cfg.PersistStatePath = path
	tr, err := NewTracker(cfg)
	require.NoError(t, err)
	assert.Zero(t, tr.Stats().TotalTokensUsed)
}

func TestNewTrackerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertThreshold = 2
	_, err := NewTracker(cfg)
	assert.Error(t, err)
}

func TestBudgetStatusString(t *testing.T) {
	assert.Equal(t, "HEALTHY", BudgetHealthy.String())
	assert.Equal(t, "WARNING", BudgetWarning.String())
	assert.Equal(t, "EXCEEDED", BudgetExceeded.String())
	assert.Equal(t, "UNKNOWN(9)", BudgetStatus(9).String())
}
