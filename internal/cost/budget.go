// Package cost enforces an hourly token and dollar budget on reasoning
// calls. Usage can be persisted so a restart does not reset the window.
package cost

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/steveyegge/triage/internal/metrics"
)

// BudgetStatus represents the current budget state
type BudgetStatus int

const (
	// BudgetHealthy is under every limit
	BudgetHealthy BudgetStatus = iota
	// BudgetWarning is past AlertThreshold of a limit
	BudgetWarning
	// BudgetExceeded blocks further calls until the window resets
	BudgetExceeded
)

// String returns a human-readable string representation of the budget status
func (s BudgetStatus) String() string {
	switch s {
	case BudgetHealthy:
		return "HEALTHY"
	case BudgetWarning:
		return "WARNING"
	case BudgetExceeded:
		return "EXCEEDED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// BudgetState is the persisted usage
type BudgetState struct {
	HourlyTokensUsed int64     `json:"hourly_tokens_used"`
	HourlyCostUsed   float64   `json:"hourly_cost_used"`
	WindowStartTime  time.Time `json:"window_start_time"`

	TotalTokensUsed int64   `json:"total_tokens_used"`
	TotalCostUsed   float64 `json:"total_cost_used"`
	TotalCalls      int64   `json:"total_calls"`

	LastUpdated time.Time `json:"last_updated"`
}

// BudgetStats is a snapshot for status output
type BudgetStats struct {
	Status           BudgetStatus  `json:"status"`
	HourlyTokensUsed int64         `json:"hourly_tokens_used"`
	HourlyCostUsed   float64       `json:"hourly_cost_used"`
	TotalTokensUsed  int64         `json:"total_tokens_used"`
	TotalCostUsed    float64       `json:"total_cost_used"`
	TotalCalls       int64         `json:"total_calls"`
	WindowStartTime  time.Time     `json:"window_start_time"`
	ResetsIn         time.Duration `json:"resets_in"`
}

// Tracker records reasoning usage and answers whether another call fits
// in the current window. It is safe for concurrent use.
type Tracker struct {
	config Config
	logger *slog.Logger
	now    func() time.Time

	mu    sync.Mutex
	state BudgetState

	lastWarningTime  time.Time
	lastExceededTime time.Time
	warningLogged    bool
}

// Option configures a Tracker
type Option func(*Tracker)

// WithLogger sets the tracker's logger
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker, restoring persisted state when configured
func NewTracker(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cost config: %w", err)
	}

	t := &Tracker{
		config: cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.state = BudgetState{WindowStartTime: t.now(), LastUpdated: t.now()}

	if cfg.PersistStatePath != "" {
		if err := t.loadState(); err != nil {
			t.logger.Warn("failed to load cost state, starting fresh", "path", cfg.PersistStatePath, "err", err)
		} else {
			t.logger.Debug("loaded cost state", "path", cfg.PersistStatePath,
				"total_cost", t.state.TotalCostUsed, "hourly_tokens", t.state.HourlyTokensUsed)
		}
	}

	t.mu.Lock()
	t.checkAndResetWindow()
	t.mu.Unlock()
	return t, nil
}

// Enabled reports whether limits are enforced
func (t *Tracker) Enabled() bool { return t.config.Enabled }

// RecordUsage adds one call's tokens to the window and returns the status
// after recording. Usage is recorded even when enforcement is disabled.
func (t *Tracker) RecordUsage(inputTokens, outputTokens int64) BudgetStatus {
	tokens := inputTokens + outputTokens
	cost := t.config.CallCost(inputTokens, outputTokens)

	metrics.ReasoningTokens.WithLabelValues("input").Add(float64(inputTokens))
	metrics.ReasoningTokens.WithLabelValues("output").Add(float64(outputTokens))
	metrics.ReasoningCost.Add(cost)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.checkAndResetWindow()
	t.state.HourlyTokensUsed += tokens
	t.state.HourlyCostUsed += cost
	t.state.TotalTokensUsed += tokens
	t.state.TotalCostUsed += cost
	t.state.TotalCalls++
	t.state.LastUpdated = t.now()

	if err := t.persistState(); err != nil {
		t.logger.Warn("failed to persist cost state", "path", t.config.PersistStatePath, "err", err)
	}

	status := t.statusLocked()
	metrics.BudgetStatus.Set(float64(status))
	if t.config.Enabled {
		t.emitAlertsIfNeeded(status)
	}
	return status
}

// CanProceed returns false and a reason when the window is spent
func (t *Tracker) CanProceed() (bool, string) {
	if !t.config.Enabled {
		return true, ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()

	if t.tokenLimitExceeded() {
		return false, fmt.Sprintf("hourly token budget exceeded (%d/%d tokens used)",
			t.state.HourlyTokensUsed, t.config.MaxTokensPerHour)
	}
	if t.costLimitExceeded() {
		return false, fmt.Sprintf("hourly cost budget exceeded ($%.2f/$%.2f used)",
			t.state.HourlyCostUsed, t.config.MaxCostPerHour)
	}
	return true, ""
}

// Stats returns current budget statistics
func (t *Tracker) Stats() BudgetStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.checkAndResetWindow()

	resetsIn := t.state.WindowStartTime.Add(t.config.ResetInterval).Sub(t.now())
	return BudgetStats{
		Status:           t.statusLocked(),
		HourlyTokensUsed: t.state.HourlyTokensUsed,
		HourlyCostUsed:   t.state.HourlyCostUsed,
		TotalTokensUsed:  t.state.TotalTokensUsed,
		TotalCostUsed:    t.state.TotalCostUsed,
		TotalCalls:       t.state.TotalCalls,
		WindowStartTime:  t.state.WindowStartTime,
		ResetsIn:         resetsIn,
	}
}

// statusLocked must be called with mu held
func (t *Tracker) statusLocked() BudgetStatus {
	if t.tokenLimitExceeded() || t.costLimitExceeded() {
		return BudgetExceeded
	}
	if t.config.MaxTokensPerHour > 0 &&
		float64(t.state.HourlyTokensUsed)/float64(t.config.MaxTokensPerHour) >= t.config.AlertThreshold {
		return BudgetWarning
	}
	if t.config.MaxCostPerHour > 0 &&
		t.state.HourlyCostUsed/t.config.MaxCostPerHour >= t.config.AlertThreshold {
		return BudgetWarning
	}
	return BudgetHealthy
}

func (t *Tracker) tokenLimitExceeded() bool {
	return t.config.MaxTokensPerHour > 0 && t.state.HourlyTokensUsed >= t.config.MaxTokensPerHour
}

func (t *Tracker) costLimitExceeded() bool {
	return t.config.MaxCostPerHour > 0 && t.state.HourlyCostUsed >= t.config.MaxCostPerHour
}

// checkAndResetWindow must be called with mu held
func (t *Tracker) checkAndResetWindow() {
	now := t.now()
	if now.Sub(t.state.WindowStartTime) >= t.config.ResetInterval {
		t.state.HourlyTokensUsed = 0
		t.state.HourlyCostUsed = 0
		t.state.WindowStartTime = now
		t.warningLogged = false
	}
}

func (t *Tracker) persistState() error {
	if t.config.PersistStatePath == "" {
		return nil
	}

	data, err := json.MarshalIndent(t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.config.PersistStatePath), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Write to a temp file and rename so a crash never leaves half a file
	tmp := t.config.PersistStatePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, t.config.PersistStatePath); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

func (t *Tracker) loadState() error {
	data, err := os.ReadFile(t.config.PersistStatePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var state BudgetState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("failed to unmarshal state: %w", err)
	}
	t.state = state
	return nil
}

// emitAlertsIfNeeded throttles budget log lines to one per five minutes
func (t *Tracker) emitAlertsIfNeeded(status BudgetStatus) {
	now := t.now()

	switch status {
	case BudgetWarning:
		if !t.warningLogged && now.Sub(t.lastWarningTime) > 5*time.Minute {
			t.logger.Warn("reasoning budget warning",
				"hourly_tokens", t.state.HourlyTokensUsed,
				"max_tokens", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed,
				"max_cost", t.config.MaxCostPerHour)
			t.lastWarningTime = now
			t.warningLogged = true
		}
	case BudgetExceeded:
		if now.Sub(t.lastExceededTime) > 5*time.Minute {
			resetIn := t.state.WindowStartTime.Add(t.config.ResetInterval).Sub(now)
			t.logger.Error("reasoning budget exceeded, pausing analysis until reset",
				"hourly_tokens", t.state.HourlyTokensUsed,
				"max_tokens", t.config.MaxTokensPerHour,
				"hourly_cost", t.state.HourlyCostUsed,
				"max_cost", t.config.MaxCostPerHour,
				"resets_in", resetIn.Round(time.Minute))
			t.lastExceededTime = now
		}
	}
}
