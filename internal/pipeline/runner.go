package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/steveyegge/triage/internal/config"
	"github.com/steveyegge/triage/internal/metrics"
)

// RawEventCleaner deletes old raw events in batches
type RawEventCleaner interface {
	CleanupRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int, error)
}

// CleanupRawEvents applies the retention policy once and returns the number
// of events deleted
func CleanupRawEvents(ctx context.Context, store RawEventCleaner, cfg config.RetentionConfig, now time.Time) (int, error) {
	if err := cfg.Validate(); err != nil {
		return 0, fmt.Errorf("invalid retention config: %w", err)
	}
	deleted, err := store.CleanupRawEvents(ctx, cfg.Cutoff(now), cfg.CleanupBatchSize)
	if deleted > 0 {
		metrics.RawEventsCleaned.Add(float64(deleted))
	}
	if err != nil {
		return deleted, fmt.Errorf("raw event cleanup failed: %w", err)
	}
	return deleted, nil
}

// ErrPaused is returned by Trigger while the runner is paused
var ErrPaused = errors.New("runner is paused")

// Runner ticks the orchestrator on a fixed interval and cleans up old raw
// events in the background. Ticks can be paused and triggered early.
type Runner struct {
	orch      *Orchestrator
	interval  time.Duration
	retention config.RetentionConfig
	logger    *slog.Logger
	triggerCh chan struct{}

	mu            sync.RWMutex
	running       bool
	cancel        context.CancelFunc
	doneCh        chan struct{}
	cleanupDoneCh chan struct{}

	paused      bool
	pauseReason string
	pausedAt    time.Time

	ticks    int64
	lastTick *TickSummary
}

// TickSummary describes the most recent tick
type TickSummary struct {
	StartedAt        time.Time `json:"started_at"`
	DurationMs       int64     `json:"duration_ms"`
	Events           int       `json:"events"`
	Candidates       int       `json:"candidates"`
	Published        int       `json:"published"`
	AnalysisFailures int       `json:"analysis_failures"`
	PublishFailures  int       `json:"publish_failures"`
	Error            string    `json:"error,omitempty"`
}

// RunnerStatus is a point-in-time view of the runner
type RunnerStatus struct {
	Running     bool         `json:"running"`
	Paused      bool         `json:"paused"`
	PauseReason string       `json:"pause_reason,omitempty"`
	PausedAt    *time.Time   `json:"paused_at,omitempty"`
	Interval    string       `json:"interval"`
	Ticks       int64        `json:"ticks"`
	LastTick    *TickSummary `json:"last_tick,omitempty"`
}

// NewRunner creates a runner
func NewRunner(orch *Orchestrator, interval time.Duration, retention config.RetentionConfig) *Runner {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Runner{
		orch:      orch,
		interval:  interval,
		retention: retention,
		logger:    orch.logger,
		triggerCh: make(chan struct{}, 1),
	}
}

// Start runs the first tick immediately and then one per interval until
// Stop is called or ctx is cancelled
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("runner is already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	r.cleanupDoneCh = make(chan struct{})
	r.running = true

	go r.tickLoop(runCtx)
	go r.cleanupLoop(runCtx)

	r.logger.Info("runner started", "interval", r.interval, "retention", r.retention.String())
	return nil
}

// Stop cancels any in-flight tick and waits for the loops to exit
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return fmt.Errorf("runner is not running")
	}
	cancel, doneCh, cleanupDoneCh := r.cancel, r.doneCh, r.cleanupDoneCh
	r.mu.Unlock()

	cancel()

	tickDone, cleanupDone := false, false
	for !tickDone || !cleanupDone {
		select {
		case <-doneCh:
			tickDone = true
		case <-cleanupDoneCh:
			cleanupDone = true
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
	r.logger.Info("runner stopped")
	return nil
}

// IsRunning reports whether the loops are active
func (r *Runner) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Done is closed when the tick loop exits
func (r *Runner) Done() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.doneCh
}

// Pause skips scheduled ticks until Resume. An in-flight tick finishes.
func (r *Runner) Pause(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.paused {
		return fmt.Errorf("runner is already paused (%s)", r.pauseReason)
	}
	r.paused = true
	r.pauseReason = reason
	r.pausedAt = time.Now()
	metrics.RunnerPaused.Set(1)
	r.logger.Info("runner paused", "reason", reason)
	return nil
}

// Resume re-enables scheduled ticks
func (r *Runner) Resume() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.paused {
		return fmt.Errorf("runner is not paused")
	}
	r.paused = false
	r.pauseReason = ""
	r.pausedAt = time.Time{}
	metrics.RunnerPaused.Set(0)
	r.logger.Info("runner resumed")
	return nil
}

// Trigger asks for a tick now instead of at the next interval. Triggers
// made while one is pending coalesce.
func (r *Runner) Trigger() error {
	r.mu.RLock()
	running, paused := r.running, r.paused
	r.mu.RUnlock()
	if !running {
		return fmt.Errorf("runner is not running")
	}
	if paused {
		return ErrPaused
	}
	select {
	case r.triggerCh <- struct{}{}:
	default:
	}
	return nil
}

// Status returns the runner's current state
func (r *Runner) Status() RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := RunnerStatus{
		Running:     r.running,
		Paused:      r.paused,
		PauseReason: r.pauseReason,
		Interval:    r.interval.String(),
		Ticks:       r.ticks,
	}
	if r.paused {
		at := r.pausedAt
		st.PausedAt = &at
	}
	if r.lastTick != nil {
		last := *r.lastTick
		st.LastTick = &last
	}
	return st
}

func (r *Runner) tickLoop(ctx context.Context) {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runTick(ctx)
		case <-r.triggerCh:
			r.runTick(ctx)
		}
	}
}

// runTick never stops the loop; only cancellation does
func (r *Runner) runTick(ctx context.Context) {
	r.mu.RLock()
	paused := r.paused
	r.mu.RUnlock()
	if paused {
		r.logger.Debug("runner paused, skipping tick")
		return
	}

	start := time.Now()
	res, err := r.orch.Tick(ctx)
	if err != nil && errors.Is(err, context.Canceled) {
		return
	}

	summary := &TickSummary{StartedAt: start, DurationMs: time.Since(start).Milliseconds()}
	if res != nil {
		summary.Events = res.EventsIngested
		summary.Candidates = res.Candidates
		summary.Published = res.Published
		summary.AnalysisFailures = res.AnalysisFailures
		summary.PublishFailures = res.PublishFailures
	}
	if err != nil {
		summary.Error = err.Error()
		r.logger.Error("tick failed", "err", err)
	}

	r.mu.Lock()
	r.ticks++
	r.lastTick = summary
	r.mu.Unlock()
}

func (r *Runner) cleanupLoop(ctx context.Context) {
	defer close(r.cleanupDoneCh)

	if !r.retention.CleanupEnabled {
		r.logger.Info("raw event cleanup disabled")
		return
	}
	if err := r.retention.Validate(); err != nil {
		r.logger.Warn("raw event cleanup disabled: invalid configuration", "err", err)
		return
	}

	ticker := time.NewTicker(r.retention.Interval())
	defer ticker.Stop()

	r.runCleanup(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCleanup(ctx)
		}
	}
}

func (r *Runner) runCleanup(ctx context.Context) {
	deleted, err := CleanupRawEvents(ctx, r.orch.store, r.retention, r.orch.now())
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			r.logger.Warn("raw event cleanup failed", "deleted", deleted, "err", err)
		}
		return
	}
	if deleted > 0 {
		r.logger.Info("raw event cleanup", "deleted", deleted, "retention_days", r.retention.RetentionDays)
	}
}
