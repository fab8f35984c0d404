// Package window computes and commits per-source ingestion windows.
//
// Each source owns a checkpoint. The next window always starts at the last
// committed checkpoint and ends a watermark before "now", so late-arriving log
// lines have time to land before their range is read. A checkpoint is only
// committed after the window's events are stored, and never moves backwards.
package window

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/steveyegge/triage/internal/types"
)

const (
	// DefaultWatermark is how far behind "now" a window must end
	DefaultWatermark = 120 * time.Second

	// DefaultInitialLookback is the window start for a source with no checkpoint
	DefaultInitialLookback = time.Hour
)

// ErrCheckpointRegression is returned when a commit would move a checkpoint backwards
var ErrCheckpointRegression = errors.New("checkpoint regression")

// CheckpointStore persists checkpoints. GetCheckpoint returns (nil, nil) when
// the source has never been committed.
type CheckpointStore interface {
	GetCheckpoint(ctx context.Context, sourceID string) (*types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
}

// Tracker hands out ingestion windows and commits checkpoints
type Tracker struct {
	store           CheckpointStore
	watermark       time.Duration
	initialLookback time.Duration
	now             func() time.Time
}

// Option configures a Tracker
type Option func(*Tracker)

// WithWatermark overrides the default watermark
func WithWatermark(d time.Duration) Option {
	return func(t *Tracker) {
		if d >= 0 {
			t.watermark = d
		}
	}
}

// WithInitialLookback overrides how far back a first window reaches
func WithInitialLookback(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.initialLookback = d
		}
	}
}

// WithClock injects the time source (tests)
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates a tracker over the given checkpoint store
func NewTracker(store CheckpointStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:           store,
		watermark:       DefaultWatermark,
		initialLookback: DefaultInitialLookback,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NextWindow returns [checkpoint, now - watermark) for the source. The window
// is empty (From >= To) when the checkpoint is already within the watermark;
// callers skip ingestion in that case.
func (t *Tracker) NextWindow(ctx context.Context, sourceID string) (types.Window, error) {
	now := t.now().UTC().Truncate(time.Millisecond)

	cp, err := t.store.GetCheckpoint(ctx, sourceID)
	if err != nil {
		return types.Window{}, fmt.Errorf("failed to load checkpoint for %s: %w", sourceID, err)
	}

	// The checkpoint's watermark only records what was in force at commit
	// time; the configured watermark always bounds the window.
	from := now.Add(-t.initialLookback)
	if cp != nil {
		from = cp.LastProcessedAt.UTC()
	}

	return types.Window{From: from, To: now.Add(-t.watermark)}, nil
}

// Commit records that everything before "to" has been stored for the source.
// Committing the current checkpoint again is a no-op; committing an earlier
// instant returns ErrCheckpointRegression.
func (t *Tracker) Commit(ctx context.Context, sourceID string, to time.Time) error {
	cp, err := t.store.GetCheckpoint(ctx, sourceID)
	if err != nil {
		return fmt.Errorf("failed to load checkpoint for %s: %w", sourceID, err)
	}

	if cp != nil {
		if to.Before(cp.LastProcessedAt) {
			return fmt.Errorf("%w: source %s at %s, refusing %s", ErrCheckpointRegression,
				sourceID, cp.LastProcessedAt.UTC().Format(time.RFC3339Nano), to.UTC().Format(time.RFC3339Nano))
		}
		if to.Equal(cp.LastProcessedAt) {
			return nil
		}
	}

	next := &types.Checkpoint{
		SourceID:         sourceID,
		LastProcessedAt:  to.UTC(),
		WatermarkSeconds: int(t.watermark / time.Second),
		UpdatedAt:        t.now().UTC(),
	}
	if err := t.store.SaveCheckpoint(ctx, next); err != nil {
		return fmt.Errorf("failed to commit checkpoint for %s: %w", sourceID, err)
	}
	return nil
}

// Lag reports how far the source's checkpoint trails now, or zero when the
// source has never been committed.
func (t *Tracker) Lag(ctx context.Context, sourceID string) (time.Duration, error) {
	cp, err := t.store.GetCheckpoint(ctx, sourceID)
	if err != nil || cp == nil {
		return 0, err
	}
	return t.now().Sub(cp.LastProcessedAt), nil
}
