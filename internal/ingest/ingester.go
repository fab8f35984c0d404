package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/steveyegge/triage/internal/types"
	"github.com/steveyegge/triage/internal/window"
)

// DefaultLimit caps entries per source query per tick
const DefaultLimit = 5000

// Store is the persistence surface the ingester writes to
type Store interface {
	ListSources(ctx context.Context, enabledOnly bool) ([]*types.SourceQuery, error)
	InsertRawEvents(ctx context.Context, events []*types.RawEvent) error
}

// Result summarizes ingestion for one source
type Result struct {
	SourceID  string
	Window    types.Window
	Events    int
	Truncated bool
	Skipped   bool
	Committed time.Time
	Err       error
}

// Ingester fetches each enabled source's next window, stores the events and
// only then commits the checkpoint.
type Ingester struct {
	source  LogSource
	store   Store
	tracker *window.Tracker
	limit   int
	logger  *slog.Logger
	now     func() time.Time
}

// Config holds ingester settings
type Config struct {
	Limit  int
	Logger *slog.Logger
	Now    func() time.Time
}

// New creates an ingester. A zero Limit uses DefaultLimit.
func New(source LogSource, store Store, tracker *window.Tracker, cfg Config) *Ingester {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ingester{
		source:  source,
		store:   store,
		tracker: tracker,
		limit:   cfg.Limit,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// IngestAll processes every enabled source in turn. A failing source is
// logged and does not stop the others; only cancellation ends the pass early.
func (i *Ingester) IngestAll(ctx context.Context) ([]Result, error) {
	sources, err := i.store.ListSources(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		res := i.IngestSource(ctx, src)
		if res.Err != nil {
			i.logger.Warn("ingest failed", "source", src.ID, "err", res.Err)
		}
		results = append(results, res)
	}
	return results, nil
}

// IngestSource ingests one window for one source. Errors are reported in
// Result.Err; the checkpoint is untouched when anything before the commit fails.
func (i *Ingester) IngestSource(ctx context.Context, src *types.SourceQuery) Result {
	res := Result{SourceID: src.ID}

	w, err := i.tracker.NextWindow(ctx, src.ID)
	if err != nil {
		res.Err = err
		return res
	}
	res.Window = w
	if w.IsEmpty() {
		res.Skipped = true
		return res
	}

	streams, err := i.source.QueryRange(ctx, src.Query, w.From, w.To, i.limit)
	if err != nil {
		res.Err = fmt.Errorf("query %s %s: %w", src.ID, w, err)
		return res
	}

	events, newest := i.toRawEvents(src.ID, w, streams)
	if len(events) > 0 {
		if err := i.store.InsertRawEvents(ctx, events); err != nil {
			res.Err = fmt.Errorf("failed to store events for %s: %w", src.ID, err)
			return res
		}
	}
	res.Events = len(events)

	// A full page means the backend may hold more lines in this window.
	// Resume from the newest line seen; re-reading that instant is tolerated.
	// A page filled entirely at w.From can never make progress, so step one
	// millisecond past it and accept losing the lines the page could not hold.
	commitTo := w.To
	if EntryCount(streams) >= i.limit {
		res.Truncated = true
		if newest.After(w.From) {
			commitTo = newest
		} else {
			commitTo = w.From.Add(time.Millisecond)
			if commitTo.After(w.To) {
				commitTo = w.To
			}
			i.logger.Warn("ingest page saturated at window start; raise the query limit",
				"source", src.ID, "limit", i.limit, "instant", w.From, "resume_at", commitTo)
		}
		i.logger.Info("ingest window truncated", "source", src.ID, "limit", i.limit,
			"window_from", w.From, "window_to", w.To, "resume_at", commitTo)
	}

	if err := i.tracker.Commit(ctx, src.ID, commitTo); err != nil {
		res.Err = err
		return res
	}
	res.Committed = commitTo

	i.logger.Debug("ingested window", "source", src.ID, "window_from", w.From, "window_to", w.To, "events", res.Events)
	return res
}

// toRawEvents maps streams into raw events, truncating timestamps to
// milliseconds and dropping entries outside [From, To).
func (i *Ingester) toRawEvents(sourceID string, w types.Window, streams []Stream) ([]*types.RawEvent, time.Time) {
	ingestedAt := i.now().UTC()
	var newest time.Time
	var events []*types.RawEvent

	for _, s := range streams {
		for _, e := range s.Entries {
			ts := e.Timestamp.UTC().Truncate(time.Millisecond)
			if !w.Contains(ts) {
				continue
			}
			if ts.After(newest) {
				newest = ts
			}
			ev := &types.RawEvent{
				SourceID:   sourceID,
				Timestamp:  ts,
				Labels:     copyLabels(s.Labels),
				Message:    e.Line,
				IngestedAt: ingestedAt,
			}
			applyLabels(ev, sourceID, s.Labels)
			events = append(events, ev)
		}
	}
	return events, newest
}

// applyLabels lifts well-known stream labels onto the event. Service falls
// back to job, then to the source id.
func applyLabels(ev *types.RawEvent, sourceID string, labels map[string]string) {
	ev.Service = firstLabel(labels, "service", "job")
	if ev.Service == "" {
		ev.Service = sourceID
	}
	ev.Env = firstLabel(labels, "env", "environment")
	ev.Version = firstLabel(labels, "version", "app_version")
	ev.Host = firstLabel(labels, "host", "hostname", "instance")
	ev.Level = firstLabel(labels, "level", "severity", "detected_level")
	ev.TraceID = firstLabel(labels, "trace_id", "traceId")
	ev.SessionID = firstLabel(labels, "session_id", "sessionId")
	ev.ThreadID = firstLabel(labels, "thread_id", "thread")
}

func firstLabel(labels map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := labels[k]; v != "" {
			return v
		}
	}
	return ""
}

func copyLabels(labels map[string]string) map[string]string {
	if len(labels) == 0 {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}
