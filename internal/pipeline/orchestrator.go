// Package pipeline drives the triage tick: ingest, fingerprint, aggregate,
// analyze and publish.
//
// A tick runs strictly in order and never in parallel: every enabled source
// is ingested, the fingerprint registry is updated over the trailing analysis
// window, one evidence bundle is built for that window, and up to
// MaxCandidates fingerprints with status new are analyzed and published one
// at a time. Cancellation is checked before each external call. Whatever was
// committed before cancellation stands.
//
// The publish guard consults the local integration ledger immediately before
// every tracker call. It is correct for a single running instance only; see
// storage.AcquireInstanceLock.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/steveyegge/triage/internal/evidence"
	"github.com/steveyegge/triage/internal/fingerprint"
	"github.com/steveyegge/triage/internal/ingest"
	"github.com/steveyegge/triage/internal/metrics"
	"github.com/steveyegge/triage/internal/storage"
	"github.com/steveyegge/triage/internal/telemetry"
	"github.com/steveyegge/triage/internal/tracker"
	"github.com/steveyegge/triage/internal/types"
	"github.com/steveyegge/triage/internal/window"
)

const (
	// DefaultAnalysisLookback is the trailing window analyzed every tick
	DefaultAnalysisLookback = time.Hour

	// DefaultMaxCandidates bounds the fingerprints analyzed per tick
	DefaultMaxCandidates = 5
)

// Config wires the orchestrator's collaborators and limits
type Config struct {
	Store    storage.Storage
	Source   ingest.LogSource
	Reasoner Reasoner
	Tracker  tracker.Tracker

	// CodeSearcher is optional; nil disables code context
	CodeSearcher CodeSearcher

	Watermark        time.Duration // default window.DefaultWatermark
	IngestLimit      int           // default ingest.DefaultLimit
	AnalysisLookback time.Duration // default 1h
	MaxCandidates    int           // default 5
	MaxSamples       int           // default evidence.DefaultMaxSamples
	IssueLabels      []string

	Logger *slog.Logger
	Now    func() time.Time
}

// Orchestrator runs pipeline ticks
type Orchestrator struct {
	store      storage.Storage
	windows    *window.Tracker
	ingester   *ingest.Ingester
	aggregator *evidence.Aggregator
	reasoner   Reasoner
	tracker    tracker.Tracker
	code       CodeSearcher

	lookback      time.Duration
	maxCandidates int
	maxSamples    int
	labels        []string

	logger *slog.Logger
	now    func() time.Time
}

// TickResult summarizes one tick
type TickResult struct {
	Window              types.Window
	Ingest              []ingest.Result
	EventsIngested      int
	FingerprintsCreated int
	FingerprintsTouched int
	NoExceptions        bool
	Candidates          int
	AnalysisFailures    int
	Published           int
	Duplicates          int
	PublishFailures     int
}

// New creates an orchestrator
func New(cfg *Config) (*Orchestrator, error) {
	if cfg.Store == nil || cfg.Source == nil || cfg.Reasoner == nil || cfg.Tracker == nil {
		return nil, fmt.Errorf("store, source, reasoner and tracker are required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	watermark := cfg.Watermark
	if watermark <= 0 {
		watermark = window.DefaultWatermark
	}
	lookback := cfg.AnalysisLookback
	if lookback <= 0 {
		lookback = DefaultAnalysisLookback
	}
	maxCandidates := cfg.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	maxSamples := cfg.MaxSamples
	if maxSamples <= 0 {
		maxSamples = evidence.DefaultMaxSamples
	}

	windows := window.NewTracker(cfg.Store, window.WithWatermark(watermark), window.WithClock(now))
	ingester := ingest.New(cfg.Source, cfg.Store, windows, ingest.Config{Limit: cfg.IngestLimit, Logger: logger, Now: now})

	return &Orchestrator{
		store:         cfg.Store,
		windows:       windows,
		ingester:      ingester,
		aggregator:    evidence.NewAggregator(cfg.Store),
		reasoner:      cfg.Reasoner,
		tracker:       cfg.Tracker,
		code:          cfg.CodeSearcher,
		lookback:      lookback,
		maxCandidates: maxCandidates,
		maxSamples:    maxSamples,
		labels:        cfg.IssueLabels,
		logger:        logger,
		now:           now,
	}, nil
}

// Tick runs the pipeline once. Failures of one source or one candidate are
// logged and counted; the returned error is reserved for failures that stop
// the tick (storage errors outside a candidate, cancellation).
func (o *Orchestrator) Tick(ctx context.Context) (res *TickResult, err error) {
	start := time.Now()
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.tick")
	defer func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
		switch {
		case err == nil:
			metrics.Ticks.WithLabelValues("ok").Inc()
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			metrics.Ticks.WithLabelValues("cancelled").Inc()
		default:
			metrics.Ticks.WithLabelValues("error").Inc()
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	res = &TickResult{}

	// 1. Ingest every enabled source
	if err := o.ingest(ctx, res); err != nil {
		return res, err
	}

	// 2. Registry over the trailing analysis window
	now := o.now().UTC().Truncate(time.Millisecond)
	w := types.Window{From: now.Add(-o.lookback), To: now}
	res.Window = w
	span.SetAttributes(attribute.String("window", w.String()))

	created, touched, err := o.UpdateRegistry(ctx, w)
	res.FingerprintsCreated, res.FingerprintsTouched = created, touched
	if err != nil {
		return res, err
	}

	// 3. One bundle for the same window
	bundle, err := o.aggregator.BuildBundle(ctx, w, o.maxSamples)
	if err != nil {
		return res, err
	}
	if !bundle.HasExceptions() {
		res.NoExceptions = true
		o.logger.Info("no exceptions in window, skipping analysis", "window_from", w.From, "window_to", w.To)
		return res, nil
	}

	// 4. Bounded candidate set
	status := types.FingerprintNew
	candidates, err := o.store.ListFingerprints(ctx, types.FingerprintFilter{
		Status:    &status,
		SeenSince: &w.From,
		Limit:     o.maxCandidates,
	})
	if err != nil {
		return res, fmt.Errorf("failed to select candidates: %w", err)
	}
	res.Candidates = len(candidates)

	// 5. One candidate at a time
	for _, fp := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		o.processCandidate(ctx, bundle, fp, res)
	}

	o.logger.Info("tick finished",
		"events", res.EventsIngested,
		"fingerprints_created", res.FingerprintsCreated,
		"candidates", res.Candidates,
		"published", res.Published,
		"duplicates", res.Duplicates,
		"analysis_failures", res.AnalysisFailures,
		"publish_failures", res.PublishFailures,
		"duration", time.Since(start))
	return res, ctx.Err()
}

func (o *Orchestrator) ingest(ctx context.Context, res *TickResult) error {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.ingest")
	defer span.End()

	results, err := o.ingester.IngestAll(ctx)
	res.Ingest = results
	for _, r := range results {
		res.EventsIngested += r.Events
		if r.Events > 0 {
			metrics.EventsIngested.WithLabelValues(r.SourceID).Add(float64(r.Events))
		}
		if r.Err != nil {
			metrics.IngestFailures.WithLabelValues(r.SourceID).Inc()
			continue
		}
		if lag, lagErr := o.windows.Lag(ctx, r.SourceID); lagErr == nil {
			metrics.CheckpointLag.WithLabelValues(r.SourceID).Set(lag.Seconds())
		}
	}
	span.SetAttributes(attribute.Int("events", res.EventsIngested))
	if err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (o *Orchestrator) processCandidate(ctx context.Context, bundle *evidence.Bundle, fp *types.Fingerprint, res *TickResult) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.candidate")
	defer span.End()
	span.SetAttributes(
		attribute.String("fingerprint", fp.ID),
		attribute.String("exception_type", fp.ExceptionType),
	)
	logger := o.logger.With("fingerprint", fp.ID, "exception_type", fp.ExceptionType)

	finding, err := o.analyze(ctx, bundle, fp)
	if err != nil {
		res.AnalysisFailures++
		span.RecordError(err)
		logger.Warn("analysis failed, fingerprint stays new", "err", err)
		return
	}

	outcome, err := o.Publish(ctx, fp, finding)
	switch outcome {
	case PublishCreated:
		res.Published++
	case PublishDuplicate:
		res.Duplicates++
	default:
		res.PublishFailures++
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		logger.Warn("publish failed, fingerprint stays new", "err", err)
	}
}

// UpdateRegistry fingerprints every event in w, backfills the event and
// applies the registry upsert policy. Duplicate events from overlapping
// windows are harmless: the upsert is idempotent.
func (o *Orchestrator) UpdateRegistry(ctx context.Context, w types.Window) (created, touched int, err error) {
	ctx, span := telemetry.Tracer().Start(ctx, "pipeline.registry")
	defer span.End()

	events, err := o.store.ListRawEvents(ctx, w, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read events for registry: %w", err)
	}

	known := make(map[string]*types.Fingerprint)
	for _, ev := range events {
		id, exType, frames := fingerprint.Fingerprint(ev.Message)

		if ev.FingerprintID != id || ev.ExceptionType != exType {
			if err := o.store.AnnotateRawEvent(ctx, ev.ID, id, exType); err != nil {
				return created, touched, err
			}
		}

		existing, ok := known[id]
		if !ok {
			existing, err = o.store.GetFingerprint(ctx, id)
			if err != nil {
				return created, touched, err
			}
		}

		next, op := fingerprint.Observe(existing, types.FingerprintObservation{
			FingerprintID: id,
			ExceptionType: exType,
			TopFrames:     frames,
			Timestamp:     ev.Timestamp,
			Service:       ev.Service,
			Env:           ev.Env,
			Version:       ev.Version,
		})
		switch op {
		case fingerprint.OpInsert:
			if err := o.store.InsertFingerprint(ctx, next); err != nil {
				return created, touched, err
			}
			created++
			metrics.FingerprintsCreated.Inc()
			o.logger.Info("new fingerprint", "fingerprint", id, "exception_type", exType, "service", ev.Service)
		case fingerprint.OpTouch:
			if err := o.store.TouchFingerprint(ctx, next); err != nil {
				return created, touched, err
			}
			touched++
		}
		known[id] = next
	}

	span.SetAttributes(attribute.Int("events", len(events)), attribute.Int("created", created))
	return created, touched, nil
}
