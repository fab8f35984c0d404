// Package metrics exposes the pipeline's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Analysis outcome label values
const (
	OutcomeSuccess = "success"
	OutcomeFailed  = "failed"
	OutcomeEmpty   = "empty"
)

var (
	Ticks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_ticks_total",
		Help: "Total number of pipeline ticks, labelled by result.",
	}, []string{"result"})

	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_tick_duration_seconds",
		Help:    "Wall-clock duration of one pipeline tick.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	EventsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_events_ingested_total",
		Help: "Total number of raw events stored, labelled by source.",
	}, []string{"source"})

	IngestFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_ingest_failures_total",
		Help: "Total number of failed source ingestions, labelled by source.",
	}, []string{"source"})

	CheckpointLag = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triage_checkpoint_lag_seconds",
		Help: "Distance between now and the committed checkpoint, labelled by source.",
	}, []string{"source"})

	FingerprintsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_fingerprints_created_total",
		Help: "Total number of fingerprints added to the registry.",
	})

	Analyses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_analyses_total",
		Help: "Total number of candidate analyses, labelled by outcome.",
	}, []string{"outcome"})

	IssuesPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_issues_published_total",
		Help: "Total number of external issues created, labelled by provider.",
	}, []string{"provider"})

	PublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_publish_failures_total",
		Help: "Total number of failed issue creations, labelled by provider.",
	}, []string{"provider"})

	DuplicatesPrevented = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_duplicate_publishes_prevented_total",
		Help: "Total number of publishes skipped because an open issue already existed.",
	}, []string{"provider"})

	RawEventsCleaned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_raw_events_cleaned_total",
		Help: "Total number of raw events removed by retention cleanup.",
	})

	ReasoningTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_reasoning_tokens_total",
		Help: "Total number of reasoning tokens consumed, labelled by direction.",
	}, []string{"direction"})

	ReasoningCost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_reasoning_cost_dollars_total",
		Help: "Estimated reasoning spend in USD.",
	})

	BudgetStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_budget_status",
		Help: "Reasoning budget state: 0 healthy, 1 warning, 2 exceeded.",
	})

	RunnerPaused = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "triage_runner_paused",
		Help: "1 while the loop is paused through the control socket.",
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
