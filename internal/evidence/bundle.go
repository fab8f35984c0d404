// Package evidence builds bounded, read-only summaries of the failures seen
// in a time window.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/steveyegge/triage/internal/fingerprint"
	"github.com/steveyegge/triage/internal/types"
)

const (
	// DefaultMaxSamples is the sample count used by the pipeline
	DefaultMaxSamples = 5

	// SampleCharBudget bounds each sample, in characters
	SampleCharBudget = 2000

	// ScanLimit bounds how many events one bundle reads
	ScanLimit = 2000

	truncationMarker = "..."
)

// EventReader reads raw events in timestamp order
type EventReader interface {
	ListRawEvents(ctx context.Context, w types.Window, limit int) ([]*types.RawEvent, error)
}

// Bundle is a size-bounded summary of one window
type Bundle struct {
	Window            types.Window        `json:"window"`
	EventCount        int                 `json:"event_count"`
	ScanTruncated     bool                `json:"scan_truncated,omitempty"`
	ExceptionCounts   map[string]int      `json:"exception_counts"`
	FingerprintCounts map[string]int      `json:"fingerprint_counts,omitempty"`
	Samples           []string            `json:"samples"`
	Service           string              `json:"service,omitempty"`
	Env               string              `json:"env,omitempty"`
	Version           string              `json:"version,omitempty"`
	Versions          map[string][]string `json:"-"`

	// Chains is reserved for cross-service causal chains. Nothing fills it yet.
	Chains []string `json:"chains,omitempty"`
}

// HasExceptions reports whether any failure was counted
func (b *Bundle) HasExceptions() bool {
	return len(b.ExceptionCounts) > 0
}

// JSON renders the bundle for inclusion in an analysis request
func (b *Bundle) JSON() (string, error) {
	data, err := json.MarshalIndent(b, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal evidence bundle: %w", err)
	}
	return string(data), nil
}

// VersionRange describes the versions a fingerprint was seen on in this
// bundle, e.g. "1.4.0", "1.4.0 - 1.6.2". Empty when no version was recorded.
func (b *Bundle) VersionRange(fingerprintID string) string {
	return versionRange(b.Versions[fingerprintID])
}

// Aggregator builds bundles from stored raw events
type Aggregator struct {
	events    EventReader
	scanLimit int
}

// NewAggregator creates an aggregator reading from events
func NewAggregator(events EventReader) *Aggregator {
	return &Aggregator{events: events, scanLimit: ScanLimit}
}

// BuildBundle summarizes the events in w. It never writes: events whose
// exception type has not been backfilled yet are classified on the fly.
//
// Counts are keyed case-insensitively and displayed with the first casing
// seen. Samples are deduplicated across the whole window, capped at
// maxSamples and each truncated to SampleCharBudget characters. The
// service/env/version labels are those of the last event scanned.
func (a *Aggregator) BuildBundle(ctx context.Context, w types.Window, maxSamples int) (*Bundle, error) {
	if maxSamples < 0 {
		maxSamples = 0
	}

	events, err := a.events.ListRawEvents(ctx, w, a.scanLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read raw events for %s: %w", w, err)
	}

	b := &Bundle{
		Window:            w,
		EventCount:        len(events),
		ScanTruncated:     len(events) >= a.scanLimit,
		ExceptionCounts:   make(map[string]int),
		FingerprintCounts: make(map[string]int),
		Samples:           []string{},
		Versions:          make(map[string][]string),
	}

	displayKeys := make(map[string]string)
	seenSamples := make(map[string]bool)
	seenVersions := make(map[string]map[string]bool)

	for _, ev := range events {
		exType, fpID := ev.ExceptionType, ev.FingerprintID
		if exType == "" || fpID == "" {
			fpID, exType, _ = fingerprint.Fingerprint(ev.Message)
		}

		key := strings.ToLower(exType)
		display, ok := displayKeys[key]
		if !ok {
			display = exType
			displayKeys[key] = display
		}
		b.ExceptionCounts[display]++
		b.FingerprintCounts[fpID]++

		if ev.Version != "" {
			if seenVersions[fpID] == nil {
				seenVersions[fpID] = make(map[string]bool)
			}
			if !seenVersions[fpID][ev.Version] {
				seenVersions[fpID][ev.Version] = true
				b.Versions[fpID] = append(b.Versions[fpID], ev.Version)
			}
		}

		if len(b.Samples) < maxSamples {
			sample := strings.TrimSpace(ev.Message)
			if sample != "" && !seenSamples[sample] {
				seenSamples[sample] = true
				b.Samples = append(b.Samples, TruncateSample(sample, SampleCharBudget))
			}
		}

		if ev.Service != "" {
			b.Service = ev.Service
		}
		if ev.Env != "" {
			b.Env = ev.Env
		}
		if ev.Version != "" {
			b.Version = ev.Version
		}
	}

	return b, nil
}

// TruncateSample cuts s to at most budget characters, appending a marker
// when anything was dropped.
func TruncateSample(s string, budget int) string {
	if utf8.RuneCountInString(s) <= budget {
		return s
	}
	runes := []rune(s)
	return string(runes[:budget]) + truncationMarker
}

// TopExceptions returns exception types ordered by descending count
func (b *Bundle) TopExceptions() []string {
	names := make([]string, 0, len(b.ExceptionCounts))
	for name := range b.ExceptionCounts {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := b.ExceptionCounts[names[i]], b.ExceptionCounts[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	return names
}
