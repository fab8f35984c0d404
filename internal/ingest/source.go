// Package ingest pulls log lines for each enabled source query over its next
// checkpointed window and stores them as raw events.
package ingest

import (
	"context"
	"time"
)

// Entry is one log line as returned by a log source
type Entry struct {
	Timestamp time.Time
	Line      string
}

// Stream is a set of entries sharing one label set
type Stream struct {
	Labels  map[string]string
	Entries []Entry
}

// LogSource runs a range query against a log backend.
// Implementations return entries in [start, end] in ascending time order per stream.
type LogSource interface {
	QueryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]Stream, error)
}

// EntryCount returns the total number of entries across streams
func EntryCount(streams []Stream) int {
	n := 0
	for _, s := range streams {
		n += len(s.Entries)
	}
	return n
}
