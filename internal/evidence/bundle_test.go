package evidence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/triage/internal/types"
)

type sliceReader struct {
	events    []*types.RawEvent
	err       error
	lastLimit int
}

func (r *sliceReader) ListRawEvents(_ context.Context, w types.Window, limit int) ([]*types.RawEvent, error) {
	r.lastLimit = limit
	if r.err != nil {
		return nil, r.err
	}
	var out []*types.RawEvent
	for _, ev := range r.events {
		if w.Contains(ev.Timestamp) {
			out = append(out, ev)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

var base = time.Date(2025, 3, 1, 11, 0, 0, 0, time.UTC)

func window() types.Window {
	return types.Window{From: base, To: base.Add(time.Hour)}
}

func event(offset time.Duration, exType, fpID, msg string) *types.RawEvent {
	return &types.RawEvent{
		ID:            fmt.Sprintf("ev-%d", offset),
		Timestamp:     base.Add(offset),
		ExceptionType: exType,
		FingerprintID: fpID,
		Message:       msg,
	}
}

func TestBuildBundleCountsCaseInsensitively(t *testing.T) {
	r := &sliceReader{events: []*types.RawEvent{
		event(1*time.Minute, "System.TimeoutException", "fp1", "a"),
		event(2*time.Minute, "system.timeoutexception", "fp1", "b"),
		event(3*time.Minute, "System.NullReferenceException", "fp2", "c"),
	}}

	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), DefaultMaxSamples)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"System.TimeoutException":       2,
		"System.NullReferenceException": 1,
	}, b.ExceptionCounts)
	assert.Equal(t, 2, b.FingerprintCounts["fp1"])
	assert.Equal(t, 3, b.EventCount)
	assert.True(t, b.HasExceptions())
	assert.Equal(t, []string{"System.TimeoutException", "System.NullReferenceException"}, b.TopExceptions())
}

func TestBuildBundleSamplesAreGloballyBounded(t *testing.T) {
	var events []*types.RawEvent
	for i := 0; i < 50; i++ {
		fp := fmt.Sprintf("fp%d", i%7)
		events = append(events, event(time.Duration(i)*time.Second, "E"+fp, fp, fmt.Sprintf("failure %d", i%13)))
	}
	r := &sliceReader{events: events}

	for _, maxSamples := range []int{0, 1, 3, 5, 20} {
		b, err := NewAggregator(r).BuildBundle(context.Background(), window(), maxSamples)
		require.NoError(t, err)

		assert.LessOrEqual(t, len(b.Samples), maxSamples)
		seen := map[string]bool{}
		for _, s := range b.Samples {
			assert.False(t, seen[s], "duplicate sample %q", s)
			seen[s] = true
			assert.LessOrEqual(t, utf8.RuneCountInString(s), SampleCharBudget+len(truncationMarker))
		}
	}
}

func TestBuildBundleDeduplicatesSamples(t *testing.T) {
	r := &sliceReader{events: []*types.RawEvent{
		event(1*time.Minute, "E", "fp", "same failure"),
		event(2*time.Minute, "E", "fp", "  same failure  "),
		event(3*time.Minute, "E", "fp", "other failure"),
	}}

	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	assert.Equal(t, []string{"same failure", "other failure"}, b.Samples)
}

func TestBuildBundleTruncatesLongSamples(t *testing.T) {
	long := strings.Repeat("x", SampleCharBudget+500)
	r := &sliceReader{events: []*types.RawEvent{event(time.Minute, "E", "fp", long)}}

	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	require.Len(t, b.Samples, 1)
	assert.True(t, strings.HasSuffix(b.Samples[0], truncationMarker))
	assert.Equal(t, SampleCharBudget+len(truncationMarker), len(b.Samples[0]))
}

func TestBuildBundleLastWriteWinsLabels(t *testing.T) {
	e1 := event(1*time.Minute, "E", "fp", "a")
	e1.Service, e1.Env, e1.Version = "orders", "prod", "1.0.0"
	e2 := event(2*time.Minute, "E", "fp", "b")
	e2.Service, e2.Version = "billing", "1.2.0"
	r := &sliceReader{events: []*types.RawEvent{e1, e2}}

	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	assert.Equal(t, "billing", b.Service)
	assert.Equal(t, "prod", b.Env, "empty labels do not overwrite")
	assert.Equal(t, "1.2.0", b.Version)
	assert.Equal(t, "1.0.0 - 1.2.0", b.VersionRange("fp"))
}

func TestBuildBundleClassifiesUnannotatedEvents(t *testing.T) {
	r := &sliceReader{events: []*types.RawEvent{
		event(time.Minute, "", "", "Exception stack trace: Foo.BarException: boom\n   at Foo.Baz()"),
		event(2*time.Minute, "", "", "no idea what happened"),
	}}

	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, b.ExceptionCounts["Foo.BarException"])
	assert.Equal(t, 1, b.ExceptionCounts["Unknown"])
}

func TestBuildBundleEmptyWindow(t *testing.T) {
	b, err := NewAggregator(&sliceReader{}).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	assert.False(t, b.HasExceptions())
	assert.Empty(t, b.Samples)
	assert.Nil(t, b.Chains)
}

func TestBuildBundleUsesScanLimit(t *testing.T) {
	r := &sliceReader{}
	_, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)
	assert.Equal(t, ScanLimit, r.lastLimit)
}

func TestBuildBundlePropagatesReadErrors(t *testing.T) {
	_, err := NewAggregator(&sliceReader{err: errors.New("db gone")}).BuildBundle(context.Background(), window(), 5)
	assert.Error(t, err)
}

func TestBundleJSON(t *testing.T) {
	r := &sliceReader{events: []*types.RawEvent{event(time.Minute, "E", "fp", "boom")}}
	b, err := NewAggregator(r).BuildBundle(context.Background(), window(), 5)
	require.NoError(t, err)

	out, err := b.JSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"exception_counts"`)
	assert.Contains(t, out, `"boom"`)
	assert.NotContains(t, out, `"chains"`)
}

func TestVersionRange(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"1.2.0"}, "1.2.0"},
		{[]string{"1.10.0", "1.2.0", "v1.9.1"}, "1.2.0 - 1.10.0"},
		{[]string{"1.2.0", "v1.2.0"}, "1.2.0"},
		{[]string{"build-77", "1.2.0"}, "build-77, 1.2.0"},
	}

	for _, tt := range tests {
		if got := versionRange(tt.in); got != tt.want {
			t.Errorf("versionRange(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
