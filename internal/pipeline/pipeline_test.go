package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/triage/internal/fingerprint"
	"github.com/steveyegge/triage/internal/git"
	"github.com/steveyegge/triage/internal/ingest"
	"github.com/steveyegge/triage/internal/storage/sqlite"
	"github.com/steveyegge/triage/internal/tracker"
	"github.com/steveyegge/triage/internal/types"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const (
	timeoutTrace = "Exception stack trace: System.TimeoutException: checkout took too long\n" +
		"   at Orders.Api.Checkout.Submit(Order order) in /build/src/Checkout.cs:line 42\n" +
		"   at Orders.Api.OrdersController.Post() in /build/src/OrdersController.cs:line 17"

	nullTrace = "Exception stack trace: System.NullReferenceException: Object reference not set\n" +
		"   at Orders.Api.Cart.Total() in /build/src/Cart.cs:line 9"

	goodAnalysis = `{"root_cause":"pool exhausted","chain":["db","checkout"],"severity":"high","suggested_fix":"raise the pool size"}`
)

type fakeSource struct {
	mu      sync.Mutex
	streams map[string][]ingest.Stream
	calls   int
}

func (f *fakeSource) QueryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]ingest.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.streams[query], nil
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeReasoner struct {
	mu     sync.Mutex
	answer string
	err    error
	hook   func()
	inputs []string
}

func (f *fakeReasoner) Analyze(ctx context.Context, evidence string) (string, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, evidence)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return f.answer, f.err
}

func (f *fakeReasoner) Model() string         { return "test-model" }
func (f *fakeReasoner) PromptVersion() string { return "test-prompt" }

func (f *fakeReasoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inputs)
}

type createCall struct {
	Title  string
	Body   string
	Labels []string
}

type fakeTracker struct {
	mu      sync.Mutex
	err     error
	findErr error
	result  *tracker.CreatedIssue
	calls   []createCall
	filed   map[string]*tracker.CreatedIssue // body -> issue
}

func (f *fakeTracker) Provider() string { return "fake" }

func (f *fakeTracker) CreateIssue(ctx context.Context, title, body string, labels []string) (*tracker.CreatedIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, createCall{Title: title, Body: body, Labels: labels})
	if f.err != nil {
		return nil, f.err
	}
	res := f.result
	if res == nil {
		res = &tracker.CreatedIssue{Created: true, IssueKey: "42", URL: "https://example.test/issues/42"}
	}
	if res.Created && res.IssueKey != "" {
		if f.filed == nil {
			f.filed = map[string]*tracker.CreatedIssue{}
		}
		f.filed[body] = res
	}
	return res, nil
}

// FindOpenIssue matches the marker in bodies this fake has filed
func (f *fakeTracker) FindOpenIssue(ctx context.Context, fingerprintID string) (*tracker.CreatedIssue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return nil, f.findErr
	}
	marker := tracker.FingerprintMarker(fingerprintID)
	for body, issue := range f.filed {
		if strings.Contains(body, marker) {
			return &tracker.CreatedIssue{IssueKey: issue.IssueKey, URL: issue.URL}, nil
		}
	}
	return nil, nil
}

func (f *fakeTracker) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeCode struct {
	searchErr error
	matches   []git.Match
	queries   []string
	fetched   [][2]int
}

func (f *fakeCode) Search(ctx context.Context, req git.SearchRequest) ([]git.Match, error) {
	f.queries = append(f.queries, req.Query)
	return f.matches, f.searchErr
}

func (f *fakeCode) FetchSnippet(ctx context.Context, path string, startLine, endLine int) (*git.Snippet, error) {
	f.fetched = append(f.fetched, [2]int{startLine, endLine})
	return &git.Snippet{Path: path, StartLine: startLine, EndLine: endLine, Content: "public void Submit() {}", Commit: "abc123"}, nil
}

type harness struct {
	store    *sqlite.SQLiteStorage
	source   *fakeSource
	reasoner *fakeReasoner
	tracker  *fakeTracker
	orch     *Orchestrator
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	h := &harness{
		store:    store,
		source:   &fakeSource{streams: map[string][]ingest.Stream{}},
		reasoner: &fakeReasoner{answer: goodAnalysis},
		tracker:  &fakeTracker{},
	}
	cfg := &Config{
		Store:       store,
		Source:      h.source,
		Reasoner:    h.reasoner,
		Tracker:     h.tracker,
		IssueLabels: []string{"triage", "bug"},
		Now:         func() time.Time { return testNow },
	}
	if mutate != nil {
		mutate(cfg)
	}
	h.orch, err = New(cfg)
	require.NoError(t, err)
	return h
}

// addStream registers a source whose query returns the given lines, one
// minute apart starting at offset before testNow
func (h *harness) addStream(t *testing.T, id string, lines []string, offset time.Duration) {
	t.Helper()
	require.NoError(t, h.store.UpsertSource(context.Background(), &types.SourceQuery{
		ID: id, Name: id, Query: id, Enabled: true,
	}))
	entries := make([]ingest.Entry, len(lines))
	for i, line := range lines {
		entries[i] = ingest.Entry{Timestamp: testNow.Add(-offset + time.Duration(i)*time.Minute), Line: line}
	}
	h.source.streams[id] = append(h.source.streams[id], ingest.Stream{
		Labels:  map[string]string{"job": "orders", "env": "prod", "version": "1.4.0"},
		Entries: entries,
	})
}

func (h *harness) fingerprints(t *testing.T) []*types.Fingerprint {
	t.Helper()
	fps, err := h.store.ListFingerprints(context.Background(), types.FingerprintFilter{})
	require.NoError(t, err)
	return fps
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(&Config{})
	require.Error(t, err)
}

func TestTickDeduplicatesRepeatedFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.addStream(t, "orders", []string{timeoutTrace, timeoutTrace}, 50*time.Minute)

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventsIngested)
	assert.Equal(t, 1, res.FingerprintsCreated)

	fps := h.fingerprints(t)
	require.Len(t, fps, 1)
	fp := fps[0]
	assert.Equal(t, "System.TimeoutException", fp.ExceptionType)
	assert.Equal(t, testNow.Add(-50*time.Minute), fp.FirstSeenAt)
	assert.Equal(t, testNow.Add(-49*time.Minute), fp.LastSeenAt)
	assert.Equal(t, "orders", fp.LastService)
	assert.Equal(t, "prod", fp.LastEnv)

	// Events are backfilled with the fingerprint
	events, err := h.store.ListRawEvents(context.Background(), res.Window, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	for _, ev := range events {
		assert.Equal(t, fp.ID, ev.FingerprintID)
		assert.Equal(t, fp.ExceptionType, ev.ExceptionType)
	}
}

func TestTickReasonerUnavailableKeepsCandidate(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.err = errors.New("connection refused")
	h.addStream(t, "orders", []string{timeoutTrace}, 30*time.Minute)
	ctx := context.Background()

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.AnalysisFailures)
	assert.Equal(t, 0, res.Published)

	fps := h.fingerprints(t)
	require.Len(t, fps, 1)
	assert.Equal(t, types.FingerprintNew, fps[0].Status)

	findings, err := h.store.ListFindings(ctx, fps[0].ID, 0)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, 0, h.tracker.Calls())

	// Next tick selects it again
	res, err = h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 2, h.reasoner.Calls())
}

func TestTickPublishesOnceAndStopsSelecting(t *testing.T) {
	h := newHarness(t, nil)
	h.addStream(t, "orders", []string{timeoutTrace}, 30*time.Minute)
	ctx := context.Background()

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	require.Equal(t, 1, h.tracker.Calls())

	call := h.tracker.calls[0]
	assert.Equal(t, "[triage] System.TimeoutException", call.Title)
	assert.Equal(t, []string{"triage", "bug"}, call.Labels)
	assert.Contains(t, call.Body, "raise the pool size")

	fps := h.fingerprints(t)
	require.Len(t, fps, 1)
	fp := fps[0]
	assert.Equal(t, types.FingerprintKnown, fp.Status)

	issue, err := h.store.GetOpenIssue(ctx, "fake", fp.ID)
	require.NoError(t, err)
	require.NotNil(t, issue)
	assert.Equal(t, "42", issue.IssueKey)
	assert.Equal(t, types.IssueOpen, issue.State)

	findings, err := h.store.ListFindings(ctx, fp.ID, 0)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, types.SeverityHigh, f.Severity)
	assert.Equal(t, 0.75, f.PriorityScore)
	assert.Equal(t, goodAnalysis, f.RootCauseChain)
	assert.Equal(t, "raise the pool size", f.SuggestedFix)
	assert.Equal(t, "test-model", f.Model)
	assert.Equal(t, "test-prompt", f.PromptVersion)
	assert.Equal(t, "orders", f.Service)
	assert.Equal(t, "1.4.0", f.VersionRange)
	assert.Equal(t, "{}", f.CodeEvidence)

	// Same analysis window, status filter excludes known
	res, err = h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Equal(t, 1, h.tracker.Calls())
	assert.Equal(t, 1, h.reasoner.Calls())
}

func TestTickUnparseableLinesShareFingerprint(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.err = errors.New("offline")
	h.addStream(t, "orders", []string{"something odd happened", "something odd happened"}, 20*time.Minute)
	ctx := context.Background()

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.EventsIngested)

	fps := h.fingerprints(t)
	require.Len(t, fps, 1)
	assert.Equal(t, fingerprint.UnknownType, fps[0].ExceptionType)
	assert.Empty(t, fps[0].TopFrames)

	events, err := h.store.ListRawEvents(ctx, res.Window, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, events[0].FingerprintID, events[1].FingerprintID)
	assert.Equal(t, fps[0].ID, events[0].FingerprintID)
}

func TestTickNoExceptionsSkipsAnalysis(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.store.UpsertSource(context.Background(), &types.SourceQuery{
		ID: "quiet", Name: "quiet", Query: "quiet", Enabled: true,
	}))

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.True(t, res.NoExceptions)
	assert.Equal(t, 1, h.source.Calls())
	assert.Equal(t, 0, h.reasoner.Calls())
	assert.Equal(t, 0, h.tracker.Calls())
}

func TestTickBoundsCandidates(t *testing.T) {
	h := newHarness(t, func(cfg *Config) { cfg.MaxCandidates = 1 })
	h.addStream(t, "orders", []string{timeoutTrace, nullTrace}, 30*time.Minute)

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.FingerprintsCreated)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, h.reasoner.Calls())

	// The most recently seen fingerprint goes first
	require.Equal(t, 1, h.tracker.Calls())
	assert.Equal(t, "[triage] System.NullReferenceException", h.tracker.calls[0].Title)
}

func TestTickEmptyAnalysisIsSkipped(t *testing.T) {
	h := newHarness(t, nil)
	h.reasoner.answer = "   "
	h.addStream(t, "orders", []string{timeoutTrace}, 30*time.Minute)
	ctx := context.Background()

	res, err := h.orch.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AnalysisFailures)

	findings, err := h.store.ListFindings(ctx, "", 0)
	require.NoError(t, err)
	assert.Empty(t, findings)
	assert.Equal(t, 0, h.tracker.Calls())
}

func TestTickCancellationStopsBeforeNextCandidate(t *testing.T) {
	h := newHarness(t, nil)
	h.addStream(t, "orders", []string{timeoutTrace, nullTrace}, 30*time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.reasoner.hook = cancel
	h.reasoner.err = context.Canceled

	res, err := h.orch.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, h.reasoner.Calls())
	assert.Equal(t, 0, h.tracker.Calls())

	// Ingestion committed before cancellation stands
	cp, err := h.store.GetCheckpoint(context.Background(), "orders")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 2, len(h.fingerprints(t)))
}

func TestTickAttachesCodeContext(t *testing.T) {
	code := &fakeCode{matches: []git.Match{{Path: "src/Checkout.cs", StartLine: 42, EndLine: 42}}}
	h := newHarness(t, func(cfg *Config) { cfg.CodeSearcher = code })
	h.addStream(t, "orders", []string{timeoutTrace}, 30*time.Minute)
	ctx := context.Background()

	_, err := h.orch.Tick(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"TimeoutException"}, code.queries)
	assert.Equal(t, [][2]int{{37, 57}}, code.fetched)

	findings, err := h.store.ListFindings(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	assert.Contains(t, findings[0].CodeEvidence, `"file":"src/Checkout.cs"`)
	assert.NotContains(t, findings[0].LogEvidence, "public void Submit() {}")

	require.Len(t, h.reasoner.inputs, 1)
	assert.Contains(t, h.reasoner.inputs[0], "public void Submit() {}")
	assert.Contains(t, h.tracker.calls[0].Body, "## Code context")
}

func TestTickCodeSearchFailureStillPublishes(t *testing.T) {
	code := &fakeCode{searchErr: errors.New("git grep failed")}
	h := newHarness(t, func(cfg *Config) { cfg.CodeSearcher = code })
	h.addStream(t, "orders", []string{timeoutTrace}, 30*time.Minute)

	res, err := h.orch.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Published)
	assert.Empty(t, code.fetched)
}
