package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/triage/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteStorage {
	t.Helper()

	storage, err := New(filepath.Join(t.TempDir(), "triage.db"))
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	t.Cleanup(func() {
		_ = storage.Close()
	})

	return storage
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func seedSource(t *testing.T, s *SQLiteStorage, id string) {
	t.Helper()
	require.NoError(t, s.UpsertSource(context.Background(), &types.SourceQuery{
		ID: id, Name: id, Query: `{job="api"} |= "Exception"`, Enabled: true,
	}))
}

func seedFingerprint(t *testing.T, s *SQLiteStorage, id string, lastSeen time.Time) {
	t.Helper()
	require.NoError(t, s.InsertFingerprint(context.Background(), &types.Fingerprint{
		ID: id, ExceptionType: "System.TimeoutException", TopFrames: []string{"A.B"},
		FirstSeenAt: lastSeen, LastSeenAt: lastSeen, Status: types.FingerprintNew,
	}))
}

func TestNewCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "triage.db")
	s, err := New(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	assert.Equal(t, path, s.Path())
}

func TestSources(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	seedSource(t, s, "b")
	seedSource(t, s, "a")
	require.NoError(t, s.SetSourceEnabled(ctx, "b", false))

	all, err := s.ListSources(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)

	enabled, err := s.ListSources(ctx, true)
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "a", enabled[0].ID)

	// Upsert updates in place
	require.NoError(t, s.UpsertSource(ctx, &types.SourceQuery{ID: "a", Name: "renamed", Query: "{job=\"x\"}", Enabled: true}))
	got, err := s.GetSource(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)

	missing, err := s.GetSource(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	assert.Error(t, s.SetSourceEnabled(ctx, "nope", true))
	assert.Error(t, s.UpsertSource(ctx, &types.SourceQuery{ID: "bad"}), "blank query is rejected")
}

func TestCheckpointNeverRegresses(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedSource(t, s, "src")

	cp, err := s.GetCheckpoint(ctx, "src")
	require.NoError(t, err)
	assert.Nil(t, cp)

	require.NoError(t, s.SaveCheckpoint(ctx, &types.Checkpoint{SourceID: "src", LastProcessedAt: t0, WatermarkSeconds: 120, UpdatedAt: t0}))
	require.NoError(t, s.SaveCheckpoint(ctx, &types.Checkpoint{SourceID: "src", LastProcessedAt: t0.Add(-time.Hour), WatermarkSeconds: 120, UpdatedAt: t0}))

	cp, err = s.GetCheckpoint(ctx, "src")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, t0, cp.LastProcessedAt)
	assert.Equal(t, 120, cp.WatermarkSeconds)

	require.NoError(t, s.SaveCheckpoint(ctx, &types.Checkpoint{SourceID: "src", LastProcessedAt: t0.Add(time.Minute), WatermarkSeconds: 60, UpdatedAt: t0}))
	cps, err := s.ListCheckpoints(ctx)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, t0.Add(time.Minute), cps[0].LastProcessedAt)
	assert.Equal(t, 60, cps[0].WatermarkSeconds)
}

func TestRawEventsWindowAndAnnotation(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	events := []*types.RawEvent{
		{SourceID: "src", Timestamp: t0.Add(2 * time.Minute), Message: "second", Service: "orders", Labels: map[string]string{"job": "orders"}},
		{SourceID: "src", Timestamp: t0, Message: "first"},
		{SourceID: "src", Timestamp: t0.Add(time.Hour), Message: "outside"},
		// Same line ingested twice by overlapping windows is kept twice
		{SourceID: "src", Timestamp: t0, Message: "first"},
	}
	require.NoError(t, s.InsertRawEvents(ctx, events))
	for _, ev := range events {
		assert.NotEmpty(t, ev.ID)
	}

	got, err := s.ListRawEvents(ctx, types.Window{From: t0, To: t0.Add(time.Hour)}, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "first", got[0].Message)
	assert.Equal(t, "second", got[2].Message)
	assert.Equal(t, "orders", got[2].Labels["job"])
	assert.Equal(t, t0.Add(2*time.Minute), got[2].Timestamp)

	limited, err := s.ListRawEvents(ctx, types.Window{From: t0, To: t0.Add(time.Hour)}, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	require.NoError(t, s.AnnotateRawEvent(ctx, got[2].ID, "abcd", "System.TimeoutException"))
	again, err := s.ListRawEvents(ctx, types.Window{From: t0.Add(time.Minute), To: t0.Add(3 * time.Minute)}, 0)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, "abcd", again[0].FingerprintID)
	assert.Equal(t, "System.TimeoutException", again[0].ExceptionType)
}

func TestCleanupRawEvents(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	var events []*types.RawEvent
	for i := 0; i < 25; i++ {
		events = append(events, &types.RawEvent{SourceID: "src", Timestamp: t0.Add(time.Duration(i) * time.Minute), Message: "m"})
	}
	require.NoError(t, s.InsertRawEvents(ctx, events))

	deleted, err := s.CleanupRawEvents(ctx, t0.Add(20*time.Minute), 7)
	require.NoError(t, err)
	assert.Equal(t, 20, deleted)

	n, err := s.CountRawEvents(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = s.CleanupRawEvents(ctx, t0, 0)
	assert.Error(t, err)
}

func TestFingerprintInsertIsIdempotent(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	seedFingerprint(t, s, "fp1", t0)
	// A second insert must not reset first-seen
	require.NoError(t, s.InsertFingerprint(ctx, &types.Fingerprint{
		ID: "fp1", ExceptionType: "X", FirstSeenAt: t0.Add(time.Hour), LastSeenAt: t0.Add(time.Hour), Status: types.FingerprintNew,
	}))

	fp, err := s.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	require.NotNil(t, fp)
	assert.Equal(t, t0, fp.FirstSeenAt)
	assert.Equal(t, "System.TimeoutException", fp.ExceptionType)
	assert.Equal(t, []string{"A.B"}, fp.TopFrames)
}

func TestTouchFingerprintOnlyMovesForward(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedFingerprint(t, s, "fp1", t0)

	require.NoError(t, s.TouchFingerprint(ctx, &types.Fingerprint{ID: "fp1", LastSeenAt: t0.Add(time.Minute), LastService: "orders", LastVersion: "1.2.0"}))
	require.NoError(t, s.TouchFingerprint(ctx, &types.Fingerprint{ID: "fp1", LastSeenAt: t0.Add(-time.Minute), LastService: "stale"}))

	fp, err := s.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, t0, fp.FirstSeenAt)
	assert.Equal(t, t0.Add(time.Minute), fp.LastSeenAt)
	assert.Equal(t, "orders", fp.LastService)
	assert.Equal(t, "1.2.0", fp.LastVersion)
	assert.Equal(t, types.FingerprintNew, fp.Status)
}

func TestListFingerprintsFilter(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	seedFingerprint(t, s, "old", t0.Add(-2*time.Hour))
	seedFingerprint(t, s, "recent", t0)
	seedFingerprint(t, s, "known", t0)
	require.NoError(t, s.UpdateFingerprintStatus(ctx, "known", types.FingerprintKnown))

	status := types.FingerprintNew
	since := t0.Add(-time.Hour)
	fps, err := s.ListFingerprints(ctx, types.FingerprintFilter{Status: &status, SeenSince: &since})
	require.NoError(t, err)
	require.Len(t, fps, 1)
	assert.Equal(t, "recent", fps[0].ID)

	all, err := s.ListFingerprints(ctx, types.FingerprintFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestUpdateFingerprintStatusEnforcesLifecycle(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedFingerprint(t, s, "fp1", t0)

	err := s.UpdateFingerprintStatus(ctx, "fp1", types.FingerprintFixed)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition), "new -> fixed skips known")

	require.NoError(t, s.UpdateFingerprintStatus(ctx, "fp1", types.FingerprintKnown))
	require.NoError(t, s.UpdateFingerprintStatus(ctx, "fp1", types.FingerprintKnown), "same status is idempotent")

	err = s.UpdateFingerprintStatus(ctx, "fp1", types.FingerprintNew)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))

	require.NoError(t, s.UpdateFingerprintStatus(ctx, "fp1", types.FingerprintIgnored))
	assert.Error(t, s.UpdateFingerprintStatus(ctx, "missing", types.FingerprintKnown))
}

func TestFindings(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedFingerprint(t, s, "fp1", t0)

	for i := 0; i < 2; i++ {
		require.NoError(t, s.CreateFinding(ctx, &types.Finding{
			FingerprintID: "fp1", Severity: types.SeverityMedium, PriorityScore: 0.5,
			RootCauseChain: "analysis", Status: types.FindingNew, CreatedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	findings, err := s.ListFindings(ctx, "fp1", 0)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.True(t, findings[0].CreatedAt.After(findings[1].CreatedAt))

	require.NoError(t, s.UpdateFindingStatus(ctx, findings[0].ID, types.FindingTriaged))
	err = s.UpdateFindingStatus(ctx, findings[0].ID, types.FindingNew)
	assert.True(t, errors.Is(err, types.ErrInvalidTransition))

	// Findings reference a registered fingerprint
	err = s.CreateFinding(ctx, &types.Finding{FingerprintID: "ghost", Severity: types.SeverityLow, Status: types.FindingNew})
	assert.Error(t, err)
}

func TestRecordPublishedIssueIsAtomicWithStatus(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()
	seedFingerprint(t, s, "fp1", t0)

	open, err := s.GetOpenIssue(ctx, "github", "fp1")
	require.NoError(t, err)
	assert.Nil(t, open)

	require.NoError(t, s.RecordPublishedIssue(ctx, &types.IntegrationIssue{
		Provider: "github", FingerprintID: "fp1", IssueKey: "42", URL: "https://github.com/acme/api/issues/42",
	}))

	open, err = s.GetOpenIssue(ctx, "github", "fp1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "42", open.IssueKey)
	assert.Equal(t, types.IssueOpen, open.State)

	fp, err := s.GetFingerprint(ctx, "fp1")
	require.NoError(t, err)
	assert.Equal(t, types.FingerprintKnown, fp.Status)

	// A different provider is a different identity
	other, err := s.GetOpenIssue(ctx, "jira", "fp1")
	require.NoError(t, err)
	assert.Nil(t, other)

	// Ledger row for an unregistered fingerprint fails and leaves nothing behind
	err = s.RecordPublishedIssue(ctx, &types.IntegrationIssue{Provider: "github", FingerprintID: "ghost", IssueKey: "43"})
	assert.Error(t, err)
	ghost, err := s.GetOpenIssue(ctx, "github", "ghost")
	require.NoError(t, err)
	assert.Nil(t, ghost)

	openState := types.IssueOpen
	issues, err := s.ListIntegrationIssues(ctx, &openState)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
}

func TestGetStatistics(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	seedSource(t, s, "src")
	seedFingerprint(t, s, "fp1", t0)
	seedFingerprint(t, s, "fp2", t0)
	require.NoError(t, s.InsertRawEvents(ctx, []*types.RawEvent{{SourceID: "src", Timestamp: t0, Message: "m"}}))
	require.NoError(t, s.RecordPublishedIssue(ctx, &types.IntegrationIssue{Provider: "github", FingerprintID: "fp2", IssueKey: "1"}))

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourcesTotal)
	assert.Equal(t, 1, stats.SourcesEnabled)
	assert.Equal(t, 1, stats.RawEvents)
	assert.Equal(t, 1, stats.OpenIssues)
	assert.Equal(t, 1, stats.FingerprintsByStatus[types.FingerprintNew])
	assert.Equal(t, 1, stats.FingerprintsByStatus[types.FingerprintKnown])
}
