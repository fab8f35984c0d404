package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/steveyegge/triage/internal/types"
)

// Sources

// UpsertSource creates a source query or updates its name, query and enabled flag
func (s *PostgresStorage) UpsertSource(ctx context.Context, q *types.SourceQuery) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	now := time.Now().UTC()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	_, err := s.pool.Exec(ctx, `
		INSERT INTO source_queries (id, name, query, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			query = EXCLUDED.query,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at
	`, q.ID, q.Name, q.Query, q.Enabled, q.CreatedAt, q.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", q.ID, err)
	}
	return nil
}

// GetSource returns a source by id, or nil if it does not exist
func (s *PostgresStorage) GetSource(ctx context.Context, id string) (*types.SourceQuery, error) {
	var q types.SourceQuery
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, query, enabled, created_at, updated_at FROM source_queries WHERE id = $1
	`, id).Scan(&q.ID, &q.Name, &q.Query, &q.Enabled, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return &q, nil
}

// ListSources returns sources ordered by id
func (s *PostgresStorage) ListSources(ctx context.Context, enabledOnly bool) ([]*types.SourceQuery, error) {
	query := `SELECT id, name, query, enabled, created_at, updated_at FROM source_queries`
	if enabledOnly {
		query += ` WHERE enabled`
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []*types.SourceQuery
	for rows.Next() {
		var q types.SourceQuery
		if err := rows.Scan(&q.ID, &q.Name, &q.Query, &q.Enabled, &q.CreatedAt, &q.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, &q)
	}
	return sources, rows.Err()
}

// SetSourceEnabled toggles a source
func (s *PostgresStorage) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	tag, err := s.pool.Exec(ctx, `UPDATE source_queries SET enabled = $1, updated_at = NOW() WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

// Checkpoints

// GetCheckpoint returns the checkpoint for a source, or nil if none was committed
func (s *PostgresStorage) GetCheckpoint(ctx context.Context, sourceID string) (*types.Checkpoint, error) {
	var cp types.Checkpoint
	err := s.pool.QueryRow(ctx, `
		SELECT source_id, last_processed_at, watermark_seconds, updated_at
		FROM checkpoints WHERE source_id = $1
	`, sourceID).Scan(&cp.SourceID, &cp.LastProcessedAt, &cp.WatermarkSeconds, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}
	cp.LastProcessedAt = cp.LastProcessedAt.UTC()
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return &cp, nil
}

// SaveCheckpoint stores a checkpoint, never moving it backwards
func (s *PostgresStorage) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO checkpoints (source_id, last_processed_at, watermark_seconds, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (source_id) DO UPDATE SET
			last_processed_at = EXCLUDED.last_processed_at,
			watermark_seconds = EXCLUDED.watermark_seconds,
			updated_at = EXCLUDED.updated_at
		WHERE EXCLUDED.last_processed_at >= checkpoints.last_processed_at
	`, cp.SourceID, cp.LastProcessedAt, cp.WatermarkSeconds, cp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.SourceID, err)
	}
	return nil
}

// ListCheckpoints returns all checkpoints ordered by source
func (s *PostgresStorage) ListCheckpoints(ctx context.Context) ([]*types.Checkpoint, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, last_processed_at, watermark_seconds, updated_at
		FROM checkpoints ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer rows.Close()

	var cps []*types.Checkpoint
	for rows.Next() {
		var cp types.Checkpoint
		if err := rows.Scan(&cp.SourceID, &cp.LastProcessedAt, &cp.WatermarkSeconds, &cp.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.LastProcessedAt = cp.LastProcessedAt.UTC()
		cps = append(cps, &cp)
	}
	return cps, rows.Err()
}

// Raw events

// InsertRawEvents stores a batch of events using a pipelined batch
func (s *PostgresStorage) InsertRawEvents(ctx context.Context, events []*types.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for _, ev := range events {
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.IngestedAt.IsZero() {
			ev.IngestedAt = now
		}
		labels, err := marshalJSON(ev.Labels, "{}")
		if err != nil {
			return err
		}
		batch.Queue(`
			INSERT INTO raw_events (
				id, source_id, ts, service, env, version, host, level,
				trace_id, session_id, thread_id, labels, message,
				exception_type, fingerprint_id, ingested_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, ev.ID, ev.SourceID, ev.Timestamp, ev.Service, ev.Env, ev.Version, ev.Host, ev.Level,
			ev.TraceID, ev.SessionID, ev.ThreadID, labels, ev.Message,
			ev.ExceptionType, ev.FingerprintID, ev.IngestedAt)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range events {
			if _, err := br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("failed to insert raw event: %w", err)
			}
		}
		return br.Close()
	})
}

// ListRawEvents returns up to limit events with w.From <= ts < w.To, oldest first
func (s *PostgresStorage) ListRawEvents(ctx context.Context, w types.Window, limit int) ([]*types.RawEvent, error) {
	query := `
		SELECT id, source_id, ts, service, env, version, host, level,
		       trace_id, session_id, thread_id, labels::text, message,
		       exception_type, fingerprint_id, ingested_at
		FROM raw_events
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts ASC, id ASC`
	args := []any{w.From, w.To}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	defer rows.Close()

	var events []*types.RawEvent
	for rows.Next() {
		var (
			ev     types.RawEvent
			labels string
		)
		if err := rows.Scan(&ev.ID, &ev.SourceID, &ev.Timestamp, &ev.Service, &ev.Env, &ev.Version, &ev.Host, &ev.Level,
			&ev.TraceID, &ev.SessionID, &ev.ThreadID, &labels, &ev.Message,
			&ev.ExceptionType, &ev.FingerprintID, &ev.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		if err := json.Unmarshal([]byte(labels), &ev.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels for event %s: %w", ev.ID, err)
		}
		ev.Timestamp = ev.Timestamp.UTC()
		ev.IngestedAt = ev.IngestedAt.UTC()
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// AnnotateRawEvent backfills the computed fingerprint onto an event
func (s *PostgresStorage) AnnotateRawEvent(ctx context.Context, id, fingerprintID, exceptionType string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_events SET fingerprint_id = $1, exception_type = $2
		WHERE id = $3 AND (fingerprint_id <> $1 OR exception_type <> $2)
	`, fingerprintID, exceptionType, id)
	if err != nil {
		return fmt.Errorf("failed to annotate raw event %s: %w", id, err)
	}
	return nil
}

// CountRawEvents returns the number of stored events
func (s *PostgresStorage) CountRawEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}
	return n, nil
}

// CleanupRawEvents deletes events older than cutoff in batches
func (s *PostgresStorage) CleanupRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	totalDeleted := 0
	for {
		if err := ctx.Err(); err != nil {
			return totalDeleted, err
		}

		tag, err := s.pool.Exec(ctx, `
			DELETE FROM raw_events
			WHERE id IN (SELECT id FROM raw_events WHERE ts < $1 ORDER BY ts ASC LIMIT $2)
		`, cutoff, batchSize)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}
		totalDeleted += int(tag.RowsAffected())
		if tag.RowsAffected() < int64(batchSize) {
			return totalDeleted, nil
		}
	}
}

// Fingerprints

const fingerprintColumns = `id, exception_type, top_frames::text, first_seen_at, last_seen_at,
	last_service, last_env, last_version, status, owner_team`

// GetFingerprint returns a fingerprint by id, or nil if it is not registered
func (s *PostgresStorage) GetFingerprint(ctx context.Context, id string) (*types.Fingerprint, error) {
	fp, err := scanFingerprint(s.pool.QueryRow(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint %s: %w", id, err)
	}
	return fp, nil
}

// InsertFingerprint registers a new fingerprint; existing ids are left alone
func (s *PostgresStorage) InsertFingerprint(ctx context.Context, fp *types.Fingerprint) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("invalid fingerprint: %w", err)
	}
	frames, err := marshalJSON(fp.TopFrames, "[]")
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO fingerprints (id, exception_type, top_frames, first_seen_at, last_seen_at,
			last_service, last_env, last_version, status, owner_team)
		VALUES ($1, $2, $3::jsonb, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
	`, fp.ID, fp.ExceptionType, frames, fp.FirstSeenAt, fp.LastSeenAt,
		fp.LastService, fp.LastEnv, fp.LastVersion, string(fp.Status), fp.OwnerTeam)
	if err != nil {
		return fmt.Errorf("failed to insert fingerprint %s: %w", fp.ID, err)
	}
	return nil
}

// TouchFingerprint moves last-seen data forward
func (s *PostgresStorage) TouchFingerprint(ctx context.Context, fp *types.Fingerprint) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE fingerprints
		SET last_seen_at = $1, last_service = $2, last_env = $3, last_version = $4
		WHERE id = $5 AND last_seen_at <= $1
	`, fp.LastSeenAt, fp.LastService, fp.LastEnv, fp.LastVersion, fp.ID)
	if err != nil {
		return fmt.Errorf("failed to touch fingerprint %s: %w", fp.ID, err)
	}
	return nil
}

// ListFingerprints returns fingerprints matching the filter, most recently seen first
func (s *PostgresStorage) ListFingerprints(ctx context.Context, filter types.FingerprintFilter) ([]*types.Fingerprint, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SeenSince != nil {
		args = append(args, *filter.SeenSince)
		where = append(where, fmt.Sprintf("last_seen_at >= $%d", len(args)))
	}

	query := `SELECT ` + fingerprintColumns + ` FROM fingerprints`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_seen_at DESC, id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer rows.Close()

	var fps []*types.Fingerprint
	for rows.Next() {
		fp, err := scanFingerprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint: %w", err)
		}
		fps = append(fps, fp)
	}
	return fps, rows.Err()
}

// UpdateFingerprintStatus moves a fingerprint along its lifecycle
func (s *PostgresStorage) UpdateFingerprintStatus(ctx context.Context, id string, status types.FingerprintStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid fingerprint status: %s", status)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM fingerprints WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("fingerprint not found: %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read fingerprint status: %w", err)
		}

		from := types.FingerprintStatus(current)
		if !from.CanTransitionTo(status) {
			return fmt.Errorf("%w: fingerprint %s %s -> %s", types.ErrInvalidTransition, id, from, status)
		}
		if from == status {
			return nil
		}
		if _, err := tx.Exec(ctx, `UPDATE fingerprints SET status = $1 WHERE id = $2`, string(status), id); err != nil {
			return fmt.Errorf("failed to update fingerprint status: %w", err)
		}
		return nil
	})
}

func scanFingerprint(row pgx.Row) (*types.Fingerprint, error) {
	var (
		fp     types.Fingerprint
		frames string
		status string
	)
	if err := row.Scan(&fp.ID, &fp.ExceptionType, &frames, &fp.FirstSeenAt, &fp.LastSeenAt,
		&fp.LastService, &fp.LastEnv, &fp.LastVersion, &status, &fp.OwnerTeam); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(frames), &fp.TopFrames); err != nil {
		return nil, fmt.Errorf("failed to decode top frames for %s: %w", fp.ID, err)
	}
	fp.Status = types.FingerprintStatus(status)
	fp.FirstSeenAt = fp.FirstSeenAt.UTC()
	fp.LastSeenAt = fp.LastSeenAt.UTC()
	return &fp, nil
}

// Findings

// CreateFinding persists a finding
func (s *PostgresStorage) CreateFinding(ctx context.Context, f *types.Finding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	f.UpdatedAt = f.CreatedAt
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO findings (
			id, fingerprint_id, service, env, version_range, severity, priority_score,
			root_cause_chain, log_evidence, code_evidence, suggested_fix, status,
			prompt_version, model, latency_ms, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, f.ID, f.FingerprintID, f.Service, f.Env, f.VersionRange, string(f.Severity), f.PriorityScore,
		f.RootCauseChain, f.LogEvidence, f.CodeEvidence, f.SuggestedFix, string(f.Status),
		f.PromptVersion, f.Model, f.LatencyMs, f.CreatedAt, f.UpdatedAt)
	if isForeignKeyError(err) {
		return fmt.Errorf("failed to create finding: fingerprint %s is not registered", f.FingerprintID)
	}
	if err != nil {
		return fmt.Errorf("failed to create finding: %w", err)
	}
	return nil
}

// ListFindings returns findings for a fingerprint (all when empty), newest first
func (s *PostgresStorage) ListFindings(ctx context.Context, fingerprintID string, limit int) ([]*types.Finding, error) {
	query := `
		SELECT id, fingerprint_id, service, env, version_range, severity, priority_score,
		       root_cause_chain, log_evidence, code_evidence, suggested_fix, status,
		       prompt_version, model, latency_ms, created_at, updated_at
		FROM findings`
	var args []any
	if fingerprintID != "" {
		args = append(args, fingerprintID)
		query += ` WHERE fingerprint_id = $1`
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []*types.Finding
	for rows.Next() {
		var (
			f                types.Finding
			severity, status string
		)
		if err := rows.Scan(&f.ID, &f.FingerprintID, &f.Service, &f.Env, &f.VersionRange, &severity, &f.PriorityScore,
			&f.RootCauseChain, &f.LogEvidence, &f.CodeEvidence, &f.SuggestedFix, &status,
			&f.PromptVersion, &f.Model, &f.LatencyMs, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.Severity = types.Severity(severity)
		f.Status = types.FindingStatus(status)
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

// UpdateFindingStatus moves a finding along its triage lifecycle
func (s *PostgresStorage) UpdateFindingStatus(ctx context.Context, id string, status types.FindingStatus) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		var current string
		err := tx.QueryRow(ctx, `SELECT status FROM findings WHERE id = $1 FOR UPDATE`, id).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("finding not found: %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read finding status: %w", err)
		}
		from := types.FindingStatus(current)
		if !from.CanTransitionTo(status) {
			return fmt.Errorf("%w: finding %s %s -> %s", types.ErrInvalidTransition, id, from, status)
		}
		_, err = tx.Exec(ctx, `UPDATE findings SET status = $1, updated_at = NOW() WHERE id = $2`, string(status), id)
		if err != nil {
			return fmt.Errorf("failed to update finding status: %w", err)
		}
		return nil
	})
}

// Integration ledger

// GetOpenIssue returns the open ledger row for (provider, fingerprint), or nil
func (s *PostgresStorage) GetOpenIssue(ctx context.Context, provider, fingerprintID string) (*types.IntegrationIssue, error) {
	issue, err := scanIntegrationIssue(s.pool.QueryRow(ctx, `
		SELECT provider, fingerprint_id, issue_key, url, state, created_at, updated_at
		FROM integration_issues
		WHERE provider = $1 AND fingerprint_id = $2 AND state = 'open'
	`, provider, fingerprintID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open issue: %w", err)
	}
	return issue, nil
}

// RecordPublishedIssue stores the ledger row and marks the fingerprint known, atomically
func (s *PostgresStorage) RecordPublishedIssue(ctx context.Context, issue *types.IntegrationIssue) error {
	now := time.Now().UTC()
	if issue.CreatedAt.IsZero() {
		issue.CreatedAt = now
	}
	issue.UpdatedAt = now
	if issue.State == "" {
		issue.State = types.IssueOpen
	}
	if err := issue.Validate(); err != nil {
		return fmt.Errorf("invalid integration issue: %w", err)
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO integration_issues (provider, fingerprint_id, issue_key, url, state, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (provider, fingerprint_id) DO UPDATE SET
				issue_key = EXCLUDED.issue_key,
				url = EXCLUDED.url,
				state = EXCLUDED.state,
				updated_at = EXCLUDED.updated_at
		`, issue.Provider, issue.FingerprintID, issue.IssueKey, issue.URL, string(issue.State), issue.CreatedAt, issue.UpdatedAt)
		if err != nil {
			return fmt.Errorf("failed to record integration issue: %w", err)
		}

		_, err = tx.Exec(ctx, `UPDATE fingerprints SET status = 'known' WHERE id = $1 AND status = 'new'`, issue.FingerprintID)
		if err != nil {
			return fmt.Errorf("failed to mark fingerprint known: %w", err)
		}
		return nil
	})
}

// ListIntegrationIssues returns ledger rows, optionally filtered by state
func (s *PostgresStorage) ListIntegrationIssues(ctx context.Context, state *types.IssueState) ([]*types.IntegrationIssue, error) {
	query := `SELECT provider, fingerprint_id, issue_key, url, state, created_at, updated_at FROM integration_issues`
	var args []any
	if state != nil {
		args = append(args, string(*state))
		query += ` WHERE state = $1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration issues: %w", err)
	}
	defer rows.Close()

	var issues []*types.IntegrationIssue
	for rows.Next() {
		issue, err := scanIntegrationIssue(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration issue: %w", err)
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

func scanIntegrationIssue(row pgx.Row) (*types.IntegrationIssue, error) {
	var (
		issue types.IntegrationIssue
		state string
	)
	if err := row.Scan(&issue.Provider, &issue.FingerprintID, &issue.IssueKey, &issue.URL,
		&state, &issue.CreatedAt, &issue.UpdatedAt); err != nil {
		return nil, err
	}
	issue.State = types.IssueState(state)
	return &issue, nil
}

// Statistics

// GetStatistics returns aggregate counts across the pipeline tables
func (s *PostgresStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{FingerprintsByStatus: make(map[types.FingerprintStatus]int)}

	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM source_queries),
			(SELECT COUNT(*) FROM source_queries WHERE enabled),
			(SELECT COUNT(*) FROM raw_events),
			(SELECT COUNT(*) FROM findings),
			(SELECT COUNT(*) FROM integration_issues WHERE state = 'open')
	`).Scan(&stats.SourcesTotal, &stats.SourcesEnabled, &stats.RawEvents, &stats.Findings, &stats.OpenIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM fingerprints GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint count: %w", err)
		}
		stats.FingerprintsByStatus[types.FingerprintStatus(status)] = n
	}
	return stats, rows.Err()
}

func marshalJSON(v any, empty string) (string, error) {
	switch t := v.(type) {
	case map[string]string:
		if len(t) == 0 {
			return empty, nil
		}
	case []string:
		if len(t) == 0 {
			return empty, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode json: %w", err)
	}
	return string(data), nil
}
