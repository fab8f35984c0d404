package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/triage/internal/types"
)

// CreateFinding persists a finding. An empty id is filled with a uuid.
func (s *SQLiteStorage) CreateFinding(ctx context.Context, f *types.Finding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = f.CreatedAt
	if err := f.Validate(); err != nil {
		return fmt.Errorf("invalid finding: %w", err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO findings (
			id, fingerprint_id, service, env, version_range, severity, priority_score,
			root_cause_chain, log_evidence, code_evidence, suggested_fix, status,
			prompt_version, model, latency_ms, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, f.ID, f.FingerprintID, f.Service, f.Env, f.VersionRange, f.Severity, f.PriorityScore,
		f.RootCauseChain, f.LogEvidence, f.CodeEvidence, f.SuggestedFix, f.Status,
		f.PromptVersion, f.Model, f.LatencyMs, toMillis(f.CreatedAt), toMillis(f.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to create finding: %w", err)
	}
	return nil
}

// ListFindings returns findings for a fingerprint (all fingerprints when
// empty), newest first
func (s *SQLiteStorage) ListFindings(ctx context.Context, fingerprintID string, limit int) ([]*types.Finding, error) {
	query := `
		SELECT id, fingerprint_id, service, env, version_range, severity, priority_score,
		       root_cause_chain, log_evidence, code_evidence, suggested_fix, status,
		       prompt_version, model, latency_ms, created_at, updated_at
		FROM findings`
	var args []any
	if fingerprintID != "" {
		query += ` WHERE fingerprint_id = ?`
		args = append(args, fingerprintID)
	}
	query += ` ORDER BY created_at DESC, id ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var findings []*types.Finding
	for rows.Next() {
		var (
			f                types.Finding
			created, updated int64
		)
		if err := rows.Scan(&f.ID, &f.FingerprintID, &f.Service, &f.Env, &f.VersionRange, &f.Severity, &f.PriorityScore,
			&f.RootCauseChain, &f.LogEvidence, &f.CodeEvidence, &f.SuggestedFix, &f.Status,
			&f.PromptVersion, &f.Model, &f.LatencyMs, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		f.CreatedAt = fromMillis(created)
		f.UpdatedAt = fromMillis(updated)
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}

// UpdateFindingStatus moves a finding along its triage lifecycle
func (s *SQLiteStorage) UpdateFindingStatus(ctx context.Context, id string, status types.FindingStatus) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current types.FindingStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM findings WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("finding not found: %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read finding status: %w", err)
		}
		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%w: finding %s %s -> %s", types.ErrInvalidTransition, id, current, status)
		}

		_, err = tx.ExecContext(ctx, `UPDATE findings SET status = ?, updated_at = ? WHERE id = ?`,
			status, toMillis(time.Now()), id)
		if err != nil {
			return fmt.Errorf("failed to update finding status: %w", err)
		}
		return nil
	})
}
