package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/triage/internal/types"
)

// GetOpenIssue returns the open ledger row for (provider, fingerprint), or nil
func (s *SQLiteStorage) GetOpenIssue(ctx context.Context, provider, fingerprintID string) (*types.IntegrationIssue, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT provider, fingerprint_id, issue_key, url, state, created_at, updated_at
		FROM integration_issues
		WHERE provider = ? AND fingerprint_id = ? AND state = ?
	`, provider, fingerprintID, types.IssueOpen)

	issue, err := scanIntegrationIssue(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open issue: %w", err)
	}
	return issue, nil
}

// RecordPublishedIssue stores the ledger row for a freshly created external
// issue and marks the fingerprint known, atomically.
func (s *SQLiteStorage) RecordPublishedIssue(ctx context.Context, issue *types.IntegrationIssue) error {
	now := time.Now()
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

	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO integration_issues (provider, fingerprint_id, issue_key, url, state, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(provider, fingerprint_id) DO UPDATE SET
				issue_key = excluded.issue_key,
				url = excluded.url,
				state = excluded.state,
				updated_at = excluded.updated_at
		`, issue.Provider, issue.FingerprintID, issue.IssueKey, issue.URL, issue.State,
			toMillis(issue.CreatedAt), toMillis(issue.UpdatedAt))
		if err != nil {
			return fmt.Errorf("failed to record integration issue: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE fingerprints SET status = ? WHERE id = ? AND status = ?
		`, types.FingerprintKnown, issue.FingerprintID, types.FingerprintNew)
		if err != nil {
			return fmt.Errorf("failed to mark fingerprint known: %w", err)
		}
		return nil
	})
}

// ListIntegrationIssues returns ledger rows, optionally filtered by state
func (s *SQLiteStorage) ListIntegrationIssues(ctx context.Context, state *types.IssueState) ([]*types.IntegrationIssue, error) {
	query := `
		SELECT provider, fingerprint_id, issue_key, url, state, created_at, updated_at
		FROM integration_issues`
	var args []any
	if state != nil {
		query += ` WHERE state = ?`
		args = append(args, *state)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integration issues: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

func scanIntegrationIssue(row rowScanner) (*types.IntegrationIssue, error) {
	var (
		issue            types.IntegrationIssue
		created, updated int64
	)
	if err := row.Scan(&issue.Provider, &issue.FingerprintID, &issue.IssueKey, &issue.URL,
		&issue.State, &created, &updated); err != nil {
		return nil, err
	}
	issue.CreatedAt = fromMillis(created)
	issue.UpdatedAt = fromMillis(updated)
	return &issue, nil
}
