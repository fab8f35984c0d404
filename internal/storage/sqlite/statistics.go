package sqlite

import (
	"context"
	"fmt"

	"github.com/steveyegge/triage/internal/types"
)

// GetStatistics returns aggregate counts across the pipeline tables
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*types.Statistics, error) {
	stats := &types.Statistics{FingerprintsByStatus: make(map[types.FingerprintStatus]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM source_queries),
			(SELECT COUNT(*) FROM source_queries WHERE enabled = 1),
			(SELECT COUNT(*) FROM raw_events),
			(SELECT COUNT(*) FROM findings),
			(SELECT COUNT(*) FROM integration_issues WHERE state = 'open')
	`).Scan(&stats.SourcesTotal, &stats.SourcesEnabled, &stats.RawEvents, &stats.Findings, &stats.OpenIssues)
	if err != nil {
		return nil, fmt.Errorf("failed to get statistics: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM fingerprints GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var (
			status types.FingerprintStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan fingerprint count: %w", err)
		}
		stats.FingerprintsByStatus[status] = n
	}
	return stats, rows.Err()
}
