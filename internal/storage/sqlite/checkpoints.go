package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/steveyegge/triage/internal/types"
)

// GetCheckpoint returns the checkpoint for a source, or nil if none was committed
func (s *SQLiteStorage) GetCheckpoint(ctx context.Context, sourceID string) (*types.Checkpoint, error) {
	var (
		cp                types.Checkpoint
		processed, update int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, last_processed_at, watermark_seconds, updated_at
		FROM checkpoints WHERE source_id = ?
	`, sourceID).Scan(&cp.SourceID, &processed, &cp.WatermarkSeconds, &update)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp.LastProcessedAt = fromMillis(processed)
	cp.UpdatedAt = fromMillis(update)
	return &cp, nil
}

// SaveCheckpoint stores a checkpoint. The stored position only ever moves
// forward: a save carrying an earlier instant leaves the row untouched.
func (s *SQLiteStorage) SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (source_id, last_processed_at, watermark_seconds, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			last_processed_at = excluded.last_processed_at,
			watermark_seconds = excluded.watermark_seconds,
			updated_at = excluded.updated_at
		WHERE excluded.last_processed_at >= checkpoints.last_processed_at
	`, cp.SourceID, toMillis(cp.LastProcessedAt), cp.WatermarkSeconds, toMillis(cp.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save checkpoint for %s: %w", cp.SourceID, err)
	}
	return nil
}

// ListCheckpoints returns all checkpoints ordered by source
func (s *SQLiteStorage) ListCheckpoints(ctx context.Context) ([]*types.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, last_processed_at, watermark_seconds, updated_at
		FROM checkpoints ORDER BY source_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cps []*types.Checkpoint
	for rows.Next() {
		var (
			cp                types.Checkpoint
			processed, update int64
		)
		if err := rows.Scan(&cp.SourceID, &processed, &cp.WatermarkSeconds, &update); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint: %w", err)
		}
		cp.LastProcessedAt = fromMillis(processed)
		cp.UpdatedAt = fromMillis(update)
		cps = append(cps, &cp)
	}
	return cps, rows.Err()
}
