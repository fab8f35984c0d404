package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/steveyegge/triage/internal/types"
)

// UpsertSource creates a source query or updates its name, query and enabled flag
func (s *SQLiteStorage) UpsertSource(ctx context.Context, q *types.SourceQuery) error {
	if err := q.Validate(); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}

	now := time.Now()
	if q.CreatedAt.IsZero() {
		q.CreatedAt = now
	}
	q.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_queries (id, name, query, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			query = excluded.query,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`, q.ID, q.Name, q.Query, q.Enabled, toMillis(q.CreatedAt), toMillis(q.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert source %s: %w", q.ID, err)
	}
	return nil
}

// GetSource returns a source by id, or nil if it does not exist
func (s *SQLiteStorage) GetSource(ctx context.Context, id string) (*types.SourceQuery, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, query, enabled, created_at, updated_at
		FROM source_queries WHERE id = ?
	`, id)

	q, err := scanSource(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get source %s: %w", id, err)
	}
	return q, nil
}

// ListSources returns sources ordered by id
func (s *SQLiteStorage) ListSources(ctx context.Context, enabledOnly bool) ([]*types.SourceQuery, error) {
	query := `SELECT id, name, query, enabled, created_at, updated_at FROM source_queries`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sources []*types.SourceQuery
	for rows.Next() {
		q, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, q)
	}
	return sources, rows.Err()
}

// SetSourceEnabled toggles a source
func (s *SQLiteStorage) SetSourceEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE source_queries SET enabled = ?, updated_at = ? WHERE id = ?
	`, enabled, toMillis(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update source %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("source not found: %s", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*types.SourceQuery, error) {
	var (
		q                types.SourceQuery
		created, updated int64
	)
	if err := row.Scan(&q.ID, &q.Name, &q.Query, &q.Enabled, &created, &updated); err != nil {
		return nil, err
	}
	q.CreatedAt = fromMillis(created)
	q.UpdatedAt = fromMillis(updated)
	return &q, nil
}
