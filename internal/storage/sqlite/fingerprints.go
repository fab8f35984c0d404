package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/steveyegge/triage/internal/types"
)

const fingerprintColumns = `id, exception_type, top_frames, first_seen_at, last_seen_at,
	last_service, last_env, last_version, status, owner_team`

// GetFingerprint returns a fingerprint by id, or nil if it is not registered
func (s *SQLiteStorage) GetFingerprint(ctx context.Context, id string) (*types.Fingerprint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+fingerprintColumns+` FROM fingerprints WHERE id = ?`, id)

	fp, err := scanFingerprint(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get fingerprint %s: %w", id, err)
	}
	return fp, nil
}

// InsertFingerprint registers a new fingerprint. Inserting an id that already
// exists is a no-op, so the first writer's first-seen is kept.
func (s *SQLiteStorage) InsertFingerprint(ctx context.Context, fp *types.Fingerprint) error {
	if err := fp.Validate(); err != nil {
		return fmt.Errorf("invalid fingerprint: %w", err)
	}
	frames, err := json.Marshal(nonNilFrames(fp.TopFrames))
	if err != nil {
		return fmt.Errorf("failed to encode frames: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO fingerprints (`+fingerprintColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, fp.ID, fp.ExceptionType, string(frames), toMillis(fp.FirstSeenAt), toMillis(fp.LastSeenAt),
		fp.LastService, fp.LastEnv, fp.LastVersion, fp.Status, fp.OwnerTeam)
	if err != nil {
		return fmt.Errorf("failed to insert fingerprint %s: %w", fp.ID, err)
	}
	return nil
}

// TouchFingerprint moves last-seen data forward. It never changes first-seen
// or status, and ignores updates older than the stored last-seen.
func (s *SQLiteStorage) TouchFingerprint(ctx context.Context, fp *types.Fingerprint) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE fingerprints
		SET last_seen_at = ?, last_service = ?, last_env = ?, last_version = ?
		WHERE id = ? AND last_seen_at <= ?
	`, toMillis(fp.LastSeenAt), fp.LastService, fp.LastEnv, fp.LastVersion, fp.ID, toMillis(fp.LastSeenAt))
	if err != nil {
		return fmt.Errorf("failed to touch fingerprint %s: %w", fp.ID, err)
	}
	return nil
}

// ListFingerprints returns fingerprints matching the filter, most recently
// seen first
func (s *SQLiteStorage) ListFingerprints(ctx context.Context, filter types.FingerprintFilter) ([]*types.Fingerprint, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, *filter.Status)
	}
	if filter.SeenSince != nil {
		where = append(where, "last_seen_at >= ?")
		args = append(args, toMillis(*filter.SeenSince))
	}

	query := `SELECT ` + fingerprintColumns + ` FROM fingerprints`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY last_seen_at DESC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

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

// UpdateFingerprintStatus moves a fingerprint along its lifecycle. Backward
// moves fail with types.ErrInvalidTransition; setting the current status again
// succeeds without change.
func (s *SQLiteStorage) UpdateFingerprintStatus(ctx context.Context, id string, status types.FingerprintStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("invalid fingerprint status: %s", status)
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		var current types.FingerprintStatus
		err := tx.QueryRowContext(ctx, `SELECT status FROM fingerprints WHERE id = ?`, id).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("fingerprint not found: %s", id)
		}
		if err != nil {
			return fmt.Errorf("failed to read fingerprint status: %w", err)
		}

		if !current.CanTransitionTo(status) {
			return fmt.Errorf("%w: fingerprint %s %s -> %s", types.ErrInvalidTransition, id, current, status)
		}
		if current == status {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `UPDATE fingerprints SET status = ? WHERE id = ?`, status, id); err != nil {
			return fmt.Errorf("failed to update fingerprint status: %w", err)
		}
		return nil
	})
}

func scanFingerprint(row rowScanner) (*types.Fingerprint, error) {
	var (
		fp          types.Fingerprint
		frames      string
		first, last int64
	)
	if err := row.Scan(&fp.ID, &fp.ExceptionType, &frames, &first, &last,
		&fp.LastService, &fp.LastEnv, &fp.LastVersion, &fp.Status, &fp.OwnerTeam); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(frames), &fp.TopFrames); err != nil {
		return nil, fmt.Errorf("failed to decode top frames for %s: %w", fp.ID, err)
	}
	fp.FirstSeenAt = fromMillis(first)
	fp.LastSeenAt = fromMillis(last)
	return &fp, nil
}

func nonNilFrames(frames []string) []string {
	if frames == nil {
		return []string{}
	}
	return frames
}
