package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/triage/internal/types"
)

// InsertRawEvents stores a batch of events in one transaction. Events without
// an id get a fresh uuid.
func (s *SQLiteStorage) InsertRawEvents(ctx context.Context, events []*types.RawEvent) error {
	if len(events) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO raw_events (
				id, source_id, ts, service, env, version, host, level,
				trace_id, session_id, thread_id, labels, message,
				exception_type, fingerprint_id, ingested_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := time.Now()
		for _, ev := range events {
			if ev.ID == "" {
				ev.ID = uuid.NewString()
			}
			if ev.IngestedAt.IsZero() {
				ev.IngestedAt = now
			}
			labels, err := marshalLabels(ev.Labels)
			if err != nil {
				return err
			}

			if _, err := stmt.ExecContext(ctx,
				ev.ID, ev.SourceID, toMillis(ev.Timestamp), ev.Service, ev.Env, ev.Version, ev.Host, ev.Level,
				ev.TraceID, ev.SessionID, ev.ThreadID, labels, ev.Message,
				ev.ExceptionType, ev.FingerprintID, toMillis(ev.IngestedAt),
			); err != nil {
				return fmt.Errorf("failed to insert raw event %s: %w", ev.ID, err)
			}
		}
		return nil
	})
}

// ListRawEvents returns up to limit events with w.From <= ts < w.To, oldest first
func (s *SQLiteStorage) ListRawEvents(ctx context.Context, w types.Window, limit int) ([]*types.RawEvent, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, ts, service, env, version, host, level,
		       trace_id, session_id, thread_id, labels, message,
		       exception_type, fingerprint_id, ingested_at
		FROM raw_events
		WHERE ts >= ? AND ts < ?
		ORDER BY ts ASC, id ASC
		LIMIT ?
	`, toMillis(w.From), toMillis(w.To), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list raw events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.RawEvent
	for rows.Next() {
		var (
			ev           types.RawEvent
			ts, ingested int64
			labels       string
		)
		if err := rows.Scan(
			&ev.ID, &ev.SourceID, &ts, &ev.Service, &ev.Env, &ev.Version, &ev.Host, &ev.Level,
			&ev.TraceID, &ev.SessionID, &ev.ThreadID, &labels, &ev.Message,
			&ev.ExceptionType, &ev.FingerprintID, &ingested,
		); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		ev.Timestamp = fromMillis(ts)
		ev.IngestedAt = fromMillis(ingested)
		if err := json.Unmarshal([]byte(labels), &ev.Labels); err != nil {
			return nil, fmt.Errorf("failed to decode labels for event %s: %w", ev.ID, err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// AnnotateRawEvent backfills the computed fingerprint onto an event
func (s *SQLiteStorage) AnnotateRawEvent(ctx context.Context, id, fingerprintID, exceptionType string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_events SET fingerprint_id = ?, exception_type = ?
		WHERE id = ? AND (fingerprint_id != ? OR exception_type != ?)
	`, fingerprintID, exceptionType, id, fingerprintID, exceptionType)
	if err != nil {
		return fmt.Errorf("failed to annotate raw event %s: %w", id, err)
	}
	return nil
}

// CountRawEvents returns the number of stored events
func (s *SQLiteStorage) CountRawEvents(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM raw_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}
	return n, nil
}

// CleanupRawEvents deletes events older than cutoff, batchSize rows per
// statement, and returns the number deleted.
func (s *SQLiteStorage) CleanupRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int, error) {
	if batchSize < 1 {
		return 0, fmt.Errorf("batch size must be at least 1")
	}

	totalDeleted := 0
	for {
		// Check context cancellation
		select {
		case <-ctx.Done():
			return totalDeleted, ctx.Err()
		default:
		}

		result, err := s.db.ExecContext(ctx, `
			DELETE FROM raw_events
			WHERE id IN (
				SELECT id FROM raw_events
				WHERE ts < ?
				ORDER BY ts ASC
				LIMIT ?
			)
		`, toMillis(cutoff), batchSize)
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to execute delete: %w", err)
		}

		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return totalDeleted, fmt.Errorf("failed to get rows affected: %w", err)
		}
		totalDeleted += int(rowsAffected)

		// If we deleted fewer than batchSize, we're done
		if rowsAffected < int64(batchSize) {
			break
		}
	}

	return totalDeleted, nil
}

func marshalLabels(labels map[string]string) (string, error) {
	if len(labels) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("failed to encode labels: %w", err)
	}
	return string(data), nil
}
