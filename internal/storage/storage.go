package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/steveyegge/triage/internal/storage/postgres"
	"github.com/steveyegge/triage/internal/storage/sqlite"
	"github.com/steveyegge/triage/internal/types"
)

// Storage defines the interface for pipeline storage backends
type Storage interface {
	// Source queries
	UpsertSource(ctx context.Context, q *types.SourceQuery) error
	GetSource(ctx context.Context, id string) (*types.SourceQuery, error)
	ListSources(ctx context.Context, enabledOnly bool) ([]*types.SourceQuery, error)
	SetSourceEnabled(ctx context.Context, id string, enabled bool) error

	// Checkpoints - never move backwards
	GetCheckpoint(ctx context.Context, sourceID string) (*types.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, cp *types.Checkpoint) error
	ListCheckpoints(ctx context.Context) ([]*types.Checkpoint, error)

	// Raw events - append-only apart from the fingerprint backfill
	InsertRawEvents(ctx context.Context, events []*types.RawEvent) error
	ListRawEvents(ctx context.Context, w types.Window, limit int) ([]*types.RawEvent, error)
	AnnotateRawEvent(ctx context.Context, id, fingerprintID, exceptionType string) error
	CountRawEvents(ctx context.Context) (int, error)
	CleanupRawEvents(ctx context.Context, cutoff time.Time, batchSize int) (int, error)

	// Fingerprint registry
	GetFingerprint(ctx context.Context, id string) (*types.Fingerprint, error)
	InsertFingerprint(ctx context.Context, fp *types.Fingerprint) error
	TouchFingerprint(ctx context.Context, fp *types.Fingerprint) error
	ListFingerprints(ctx context.Context, filter types.FingerprintFilter) ([]*types.Fingerprint, error)
	UpdateFingerprintStatus(ctx context.Context, id string, status types.FingerprintStatus) error

	// Findings
	CreateFinding(ctx context.Context, f *types.Finding) error
	ListFindings(ctx context.Context, fingerprintID string, limit int) ([]*types.Finding, error)
	UpdateFindingStatus(ctx context.Context, id string, status types.FindingStatus) error

	// Integration ledger - at most one open row per (provider, fingerprint)
	GetOpenIssue(ctx context.Context, provider, fingerprintID string) (*types.IntegrationIssue, error)
	RecordPublishedIssue(ctx context.Context, issue *types.IntegrationIssue) error
	ListIntegrationIssues(ctx context.Context, state *types.IssueState) ([]*types.IntegrationIssue, error)

	// Statistics
	GetStatistics(ctx context.Context) (*types.Statistics, error)

	// Lifecycle
	Close() error
}

var (
	_ Storage = (*sqlite.SQLiteStorage)(nil)
	_ Storage = (*postgres.PostgresStorage)(nil)
)

// Driver names
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds database configuration
type Config struct {
	// Driver selects the backend: "sqlite" (default) or "postgres"
	Driver string

	// Path is the SQLite database file path
	// Default: ".triage/triage.db"
	Path string

	// URL is the PostgreSQL connection string
	URL string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Driver: DriverSQLite,
		Path:   DefaultDBPath,
	}
}

// NewStorage opens the configured backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Driver {
	case "", DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultDBPath
		}
		return sqlite.New(path)
	case DriverPostgres:
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.URL
		return postgres.New(ctx, pgCfg)
	default:
		return nil, fmt.Errorf("unknown storage driver %q (want %s or %s)", cfg.Driver, DriverSQLite, DriverPostgres)
	}
}
