package sqlite

// Timestamps are stored as Unix milliseconds so range scans compare integers.
const schema = `
CREATE TABLE IF NOT EXISTS source_queries (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    query TEXT NOT NULL,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
    source_id TEXT PRIMARY KEY,
    last_processed_at INTEGER NOT NULL,
    watermark_seconds INTEGER NOT NULL DEFAULT 120,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (source_id) REFERENCES source_queries(id) ON DELETE CASCADE
);

-- Overlapping windows may ingest the same line twice; no uniqueness on content.
CREATE TABLE IF NOT EXISTS raw_events (
    id TEXT PRIMARY KEY,
    source_id TEXT NOT NULL,
    ts INTEGER NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    env TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    host TEXT NOT NULL DEFAULT '',
    level TEXT NOT NULL DEFAULT '',
    trace_id TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    thread_id TEXT NOT NULL DEFAULT '',
    labels TEXT NOT NULL DEFAULT '{}',
    message TEXT NOT NULL,
    exception_type TEXT NOT NULL DEFAULT '',
    fingerprint_id TEXT NOT NULL DEFAULT '',
    ingested_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_events_ts ON raw_events(ts);
CREATE INDEX IF NOT EXISTS idx_raw_events_fingerprint ON raw_events(fingerprint_id);

CREATE TABLE IF NOT EXISTS fingerprints (
    id TEXT PRIMARY KEY,
    exception_type TEXT NOT NULL,
    top_frames TEXT NOT NULL DEFAULT '[]',
    first_seen_at INTEGER NOT NULL,
    last_seen_at INTEGER NOT NULL,
    last_service TEXT NOT NULL DEFAULT '',
    last_env TEXT NOT NULL DEFAULT '',
    last_version TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'new' CHECK (status IN ('new', 'known', 'fixed', 'ignored')),
    owner_team TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_fingerprints_status_last_seen ON fingerprints(status, last_seen_at);

CREATE TABLE IF NOT EXISTS findings (
    id TEXT PRIMARY KEY,
    fingerprint_id TEXT NOT NULL,
    service TEXT NOT NULL DEFAULT '',
    env TEXT NOT NULL DEFAULT '',
    version_range TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL CHECK (severity IN ('low', 'medium', 'high', 'critical')),
    priority_score REAL NOT NULL DEFAULT 0.5,
    root_cause_chain TEXT NOT NULL DEFAULT '',
    log_evidence TEXT NOT NULL DEFAULT '{}',
    code_evidence TEXT NOT NULL DEFAULT '',
    suggested_fix TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT 'new' CHECK (status IN ('new', 'triaged', 'in_progress', 'fixed', 'false_positive')),
    prompt_version TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    latency_ms INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (fingerprint_id) REFERENCES fingerprints(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_findings_fingerprint ON findings(fingerprint_id, created_at);

CREATE TABLE IF NOT EXISTS integration_issues (
    provider TEXT NOT NULL,
    fingerprint_id TEXT NOT NULL,
    issue_key TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    state TEXT NOT NULL DEFAULT 'open' CHECK (state IN ('open', 'closed')),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (provider, fingerprint_id),
    FOREIGN KEY (fingerprint_id) REFERENCES fingerprints(id) ON DELETE CASCADE
);
`
