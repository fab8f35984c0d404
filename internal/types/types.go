package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed by the
// fingerprint or finding lifecycle.
var ErrInvalidTransition = errors.New("invalid status transition")

// SourceQuery is a named log query that is polled on every tick
type SourceQuery struct {
	ID        string    `json:"id" yaml:"id"`
	Name      string    `json:"name" yaml:"name"`
	Query     string    `json:"query" yaml:"query"`
	Enabled   bool      `json:"enabled" yaml:"enabled"`
	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Validate checks if the source query has valid field values
func (q *SourceQuery) Validate() error {
	if strings.TrimSpace(q.ID) == "" {
		return fmt.Errorf("source id is required")
	}
	if len(q.ID) > 100 {
		return fmt.Errorf("source id must be 100 characters or less (got %d)", len(q.ID))
	}
	if strings.TrimSpace(q.Query) == "" {
		return fmt.Errorf("source %s: query is required", q.ID)
	}
	return nil
}

// Checkpoint records how far ingestion has progressed for one source.
// LastProcessedAt never moves backwards.
type Checkpoint struct {
	SourceID         string    `json:"source_id"`
	LastProcessedAt  time.Time `json:"last_processed_at"`
	WatermarkSeconds int       `json:"watermark_seconds"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Window is a half-open time range [From, To)
type Window struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// IsEmpty reports whether the window contains no instants
func (w Window) IsEmpty() bool {
	return !w.From.Before(w.To)
}

// Contains reports whether ts falls within [From, To)
func (w Window) Contains(ts time.Time) bool {
	return !ts.Before(w.From) && ts.Before(w.To)
}

func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", w.From.UTC().Format(time.RFC3339), w.To.UTC().Format(time.RFC3339))
}

// RawEvent is one ingested log line plus its stream labels.
// Rows are append-only apart from the fingerprint backfill.
type RawEvent struct {
	ID            string            `json:"id"`
	SourceID      string            `json:"source_id"`
	Timestamp     time.Time         `json:"ts"`
	Service       string            `json:"service,omitempty"`
	Env           string            `json:"env,omitempty"`
	Version       string            `json:"version,omitempty"`
	Host          string            `json:"host,omitempty"`
	Level         string            `json:"level,omitempty"`
	TraceID       string            `json:"trace_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	ThreadID      string            `json:"thread_id,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
	Message       string            `json:"message"`
	ExceptionType string            `json:"exception_type,omitempty"`
	FingerprintID string            `json:"fingerprint_id,omitempty"`
	IngestedAt    time.Time         `json:"ingested_at"`
}

// FingerprintStatus is the lifecycle state of a fingerprint
type FingerprintStatus string

const (
	FingerprintNew     FingerprintStatus = "new"
	FingerprintKnown   FingerprintStatus = "known"
	FingerprintFixed   FingerprintStatus = "fixed"
	FingerprintIgnored FingerprintStatus = "ignored"
)

// IsValid checks if the status value is valid
func (s FingerprintStatus) IsValid() bool {
	switch s {
	case FingerprintNew, FingerprintKnown, FingerprintFixed, FingerprintIgnored:
		return true
	}
	return false
}

// ValidTransitions defines the forward-only fingerprint lifecycle:
//
//	new → known → fixed
//	          ↘ ignored
func (s FingerprintStatus) ValidTransitions() []FingerprintStatus {
	switch s {
	case FingerprintNew:
		return []FingerprintStatus{FingerprintKnown}
	case FingerprintKnown:
		return []FingerprintStatus{FingerprintFixed, FingerprintIgnored}
	default:
		return []FingerprintStatus{}
	}
}

// CanTransitionTo checks if moving to target is allowed. Staying in the same
// state is always allowed so that repeated writes are idempotent.
func (s FingerprintStatus) CanTransitionTo(target FingerprintStatus) bool {
	if s == target {
		return true
	}
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// Fingerprint is the registry entry for one distinct failure signature
type Fingerprint struct {
	ID            string            `json:"id"`
	ExceptionType string            `json:"exception_type"`
	TopFrames     []string          `json:"top_frames"`
	FirstSeenAt   time.Time         `json:"first_seen_at"`
	LastSeenAt    time.Time         `json:"last_seen_at"`
	LastService   string            `json:"last_service,omitempty"`
	LastEnv       string            `json:"last_env,omitempty"`
	LastVersion   string            `json:"last_version,omitempty"`
	Status        FingerprintStatus `json:"status"`
	OwnerTeam     string            `json:"owner_team,omitempty"`
}

// Validate checks if the fingerprint has valid field values
func (f *Fingerprint) Validate() error {
	if len(f.ID) == 0 {
		return fmt.Errorf("fingerprint id is required")
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid fingerprint status: %s", f.Status)
	}
	if f.LastSeenAt.Before(f.FirstSeenAt) {
		return fmt.Errorf("fingerprint %s: last_seen_at precedes first_seen_at", f.ID)
	}
	return nil
}

// FingerprintObservation is one sighting of a fingerprint fed to the registry
type FingerprintObservation struct {
	FingerprintID string
	ExceptionType string
	TopFrames     []string
	Timestamp     time.Time
	Service       string
	Env           string
	Version       string
}

// FingerprintFilter narrows fingerprint listings
type FingerprintFilter struct {
	Status    *FingerprintStatus
	SeenSince *time.Time
	Limit     int
}

// Severity ranks the impact of a finding
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity value is valid
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// ParseSeverity normalizes free text into a Severity.
// The boolean is false when the text names no known severity.
func ParseSeverity(text string) (Severity, bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(text)))
	if s.IsValid() {
		return s, true
	}
	return "", false
}

// PriorityScore maps a severity onto [0, 1]
func (s Severity) PriorityScore() float64 {
	switch s {
	case SeverityLow:
		return 0.25
	case SeverityHigh:
		return 0.75
	case SeverityCritical:
		return 1.0
	default:
		return 0.5
	}
}

// FindingStatus is the lifecycle state of a finding
type FindingStatus string

const (
	FindingNew           FindingStatus = "new"
	FindingTriaged       FindingStatus = "triaged"
	FindingInProgress    FindingStatus = "in_progress"
	FindingFixed         FindingStatus = "fixed"
	FindingFalsePositive FindingStatus = "false_positive"
)

// IsValid checks if the status value is valid
func (s FindingStatus) IsValid() bool {
	switch s {
	case FindingNew, FindingTriaged, FindingInProgress, FindingFixed, FindingFalsePositive:
		return true
	}
	return false
}

// ValidTransitions defines the finding lifecycle:
//
//	new → triaged → in_progress → fixed
//	   ↘        ↘             ↘
//	     false_positive (from any non-terminal state)
func (s FindingStatus) ValidTransitions() []FindingStatus {
	switch s {
	case FindingNew:
		return []FindingStatus{FindingTriaged, FindingFalsePositive}
	case FindingTriaged:
		return []FindingStatus{FindingInProgress, FindingFalsePositive}
	case FindingInProgress:
		return []FindingStatus{FindingFixed, FindingFalsePositive}
	default:
		return []FindingStatus{}
	}
}

// CanTransitionTo checks if a transition from this status to target is valid
func (s FindingStatus) CanTransitionTo(target FindingStatus) bool {
	for _, valid := range s.ValidTransitions() {
		if valid == target {
			return true
		}
	}
	return false
}

// Finding is the persisted outcome of one analysis of a fingerprint.
// A fingerprint may accumulate several findings over time.
type Finding struct {
	ID             string        `json:"id"`
	FingerprintID  string        `json:"fingerprint_id"`
	Service        string        `json:"service,omitempty"`
	Env            string        `json:"env,omitempty"`
	VersionRange   string        `json:"version_range,omitempty"`
	Severity       Severity      `json:"severity"`
	PriorityScore  float64       `json:"priority_score"`
	RootCauseChain string        `json:"root_cause_chain"`
	LogEvidence    string        `json:"log_evidence"`
	CodeEvidence   string        `json:"code_evidence,omitempty"`
	SuggestedFix   string        `json:"suggested_fix,omitempty"`
	Status         FindingStatus `json:"status"`
	PromptVersion  string        `json:"prompt_version,omitempty"`
	Model          string        `json:"model,omitempty"`
	LatencyMs      int64         `json:"latency_ms"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Validate checks if the finding has valid field values
func (f *Finding) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("finding id is required")
	}
	if f.FingerprintID == "" {
		return fmt.Errorf("finding fingerprint_id is required")
	}
	if !f.Severity.IsValid() {
		return fmt.Errorf("invalid severity: %s", f.Severity)
	}
	if !f.Status.IsValid() {
		return fmt.Errorf("invalid finding status: %s", f.Status)
	}
	if f.PriorityScore < 0 || f.PriorityScore > 1 {
		return fmt.Errorf("priority_score must be between 0 and 1 (got %v)", f.PriorityScore)
	}
	return nil
}

// IssueState is the state of an externally published issue
type IssueState string

const (
	IssueOpen   IssueState = "open"
	IssueClosed IssueState = "closed"
)

// IsValid checks if the issue state value is valid
func (s IssueState) IsValid() bool {
	return s == IssueOpen || s == IssueClosed
}

// IntegrationIssue is the ledger row linking a fingerprint to an issue in an
// external tracker. (Provider, FingerprintID) is unique.
type IntegrationIssue struct {
	Provider      string     `json:"provider"`
	FingerprintID string     `json:"fingerprint_id"`
	IssueKey      string     `json:"issue_key"`
	URL           string     `json:"url"`
	State         IssueState `json:"state"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Validate checks if the ledger row has valid field values
func (i *IntegrationIssue) Validate() error {
	if i.Provider == "" || i.FingerprintID == "" {
		return fmt.Errorf("integration issue requires provider and fingerprint_id")
	}
	if i.IssueKey == "" {
		return fmt.Errorf("integration issue %s/%s: issue_key is required", i.Provider, i.FingerprintID)
	}
	if !i.State.IsValid() {
		return fmt.Errorf("invalid issue state: %s", i.State)
	}
	return nil
}

// Statistics summarizes pipeline state for the status command
type Statistics struct {
	SourcesTotal         int                       `json:"sources_total"`
	SourcesEnabled       int                       `json:"sources_enabled"`
	RawEvents            int                       `json:"raw_events"`
	FingerprintsByStatus map[FingerprintStatus]int `json:"fingerprints_by_status"`
	Findings             int                       `json:"findings"`
	OpenIssues           int                       `json:"open_issues"`
}
