package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/triage/internal/ai"
	"github.com/steveyegge/triage/internal/evidence"
	"github.com/steveyegge/triage/internal/fingerprint"
	"github.com/steveyegge/triage/internal/git"
	"github.com/steveyegge/triage/internal/metrics"
	"github.com/steveyegge/triage/internal/tracker"
	"github.com/steveyegge/triage/internal/types"
)

// PublishOutcome is what the publish guard did for one candidate
type PublishOutcome int

const (
	// PublishFailed means no issue was recorded; the fingerprint stays new
	PublishFailed PublishOutcome = iota
	// PublishCreated means a new issue was created and recorded
	PublishCreated
	// PublishDuplicate means an open issue already existed
	PublishDuplicate
)

func (p PublishOutcome) String() string {
	switch p {
	case PublishCreated:
		return "created"
	case PublishDuplicate:
		return "duplicate"
	default:
		return "failed"
	}
}

// sampleLimit bounds the samples sent for analysis
const sampleLimit = 3

var errEmptyAnalysis = errors.New("reasoner returned an empty analysis")

// analysisInput is the evidence summary sent to the reasoner
type analysisInput struct {
	Fingerprint     candidateSummary `json:"fingerprint"`
	ExceptionCounts map[string]int   `json:"exception_counts"`
	Samples         []string         `json:"sample_stacktraces"`
	Service         string           `json:"service,omitempty"`
	Env             string           `json:"env,omitempty"`
	Version         string           `json:"version,omitempty"`
	WindowStart     time.Time        `json:"window_start"`
	WindowEnd       time.Time        `json:"window_end"`
	Code            *git.Snippet     `json:"code,omitempty"`
}

type candidateSummary struct {
	ID            string    `json:"id"`
	ExceptionType string    `json:"exception_type"`
	TopFrames     []string  `json:"top_frames,omitempty"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
}

// analyze asks the reasoner about one candidate and turns the answer into an
// unsaved Finding. Any error means the candidate is skipped this tick.
func (o *Orchestrator) analyze(ctx context.Context, bundle *evidence.Bundle, fp *types.Fingerprint) (*types.Finding, error) {
	samples := bundle.Samples
	if len(samples) > sampleLimit {
		samples = samples[:sampleLimit]
	}
	input := analysisInput{
		Fingerprint: candidateSummary{
			ID:            fp.ID,
			ExceptionType: fp.ExceptionType,
			TopFrames:     fp.TopFrames,
			FirstSeenAt:   fp.FirstSeenAt,
			LastSeenAt:    fp.LastSeenAt,
		},
		ExceptionCounts: bundle.ExceptionCounts,
		Samples:         samples,
		Service:         bundle.Service,
		Env:             bundle.Env,
		Version:         bundle.Version,
		WindowStart:     bundle.Window.From,
		WindowEnd:       bundle.Window.To,
	}
	logEvidence, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode log evidence: %w", err)
	}

	codeEvidence := "{}"
	if snippet := o.codeContext(ctx, fp); snippet != nil {
		input.Code = snippet
		data, err := json.Marshal(snippet)
		if err != nil {
			return nil, fmt.Errorf("failed to encode code evidence: %w", err)
		}
		codeEvidence = string(data)
	}

	summary, err := json.MarshalIndent(input, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis input: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	text, err := o.reasoner.Analyze(ctx, string(summary))
	latency := time.Since(start)
	if err != nil {
		metrics.Analyses.WithLabelValues(metrics.OutcomeFailed).Inc()
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Analyses.WithLabelValues(metrics.OutcomeEmpty).Inc()
		return nil, errEmptyAnalysis
	}
	metrics.Analyses.WithLabelValues(metrics.OutcomeSuccess).Inc()

	severity := ai.SeverityOf(text)
	f := &types.Finding{
		ID:             uuid.NewString(),
		FingerprintID:  fp.ID,
		Service:        firstNonEmpty(fp.LastService, bundle.Service),
		Env:            firstNonEmpty(fp.LastEnv, bundle.Env),
		VersionRange:   bundle.VersionRange(fp.ID),
		Severity:       severity,
		PriorityScore:  severity.PriorityScore(),
		RootCauseChain: text,
		LogEvidence:    string(logEvidence),
		CodeEvidence:   codeEvidence,
		SuggestedFix:   ai.SuggestedFixOf(text),
		Status:         types.FindingNew,
		LatencyMs:      latency.Milliseconds(),
	}
	if d, ok := o.reasoner.(ModelDescriber); ok {
		f.Model = d.Model()
		f.PromptVersion = d.PromptVersion()
	}
	return f, nil
}

// codeContext returns the snippet around the best code match for the
// candidate's exception type, or nil. Search failures only cost the context.
func (o *Orchestrator) codeContext(ctx context.Context, fp *types.Fingerprint) *git.Snippet {
	if o.code == nil {
		return nil
	}
	term := searchTerm(fp.ExceptionType)
	if term == "" || ctx.Err() != nil {
		return nil
	}

	matches, err := o.code.Search(ctx, git.SearchRequest{Query: term, MaxResults: 3})
	if err != nil {
		o.logger.Warn("code search failed", "fingerprint", fp.ID, "query", term, "err", err)
		return nil
	}
	if len(matches) == 0 || ctx.Err() != nil {
		return nil
	}

	top := matches[0]
	snippet, err := o.code.FetchSnippet(ctx, top.Path, max(1, top.StartLine-5), top.EndLine+15)
	if err != nil {
		o.logger.Warn("snippet fetch failed", "fingerprint", fp.ID, "path", top.Path, "err", err)
		return nil
	}
	if snippet == nil || snippet.Content == "" {
		return nil
	}
	return snippet
}

// searchTerm is the last dotted segment of an exception type
func searchTerm(exceptionType string) string {
	if exceptionType == "" || exceptionType == fingerprint.UnknownType {
		return ""
	}
	if i := strings.LastIndex(exceptionType, "."); i >= 0 && i < len(exceptionType)-1 {
		return exceptionType[i+1:]
	}
	return exceptionType
}

// Publish runs the publish guard for one analyzed candidate.
//
// An open ledger row for (provider, fingerprint) means the issue already
// exists, possibly from a tick whose status update was lost: the fingerprint
// becomes known and nothing else happens. A tracker that can search is asked
// next, which catches an issue whose ledger write failed; a hit is recorded
// in the ledger instead of filing again. Otherwise the finding is stored,
// the tracker is called outside any transaction, and on success the ledger
// row and the known status are written together. A failed create leaves the
// fingerprint new and keeps the finding.
func (o *Orchestrator) Publish(ctx context.Context, fp *types.Fingerprint, f *types.Finding) (PublishOutcome, error) {
	provider := o.tracker.Provider()

	existing, err := o.store.GetOpenIssue(ctx, provider, fp.ID)
	if err != nil {
		return PublishFailed, fmt.Errorf("failed to check ledger: %w", err)
	}
	if existing != nil {
		metrics.DuplicatesPrevented.WithLabelValues(provider).Inc()
		if err := o.store.UpdateFingerprintStatus(ctx, fp.ID, types.FingerprintKnown); err != nil {
			return PublishDuplicate, fmt.Errorf("issue %s exists but status update failed: %w", existing.IssueKey, err)
		}
		o.logger.Info("issue already open, marking fingerprint known",
			"fingerprint", fp.ID, "provider", provider, "issue", existing.IssueKey)
		return PublishDuplicate, nil
	}

	if finder, ok := o.tracker.(tracker.Finder); ok {
		found, err := finder.FindOpenIssue(ctx, fp.ID)
		if err != nil {
			// The ledger stays authoritative; a failed search does not block filing
			o.logger.Warn("tracker search failed, relying on ledger", "fingerprint", fp.ID, "provider", provider, "err", err)
		} else if found != nil && found.IssueKey != "" {
			if err := o.store.RecordPublishedIssue(ctx, &types.IntegrationIssue{
				Provider:      provider,
				FingerprintID: fp.ID,
				IssueKey:      found.IssueKey,
				URL:           found.URL,
				State:         types.IssueOpen,
			}); err != nil {
				return PublishFailed, fmt.Errorf("issue %s found in %s but not recorded: %w", found.IssueKey, provider, err)
			}
			metrics.DuplicatesPrevented.WithLabelValues(provider).Inc()
			o.logger.Info("open issue found in tracker, recorded in ledger",
				"fingerprint", fp.ID, "provider", provider, "issue", found.IssueKey, "url", found.URL)
			return PublishDuplicate, nil
		}
	}

	if err := o.store.CreateFinding(ctx, f); err != nil {
		return PublishFailed, err
	}

	if err := ctx.Err(); err != nil {
		return PublishFailed, err
	}
	created, err := o.tracker.CreateIssue(ctx, tracker.Title(fp), tracker.RenderBody(f, fp), o.labels)
	if err != nil {
		metrics.PublishFailures.WithLabelValues(provider).Inc()
		return PublishFailed, err
	}
	if created == nil || !created.Created || created.IssueKey == "" {
		metrics.PublishFailures.WithLabelValues(provider).Inc()
		return PublishFailed, fmt.Errorf("%s did not create an issue", provider)
	}

	if err := o.store.RecordPublishedIssue(ctx, &types.IntegrationIssue{
		Provider:      provider,
		FingerprintID: fp.ID,
		IssueKey:      created.IssueKey,
		URL:           created.URL,
		State:         types.IssueOpen,
	}); err != nil {
		// The external issue exists but the ledger does not know it
		o.logger.Error("issue created but not recorded",
			"fingerprint", fp.ID, "provider", provider, "issue", created.IssueKey, "url", created.URL, "err", err)
		metrics.PublishFailures.WithLabelValues(provider).Inc()
		return PublishFailed, err
	}

	metrics.IssuesPublished.WithLabelValues(provider).Inc()
	o.logger.Info("issue published",
		"fingerprint", fp.ID, "provider", provider, "issue", created.IssueKey, "url", created.URL,
		"severity", f.Severity)
	return PublishCreated, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
