// Package tracker defines the external issue tracker contract and renders
// the issue published for a finding.
package tracker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/steveyegge/triage/internal/types"
)

// TitlePrefix starts every issue title
const TitlePrefix = "[triage]"

// CreatedIssue is the tracker's answer to a create call
type CreatedIssue struct {
	Created  bool
	IssueKey string
	URL      string
}

// Tracker creates issues in an external system. It is not relied on for
// deduplication; the local ledger is.
type Tracker interface {
	Provider() string
	CreateIssue(ctx context.Context, title, body string, labels []string) (*CreatedIssue, error)
}

// Finder looks up an issue already open for a fingerprint. The publish
// guard consults it before creating, which covers a create whose ledger
// write was lost.
type Finder interface {
	// FindOpenIssue returns nil when no open issue carries the fingerprint
	FindOpenIssue(ctx context.Context, fingerprintID string) (*CreatedIssue, error)
}

// FingerprintMarker is the body line that identifies a fingerprint's issue
func FingerprintMarker(fingerprintID string) string {
	return "**Fingerprint:** `" + fingerprintID + "`"
}

// Title returns the issue title for a fingerprint
func Title(fp *types.Fingerprint) string {
	return TitlePrefix + " " + fp.ExceptionType
}

// RenderBody renders the markdown issue body for a finding
func RenderBody(f *types.Finding, fp *types.Fingerprint) string {
	var sb strings.Builder

	sb.WriteString("## Summary\n")
	sb.WriteString(FingerprintMarker(fp.ID) + "\n")
	fmt.Fprintf(&sb, "**Exception:** %s\n", fp.ExceptionType)
	fmt.Fprintf(&sb, "**Severity:** %s (priority %.2f)\n", f.Severity, f.PriorityScore)
	if f.Service != "" {
		fmt.Fprintf(&sb, "**Service:** %s", f.Service)
		if f.Env != "" {
			fmt.Fprintf(&sb, " (%s)", f.Env)
		}
		sb.WriteString("\n")
	}
	if f.VersionRange != "" {
		fmt.Fprintf(&sb, "**Versions:** %s\n", f.VersionRange)
	}
	fmt.Fprintf(&sb, "**First seen:** %s\n", fp.FirstSeenAt.UTC().Format(time.RFC3339))
	fmt.Fprintf(&sb, "**Last seen:** %s\n", fp.LastSeenAt.UTC().Format(time.RFC3339))

	if len(fp.TopFrames) > 0 {
		sb.WriteString("\n## Top frames\n")
		writeFenced(&sb, "", strings.Join(fp.TopFrames, "\n"))
	}

	sb.WriteString("\n## Root cause / chain\n")
	writeFenced(&sb, "json", orDefault(f.RootCauseChain, "{}"))

	if f.CodeEvidence != "" && f.CodeEvidence != "{}" {
		sb.WriteString("\n## Code context\n")
		writeFenced(&sb, "json", f.CodeEvidence)
	}

	sb.WriteString("\n## Suggested fix\n")
	sb.WriteString(orDefault(f.SuggestedFix, "-"))
	sb.WriteString("\n")

	fmt.Fprintf(&sb, "\n<sub>finding %s · model %s · prompt %s</sub>\n", f.ID, orDefault(f.Model, "unknown"), orDefault(f.PromptVersion, "unknown"))
	return sb.String()
}

// writeFenced writes content in a code fence longer than any backtick run
// inside it, so model output cannot close the block early.
func writeFenced(sb *strings.Builder, lang, content string) {
	fence := strings.Repeat("`", max(3, longestBacktickRun(content)+1))
	sb.WriteString(fence + lang + "\n")
	sb.WriteString(content)
	sb.WriteString("\n" + fence + "\n")
}

func longestBacktickRun(s string) int {
	longest, run := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] != '`' {
			run = 0
			continue
		}
		run++
		longest = max(longest, run)
	}
	return longest
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
