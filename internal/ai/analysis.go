package ai

import (
	"regexp"
	"strings"

	"github.com/steveyegge/triage/internal/types"
)

// Analysis is the shape the prompt asks the model to return. The pipeline
// stores the raw text verbatim; this view is only used to lift out fields.
type Analysis struct {
	RootCause    string   `json:"root_cause"`
	Chain        []string `json:"chain"`
	Severity     string   `json:"severity"`
	SuggestedFix string   `json:"suggested_fix"`
}

var severityFieldRegex = regexp.MustCompile(`(?i)"?severity"?\s*[:=]\s*"?(low|medium|high|critical)\b`)

// ParseAnalysis decodes model output leniently. ok is false when no JSON
// object could be recovered.
func ParseAnalysis(text string) (Analysis, bool) {
	res := Parse[Analysis](text, ParseOptions{Context: "analysis", LogErrors: true})
	return res.Data, res.Success
}

// SeverityOf extracts the severity from model output, falling back to
// medium when none is present or it is outside the known set
func SeverityOf(text string) types.Severity {
	if a, ok := ParseAnalysis(text); ok {
		if sev, ok := types.ParseSeverity(a.Severity); ok {
			return sev
		}
	}
	if m := severityFieldRegex.FindStringSubmatch(text); m != nil {
		if sev, ok := types.ParseSeverity(m[1]); ok {
			return sev
		}
	}
	return types.SeverityMedium
}

// SuggestedFixOf returns the suggested fix when the output parses, or the
// whole text otherwise
func SuggestedFixOf(text string) string {
	if a, ok := ParseAnalysis(text); ok && strings.TrimSpace(a.SuggestedFix) != "" {
		return a.SuggestedFix
	}
	return text
}
