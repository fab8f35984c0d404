package pipeline

import (
	"context"

	"github.com/steveyegge/triage/internal/ai"
	"github.com/steveyegge/triage/internal/git"
)

// Reasoner turns a serialized evidence summary into an analysis. The result
// is stored verbatim.
type Reasoner interface {
	Analyze(ctx context.Context, evidence string) (string, error)
}

// ModelDescriber is implemented by reasoners that can name the model and
// prompt behind an analysis
type ModelDescriber interface {
	Model() string
	PromptVersion() string
}

// CodeSearcher finds and reads source code related to a failure
type CodeSearcher interface {
	Search(ctx context.Context, req git.SearchRequest) ([]git.Match, error)
	FetchSnippet(ctx context.Context, path string, startLine, endLine int) (*git.Snippet, error)
}

var (
	_ Reasoner       = (*ai.Analyzer)(nil)
	_ ModelDescriber = (*ai.Analyzer)(nil)
	_ CodeSearcher   = (*git.Git)(nil)
)
