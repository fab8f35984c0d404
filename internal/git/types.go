package git

// SearchRequest describes a code search
type SearchRequest struct {
	Query      string // literal text, matched case-insensitively
	PathPrefix string // optional directory relative to the repo root
	FileGlob   string // optional pathspec glob such as "*.cs"
	MaxResults int    // default 20
}

// Match is one matching line
type Match struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Preview   string `json:"preview"`
}

// Snippet is a range of lines from one file
type Snippet struct {
	Path      string `json:"file"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"snippet"`
	Commit    string `json:"commit,omitempty"`
}
