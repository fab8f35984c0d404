// Package git searches a local checkout for code related to a failure.
package git

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	defaultMaxResults = 20
	maxPreviewLen     = 120
)

// Git runs searches against one repository using the git CLI
type Git struct {
	gitPath  string
	repoPath string
}

// NewGit creates a Git bound to repoPath.
// It verifies that git is available and that repoPath is a work tree.
func NewGit(ctx context.Context, repoPath string) (*Git, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}

	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("invalid repo path %s: %w", repoPath, err)
	}

	cmd := exec.CommandContext(ctx, gitPath, "-C", abs, "rev-parse", "--is-inside-work-tree")
	if out, err := cmd.Output(); err != nil || strings.TrimSpace(string(out)) != "true" {
		return nil, fmt.Errorf("%s is not a git work tree", abs)
	}

	return &Git{gitPath: gitPath, repoPath: abs}, nil
}

// RepoPath returns the absolute repository root
func (g *Git) RepoPath() string { return g.repoPath }

// Search runs a fixed-string, case-insensitive git grep over tracked files.
// No matches is an empty result, not an error.
func (g *Git) Search(ctx context.Context, req SearchRequest) ([]Match, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		return nil, nil
	}
	limit := req.MaxResults
	if limit <= 0 {
		limit = defaultMaxResults
	}

	args := []string{"-C", g.repoPath, "grep", "-n", "-I", "-i", "-F", "--full-name", "-e", query, "--"}
	prefix := strings.Trim(filepath.ToSlash(req.PathPrefix), "/")
	var pathspec string
	switch {
	case prefix == "" && req.FileGlob == "":
		pathspec = "."
	case req.FileGlob == "":
		pathspec = prefix
	case prefix == "":
		pathspec = ":(glob)**/" + req.FileGlob
	default:
		pathspec = ":(glob)" + prefix + "/**/" + req.FileGlob
	}
	args = append(args, pathspec)

	cmd := exec.CommandContext(ctx, g.gitPath, args...)
	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("git grep failed in %s: %w", g.repoPath, err)
	}

	var matches []Match
	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() && len(matches) < limit {
		m, ok := parseGrepLine(scanner.Text())
		if !ok || skipPath(m.Path) {
			continue
		}
		matches = append(matches, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse git grep output: %w", err)
	}
	return matches, nil
}

// parseGrepLine splits "path:line:text"
func parseGrepLine(line string) (Match, bool) {
	path, rest, ok := strings.Cut(line, ":")
	if !ok {
		return Match{}, false
	}
	num, text, ok := strings.Cut(rest, ":")
	if !ok {
		return Match{}, false
	}
	n, err := strconv.Atoi(num)
	if err != nil {
		return Match{}, false
	}
	preview := strings.TrimSpace(text)
	if len(preview) > maxPreviewLen {
		preview = preview[:maxPreviewLen] + "..."
	}
	return Match{Path: path, StartLine: n, EndLine: n, Preview: preview}, true
}

func skipPath(p string) bool {
	return strings.Contains(p, "node_modules/") || strings.HasPrefix(p, "vendor/")
}

// FetchSnippet returns lines [startLine, endLine] of path, clamped to the
// file. A missing file or an empty range yields an empty snippet.
func (g *Git) FetchSnippet(ctx context.Context, path string, startLine, endLine int) (*Snippet, error) {
	snippet := &Snippet{Path: path, StartLine: startLine, EndLine: endLine}

	full, err := g.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return snippet, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	lines := strings.Split(strings.ReplaceAll(string(data), "\r\n", "\n"), "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	start := max(0, startLine-1)
	end := min(len(lines), endLine)
	if start >= end {
		return snippet, nil
	}

	snippet.StartLine = start + 1
	snippet.EndLine = end
	snippet.Content = strings.Join(lines[start:end], "\n")
	snippet.Commit, _ = g.HeadCommit(ctx)
	return snippet, nil
}

// HeadCommit returns the SHA of HEAD
func (g *Git) HeadCommit(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, g.gitPath, "-C", g.repoPath, "rev-parse", "HEAD")
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed in %s: %w", g.repoPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// resolve joins a repo-relative path, refusing anything that escapes the repo
func (g *Git) resolve(path string) (string, error) {
	full := filepath.Join(g.repoPath, filepath.FromSlash(path))
	rel, err := filepath.Rel(g.repoPath, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the repository", path)
	}
	return full, nil
}
