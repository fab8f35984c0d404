// Package github publishes findings as GitHub issues.
package github

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v66/github"
	"golang.org/x/time/rate"

	"github.com/steveyegge/triage/internal/tracker"
)

// Provider is the ledger provider name for GitHub
const Provider = "github"

// Config holds GitHub settings
type Config struct {
	Token   string
	Owner   string
	Repo    string
	BaseURL string // API root for GitHub Enterprise or tests; empty for api.github.com

	// RatePerMinute caps issue creation (default 30)
	RatePerMinute int
}

// Client implements tracker.Tracker against the GitHub Issues API
type Client struct {
	gh      *github.Client
	owner   string
	repo    string
	limiter *rate.Limiter
}

var (
	_ tracker.Tracker = (*Client)(nil)
	_ tracker.Finder  = (*Client)(nil)
)

// New creates a GitHub tracker client
func New(cfg Config) (*Client, error) {
	if cfg.Owner == "" || cfg.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required")
	}

	gh := github.NewClient(nil)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github base url: %w", err)
		}
		gh.BaseURL = base
	}

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 30
	}

	return &Client{
		gh:      gh,
		owner:   cfg.Owner,
		repo:    cfg.Repo,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}, nil
}

// Provider returns "github"
func (c *Client) Provider() string { return Provider }

// CreateIssue opens an issue. The issue number is the ledger key.
func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (*tracker.CreatedIssue, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("github rate limiter: %w", err)
	}

	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if len(labels) > 0 {
		req.Labels = &labels
	}

	issue, _, err := c.gh.Issues.Create(ctx, c.owner, c.repo, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create github issue in %s/%s: %w", c.owner, c.repo, err)
	}

	return &tracker.CreatedIssue{
		Created:  true,
		IssueKey: strconv.Itoa(issue.GetNumber()),
		URL:      issue.GetHTMLURL(),
	}, nil
}

// FindOpenIssue searches open issues whose body carries the fingerprint
// marker. The search index trails issue creation by a few seconds.
func (c *Client) FindOpenIssue(ctx context.Context, fingerprintID string) (*tracker.CreatedIssue, error) {
	query := fmt.Sprintf("repo:%s/%s is:issue is:open in:body %q", c.owner, c.repo, fingerprintID)
	result, _, err := c.gh.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 20},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search github issues in %s/%s: %w", c.owner, c.repo, err)
	}

	marker := tracker.FingerprintMarker(fingerprintID)
	for _, issue := range result.Issues {
		if issue.IsPullRequest() || !strings.Contains(issue.GetBody(), marker) {
			continue
		}
		return &tracker.CreatedIssue{
			IssueKey: strconv.Itoa(issue.GetNumber()),
			URL:      issue.GetHTMLURL(),
		}, nil
	}
	return nil, nil
}
