// Package loki queries Grafana Loki's HTTP range API.
package loki

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/triage/internal/ingest"
)

// Config holds Loki connection settings
type Config struct {
	URL      string
	Token    string // optional bearer token
	TenantID string // optional X-Scope-OrgID
	Timeout  time.Duration
}

// Client implements ingest.LogSource against /loki/api/v1/query_range
type Client struct {
	baseURL  string
	token    string
	tenantID string
	http     *http.Client
}

var _ ingest.LogSource = (*Client)(nil)

// New creates a Loki client
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("loki url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid loki url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.URL, "/"),
		token:    cfg.Token,
		tenantID: cfg.TenantID,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type queryRangeResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Stream map[string]string `json:"stream"`
			Values [][]string        `json:"values"`
		} `json:"result"`
	} `json:"data"`
}

// QueryRange runs a forward range query. Timestamps travel as Unix
// nanoseconds; unparseable values are skipped.
func (c *Client) QueryRange(ctx context.Context, query string, start, end time.Time, limit int) ([]ingest.Stream, error) {
	params := url.Values{}
	params.Set("query", query)
	params.Set("start", strconv.FormatInt(start.UnixNano(), 10))
	params.Set("end", strconv.FormatInt(end.UnixNano(), 10))
	params.Set("limit", strconv.Itoa(limit))
	params.Set("direction", "forward")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/loki/api/v1/query_range?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.tenantID != "" {
		req.Header.Set("X-Scope-OrgID", c.tenantID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("loki request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("loki returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed queryRangeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode loki response: %w", err)
	}
	if parsed.Status != "" && parsed.Status != "success" {
		return nil, fmt.Errorf("loki query status %q", parsed.Status)
	}

	streams := make([]ingest.Stream, 0, len(parsed.Data.Result))
	for _, r := range parsed.Data.Result {
		s := ingest.Stream{Labels: r.Stream}
		for _, pair := range r.Values {
			if len(pair) < 2 {
				continue
			}
			ns, err := strconv.ParseInt(pair[0], 10, 64)
			if err != nil {
				continue
			}
			s.Entries = append(s.Entries, ingest.Entry{Timestamp: time.Unix(0, ns).UTC(), Line: pair[1]})
		}
		streams = append(streams, s)
	}
	return streams, nil
}
