package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/steveyegge/triage/internal/ai"
	"github.com/steveyegge/triage/internal/cost"
	"github.com/steveyegge/triage/internal/git"
	"github.com/steveyegge/triage/internal/ingest/loki"
	"github.com/steveyegge/triage/internal/pipeline"
	"github.com/steveyegge/triage/internal/storage"
	"github.com/steveyegge/triage/internal/tracker/github"
)

// services is what run and tick need besides the store
type services struct {
	orch     *pipeline.Orchestrator
	analyzer *ai.Analyzer
	budget   *cost.Tracker
}

// buildOrchestrator wires the configured Loki source, Claude analyzer, GitHub
// tracker and optional code repository into an orchestrator
func buildOrchestrator(ctx context.Context) (*services, error) {
	source, err := loki.New(loki.Config{
		URL:      cfg.LokiURL,
		Token:    cfg.LokiToken,
		TenantID: cfg.LokiTenant,
	})
	if err != nil {
		return nil, err
	}

	budget, err := cost.NewTracker(cfg.Budget(), cost.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	analyzer, err := ai.NewAnalyzer(&ai.Config{
		APIKey: cfg.AnthropicAPIKey,
		Model:  cfg.Model,
		Budget: budget,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create analyzer: %w", err)
	}

	if cfg.GitHubOwner == "" || cfg.GitHubRepo == "" {
		return nil, fmt.Errorf("GITHUB_OWNER and GITHUB_REPO must be set to publish issues")
	}
	issues, err := github.New(github.Config{
		Token:         cfg.GitHubToken,
		Owner:         cfg.GitHubOwner,
		Repo:          cfg.GitHubRepo,
		RatePerMinute: cfg.GitHubRatePerMinute,
	})
	if err != nil {
		return nil, err
	}

	pcfg := &pipeline.Config{
		Store:            store,
		Source:           source,
		Reasoner:         analyzer,
		Tracker:          issues,
		Watermark:        cfg.Watermark(),
		IngestLimit:      cfg.LokiLimit,
		AnalysisLookback: cfg.Lookback(),
		MaxCandidates:    cfg.MaxCandidates,
		MaxSamples:       cfg.MaxSamples,
		IssueLabels:      cfg.Labels(),
		Logger:           logger,
	}

	if cfg.CodeRepoPath != "" {
		repo, err := git.NewGit(ctx, cfg.CodeRepoPath)
		if err != nil {
			// Code context is an enrichment; run without it
			logger.Warn("code repository unavailable, continuing without code context",
				"path", cfg.CodeRepoPath, "err", err)
		} else {
			pcfg.CodeSearcher = repo
		}
	}

	orch, err := pipeline.New(pcfg)
	if err != nil {
		return nil, err
	}
	return &services{orch: orch, analyzer: analyzer, budget: budget}, nil
}

// lockPath is the instance lock for the configured database
func lockPath() string {
	if cfg.DBDriver == storage.DriverPostgres {
		return storage.LockPath(filepath.Dir(storage.DefaultDBPath), "postgres-"+cfg.DatabaseURL)
	}
	return storage.LockPath(filepath.Dir(dbPath), dbPath)
}
