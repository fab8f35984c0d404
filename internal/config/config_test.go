package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/triage/internal/cost"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 5000, cfg.LokiLimit)
	assert.Equal(t, 120*time.Second, cfg.Watermark())
	assert.Equal(t, 5*time.Minute, cfg.Tick())
	assert.Equal(t, time.Hour, cfg.Lookback())
	assert.Equal(t, 5, cfg.MaxCandidates)
	assert.Equal(t, 5, cfg.MaxSamples)
	assert.Equal(t, []string{"triage", "bug"}, cfg.Labels())
	assert.Equal(t, DefaultRetentionConfig(), cfg.Retention())
	assert.Equal(t, cost.DefaultConfig(), cfg.Budget())
}

func TestLoadBudget(t *testing.T) {
	t.Setenv("TRIAGE_COST_ENABLED", "true")
	t.Setenv("TRIAGE_COST_MAX_TOKENS_PER_HOUR", "50000")
	t.Setenv("TRIAGE_COST_MAX_PER_HOUR", "0.75")
	t.Setenv("TRIAGE_COST_RESET_INTERVAL", "30m")
	t.Setenv("TRIAGE_COST_STATE_PATH", "/var/lib/triage/cost.json")

	cfg, err := Load("")
	require.NoError(t, err)

	budget := cfg.Budget()
	assert.True(t, budget.Enabled)
	assert.Equal(t, int64(50000), budget.MaxTokensPerHour)
	assert.InDelta(t, 0.75, budget.MaxCostPerHour, 1e-9)
	assert.Equal(t, 30*time.Minute, budget.ResetInterval)
	assert.Equal(t, "/var/lib/triage/cost.json", budget.PersistStatePath)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRIAGE_LOKI_URL", "http://loki:3100")
	t.Setenv("TRIAGE_WATERMARK_SECONDS", "300")
	t.Setenv("TRIAGE_TICK_INTERVAL", "30s")
	t.Setenv("TRIAGE_MAX_CANDIDATES", "2")
	t.Setenv("TRIAGE_ISSUE_LABELS", " incident , ,prod ")
	t.Setenv("TRIAGE_RETENTION_ENABLED", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://loki:3100", cfg.LokiURL)
	assert.Equal(t, 300*time.Second, cfg.Watermark())
	assert.Equal(t, 30*time.Second, cfg.Tick())
	assert.Equal(t, 2, cfg.MaxCandidates)
	assert.Equal(t, []string{"incident", "prod"}, cfg.Labels())
	assert.False(t, cfg.Retention().CleanupEnabled)
}

func TestLoadUnprefixedSecrets(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "sk-plain")
	t.Setenv("GITHUB_TOKEN", "ghp-plain")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-plain", cfg.AnthropicAPIKey)
	assert.Equal(t, "ghp-plain", cfg.GitHubToken)

	t.Setenv("TRIAGE_ANTHROPIC_API_KEY", "sk-prefixed")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "sk-prefixed", cfg.AnthropicAPIKey)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("GITHUB_OWNER=acme\nGITHUB_REPO=orders\nMAX_SAMPLES=3\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.GitHubOwner)
	assert.Equal(t, "orders", cfg.GitHubRepo)
	assert.Equal(t, 3, cfg.MaxSamples)

	// The environment wins over the file
	t.Setenv("TRIAGE_MAX_SAMPLES", "7")
	cfg, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxSamples)
}

func TestLoadMissingEnvFileIgnored(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.NoError(t, err)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown driver", map[string]string{"TRIAGE_DB_DRIVER": "mysql"}},
		{"postgres without url", map[string]string{"TRIAGE_DB_DRIVER": "postgres"}},
		{"limit too small", map[string]string{"TRIAGE_LOKI_LIMIT": "0"}},
		{"negative watermark", map[string]string{"TRIAGE_WATERMARK_SECONDS": "-1"}},
		{"zero watermark", map[string]string{"TRIAGE_WATERMARK_SECONDS": "0"}},
		{"bad tick interval", map[string]string{"TRIAGE_TICK_INTERVAL": "soon"}},
		{"zero lookback", map[string]string{"TRIAGE_ANALYSIS_LOOKBACK": "0s"}},
		{"owner without repo", map[string]string{"TRIAGE_GITHUB_OWNER": "acme"}},
		{"retention too long", map[string]string{"TRIAGE_RETENTION_DAYS": "400"}},
		{"bad budget interval", map[string]string{"TRIAGE_COST_RESET_INTERVAL": "hourly"}},
		{"alert threshold above one", map[string]string{"TRIAGE_COST_ALERT_THRESHOLD": "1.5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestConfigStringRedactsSecrets(t *testing.T) {
	cfg := &Config{AnthropicAPIKey: "sk-secret", GitHubToken: ""}
	s := cfg.String()
	assert.NotContains(t, s, "sk-secret")
	assert.Contains(t, s, "AnthropicKey: <set>")
	assert.Contains(t, s, "GitHubToken: <unset>")
}

func TestRetentionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetentionConfig)
		wantErr bool
	}{
		{"defaults", func(*RetentionConfig) {}, false},
		{"zero days", func(c *RetentionConfig) { c.RetentionDays = 0 }, true},
		{"interval too large", func(c *RetentionConfig) { c.CleanupIntervalHours = 169 }, true},
		{"interval zero", func(c *RetentionConfig) { c.CleanupIntervalHours = 0 }, true},
		{"batch too small", func(c *RetentionConfig) { c.CleanupBatchSize = 99 }, true},
		{"batch too large", func(c *RetentionConfig) { c.CleanupBatchSize = 10001 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetentionConfig()
			tt.mutate(&cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestRetentionConfigCutoff(t *testing.T) {
	cfg := DefaultRetentionConfig()
	now := time.Date(2025, 3, 15, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), cfg.Cutoff(now))
	assert.Equal(t, 24*time.Hour, cfg.Interval())
	assert.Equal(t, "RetentionConfig{RetentionDays: 14, CleanupInterval: 24h, BatchSize: 1000, Enabled: true}", cfg.String())
}
