// Package config loads and validates pipeline configuration from the
// environment and an optional .env file using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/steveyegge/triage/internal/cost"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "TRIAGE"

// Config holds pipeline configuration. Environment variables carry the
// TRIAGE_ prefix (TRIAGE_LOKI_URL); a .env file uses the bare keys.
type Config struct {
	// Storage
	DBDriver    string `mapstructure:"DB_DRIVER"`
	DBPath      string `mapstructure:"DB_PATH"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`

	// Log source
	LokiURL    string `mapstructure:"LOKI_URL"`
	LokiToken  string `mapstructure:"LOKI_TOKEN"`
	LokiTenant string `mapstructure:"LOKI_TENANT"`
	LokiLimit  int    `mapstructure:"LOKI_LIMIT"`

	// Scheduling and windows
	WatermarkSeconds int    `mapstructure:"WATERMARK_SECONDS"`
	TickInterval     string `mapstructure:"TICK_INTERVAL"`
	AnalysisLookback string `mapstructure:"ANALYSIS_LOOKBACK"`
	MaxCandidates    int    `mapstructure:"MAX_CANDIDATES"`
	MaxSamples       int    `mapstructure:"MAX_SAMPLES"`

	// Reasoning
	AnthropicAPIKey string `mapstructure:"ANTHROPIC_API_KEY"`
	Model           string `mapstructure:"MODEL"`

	// Reasoning budget
	CostEnabled          bool    `mapstructure:"COST_ENABLED"`
	CostMaxTokensPerHour int64   `mapstructure:"COST_MAX_TOKENS_PER_HOUR"`
	CostMaxPerHour       float64 `mapstructure:"COST_MAX_PER_HOUR"`
	CostAlertThreshold   float64 `mapstructure:"COST_ALERT_THRESHOLD"`
	CostResetInterval    string  `mapstructure:"COST_RESET_INTERVAL"`
	CostStatePath        string  `mapstructure:"COST_STATE_PATH"`
	CostInputPerMTok     float64 `mapstructure:"COST_INPUT_PER_MTOK"`
	CostOutputPerMTok    float64 `mapstructure:"COST_OUTPUT_PER_MTOK"`

	// Issue tracker
	GitHubToken         string `mapstructure:"GITHUB_TOKEN"`
	GitHubOwner         string `mapstructure:"GITHUB_OWNER"`
	GitHubRepo          string `mapstructure:"GITHUB_REPO"`
	IssueLabels         string `mapstructure:"ISSUE_LABELS"`
	GitHubRatePerMinute int    `mapstructure:"GITHUB_RATE_PER_MINUTE"`

	// Code context; empty disables enrichment
	CodeRepoPath string `mapstructure:"CODE_REPO_PATH"`

	// Observability
	MetricsAddr  string `mapstructure:"METRICS_ADDR"`
	OTLPEndpoint string `mapstructure:"OTLP_ENDPOINT"`
	LogLevel     string `mapstructure:"LOG_LEVEL"`
	LogFormat    string `mapstructure:"LOG_FORMAT"`

	// SourcesFile is an optional YAML source catalogue
	SourcesFile string `mapstructure:"SOURCES_FILE"`

	// Raw event retention
	RetentionDays          int  `mapstructure:"RETENTION_DAYS"`
	RetentionBatchSize     int  `mapstructure:"RETENTION_BATCH_SIZE"`
	RetentionIntervalHours int  `mapstructure:"RETENTION_INTERVAL_HOURS"`
	RetentionEnabled       bool `mapstructure:"RETENTION_ENABLED"`
}

// Load reads the .env file at envFile (if present), then builds and
// validates Config from the environment. A missing file is ignored.
// Environment variables override the file.
func Load(envFile string) (*Config, error) {
	v := viper.New()

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		_ = v.ReadInConfig() // ignore a missing file
	}

	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// Well-known variables are honored without the prefix too
	_ = v.BindEnv("ANTHROPIC_API_KEY", EnvPrefix+"_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("GITHUB_TOKEN", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("DATABASE_URL", EnvPrefix+"_DATABASE_URL", "DATABASE_URL")

	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("DB_PATH", "")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("LOKI_URL", "http://localhost:3100")
	v.SetDefault("LOKI_TOKEN", "")
	v.SetDefault("LOKI_TENANT", "")
	v.SetDefault("LOKI_LIMIT", 5000)
	v.SetDefault("WATERMARK_SECONDS", 120)
	v.SetDefault("TICK_INTERVAL", "5m")
	v.SetDefault("ANALYSIS_LOOKBACK", "1h")
	v.SetDefault("MAX_CANDIDATES", 5)
	v.SetDefault("MAX_SAMPLES", 5)
	v.SetDefault("ANTHROPIC_API_KEY", "")
	v.SetDefault("MODEL", "")

	budget := cost.DefaultConfig()
	v.SetDefault("COST_ENABLED", budget.Enabled)
	v.SetDefault("COST_MAX_TOKENS_PER_HOUR", budget.MaxTokensPerHour)
	v.SetDefault("COST_MAX_PER_HOUR", budget.MaxCostPerHour)
	v.SetDefault("COST_ALERT_THRESHOLD", budget.AlertThreshold)
	v.SetDefault("COST_RESET_INTERVAL", budget.ResetInterval.String())
	v.SetDefault("COST_STATE_PATH", "")
	v.SetDefault("COST_INPUT_PER_MTOK", budget.InputTokenCost)
	v.SetDefault("COST_OUTPUT_PER_MTOK", budget.OutputTokenCost)
	v.SetDefault("GITHUB_TOKEN", "")
	v.SetDefault("GITHUB_OWNER", "")
	v.SetDefault("GITHUB_REPO", "")
	v.SetDefault("ISSUE_LABELS", "triage,bug")
	v.SetDefault("GITHUB_RATE_PER_MINUTE", 30)
	v.SetDefault("CODE_REPO_PATH", "")
	v.SetDefault("METRICS_ADDR", "")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "text")
	v.SetDefault("SOURCES_FILE", "")

	retention := DefaultRetentionConfig()
	v.SetDefault("RETENTION_DAYS", retention.RetentionDays)
	v.SetDefault("RETENTION_BATCH_SIZE", retention.CleanupBatchSize)
	v.SetDefault("RETENTION_INTERVAL_HOURS", retention.CleanupIntervalHours)
	v.SetDefault("RETENTION_ENABLED", retention.CleanupEnabled)
}

// Validate checks if the configuration has valid values
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("config: DB_DRIVER must be sqlite or postgres (got %q)", c.DBDriver)
	}

	if c.LokiLimit < 1 || c.LokiLimit > 50000 {
		return fmt.Errorf("config: LOKI_LIMIT must be between 1 and 50000 (got %d)", c.LokiLimit)
	}
	if c.WatermarkSeconds < 1 {
		return fmt.Errorf("config: WATERMARK_SECONDS must be at least 1 (got %d)", c.WatermarkSeconds)
	}
	if c.MaxCandidates < 1 || c.MaxCandidates > 100 {
		return fmt.Errorf("config: MAX_CANDIDATES must be between 1 and 100 (got %d)", c.MaxCandidates)
	}
	if c.MaxSamples < 1 || c.MaxSamples > 50 {
		return fmt.Errorf("config: MAX_SAMPLES must be between 1 and 50 (got %d)", c.MaxSamples)
	}
	if _, err := parsePositiveDuration("TICK_INTERVAL", c.TickInterval); err != nil {
		return err
	}
	if _, err := parsePositiveDuration("ANALYSIS_LOOKBACK", c.AnalysisLookback); err != nil {
		return err
	}
	if (c.GitHubOwner == "") != (c.GitHubRepo == "") {
		return errors.New("config: GITHUB_OWNER and GITHUB_REPO must be set together")
	}
	if err := c.Retention().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := parsePositiveDuration("COST_RESET_INTERVAL", c.CostResetInterval); err != nil {
		return err
	}
	if err := c.Budget().Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// String returns a human-readable representation of the config with
// secrets redacted
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DB: %s, Loki: %s (limit %d), Watermark: %ds, Tick: %s, Lookback: %s, "+
			"Candidates: %d, Samples: %d, Model: %s, GitHub: %s/%s, AnthropicKey: %s, GitHubToken: %s}",
		c.DBDriver, c.LokiURL, c.LokiLimit, c.WatermarkSeconds, c.TickInterval, c.AnalysisLookback,
		c.MaxCandidates, c.MaxSamples, c.Model, c.GitHubOwner, c.GitHubRepo,
		redact(c.AnthropicAPIKey), redact(c.GitHubToken),
	)
}

// Watermark returns WatermarkSeconds as a duration
func (c *Config) Watermark() time.Duration {
	return time.Duration(c.WatermarkSeconds) * time.Second
}

// Tick parses TickInterval. Returns 5m if invalid.
func (c *Config) Tick() time.Duration {
	d, err := parsePositiveDuration("TICK_INTERVAL", c.TickInterval)
	if err != nil {
		return 5 * time.Minute
	}
	return d
}

// Lookback parses AnalysisLookback. Returns 1h if invalid.
func (c *Config) Lookback() time.Duration {
	d, err := parsePositiveDuration("ANALYSIS_LOOKBACK", c.AnalysisLookback)
	if err != nil {
		return time.Hour
	}
	return d
}

// Labels returns the issue labels from the comma-separated config
func (c *Config) Labels() []string {
	if c == nil || c.IssueLabels == "" {
		return nil
	}
	parts := strings.Split(c.IssueLabels, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Retention returns the raw event retention settings
func (c *Config) Retention() RetentionConfig {
	return RetentionConfig{
		RetentionDays:        c.RetentionDays,
		CleanupIntervalHours: c.RetentionIntervalHours,
		CleanupBatchSize:     c.RetentionBatchSize,
		CleanupEnabled:       c.RetentionEnabled,
	}
}

// Budget returns the reasoning budget settings
func (c *Config) Budget() cost.Config {
	interval, err := parsePositiveDuration("COST_RESET_INTERVAL", c.CostResetInterval)
	if err != nil {
		interval = time.Hour
	}
	return cost.Config{
		Enabled:          c.CostEnabled,
		MaxTokensPerHour: c.CostMaxTokensPerHour,
		MaxCostPerHour:   c.CostMaxPerHour,
		AlertThreshold:   c.CostAlertThreshold,
		ResetInterval:    interval,
		PersistStatePath: c.CostStatePath,
		InputTokenCost:   c.CostInputPerMTok,
		OutputTokenCost:  c.CostOutputPerMTok,
	}
}

func parsePositiveDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s %q: %w", key, value, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive (got %s)", key, value)
	}
	return d, nil
}

func redact(secret string) string {
	if secret == "" {
		return "<unset>"
	}
	return "<set>"
}
