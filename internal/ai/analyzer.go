// Package ai asks Claude for a root-cause analysis of an evidence bundle.
package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"

	"github.com/steveyegge/triage/internal/cost"
)

// ModelSonnet is the default reasoning model
const ModelSonnet = "claude-sonnet-4-5-20250929"

// GetDefaultModel returns the model, checking TRIAGE_MODEL first
func GetDefaultModel() string {
	if model := os.Getenv("TRIAGE_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Analyzer calls the Anthropic Messages API with retry, a circuit breaker
// and a concurrency limit
type Analyzer struct {
	client         *anthropic.Client
	model          string
	maxTokens      int64
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	budget         Budget
	logger         *slog.Logger
}

// ErrBudgetExceeded is returned without calling the API when the budget
// window is spent
var ErrBudgetExceeded = errors.New("reasoning budget exceeded")

// Budget gates calls on token spend. *cost.Tracker implements it.
type Budget interface {
	CanProceed() (bool, string)
	RecordUsage(inputTokens, outputTokens int64) cost.BudgetStatus
}

// Config holds analyzer configuration
type Config struct {
	APIKey    string      // Anthropic API key (if empty, reads ANTHROPIC_API_KEY)
	Model     string      // Model to use (default: GetDefaultModel())
	MaxTokens int         // Response budget (default: 1024)
	BaseURL   string      // Override the API endpoint
	Retry     RetryConfig // Uses defaults if MaxRetries is zero
	Budget    Budget      // Optional spend limit
	Logger    *slog.Logger
}

// NewAnalyzer creates an analyzer
func NewAnalyzer(cfg *Config) (*Analyzer, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	retry := cfg.Retry
	if retry.MaxRetries == 0 {
		retry = DefaultRetryConfig()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Retries are ours; the SDK's own would multiply attempts
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := anthropic.NewClient(opts...)

	var cb *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		cb = NewCircuitBreaker(retry.FailureThreshold, retry.SuccessThreshold, retry.OpenTimeout, logger)
	}
	var sem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		sem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	return &Analyzer{
		client:         &client,
		model:          model,
		maxTokens:      int64(maxTokens),
		retry:          retry,
		circuitBreaker: cb,
		concurrencySem: sem,
		budget:         cfg.Budget,
		logger:         logger,
	}, nil
}

// Model returns the model name recorded on findings
func (a *Analyzer) Model() string { return a.model }

// PromptVersion returns the prompt revision recorded on findings
func (a *Analyzer) PromptVersion() string { return PromptVersion }

// HealthCheck fails fast when the circuit breaker is open, then looks up the
// configured model. The lookup costs no tokens but exercises the key, the
// endpoint and the model name.
func (a *Analyzer) HealthCheck(ctx context.Context) error {
	if a.circuitBreaker != nil && a.circuitBreaker.State() == CircuitOpen {
		return fmt.Errorf("reasoning service unavailable: %w (retry in %v)", ErrCircuitOpen, a.retry.OpenTimeout)
	}
	err := a.retryWithBackoff(ctx, "health check", func(attemptCtx context.Context) error {
		_, apiErr := a.client.Models.Get(attemptCtx, a.model, anthropic.ModelGetParams{})
		return apiErr
	})
	if err != nil {
		return fmt.Errorf("model %s lookup failed: %w", a.model, err)
	}
	return nil
}

// Analyze sends the evidence summary and returns the model's text reply.
// An empty reply is an error.
func (a *Analyzer) Analyze(ctx context.Context, evidence string) (string, error) {
	if a.budget != nil {
		if ok, reason := a.budget.CanProceed(); !ok {
			return "", fmt.Errorf("%w: %s", ErrBudgetExceeded, reason)
		}
	}

	prompt := BuildPrompt(evidence)
	start := time.Now()

	var response *anthropic.Message
	err := a.retryWithBackoff(ctx, "analysis", func(attemptCtx context.Context) error {
		resp, apiErr := a.client.Messages.New(attemptCtx, anthropic.MessageNewParams{
			Model:     anthropic.Model(a.model),
			MaxTokens: a.maxTokens,
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
			},
		})
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call failed: %w", err)
	}

	if a.budget != nil {
		a.budget.RecordUsage(response.Usage.InputTokens, response.Usage.OutputTokens)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	a.logger.Debug("analysis call",
		"input_tokens", response.Usage.InputTokens,
		"output_tokens", response.Usage.OutputTokens,
		"duration", time.Since(start))

	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", fmt.Errorf("empty analysis response")
	}
	return out, nil
}
