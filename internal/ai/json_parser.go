package ai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// Pre-compiled patterns for cleaning up model JSON output
var (
	// Matches ```json\n{...}\n```, ```{...}```, ``` json{...}```, etc.
	codeFenceStartRegex = regexp.MustCompile(`(?s)^` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}\s*$`)
	codeFenceAnyRegex   = regexp.MustCompile(`(?s)` + "`" + `{3}(?:json|javascript|js)?\s*\n?([\s\S]*?)\n?` + "`" + `{3}`)

	trailingCommaRegex     = regexp.MustCompile(`,(\s*[}\]])`)
	unquotedKeyRegex       = regexp.MustCompile(`([{,]\s*)([a-zA-Z_$][a-zA-Z0-9_$]*)\s*:`)
	singleLineCommentRegex = regexp.MustCompile(`(?m)^\s*//.*$`)
	multiLineCommentRegex  = regexp.MustCompile(`(?s)/\*.*?\*/`)

	// Greedy so nested structures are captured whole
	objectRegex = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	arrayRegex  = regexp.MustCompile(`(?s)\[[\s\S]*\]`)
)

// ParseResult is the outcome of a lenient JSON parse
type ParseResult[T any] struct {
	Success      bool
	Data         T
	Error        string
	OriginalText string
}

// ParseOptions configures JSON parsing behavior.
//
// A zero EnableCleanup with no Context disables cleanup; any Context keeps
// cleanup on.
type ParseOptions struct {
	Context       string // Context for error messages
	EnableCleanup bool   // Enable cleanup strategies (default: true)
	LogErrors     bool   // Log parsing errors at debug level
	MaxInputSize  int    // Maximum input size in bytes (0 = default 10MB)
}

var defaultOptions = ParseOptions{
	EnableCleanup: true,
	LogErrors:     true,
	MaxInputSize:  10 * 1024 * 1024,
}

func mergeOptions(opts []ParseOptions) ParseOptions {
	options := defaultOptions
	if len(opts) == 0 {
		return options
	}
	provided := opts[0]
	if provided.Context != "" {
		options.Context = provided.Context
	}
	options.LogErrors = provided.LogErrors
	if provided.MaxInputSize != 0 {
		options.MaxInputSize = provided.MaxInputSize
	}
	if provided.Context == "" && !provided.EnableCleanup {
		options.EnableCleanup = false
	}
	return options
}

// Parse decodes JSON from model output, tolerating code fences, trailing
// commas, comments, unquoted keys and surrounding prose. Strategies are tried
// in that order until one decodes.
func Parse[T any](text string, opts ...ParseOptions) ParseResult[T] {
	options := mergeOptions(opts)

	if options.MaxInputSize > 0 && len(text) > options.MaxInputSize {
		return createError[T](
			fmt.Sprintf("input exceeds size limit (%d > %d bytes)", len(text), options.MaxInputSize),
			truncate(text, 1000),
			options.Context,
		)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return createError[T]("empty input", text, options.Context)
	}

	result, err := tryDirectParse[T](trimmed)
	if err == nil {
		return ParseResult[T]{Success: true, Data: result, OriginalText: text}
	}
	if !options.EnableCleanup {
		return createError[T](err.Error(), text, options.Context)
	}
	if options.LogErrors {
		slog.Debug("direct JSON parse failed, trying cleanup strategies",
			"err", err, "text_preview", truncate(text, 100), "context", options.Context)
	}

	withoutFences := removeCodeFences(trimmed)
	cleaned := cleanupJSON(withoutFences)
	for _, candidate := range []string{withoutFences, cleaned, extractJSON(cleaned)} {
		if candidate == "" {
			continue
		}
		if result, err := tryDirectParse[T](candidate); err == nil {
			return ParseResult[T]{Success: true, Data: result, OriginalText: text}
		}
	}

	return createError[T]("all JSON parsing strategies failed", text, options.Context)
}

// ParseOrDefault parses JSON and returns fallback on error
func ParseOrDefault[T any](text string, fallback T, opts ...ParseOptions) T {
	result := Parse[T](text, opts...)
	if result.Success {
		return result.Data
	}
	if mergeOptions(opts).LogErrors {
		slog.Debug("JSON parse failed, using fallback", "err", result.Error, "text_preview", truncate(text, 100))
	}
	return fallback
}

func tryDirectParse[T any](text string) (T, error) {
	var result T
	err := json.Unmarshal([]byte(text), &result)
	return result, err
}

// removeCodeFences strips markdown code fences, anchored or anywhere in text,
// and single backticks wrapping the whole content
func removeCodeFences(text string) string {
	cleaned := codeFenceStartRegex.ReplaceAllString(text, "$1")
	if cleaned == text {
		if m := codeFenceAnyRegex.FindStringSubmatch(text); m != nil {
			cleaned = m[1]
		}
	}

	if strings.HasPrefix(cleaned, "`") && strings.HasSuffix(cleaned, "`") {
		cleaned = strings.TrimPrefix(cleaned, "`")
		cleaned = strings.TrimSuffix(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

// cleanupJSON removes trailing commas and comments and quotes bare keys.
// Single quotes are left alone; converting them would break apostrophes.
func cleanupJSON(text string) string {
	cleaned := strings.TrimSpace(text)
	cleaned = multiLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = singleLineCommentRegex.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaRegex.ReplaceAllString(cleaned, "$1")
	cleaned = unquotedKeyRegex.ReplaceAllString(cleaned, `$1"$2":`)
	return strings.TrimSpace(cleaned)
}

// extractJSON pulls the outermost object or array out of mixed content.
// The leading character decides which so [{..},{..}] is not cut to its first element.
func extractJSON(text string) string {
	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "[") {
		if match := arrayRegex.FindString(trimmed); match != "" {
			return match
		}
	}
	if match := objectRegex.FindString(text); match != "" {
		return match
	}
	return arrayRegex.FindString(text)
}

func createError[T any](message, text, context string) ParseResult[T] {
	var zero T
	if context != "" {
		message = context + ": " + message
	}
	return ParseResult[T]{Success: false, Data: zero, Error: message, OriginalText: text}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
