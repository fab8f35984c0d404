package pipeline

import (
	"context"
	"fmt"

	"github.com/steveyegge/triage/internal/types"
)

// DefaultSourceID names the source created for an empty catalogue
const DefaultSourceID = "default_exceptions"

// DefaultSource matches every line mentioning an exception in any job
func DefaultSource() *types.SourceQuery {
	return &types.SourceQuery{
		ID:      DefaultSourceID,
		Name:    "All exceptions",
		Query:   `{job=~".+"} |= "Exception"`,
		Enabled: true,
	}
}

// SourceCatalog is the part of the store that holds source queries
type SourceCatalog interface {
	ListSources(ctx context.Context, enabledOnly bool) ([]*types.SourceQuery, error)
	UpsertSource(ctx context.Context, q *types.SourceQuery) error
}

// EnsureDefaultSource creates DefaultSource when no source exists at all,
// enabled or not. It reports whether it created one.
func EnsureDefaultSource(ctx context.Context, store SourceCatalog) (bool, error) {
	sources, err := store.ListSources(ctx, false)
	if err != nil {
		return false, fmt.Errorf("failed to list sources: %w", err)
	}
	if len(sources) > 0 {
		return false, nil
	}
	if err := store.UpsertSource(ctx, DefaultSource()); err != nil {
		return false, fmt.Errorf("failed to seed default source: %w", err)
	}
	return true, nil
}
