package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/triage/internal/types"
)

// SourcesFile is the YAML layout of a source catalogue:
//
//	sources:
//	  - id: orders
//	    name: Orders API
//	    query: '{job="orders"} |= "Exception"'
//	    enabled: true
type SourcesFile struct {
	Sources []SourceEntry `yaml:"sources"`
}

// SourceEntry is one catalogue entry. Enabled defaults to true.
type SourceEntry struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Query   string `yaml:"query"`
	Enabled *bool  `yaml:"enabled"`
}

// SourceWriter persists source queries
type SourceWriter interface {
	UpsertSource(ctx context.Context, q *types.SourceQuery) error
}

// SourcesLoader reads a YAML source catalogue, upserts it into the store and
// can watch the file for changes.
type SourcesLoader struct {
	path   string
	store  SourceWriter
	logger *slog.Logger

	mu      sync.Mutex
	current []*types.SourceQuery
}

// NewSourcesLoader creates a loader for path. Nothing is read until Sync.
func NewSourcesLoader(path string, store SourceWriter, logger *slog.Logger) *SourcesLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourcesLoader{path: filepath.Clean(path), store: store, logger: logger}
}

// Sources returns the catalogue from the last successful sync
func (l *SourcesLoader) Sources() []*types.SourceQuery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// Sync reads the file and upserts every entry. Sources missing from the file
// are left alone; disabling is explicit.
func (l *SourcesLoader) Sync(ctx context.Context) (int, error) {
	sources, err := LoadSourcesFile(l.path)
	if err != nil {
		return 0, err
	}
	for _, q := range sources {
		if err := l.store.UpsertSource(ctx, q); err != nil {
			return 0, fmt.Errorf("upsert source %s: %w", q.ID, err)
		}
	}

	l.mu.Lock()
	l.current = sources
	l.mu.Unlock()
	return len(sources), nil
}

// Watch re-syncs whenever the file is written or replaced, until ctx is done
// or stop is called. A bad edit is logged and the previous catalogue stays.
func (l *SourcesLoader) Watch(ctx context.Context) (stop func(), err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("sources watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen too
	if err := w.Add(filepath.Dir(l.path)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("sources watcher add %s: %w", l.path, err)
	}

	done := make(chan struct{})
	var once sync.Once
	go func() {
		defer func() { _ = w.Close() }()
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != l.path {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
					n, err := l.Sync(ctx)
					if err != nil {
						l.logger.Warn("source catalogue reload failed", "path", l.path, "err", err)
						continue
					}
					l.logger.Info("source catalogue reloaded", "path", l.path, "sources", n)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				l.logger.Warn("source catalogue watcher error", "err", err)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() { once.Do(func() { close(done) }) }, nil
}

// LoadSourcesFile parses and validates a catalogue file
func LoadSourcesFile(path string) ([]*types.SourceQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources %s: %w", path, err)
	}
	var file SourcesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse sources %s: %w", path, err)
	}
	if len(file.Sources) == 0 {
		return nil, fmt.Errorf("sources %s: no sources declared", path)
	}

	seen := make(map[string]bool, len(file.Sources))
	out := make([]*types.SourceQuery, 0, len(file.Sources))
	for _, e := range file.Sources {
		q := &types.SourceQuery{
			ID:      e.ID,
			Name:    e.Name,
			Query:   e.Query,
			Enabled: e.Enabled == nil || *e.Enabled,
		}
		if q.Name == "" {
			q.Name = q.ID
		}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("sources %s: %w", path, err)
		}
		if seen[q.ID] {
			return nil, fmt.Errorf("sources %s: duplicate source id %q", path, q.ID)
		}
		seen[q.ID] = true
		out = append(out, q)
	}
	return out, nil
}
