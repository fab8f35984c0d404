package main

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/triage/internal/config"
	"github.com/steveyegge/triage/internal/storage"
)

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{99999, "99,999"},
		{1234567, "1,234,567"},
		{1234567890, "1,234,567,890"},
		{-1234567, "-1,234,567"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatNumber(tt.input), "formatNumber(%d)", tt.input)
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "12m", formatDuration(12*time.Minute+30*time.Second))
	assert.Equal(t, "2.5h", formatDuration(150*time.Minute))
	assert.Equal(t, "3.0d", formatDuration(72*time.Hour))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcdefg...", truncateString("abcdefghijklmnop", 10))
	assert.Equal(t, "...", truncateString("abcdef", 2))
}

func TestIndent(t *testing.T) {
	assert.Equal(t, "  a\n  b", indent("a\nb\n", "  "))
	assert.Equal(t, "-", orDash(""))
	assert.Equal(t, "x", orDash("x"))
}

func TestStorageConfigPrecedence(t *testing.T) {
	origCfg, origDB := cfg, dbPath
	t.Cleanup(func() { cfg, dbPath = origCfg, origDB })

	flagPath := filepath.Join(t.TempDir(), "flag.db")
	envPath := filepath.Join(t.TempDir(), "env.db")

	cfg = &config.Config{DBDriver: "sqlite", DBPath: envPath}
	dbPath = flagPath
	got, err := storageConfig()
	require.NoError(t, err)
	assert.Equal(t, storage.DriverSQLite, got.Driver)
	assert.Equal(t, flagPath, got.Path)

	dbPath = ""
	got, err = storageConfig()
	require.NoError(t, err)
	assert.Equal(t, envPath, got.Path)

	cfg = &config.Config{DBDriver: "postgres", DatabaseURL: "postgres://u:p@db:5432/triage"}
	got, err = storageConfig()
	require.NoError(t, err)
	assert.Equal(t, storage.DriverPostgres, got.Driver)
	assert.Equal(t, "postgres://u:p@db:5432/triage", got.URL)
}

func TestSkipsStore(t *testing.T) {
	assert.True(t, skipsStore(migrateCmd))
	assert.True(t, skipsStore(pauseCmd))
	assert.True(t, skipsStore(triggerCmd))
	assert.False(t, skipsStore(statusCmd))
	assert.False(t, skipsStore(sourcesListCmd))
}

func TestSocketPathFollowsLock(t *testing.T) {
	origCfg, origDB := cfg, dbPath
	t.Cleanup(func() { cfg, dbPath = origCfg, origDB })

	dir := t.TempDir()
	cfg = &config.Config{DBDriver: "sqlite"}
	dbPath = filepath.Join(dir, "prod.db")

	assert.Equal(t, filepath.Join(dir, ".prod.db.lock"), lockPath())
	assert.Equal(t, filepath.Join(dir, ".prod.db.sock"), socketPath())
}
