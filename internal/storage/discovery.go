package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDBPath is where the SQLite database lives relative to the working directory
const DefaultDBPath = ".triage/triage.db"

// DiscoverDatabase resolves the SQLite database path.
//
// TRIAGE_DB_PATH wins when set (tests use it for isolation). Otherwise the
// database is .triage/triage.db under the current directory only; parent
// directories are not searched so a nested checkout never picks up its
// parent's state.
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("TRIAGE_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}

	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir returns the absolute database path for dir. The file
// need not exist yet; sqlite.New creates it.
func discoverDatabaseInDir(dir string) (string, error) {
	absPath, err := filepath.Abs(filepath.Join(dir, DefaultDBPath))
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}
	return absPath, nil
}
