package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// InstanceLock is the lock file that keeps a second pipeline loop from
// running against the same database on this host.
type InstanceLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
}

// LockPath returns the lock file path used for a database identity (a file
// path for SQLite, any stable name for other backends)
func LockPath(dir, identity string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "@", "_", "?", "_").Replace(filepath.Base(identity))
	return filepath.Join(dir, "."+name+".lock")
}

// AcquireInstanceLock writes the lock file at lockPath. A lock left behind by
// a process that no longer exists is taken over; a live holder is an error.
func AcquireInstanceLock(lockPath, version string) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// Check for existing lock
	if data, err := os.ReadFile(lockPath); err == nil {
		var existing InstanceLock
		if json.Unmarshal(data, &existing) == nil {
			// Check if stale (process no longer exists)
			if existing.PID != os.Getpid() && isProcessAlive(existing.PID, existing.Hostname) {
				return fmt.Errorf("another triage pipeline is already running (PID %d on %s, started %s)",
					existing.PID, existing.Hostname, existing.StartedAt.Format(time.RFC3339))
			}
			// Stale lock - will overwrite
		}
	}

	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}

	lock := InstanceLock{
		Holder:    "triage-pipeline",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		Version:   version,
	}

	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	if err := os.WriteFile(lockPath, data, 0644); err != nil {
		return fmt.Errorf("failed to create instance lock: %w", err)
	}
	return nil
}

// ReleaseInstanceLock removes the lock file. Should be called on shutdown (use defer).
func ReleaseInstanceLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove instance lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given hostname.
func isProcessAlive(pid int, hostname string) bool {
	currentHost, err := os.Hostname()
	if err != nil {
		// Can't check hostname, assume remote/alive
		return true
	}

	if !strings.EqualFold(hostname, currentHost) {
		// Remote host - can't check, assume alive
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// Send signal 0 to check if process exists
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM: process exists but we can't signal it
	if err == syscall.EPERM {
		return true
	}

	return false
}
