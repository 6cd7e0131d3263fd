// Package utils contains helper functions shared between the pairing engine and its hosts.
package utils

import (
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"go.viam.com/rdk/logging"
)

var (
	// versions embedded at build time.
	Version     = ""
	GitRevision = ""

	// StateDir holds the lock file and anything else a host keeps between runs.
	StateDir = filepath.Join(os.TempDir(), "blepairing")
)

// GetVersion returns the version embedded at build time.
func GetVersion() string {
	if Version == "" {
		return "custom"
	}
	return Version
}

// GetRevision returns the git revision embedded at build time.
func GetRevision() string {
	if GitRevision == "" {
		return "unknown"
	}
	return GitRevision
}

// LockFilePath returns the absolute path of the single-instance lock for the bluetooth radio.
func LockFilePath() (string, error) {
	if err := os.MkdirAll(StateDir, 0o755); err != nil {
		return "", err
	}
	return filepath.Abs(filepath.Join(StateDir, "ble-pair.pid"))
}

// Recover logs a panic and lets the caller continue. Use as a deferred call.
func Recover(logger logging.Logger, inner func(r any)) {
	// if something panicked, log it and allow things to continue
	r := recover()
	if r != nil {
		logger.Error("encountered a panic, attempting to recover")
		logger.Errorf("panic: %s\n%s", r, debug.Stack())
		if inner != nil {
			inner(r)
		}
	}
}

// StopTimer stops t (if any) and reports whether it was still pending.
func StopTimer(t *time.Timer) bool {
	if t == nil {
		return false
	}
	return t.Stop()
}
