package ixn

import (
	"os"
	"path/filepath"
)

const (
	// DefaultAppName is used for config discovery and data directories.
	DefaultAppName = "interactions"

	// DefaultHistoryDriver selects the embedded libsql driver for durable
	// client-held conversation history.
	DefaultHistoryDriver = "libsql"

	// DefaultHistoryFile is the database file name under the data dir.
	DefaultHistoryFile = "history.db"
)

// DefaultConfigPath returns the per-user config directory for the app.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", DefaultAppName)
}

// DefaultDataDir returns the per-user data directory for history databases.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".local", "share", DefaultAppName)
}

// DefaultHistoryPath returns the default location of the conversation
// history database.
func DefaultHistoryPath() string {
	return filepath.Join(DefaultDataDir(), DefaultHistoryFile)
}
