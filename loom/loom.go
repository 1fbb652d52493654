package loom

import (
	"os"
	"path/filepath"
)

const (
	// DefaultAppName is used for config discovery and user-facing paths.
	DefaultAppName = "taskloom"

	// DefaultDatabaseFile is the embedded libsql database filename.
	DefaultDatabaseFile = "taskloom.db"
)

// DefaultConfigPath is the per-user config directory (~/.config/taskloom).
var DefaultConfigPath = filepath.Join(userHomeDir(), ".config", DefaultAppName)

// DefaultDataDir is the per-user data directory (~/.local/share/taskloom).
var DefaultDataDir = filepath.Join(userHomeDir(), ".local", "share", DefaultAppName)

// DefaultDatabasePath is the default location of the embedded database.
var DefaultDatabasePath = filepath.Join(DefaultDataDir, DefaultDatabaseFile)

func userHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
