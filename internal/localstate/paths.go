// Package localstate resolves where the local build target keeps its files
// when no explicit paths are configured.
package localstate

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	envHome      = "MEMORY_MEDIATOR_HOME" // override for tests
	dirName      = ".memory-mediator"     // default under $HOME
	dbFilename   = "memory.db"
	indexDirName = "vectors"
)

// DataDir returns the directory where local state is stored (~/.memory-mediator).
// It creates the directory with 0700 permissions if it does not exist.
func DataDir() (string, error) {
	if custom := os.Getenv(envHome); custom != "" {
		if err := os.MkdirAll(custom, 0o700); err != nil {
			return "", err
		}
		return custom, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine user home: %w", err)
	}
	dir := filepath.Join(home, dirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	return dir, nil
}

// DBPath returns the absolute path to the Tier-3 SQLite database file.
func DBPath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, dbFilename), nil
}

// IndexDir returns the directory chromem persists its collections into.
func IndexDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, indexDirName), nil
}
