package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetLogscanHome returns the logscan home directory
// Priority order:
//  1. LOGSCAN_HOME environment variable (if set)
//  2. .logscan under the current working directory
//
// The directory is created if it doesn't exist
func GetLogscanHome() (string, error) {
	if home := os.Getenv("LOGSCAN_HOME"); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create logscan home directory: %w", err)
		}
		return home, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	home := filepath.Join(cwd, ".logscan")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create logscan home directory: %w", err)
	}
	return home, nil
}
