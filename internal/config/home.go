package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// StateDirName holds logs, the catalog and session manifests inside a project.
const StateDirName = ".ultrasession"

// GetStateDir returns the ultrasession state directory
// Priority order:
//  1. ULTRASESSION_HOME environment variable (if set)
//  2. <projectDir>/.ultrasession
//
// The directory is created if it doesn't exist
func GetStateDir(projectDir string) (string, error) {
	dir := os.Getenv("ULTRASESSION_HOME")
	if dir == "" {
		if projectDir == "" {
			return "", fmt.Errorf("project directory is required")
		}
		dir = filepath.Join(projectDir, StateDirName)
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}
	return dir, nil
}

// GetManifestPath returns the manifest path of a session
func GetManifestPath(projectDir, sessionID string) (string, error) {
	dir, err := GetStateDir(projectDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, fmt.Sprintf("session-%s.yaml", sessionID)), nil
}
