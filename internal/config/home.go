// Package config resolves the ralph-ultra configuration root and loads the
// user settings and customized coding principles stored there.
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnvHomeOverride overrides the config root when set.
const EnvHomeOverride = "RALPH_ULTRA_HOME"

// Home returns the user-global ralph-ultra config directory.
// Priority order:
//  1. RALPH_ULTRA_HOME environment variable (if set)
//  2. <user config dir>/ralph-ultra (platform-conventional root)
//
// The directory is created if it doesn't exist.
func Home() (string, error) {
	if home := os.Getenv(EnvHomeOverride); home != "" {
		if err := os.MkdirAll(home, 0755); err != nil {
			return "", fmt.Errorf("create config home: %w", err)
		}
		return home, nil
	}

	root, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve user config dir: %w", err)
	}

	home := filepath.Join(root, "ralph-ultra")
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("create config home: %w", err)
	}
	return home, nil
}

// SettingsPath returns the path to the settings file.
func SettingsPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "settings.yaml"), nil
}

// CostHistoryPath returns the path to the append-only cost history.
func CostHistoryPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "cost-history.json"), nil
}

// LearningDBPath returns the path to the learning database.
func LearningDBPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, "learning")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create learning directory: %w", err)
	}
	return filepath.Join(dir, "performance.db"), nil
}

// PrinciplesPath returns the path to the optional principles markdown.
func PrinciplesPath() (string, error) {
	home, err := Home()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, "principles.md"), nil
}

// IsFirstLaunch reports whether the first-launch flag file is absent.
// MarkLaunched creates it.
func IsFirstLaunch() (bool, error) {
	home, err := Home()
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filepath.Join(home, ".first-launch"))
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat first-launch flag: %w", err)
	}
	return false, nil
}

// MarkLaunched records that the application has been launched once.
func MarkLaunched() error {
	home, err := Home()
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(home, ".first-launch"), nil, 0644)
}
