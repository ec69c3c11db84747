package config

import (
	"os"
	"path/filepath"
)

// UserConfigDir returns ~/.agentsup, creating it if absent.
func UserConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(home, ".agentsup")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// SettingsPath returns the path of the supervisor's settings file.
func SettingsPath() (string, error) {
	dir, err := UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// RuntimeDir returns <project_root>/.cc-spec/runtime/codex, the directory
// holding the per-project session store and any staged sidecar binaries.
func RuntimeDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".cc-spec", "runtime", "codex")
}

// SessionsFilePath returns <project_root>/.cc-spec/runtime/codex/sessions.json.
func SessionsFilePath(projectRoot string) string {
	return filepath.Join(RuntimeDir(projectRoot), "sessions.json")
}

// InitStatusPath returns <project_root>/.cc-spec/index/status.json, the
// project initialization sentinel checked by launch_peer_terminal.
func InitStatusPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".cc-spec", "index", "status.json")
}
