// Package paths provides centralized path resolution for blender-mcp's data directories.
//
// Two processes share these directories, the MCP server and the addon host:
//
//   - Config (XDG_CONFIG_HOME): settings.yaml, .env overrides live next to it
//   - Data (XDG_DATA_HOME): scene.db, the persisted scene store
//   - State (XDG_STATE_HOME): logs/ and scratch space for generation runs
//
// Resolution order:
//  1. BLENDER_MCP_HOME is set → flat layout rooted there
//  2. ~/.blendermcp/ exists → flat layout under ~/.blendermcp/
//  3. XDG env vars are set → XDG layout with proper separation
//  4. Fresh install, no XDG vars → default to ~/.blendermcp/
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const appName = "blender-mcp"

var (
	mu       sync.Mutex
	resolved *resolvedPaths
)

type resolvedPaths struct {
	configDir string
	dataDir   string
	stateDir  string
	flat      bool
}

func flatLayout(dir string) *resolvedPaths {
	return &resolvedPaths{configDir: dir, dataDir: dir, stateDir: dir, flat: true}
}

// resolve computes the path layout once and caches it.
func resolve() (*resolvedPaths, error) {
	mu.Lock()
	defer mu.Unlock()

	if resolved != nil {
		return resolved, nil
	}

	if home := os.Getenv("BLENDER_MCP_HOME"); home != "" {
		resolved = flatLayout(home)
		return resolved, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	legacyDir := filepath.Join(home, ".blendermcp")

	if info, err := os.Stat(legacyDir); err == nil && info.IsDir() {
		resolved = flatLayout(legacyDir)
		return resolved, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgData := os.Getenv("XDG_DATA_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")

	if xdgConfig != "" || xdgData != "" || xdgState != "" {
		if xdgConfig == "" {
			xdgConfig = filepath.Join(home, ".config")
		}
		if xdgData == "" {
			xdgData = filepath.Join(home, ".local", "share")
		}
		if xdgState == "" {
			xdgState = filepath.Join(home, ".local", "state")
		}
		resolved = &resolvedPaths{
			configDir: filepath.Join(xdgConfig, appName),
			dataDir:   filepath.Join(xdgData, appName),
			stateDir:  filepath.Join(xdgState, appName),
		}
		return resolved, nil
	}

	resolved = flatLayout(legacyDir)
	return resolved, nil
}

// ConfigDir returns the directory holding settings.yaml.
func ConfigDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.configDir, nil
}

// DataDir returns the directory for persistent data files.
func DataDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.dataDir, nil
}

// StateDir returns the directory for runtime state and logs.
func StateDir() (string, error) {
	r, err := resolve()
	if err != nil {
		return "", err
	}
	return r.stateDir, nil
}

// SettingsFilePath returns the full path to settings.yaml.
func SettingsFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "settings.yaml"), nil
}

// EnvFilePath returns the path of the optional .env file next to the settings.
func EnvFilePath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ".env"), nil
}

// SceneStorePath returns the bbolt database used to persist the scene.
func SceneStorePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "scene.db"), nil
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "logs"), nil
}

// ScratchDir returns the parent directory for per-run temporary files.
func ScratchDir() (string, error) {
	dir, err := StateDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "scratch"), nil
}

// IsFlatLayout returns true if every directory resolves to the same root.
func IsFlatLayout() bool {
	r, err := resolve()
	if err != nil {
		return true // assume flat on error
	}
	return r.flat
}

// Reset clears the cached path resolution. This is intended for testing only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	resolved = nil
}
