package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths are the default locations tasksnap reads and writes.
type Paths struct {
	ConfigPath string // TOML config file
	BaseDir    string // database, staging, snapshots and keys live below here
	LogDir     string
}

// GetDefaults resolves the default paths. Environment variables win:
//   - TASKSNAP_CONFIG_PATH: config file location (default: ~/.config/tasksnap.toml)
//   - TASKSNAP_HOME: base directory for tasksnap data (default: ~/.local/share/tasksnap)
func GetDefaults() (Paths, error) {
	configPath := os.Getenv("TASKSNAP_CONFIG_PATH")
	baseDir := os.Getenv("TASKSNAP_HOME")

	if configPath == "" || baseDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("cannot determine home directory: %w", err)
		}
		if configPath == "" {
			configPath = filepath.Join(homeDir, ".config", "tasksnap.toml")
		}
		if baseDir == "" {
			baseDir = filepath.Join(homeDir, ".local", "share", "tasksnap")
		}
	}

	return Paths{
		ConfigPath: configPath,
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
	}, nil
}
