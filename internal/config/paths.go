package config

import (
	"os"
	"path/filepath"
)

// GlobalDirName is the name of the global Recall directory.
const GlobalDirName = ".recall"

// GlobalDir returns the global Recall directory path (~/.recall).
func GlobalDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, GlobalDirName)
}

// GlobalDBPath returns the primary store path (~/.recall/recall.db).
func GlobalDBPath() string {
	return filepath.Join(GlobalDir(), "recall.db")
}

// GlobalAnalyticsDBPath returns the DuckDB analytics mirror path.
func GlobalAnalyticsDBPath() string {
	return filepath.Join(GlobalDir(), "recall-analytics.duckdb")
}

// GlobalConfigPath returns the user config file path (~/.recall/config.yaml).
func GlobalConfigPath() string {
	return filepath.Join(GlobalDir(), "config.yaml")
}

// GlobalDevicePath returns the device identity file path (~/.recall/device.json).
func GlobalDevicePath() string {
	return filepath.Join(GlobalDir(), "device.json")
}

// GlobalWatchPIDPath returns the watcher daemon PID file path.
func GlobalWatchPIDPath() string {
	return filepath.Join(GlobalDir(), "watch.pid")
}

// IsInstalled reports whether the store has been initialized.
func IsInstalled() bool {
	_, err := os.Stat(GlobalDBPath())
	return err == nil
}

// EnsureGlobalDirs creates the global Recall directory.
func EnsureGlobalDirs() error {
	return os.MkdirAll(GlobalDir(), 0755)
}
