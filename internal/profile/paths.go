// Package profile lays out the on-disk home of an archive: each profile has
// its own database, media tree, logs, and lock under ~/.wavault.
package profile

import (
	"os"
	"path/filepath"
)

// BaseDir returns ~/.wavault.
func BaseDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".wavault")
}

// Dir returns the profile-specific directory.
func Dir(name string) string {
	return filepath.Join(BaseDir(), "profiles", name)
}

// DBPath returns the archive database path for a profile.
func DBPath(name string) string {
	return filepath.Join(Dir(name), "archive.db")
}

// MediaDir returns the media root for a profile.
func MediaDir(name string) string {
	return filepath.Join(Dir(name), "media")
}

// LogDir returns the log directory for a profile.
func LogDir(name string) string {
	return filepath.Join(Dir(name), "logs")
}

// LogPath returns the run log file path.
func LogPath(name string) string {
	return filepath.Join(LogDir(name), "wavault.log")
}

// ConfigPath returns the global config file path.
func ConfigPath() string {
	return filepath.Join(BaseDir(), "config.toml")
}

// EnsureDirs creates the profile directory tree with proper permissions.
func EnsureDirs(name string) error {
	dirs := []string{
		Dir(name),
		MediaDir(name),
		LogDir(name),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0700); err != nil {
			return err
		}
	}
	return nil
}
