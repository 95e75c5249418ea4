package profile

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathsLayout(t *testing.T) {
	dir := Dir("work")
	if !strings.HasSuffix(dir, filepath.Join(".wavault", "profiles", "work")) {
		t.Errorf("Dir = %q", dir)
	}
	if got := DBPath("work"); got != filepath.Join(dir, "archive.db") {
		t.Errorf("DBPath = %q", got)
	}
	if got := MediaDir("work"); got != filepath.Join(dir, "media") {
		t.Errorf("MediaDir = %q", got)
	}
	if got := LogPath("work"); got != filepath.Join(dir, "logs", "wavault.log") {
		t.Errorf("LogPath = %q", got)
	}
	if !strings.HasSuffix(ConfigPath(), filepath.Join(".wavault", "config.toml")) {
		t.Errorf("ConfigPath = %q", ConfigPath())
	}
}

func TestResolvePrecedence(t *testing.T) {
	// The flag always wins, whatever the config says.
	if got := Resolve("explicit"); got != "explicit" {
		t.Errorf("Resolve with flag = %q", got)
	}
}
