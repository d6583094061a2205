package app

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestResolvePaths_ResolvesConfigDirectory(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME is only honoured on linux")
	}
	configHome := filepath.Join(t.TempDir(), "cfg")
	t.Setenv("XDG_CONFIG_HOME", configHome)

	paths, err := ResolvePaths()
	if err != nil {
		t.Fatalf("resolve paths: %v", err)
	}

	if paths.RootDir != filepath.Join(configHome, Name) {
		t.Fatalf("unexpected root dir: %q", paths.RootDir)
	}
	if paths.ConfigFile != filepath.Join(configHome, Name, ConfigFilename) {
		t.Fatalf("unexpected config file: %q", paths.ConfigFile)
	}
	if _, err := os.Stat(paths.RootDir); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}

func TestPathsIn(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", Name)

	paths, err := PathsIn(root)
	if err != nil {
		t.Fatalf("paths in: %v", err)
	}
	if paths.DBFile != filepath.Join(root, DBFilename) || paths.LogFile != filepath.Join(root, LogFilename) {
		t.Fatalf("unexpected paths: %+v", paths)
	}
	if _, err := os.Stat(root); err != nil {
		t.Fatalf("expected root directory to exist: %v", err)
	}
}
