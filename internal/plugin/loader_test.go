package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestLoader_Discover(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "beta", `{"name": "beta"}`, ``)
	alphaDir := writePlugin(t, base, "alpha", `{"name": "alpha", "version": "1.0.0"}`, ``)
	writePlugin(t, base, "broken", `{not json`, ``)
	if err := os.MkdirAll(filepath.Join(base, "no-manifest"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(base, "README.md"), []byte("docs"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := NewLoader(WithPaths(base), WithLoaderLogger(discardLogger()))
	infos := l.Discover()

	if len(infos) != 3 {
		t.Fatalf("Expected 3 plugins, got %d", len(infos))
	}
	if infos[0].Name != "alpha" || infos[1].Name != "beta" || infos[2].Name != "broken" {
		t.Errorf("Expected name-sorted discovery, got %v, %v, %v",
			infos[0].Name, infos[1].Name, infos[2].Name)
	}
	if infos[0].Path != alphaDir {
		t.Errorf("Expected path %q, got %q", alphaDir, infos[0].Path)
	}
	if infos[0].Manifest == nil || infos[0].Manifest.Version != "1.0.0" {
		t.Errorf("Expected parsed manifest for alpha, got %v", infos[0].Manifest)
	}
	if infos[2].Err == nil {
		t.Error("Expected recorded manifest error for broken")
	}
	if infos[2].Manifest != nil {
		t.Errorf("Expected no manifest for broken, got %v", infos[2].Manifest)
	}
}

func TestLoader_Discover_FirstPathWins(t *testing.T) {
	first := t.TempDir()
	second := t.TempDir()
	firstDir := writePlugin(t, first, "shared", `{"name": "shared", "version": "1.0.0"}`, ``)
	writePlugin(t, second, "shared", `{"name": "shared", "version": "2.0.0"}`, ``)

	l := NewLoader(WithPaths(first, second), WithLoaderLogger(discardLogger()))
	infos := l.Discover()

	if len(infos) != 1 {
		t.Fatalf("Expected 1 plugin, got %d", len(infos))
	}
	if infos[0].Path != firstDir {
		t.Errorf("Expected earlier search path to win, got %q", infos[0].Path)
	}
	if infos[0].Manifest.Version != "1.0.0" {
		t.Errorf("Expected version 1.0.0, got %q", infos[0].Manifest.Version)
	}
}

func TestLoader_Discover_ManifestNameWins(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "some-dir", `{"name": "actual-name"}`, ``)

	l := NewLoader(WithPaths(base), WithLoaderLogger(discardLogger()))
	infos := l.Discover()

	if len(infos) != 1 || infos[0].Name != "actual-name" {
		t.Fatalf("Expected manifest name to override the directory name, got %v", infos)
	}
}

func TestLoader_Discover_MissingPathSkipped(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "only", `{"name": "only"}`, ``)
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	l := NewLoader(WithPaths(missing, base), WithLoaderLogger(discardLogger()))
	infos := l.Discover()

	if len(infos) != 1 || infos[0].Name != "only" {
		t.Errorf("Expected discovery to skip the missing path, got %v", infos)
	}
}

func TestLoader_FindPlugin(t *testing.T) {
	base := t.TempDir()
	writePlugin(t, base, "present", `{"name": "present"}`, ``)

	l := NewLoader(WithPaths(base), WithLoaderLogger(discardLogger()))

	info, err := l.FindPlugin("present")
	if err != nil {
		t.Fatalf("Expected plugin to be found, got %v", err)
	}
	if info.Name != "present" {
		t.Errorf("Expected present, got %q", info.Name)
	}

	if _, err := l.FindPlugin("absent"); !errors.Is(err, ErrPluginNotFound) {
		t.Errorf("Expected ErrPluginNotFound, got %v", err)
	}
}
