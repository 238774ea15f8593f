package host

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		rel     string
		pattern string
		want    bool
	}{
		{"build", "**/build", true},
		{"sub/build", "**/build", true},
		{"a/b/c/build", "**/build", true},
		{"build/inner", "**/build", false},
		{"builds", "**/build", false},
		{"src/main.cpp", "**/build", false},
		{"build", "build", true},
		{"sub/build", "build", false},
	}

	for _, tt := range tests {
		if got := MatchGlob(tt.rel, tt.pattern); got != tt.want {
			t.Errorf("MatchGlob(%q, %q): expected %v, got %v", tt.rel, tt.pattern, tt.want, got)
		}
	}
}

// waitForEvent reads one event or fails the test after a deadline.
func waitForEvent(t *testing.T, w Watcher) WatchEvent {
	t.Helper()
	select {
	case ev, ok := <-w.Events():
		if !ok {
			t.Fatal("Event channel closed unexpectedly")
		}
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for watch event")
		return WatchEvent{}
	}
}

func TestGlobWatcher_CreateMatchingDirectory(t *testing.T) {
	root := t.TempDir()
	factory := NewGlobFactory()

	w, err := factory.Watch(root, "**/build")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	buildDir := filepath.Join(root, "build")
	if err := os.Mkdir(buildDir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	ev := waitForEvent(t, w)
	if ev.Op != WatchOpCreate {
		t.Errorf("Expected create op, got %v", ev.Op)
	}
	if ev.Path != buildDir {
		t.Errorf("Expected path %s, got %s", buildDir, ev.Path)
	}
}

func TestGlobWatcher_NestedCreateAfterStart(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	factory := NewGlobFactory()
	w, err := factory.Watch(root, "**/build")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	// The subdirectory existed at start, so it is already watched.
	buildDir := filepath.Join(sub, "build")
	if err := os.Mkdir(buildDir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	ev := waitForEvent(t, w)
	if ev.Op != WatchOpCreate || ev.Path != buildDir {
		t.Errorf("Expected create of %s, got %v %s", buildDir, ev.Op, ev.Path)
	}
}

func TestGlobWatcher_DeleteMatchingDirectory(t *testing.T) {
	root := t.TempDir()
	buildDir := filepath.Join(root, "build")
	if err := os.Mkdir(buildDir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	factory := NewGlobFactory()
	w, err := factory.Watch(root, "**/build")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.Remove(buildDir); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	ev := waitForEvent(t, w)
	if ev.Op != WatchOpDelete || ev.Path != buildDir {
		t.Errorf("Expected delete of %s, got %v %s", buildDir, ev.Op, ev.Path)
	}
}

func TestGlobWatcher_IgnoresNonMatchingPaths(t *testing.T) {
	root := t.TempDir()
	factory := NewGlobFactory()

	w, err := factory.Watch(root, "**/build")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	defer w.Close()

	if err := os.Mkdir(filepath.Join(root, "src"), 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	buildDir := filepath.Join(root, "src", "build")
	if err := os.Mkdir(buildDir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}

	// Only src/build matches; the src creation itself must not be reported.
	ev := waitForEvent(t, w)
	if ev.Path != buildDir || ev.Op != WatchOpCreate {
		t.Errorf("Expected create of %s, got %v %s", buildDir, ev.Op, ev.Path)
	}
}

func TestGlobWatcher_Close_Idempotent(t *testing.T) {
	root := t.TempDir()
	factory := NewGlobFactory()

	w, err := factory.Watch(root, "**/build")
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := w.Close(); err != nil {
		t.Errorf("First close failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestGlobFactory_Watch_MissingRoot(t *testing.T) {
	factory := NewGlobFactory()

	if _, err := factory.Watch(filepath.Join(t.TempDir(), "missing"), "**/build"); err == nil {
		t.Fatal("Expected error for missing root")
	}
}
