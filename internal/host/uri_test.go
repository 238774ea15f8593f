package host

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestPathToURI_AbsolutePath(t *testing.T) {
	uri := PathToURI("/home/user/project")
	if uri != "file:///home/user/project" {
		t.Errorf("Expected file:///home/user/project, got %s", uri)
	}
}

func TestPathToURI_EmptyPath(t *testing.T) {
	if uri := PathToURI(""); uri != "" {
		t.Errorf("Expected empty URI for empty path, got %s", uri)
	}
}

func TestPathToURI_EscapesSpecialCharacters(t *testing.T) {
	uri := PathToURI("/home/user/my project")
	if !strings.Contains(uri, "my%20project") {
		t.Errorf("Expected escaped space in URI, got %s", uri)
	}
}

func TestURIToPath_RoundTrip(t *testing.T) {
	paths := []string{
		"/home/user/project",
		"/home/user/my project",
		"/tmp/a/b/c.cpp",
	}

	for _, p := range paths {
		uri := PathToURI(p)
		got, err := URIToPath(uri)
		if err != nil {
			t.Fatalf("URIToPath(%s) returned error: %v", uri, err)
		}
		if got != filepath.FromSlash(p) {
			t.Errorf("Expected %s, got %s", p, got)
		}
	}
}

func TestURIToPath_RejectsNonFileScheme(t *testing.T) {
	_, err := URIToPath("https://example.com/foo")
	if err == nil {
		t.Fatal("Expected error for non-file scheme")
	}
}
