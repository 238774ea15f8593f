package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/tidwall/gjson"
)

// ManifestFile is the manifest file name inside a plugin directory.
const ManifestFile = "plugin.json"

// DefaultMain is the entry point used when the manifest names none.
const DefaultMain = "init.lua"

// Manifest describes a plugin's identity and its strategy declarations.
type Manifest struct {
	Name        string
	Version     string
	DisplayName string
	Description string
	Author      string

	// Main is the path of the Lua entry point, relative to the plugin
	// directory.
	Main string

	// Strategies are the project strategy ids the plugin declares it
	// will register.
	Strategies []string

	path string
}

// Validation errors.
var (
	ErrInvalidManifest = errors.New("manifest: not a JSON object")
	ErrMissingName     = errors.New("manifest: name is required")
	ErrInvalidName     = errors.New("manifest: name must be lowercase alphanumeric with hyphens")
	ErrInvalidVersion  = errors.New("manifest: version must be valid semver")
	ErrInvalidMain     = errors.New("manifest: main must be a .lua file")
)

var namePattern = regexp.MustCompile(`^[a-z][a-z0-9-]*[a-z0-9]$|^[a-z]$`)

var semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9.-]+)?(\+[a-zA-Z0-9.-]+)?$`)

// LoadManifest loads and validates a manifest from a file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := ParseManifest(data)
	if err != nil {
		return nil, err
	}
	m.path = filepath.Dir(path)
	return m, nil
}

// LoadManifestFromDir loads the manifest of a plugin directory.
func LoadManifestFromDir(dir string) (*Manifest, error) {
	return LoadManifest(filepath.Join(dir, ManifestFile))
}

// ParseManifest parses and validates manifest JSON.
func ParseManifest(data []byte) (*Manifest, error) {
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidManifest
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrInvalidManifest
	}

	m := &Manifest{
		Name:        root.Get("name").String(),
		Version:     root.Get("version").String(),
		DisplayName: root.Get("displayName").String(),
		Description: root.Get("description").String(),
		Author:      root.Get("author").String(),
		Main:        root.Get("main").String(),
		Strategies:  strategyDeclarations(root.Get("projectStrategies")),
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// strategyDeclarations extracts declared strategy ids. The field comes
// from loosely-typed external metadata, so only the two documented shapes
// are accepted: a single string or an array of strings. Any other shape,
// including an array holding one non-string element, counts as no
// declaration at all.
func strategyDeclarations(result gjson.Result) []string {
	switch {
	case result.Type == gjson.String:
		if result.Str == "" {
			return nil
		}
		return []string{result.Str}

	case result.IsArray():
		items := result.Array()
		seen := make(map[string]struct{}, len(items))
		ids := make([]string, 0, len(items))
		for _, item := range items {
			if item.Type != gjson.String || item.Str == "" {
				return nil
			}
			if _, dup := seen[item.Str]; dup {
				continue
			}
			seen[item.Str] = struct{}{}
			ids = append(ids, item.Str)
		}
		if len(ids) == 0 {
			return nil
		}
		return ids

	default:
		return nil
	}
}

// applyDefaults sets defaults for optional fields.
func (m *Manifest) applyDefaults() {
	if m.Main == "" {
		m.Main = DefaultMain
	}
	if m.Version == "" {
		m.Version = "0.0.0"
	}
}

// Validate checks that the manifest is well formed.
func (m *Manifest) Validate() error {
	if m.Name == "" {
		return ErrMissingName
	}
	if !namePattern.MatchString(m.Name) {
		return fmt.Errorf("%w: %s", ErrInvalidName, m.Name)
	}
	if !semverPattern.MatchString(m.Version) {
		return fmt.Errorf("%w: %s", ErrInvalidVersion, m.Version)
	}
	if filepath.Ext(m.Main) != ".lua" {
		return fmt.Errorf("%w: %s", ErrInvalidMain, m.Main)
	}
	return nil
}

// Path returns the plugin directory.
func (m *Manifest) Path() string {
	return m.path
}

// MainPath returns the full path of the Lua entry point.
func (m *Manifest) MainPath() string {
	return filepath.Join(m.path, m.Main)
}

// String returns the display name and version.
func (m *Manifest) String() string {
	display := m.DisplayName
	if display == "" {
		display = m.Name
	}
	return fmt.Sprintf("%s v%s", display, m.Version)
}
