package plugin

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// PluginInfo is the discovery record for one plugin directory.
type PluginInfo struct {
	Name     string
	Path     string
	Manifest *Manifest

	// Err holds the manifest failure for directories that look like
	// plugins but do not parse.
	Err error
}

// Loader discovers plugins on the filesystem. A plugin is any directory
// directly under a search path that contains a plugin.json manifest.
type Loader struct {
	paths  []string
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithPaths replaces the plugin search paths.
func WithPaths(paths ...string) LoaderOption {
	return func(l *Loader) {
		l.paths = paths
	}
}

// WithLoaderLogger sets the loader's logger.
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(l *Loader) {
		l.logger = logger
	}
}

// NewLoader creates a loader over the default search paths.
func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{
		paths:  DefaultPluginPaths(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// DefaultPluginPaths returns the user and workspace plugin directories.
func DefaultPluginPaths() []string {
	paths := make([]string, 0, 2)
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "clangmux", "plugins"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".clangmux", "plugins"))
	}
	return paths
}

// Paths returns the configured search paths.
func (l *Loader) Paths() []string {
	return l.paths
}

// Discover finds every plugin under the search paths, sorted by name.
// Earlier search paths shadow later ones on a name collision. Missing
// or unreadable search paths are skipped.
func (l *Loader) Discover() []*PluginInfo {
	discovered := make(map[string]*PluginInfo)

	for _, basePath := range l.paths {
		entries, err := os.ReadDir(basePath)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warn("cannot read plugin path", "path", basePath, "error", err)
			}
			continue
		}

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			dir := filepath.Join(basePath, entry.Name())
			if _, err := os.Stat(filepath.Join(dir, ManifestFile)); err != nil {
				continue
			}

			info := &PluginInfo{Name: entry.Name(), Path: dir}
			manifest, err := LoadManifestFromDir(dir)
			if err != nil {
				info.Err = err
			} else {
				info.Name = manifest.Name
				info.Manifest = manifest
			}

			if prev, exists := discovered[info.Name]; exists {
				l.logger.Debug("plugin shadowed by earlier search path",
					"plugin", info.Name, "kept", prev.Path, "shadowed", dir)
				continue
			}
			discovered[info.Name] = info
		}
	}

	plugins := make([]*PluginInfo, 0, len(discovered))
	for _, info := range discovered {
		plugins = append(plugins, info)
	}
	sort.Slice(plugins, func(i, j int) bool {
		return plugins[i].Name < plugins[j].Name
	})
	return plugins
}

// FindPlugin locates a plugin by name.
func (l *Loader) FindPlugin(name string) (*PluginInfo, error) {
	for _, info := range l.Discover() {
		if info.Name == name {
			return info, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
}
