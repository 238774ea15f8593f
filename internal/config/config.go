package config

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/pelletier/go-toml/v2"
)

// DefaultStrategy is the strategy id selected when none is configured.
const DefaultStrategy = "workspace-folder"

// DefaultMaxRestarts is the default cap on automatic client restarts.
const DefaultMaxRestarts = 4

// Settings is one immutable snapshot of the engine configuration.
type Settings struct {
	MultiProject MultiProjectSettings `toml:"multiproject"`
	Client       ClientSettings       `toml:"client"`
	Plugins      PluginSettings       `toml:"plugins"`
}

// MultiProjectSettings controls project resolution.
type MultiProjectSettings struct {
	// Enabled turns multi-project routing on. When false the engine
	// runs a single client for the whole workspace.
	Enabled bool `toml:"enabled"`

	// Strategy is the id of the resolution strategy to use.
	Strategy string `toml:"strategy"`

	// StatusIndicator mirrors the current project into the editor's
	// status surface.
	StatusIndicator bool `toml:"status-indicator"`
}

// ClientSettings describes how protocol clients are launched.
type ClientSettings struct {
	// Command is the language server executable.
	Command string `toml:"command"`

	// Arguments are passed to every launched server.
	Arguments []string `toml:"arguments"`

	// MaxRestarts caps automatic restarts after a crash. Zero disables
	// automatic restarting.
	MaxRestarts int `toml:"max-restarts"`

	// InitOptions is the base initialization payload sent to every
	// client. Per-project fields are merged in at client creation.
	InitOptions map[string]any `toml:"init-options"`
}

// PluginSettings controls third-party strategy plugins.
type PluginSettings struct {
	// Enabled turns plugin loading on.
	Enabled bool `toml:"enabled"`

	// Dir is the directory scanned for plugin manifests.
	Dir string `toml:"dir"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		MultiProject: MultiProjectSettings{
			Enabled:         false,
			Strategy:        DefaultStrategy,
			StatusIndicator: false,
		},
		Client: ClientSettings{
			Command:     "clangd",
			MaxRestarts: DefaultMaxRestarts,
		},
		Plugins: PluginSettings{
			Enabled: false,
		},
	}
}

// Validate checks semantic constraints.
func (s Settings) Validate() error {
	if s.Client.MaxRestarts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidMaxRestarts, s.Client.MaxRestarts)
	}
	return nil
}

// Clone returns a deep copy of the settings.
func (s Settings) Clone() Settings {
	out := s
	out.Client.Arguments = slices.Clone(s.Client.Arguments)
	out.Client.InitOptions = cloneMap(s.Client.InitOptions)
	return out
}

// Load reads settings from a TOML file, applying defaults for missing
// keys. A missing file yields the defaults.
func Load(path string) (Settings, error) {
	settings := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return settings, nil
		}
		return settings, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, &settings); err != nil {
		return Default(), fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if settings.MultiProject.Strategy == "" {
		settings.MultiProject.Strategy = DefaultStrategy
	}
	if err := settings.Validate(); err != nil {
		return Default(), fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return settings, nil
}

// cloneMap deep-copies a value map.
func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, val := range src {
		switch v := val.(type) {
		case map[string]any:
			dst[key] = cloneMap(v)
		case []any:
			dst[key] = cloneSlice(v)
		default:
			dst[key] = val
		}
	}
	return dst
}

// cloneSlice deep-copies a value slice.
func cloneSlice(src []any) []any {
	if src == nil {
		return nil
	}
	dst := make([]any, len(src))
	for i, val := range src {
		switch v := val.(type) {
		case map[string]any:
			dst[i] = cloneMap(v)
		case []any:
			dst[i] = cloneSlice(v)
		default:
			dst[i] = val
		}
	}
	return dst
}

// Equal reports whether two snapshots are semantically identical.
func Equal(a, b Settings) bool {
	return a.MultiProject == b.MultiProject &&
		a.Plugins == b.Plugins &&
		a.Client.Command == b.Client.Command &&
		a.Client.MaxRestarts == b.Client.MaxRestarts &&
		slices.Equal(a.Client.Arguments, b.Client.Arguments) &&
		maps.EqualFunc(a.Client.InitOptions, b.Client.InitOptions, anyEqual)
}

// anyEqual compares config values structurally.
func anyEqual(a, b any) bool {
	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		return ok && maps.EqualFunc(av, bv, anyEqual)
	case []any:
		bv, ok := b.([]any)
		return ok && slices.EqualFunc(av, bv, anyEqual)
	default:
		return a == b
	}
}
