package plugin

import "errors"

var (
	// ErrPluginNotFound is returned when a plugin cannot be located.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrAlreadyActive is returned when activating an already active plugin.
	ErrAlreadyActive = errors.New("plugin is already active")

	// ErrNilManifest is returned when a host is built without a manifest.
	ErrNilManifest = errors.New("manifest is nil")

	// ErrNoActivate is returned when the entry point defines no activate
	// function.
	ErrNoActivate = errors.New("plugin defines no activate function")

	// ErrStateClosed is returned when calling into a closed Lua state.
	ErrStateClosed = errors.New("lua state is closed")
)
