package plugin

// State represents the lifecycle state of a plugin.
type State int

const (
	// StateDiscovered means the manifest is parsed but no code has run.
	StateDiscovered State = iota

	// StateDeclared means the plugin's strategy ids are registered with
	// the readiness gate.
	StateDeclared

	// StateActive means the entry point ran and its strategies are
	// registered.
	StateActive

	// StateFailed means activation failed; declared expectations are
	// cancelled.
	StateFailed

	// StateDeactivated means the plugin was torn down.
	StateDeactivated
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateDeclared:
		return "declared"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	case StateDeactivated:
		return "deactivated"
	default:
		return "unknown"
	}
}
