package project

import (
	"context"

	"github.com/dshills/clangmux/internal/event"
)

// Strategy ids of the built-in strategies.
const (
	StrategyWorkspaceFolder = "workspace-folder"
	StrategyBuildDirectory  = "build-directory"
)

// Strategy maps file locations to projects and owns a live project list.
//
// After Initialize returns, Projects reflects everything discoverable
// without waiting on further events. Resolve is a pure lookup against the
// current list. A disposed strategy emits no further events; Dispose is
// idempotent and may be called at any point.
type Strategy interface {
	// ID returns the unique strategy id.
	ID() string

	// Initialize performs discovery and begins watching for membership
	// changes. It may be called again after the strategy has been
	// inactive to refresh a stale list.
	Initialize(ctx context.Context) error

	// Projects returns the current project list.
	Projects() []Project

	// Resolve returns the project owning the location, or nil.
	Resolve(uri string) *Project

	// OnChange subscribes to membership changes.
	OnChange(fn func(Change)) *event.Subscription

	// Dispose stops watching and silences all events.
	Dispose()
}
