package project

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
)

// FolderStrategy derives one project per top-level workspace folder.
// A folder nested inside another folder folds into the ancestor's project
// rather than forming its own.
type FolderStrategy struct {
	workspace host.Workspace
	logger    *slog.Logger

	mu       sync.RWMutex
	projects []Project

	changes  *event.Emitter[Change]
	wsSub    *event.Subscription
	disposed atomic.Bool
}

// FolderOption configures a FolderStrategy.
type FolderOption func(*FolderStrategy)

// WithFolderLogger sets the strategy's logger.
func WithFolderLogger(logger *slog.Logger) FolderOption {
	return func(s *FolderStrategy) {
		s.logger = logger
	}
}

// NewFolderStrategy creates a folder-based strategy over the workspace.
func NewFolderStrategy(workspace host.Workspace, opts ...FolderOption) *FolderStrategy {
	s := &FolderStrategy{
		workspace: workspace,
		logger:    slog.Default(),
		changes:   event.NewEmitter[Change](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the strategy id.
func (s *FolderStrategy) ID() string {
	return StrategyWorkspaceFolder
}

// Initialize computes the project list and subscribes to workspace folder
// changes. Calling it again refreshes the list.
func (s *FolderStrategy) Initialize(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrStrategyDisposed
	}

	projects := s.compute()

	s.mu.Lock()
	s.projects = projects
	if s.wsSub == nil {
		s.wsSub = s.workspace.OnDidChangeFolders(func(host.FoldersChange) {
			s.refresh()
		})
	}
	s.mu.Unlock()

	s.logger.Debug("folder strategy initialized", "projects", len(projects))
	return nil
}

// Projects returns the current project list.
func (s *FolderStrategy) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Project, len(s.projects))
	copy(out, s.projects)
	return out
}

// Resolve returns the owning project of the location, or nil. The owner is
// the first project in the depth-sorted list whose root is a prefix of the
// location, so shallower folders win.
func (s *FolderStrategy) Resolve(uri string) *Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolveIn(s.projects, uri)
}

// OnChange subscribes to membership changes.
func (s *FolderStrategy) OnChange(fn func(Change)) *event.Subscription {
	return s.changes.Subscribe(fn)
}

// Dispose stops watching and silences all events. Idempotent.
func (s *FolderStrategy) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	sub := s.wsSub
	s.wsSub = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	s.changes.Close()
}

// compute derives the top-level project set from the current workspace
// folders. Folders are ordered shallowest-first; a folder whose owner in
// that order is another folder contributes no project of its own.
func (s *FolderStrategy) compute() []Project {
	folders := s.workspace.Folders()

	candidates := make([]Project, 0, len(folders))
	for _, f := range folders {
		candidates = append(candidates, New(f.URI, f.Path, f.Name))
	}
	sortByDepth(candidates)

	var projects []Project
	for i := range candidates {
		if owner := resolveIn(projects, candidates[i].RootURI); owner != nil {
			continue
		}
		if indexByID(projects, candidates[i].ID) < 0 {
			projects = append(projects, candidates[i])
		}
	}
	return projects
}

// refresh recomputes the list after a workspace change and emits the diff.
func (s *FolderStrategy) refresh() {
	if s.disposed.Load() {
		return
	}

	updated := s.compute()

	s.mu.Lock()
	change := diff(s.projects, updated)
	s.projects = updated
	s.mu.Unlock()

	if change.Empty() {
		return
	}
	s.logger.Debug("workspace folders changed",
		"added", len(change.Added), "removed", len(change.Removed))
	s.changes.Emit(change)
}

// Ensure FolderStrategy implements Strategy.
var _ Strategy = (*FolderStrategy)(nil)
