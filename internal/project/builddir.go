package project

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
)

// BuildDirPattern is the glob watched for build directory churn.
const BuildDirPattern = "**/build"

// CompileCommandsFile is the compilation database marker.
const CompileCommandsFile = "compile_commands.json"

// BuildDirStrategy derives one project per discovered build directory.
// The initial scan accepts a directory named "build" only when it holds a
// compilation database directly inside; the project root is the parent of
// the build directory. After the scan, a glob watcher adds and removes
// projects as build directories appear and disappear. File content inside
// a build directory is not watched, so deleting only the compilation
// database does not remove the project.
type BuildDirStrategy struct {
	workspace host.Workspace
	watchers  host.WatcherFactory
	logger    *slog.Logger

	mu       sync.RWMutex
	projects []Project
	watched  map[string]host.Watcher // workspace folder path -> watcher

	changes  *event.Emitter[Change]
	wsSub    *event.Subscription
	disposed atomic.Bool
	wg       sync.WaitGroup
}

// BuildDirOption configures a BuildDirStrategy.
type BuildDirOption func(*BuildDirStrategy)

// WithBuildDirLogger sets the strategy's logger.
func WithBuildDirLogger(logger *slog.Logger) BuildDirOption {
	return func(s *BuildDirStrategy) {
		s.logger = logger
	}
}

// NewBuildDirStrategy creates a build-directory strategy over the
// workspace, using factory for filesystem watching.
func NewBuildDirStrategy(workspace host.Workspace, factory host.WatcherFactory, opts ...BuildDirOption) *BuildDirStrategy {
	s := &BuildDirStrategy{
		workspace: workspace,
		watchers:  factory,
		logger:    slog.Default(),
		watched:   make(map[string]host.Watcher),
		changes:   event.NewEmitter[Change](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the strategy id.
func (s *BuildDirStrategy) ID() string {
	return StrategyBuildDirectory
}

// Initialize scans every workspace folder for build directories, starts
// the glob watchers, and subscribes to workspace folder changes. Folder
// scans run concurrently; a scan failure rejects the whole operation.
func (s *BuildDirStrategy) Initialize(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrStrategyDisposed
	}

	folders := s.workspace.Folders()

	var collectMu sync.Mutex
	found := make(map[string]Project)

	g, ctx := errgroup.WithContext(ctx)
	for _, folder := range folders {
		folder := folder
		g.Go(func() error {
			projects, err := scanForBuildDirs(ctx, folder.Path)
			if err != nil {
				return &StrategyError{ID: s.ID(), Err: err}
			}
			collectMu.Lock()
			for _, p := range projects {
				found[p.ID] = p
			}
			collectMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	projects := make([]Project, 0, len(found))
	for _, p := range found {
		projects = append(projects, p)
	}
	sortByDepth(projects)

	s.mu.Lock()
	s.projects = projects
	if s.wsSub == nil {
		s.wsSub = s.workspace.OnDidChangeFolders(s.handleFolders)
	}
	s.mu.Unlock()

	for _, folder := range folders {
		s.ensureWatch(folder.Path)
	}

	s.logger.Debug("build-directory strategy initialized",
		"folders", len(folders), "projects", len(projects))
	return nil
}

// Projects returns the current project list.
func (s *BuildDirStrategy) Projects() []Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Project, len(s.projects))
	copy(out, s.projects)
	return out
}

// Resolve returns the first project in the depth-sorted list whose root is
// a prefix of the location, or nil.
func (s *BuildDirStrategy) Resolve(uri string) *Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return resolveIn(s.projects, uri)
}

// OnChange subscribes to membership changes.
func (s *BuildDirStrategy) OnChange(fn func(Change)) *event.Subscription {
	return s.changes.Subscribe(fn)
}

// Dispose stops all watchers and silences all events. Idempotent.
func (s *BuildDirStrategy) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	sub := s.wsSub
	s.wsSub = nil
	watched := s.watched
	s.watched = make(map[string]host.Watcher)
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	for _, w := range watched {
		_ = w.Close()
	}
	s.wg.Wait()
	s.changes.Close()
}

// ensureWatch starts the build-directory watcher for a workspace folder
// and consumes its events until the watcher closes.
func (s *BuildDirStrategy) ensureWatch(folderPath string) {
	s.mu.RLock()
	existing := s.watched[folderPath]
	s.mu.RUnlock()
	if existing != nil || s.disposed.Load() {
		return
	}

	// Watcher creation walks the folder, so it runs outside the lock.
	w, err := s.watchers.Watch(folderPath, BuildDirPattern)
	if err != nil {
		s.logger.Warn("cannot watch workspace folder", "folder", folderPath, "error", err)
		return
	}

	s.mu.Lock()
	if s.disposed.Load() || s.watched[folderPath] != nil {
		s.mu.Unlock()
		_ = w.Close()
		return
	}
	s.watched[folderPath] = w
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range w.Events() {
			s.handleWatchEvent(ev)
		}
	}()
}

// dropWatch closes the watcher for a removed workspace folder.
func (s *BuildDirStrategy) dropWatch(folderPath string) {
	s.mu.Lock()
	w := s.watched[folderPath]
	delete(s.watched, folderPath)
	s.mu.Unlock()

	if w != nil {
		_ = w.Close()
	}
}

// handleWatchEvent adds or removes the project for one build directory.
func (s *BuildDirStrategy) handleWatchEvent(ev host.WatchEvent) {
	if s.disposed.Load() {
		return
	}

	root := buildDirRoot(ev.Path)
	if root == "" {
		return
	}
	proj := New(host.PathToURI(root), root, filepath.Base(root))

	switch ev.Op {
	case host.WatchOpCreate:
		// Only directories mark projects; a plain file named "build"
		// does not.
		info, err := os.Stat(ev.Path)
		if err != nil || !info.IsDir() {
			return
		}
		s.mu.Lock()
		if indexByID(s.projects, proj.ID) >= 0 {
			s.mu.Unlock()
			return
		}
		s.projects = append(s.projects, proj)
		sortByDepth(s.projects)
		s.mu.Unlock()

		s.logger.Debug("build directory appeared", "root", root)
		s.changes.Emit(Change{Added: []Project{proj}})

	case host.WatchOpDelete:
		s.mu.Lock()
		if indexByID(s.projects, proj.ID) < 0 {
			s.mu.Unlock()
			return
		}
		s.projects = removeByID(s.projects, proj.ID)
		s.mu.Unlock()

		s.logger.Debug("build directory removed", "root", root)
		s.changes.Emit(Change{Removed: []Project{proj}})
	}
}

// handleFolders reacts to workspace folder additions and removals.
func (s *BuildDirStrategy) handleFolders(change host.FoldersChange) {
	if s.disposed.Load() {
		return
	}

	for _, folder := range change.Added {
		projects, err := scanForBuildDirs(context.Background(), folder.Path)
		if err != nil {
			s.logger.Warn("scan of added folder failed", "folder", folder.Path, "error", err)
			continue
		}

		var added []Project
		s.mu.Lock()
		for _, p := range projects {
			if indexByID(s.projects, p.ID) < 0 {
				s.projects = append(s.projects, p)
				added = append(added, p)
			}
		}
		sortByDepth(s.projects)
		s.mu.Unlock()

		s.ensureWatch(folder.Path)
		if len(added) > 0 {
			s.changes.Emit(Change{Added: added})
		}
	}

	for _, folder := range change.Removed {
		s.dropWatch(folder.Path)

		prefix := NormalizeURI(folder.URI)
		var removed []Project
		s.mu.Lock()
		for i := 0; i < len(s.projects); {
			if strings.HasPrefix(s.projects[i].ID, prefix) {
				removed = append(removed, s.projects[i])
				s.projects = removeByID(s.projects, s.projects[i].ID)
				continue
			}
			i++
		}
		s.mu.Unlock()

		if len(removed) > 0 {
			s.changes.Emit(Change{Removed: removed})
		}
	}
}

// scanForBuildDirs walks a workspace folder looking for directories named
// "build" that directly contain a compilation database. Hidden directories
// are skipped. Unreadable entries are skipped; a failed walk rejects the
// scan.
func scanForBuildDirs(ctx context.Context, folderPath string) ([]Project, error) {
	var projects []Project

	err := filepath.WalkDir(folderPath, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			// Unreadable subtree; keep scanning the rest.
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() {
			return nil
		}

		base := filepath.Base(p)
		if p != folderPath && strings.HasPrefix(base, ".") {
			return filepath.SkipDir
		}

		if base != "build" {
			return nil
		}
		if _, statErr := os.Stat(filepath.Join(p, CompileCommandsFile)); statErr != nil {
			return nil
		}

		root := buildDirRoot(p)
		if root == "" {
			return nil
		}
		projects = append(projects, New(host.PathToURI(root), root, filepath.Base(root)))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// buildDirRoot derives the project root from a build directory path by
// truncating at the last "/build" segment.
func buildDirRoot(buildPath string) string {
	slashPath := filepath.ToSlash(buildPath)
	idx := strings.LastIndex(slashPath, "/build")
	if idx <= 0 {
		return ""
	}
	return filepath.FromSlash(slashPath[:idx])
}

// Ensure BuildDirStrategy implements Strategy.
var _ Strategy = (*BuildDirStrategy)(nil)
