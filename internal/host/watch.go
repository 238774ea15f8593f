package host

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tidwall/match"
)

// GlobFactory creates GlobWatchers backed by fsnotify.
// It is the standalone implementation of WatcherFactory.
type GlobFactory struct {
	logger     *slog.Logger
	bufferSize int
}

// GlobFactoryOption configures a GlobFactory.
type GlobFactoryOption func(*GlobFactory)

// WithWatchLogger sets the logger used by watchers from this factory.
func WithWatchLogger(logger *slog.Logger) GlobFactoryOption {
	return func(f *GlobFactory) {
		f.logger = logger
	}
}

// WithWatchBufferSize sets the event channel capacity for watchers from
// this factory.
func WithWatchBufferSize(n int) GlobFactoryOption {
	return func(f *GlobFactory) {
		f.bufferSize = n
	}
}

// NewGlobFactory creates a watcher factory.
func NewGlobFactory(opts ...GlobFactoryOption) *GlobFactory {
	f := &GlobFactory{
		logger:     slog.Default(),
		bufferSize: 64,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Watch watches the tree rooted at root for create/delete of paths whose
// root-relative slash path matches pattern.
func (f *GlobFactory) Watch(root, pattern string) (Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &GlobWatcher{
		root:    absRoot,
		pattern: pattern,
		watcher: fsw,
		logger:  f.logger,
		watched: make(map[string]bool),
		events:  make(chan WatchEvent, f.bufferSize),
		closeCh: make(chan struct{}),
	}

	// Watch the existing tree before the loop starts so no creation
	// between walk and loop is missed by an unwatched directory.
	w.watchTree(absRoot, false)

	w.wg.Add(1)
	go w.processLoop()

	return w, nil
}

// GlobWatcher watches one directory tree for create/delete events on paths
// matching a glob pattern.
type GlobWatcher struct {
	mu sync.Mutex

	root    string
	pattern string
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	// Directories currently registered with fsnotify.
	watched map[string]bool

	events  chan WatchEvent
	closeCh chan struct{}
	wg      sync.WaitGroup
	closed  bool
}

// Events returns the event channel. It is closed when the watcher closes.
func (w *GlobWatcher) Events() <-chan WatchEvent {
	return w.events
}

// Close stops the watcher. Idempotent.
func (w *GlobWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.closeCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	close(w.events)
	return err
}

// processLoop handles incoming fsnotify events.
func (w *GlobWatcher) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case fsEvent, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleFSEvent(fsEvent)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", "root", w.root, "error", err)
		}
	}
}

// handleFSEvent converts and dispatches an fsnotify event.
func (w *GlobWatcher) handleFSEvent(fsEvent fsnotify.Event) {
	path := fsEvent.Name

	switch {
	case fsEvent.Op.Has(fsnotify.Create):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			// A directory may arrive fully populated (mkdir -p, rename
			// into the tree), so walk it for matches and new watches.
			w.watchTree(path, true)
			return
		}
		if w.matches(path) {
			w.send(WatchEvent{Path: path, Op: WatchOpCreate})
		}

	case fsEvent.Op.Has(fsnotify.Remove), fsEvent.Op.Has(fsnotify.Rename):
		if w.matches(path) {
			w.send(WatchEvent{Path: path, Op: WatchOpDelete})
		}
		w.forgetTree(path)
	}
}

// watchTree registers dir and every non-hidden subdirectory with fsnotify.
// When emitMatches is true, matching paths found during the walk are
// reported as creations.
func (w *GlobWatcher) watchTree(dir string, emitMatches bool) {
	_ = filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return nil
		}

		base := filepath.Base(p)
		if p != w.root && len(base) > 0 && base[0] == '.' {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if emitMatches && w.matches(p) {
			w.send(WatchEvent{Path: p, Op: WatchOpCreate})
		}

		if d.IsDir() {
			w.addWatch(p)
		}
		return nil
	})
}

// addWatch registers a single directory with fsnotify.
func (w *GlobWatcher) addWatch(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed || w.watched[dir] {
		return
	}
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("cannot watch directory", "dir", dir, "error", err)
		return
	}
	w.watched[dir] = true
}

// forgetTree drops bookkeeping for a removed path and everything under it.
// fsnotify releases the kernel watches itself when the inodes go away.
func (w *GlobWatcher) forgetTree(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prefix := path + string(filepath.Separator)
	for dir := range w.watched {
		if dir == path || strings.HasPrefix(dir, prefix) {
			delete(w.watched, dir)
		}
	}
}

// matches reports whether path's root-relative slash form matches the
// watcher's pattern.
func (w *GlobWatcher) matches(path string) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return false
	}
	return MatchGlob(filepath.ToSlash(rel), w.pattern)
}

// send delivers an event, dropping it if the channel is full.
func (w *GlobWatcher) send(ev WatchEvent) {
	select {
	case <-w.closeCh:
	case w.events <- ev:
	default:
		w.logger.Warn("watch event channel full, dropping event", "path", ev.Path, "op", ev.Op.String())
	}
}

// MatchGlob matches a slash-separated relative path against a glob
// pattern. A leading "**/" also matches zero directories, so "**/build"
// matches both "build" and "out/build".
func MatchGlob(rel, pattern string) bool {
	if match.Match(rel, pattern) {
		return true
	}
	if after, ok := strings.CutPrefix(pattern, "**/"); ok {
		return match.Match(rel, after)
	}
	return false
}

// Ensure the standalone implementations satisfy their interfaces.
var (
	_ WatcherFactory = (*GlobFactory)(nil)
	_ Watcher        = (*GlobWatcher)(nil)
)
