package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the event bursts editors produce on save.
const debounceDelay = 200 * time.Millisecond

// StartWatching reloads the store whenever its file changes on disk.
// The store must have been loaded from a path first.
func (s *Store) StartWatching() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return ErrNoPath
	}
	if s.watcher != nil {
		return ErrAlreadyWatching
	}

	w, err := newFileWatcher(s.path, func() {
		if err := s.Reload(); err != nil {
			s.logger.Warn("config reload failed", "path", s.path, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.watcher = w
	return nil
}

// StopWatching stops file watching. Idempotent.
func (s *Store) StopWatching() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()

	if w != nil {
		w.close()
	}
}

// fileWatcher watches one file and fires a debounced callback on change.
// The parent directory is watched so atomic rename-based saves are seen.
type fileWatcher struct {
	watcher *fsnotify.Watcher
	file    string
	fire    func()

	mu    sync.Mutex
	timer *time.Timer

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

func newFileWatcher(path string, fire func()) (*fileWatcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(absPath)); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &fileWatcher{
		watcher: fsw,
		file:    absPath,
		fire:    fire,
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

func (w *fileWatcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != w.file {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				w.schedule()
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// schedule arms or re-arms the debounce timer.
func (w *fileWatcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(debounceDelay, func() {
		select {
		case <-w.done:
		default:
			w.fire()
		}
	})
}

func (w *fileWatcher) close() {
	w.closeOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
		w.wg.Wait()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
	})
}
