package config

import (
	"log/slog"
	"sync"

	"github.com/dshills/clangmux/internal/event"
)

// Change describes a settings transition.
type Change struct {
	Old Settings
	New Settings
}

// MultiProjectChanged reports whether the change touches the
// multi-project switches that require a session restart.
func (c Change) MultiProjectChanged() bool {
	return c.Old.MultiProject.Enabled != c.New.MultiProject.Enabled ||
		c.Old.MultiProject.Strategy != c.New.MultiProject.Strategy
}

// Store guards the current settings snapshot and notifies subscribers of
// changes.
type Store struct {
	mu       sync.RWMutex
	settings Settings
	path     string

	logger  *slog.Logger
	changes *event.Emitter[Change]
	watcher *fileWatcher
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store holding the default settings.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		settings: Default(),
		logger:   slog.Default(),
		changes:  event.NewEmitter[Change](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads settings from path and installs them. The path is remembered
// for Reload and Watch.
func (s *Store) Load(path string) error {
	settings, err := Load(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.path = path
	s.mu.Unlock()

	s.Set(settings)
	return nil
}

// Reload re-reads the remembered path and installs the result.
func (s *Store) Reload() error {
	s.mu.RLock()
	path := s.path
	s.mu.RUnlock()

	if path == "" {
		return ErrNoPath
	}

	settings, err := Load(path)
	if err != nil {
		return err
	}
	s.Set(settings)
	return nil
}

// Snapshot returns a copy of the current settings.
func (s *Store) Snapshot() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Clone()
}

// Set installs new settings and notifies subscribers when they differ
// from the current snapshot.
func (s *Store) Set(settings Settings) {
	s.mu.Lock()
	old := s.settings
	if Equal(old, settings) {
		s.mu.Unlock()
		return
	}
	s.settings = settings.Clone()
	s.mu.Unlock()

	s.logger.Debug("settings changed",
		"multiproject", settings.MultiProject.Enabled,
		"strategy", settings.MultiProject.Strategy)
	s.changes.Emit(Change{Old: old, New: settings.Clone()})
}

// OnChange subscribes to settings changes.
func (s *Store) OnChange(fn func(Change)) *event.Subscription {
	return s.changes.Subscribe(fn)
}

// Close stops watching and cancels all subscriptions.
func (s *Store) Close() {
	s.StopWatching()
	s.changes.Close()
}
