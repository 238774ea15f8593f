package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/dshills/clangmux/internal/project"
)

// Manager owns every plugin host and drives the two-phase load:
// declarations first, activations second. Declaring all strategy ids
// before any entry point runs guarantees that a resolution racing the
// load blocks on the complete declared set.
type Manager struct {
	loader  *Loader
	service *project.Service
	logger  *slog.Logger
	paths   []string

	mu    sync.Mutex
	hosts map[string]*Host
	order []string
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerPaths replaces the plugin search paths.
func WithManagerPaths(paths ...string) ManagerOption {
	return func(m *Manager) {
		m.paths = paths
	}
}

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager registering strategies with service.
func NewManager(service *project.Service, opts ...ManagerOption) *Manager {
	m := &Manager{
		service: service,
		logger:  slog.Default(),
		hosts:   make(map[string]*Host),
	}
	for _, opt := range opts {
		opt(m)
	}

	loaderOpts := []LoaderOption{WithLoaderLogger(m.logger)}
	if m.paths != nil {
		loaderOpts = append(loaderOpts, WithPaths(m.paths...))
	}
	m.loader = NewLoader(loaderOpts...)
	return m
}

// LoadAll discovers, declares, and activates every plugin. A plugin
// that fails to activate is reported and skipped; its failure never
// blocks the others. The joined activation errors are returned for the
// caller's log.
func (m *Manager) LoadAll(ctx context.Context) error {
	infos := m.loader.Discover()

	var pending []*Host
	for _, info := range infos {
		if info.Err != nil {
			m.logger.Warn("ignoring plugin with invalid manifest",
				"path", info.Path, "error", info.Err)
			continue
		}

		m.mu.Lock()
		if _, dup := m.hosts[info.Name]; dup {
			m.mu.Unlock()
			m.logger.Warn("duplicate plugin ignored", "plugin", info.Name, "path", info.Path)
			continue
		}
		h, err := NewHost(info.Manifest, m.service, WithHostLogger(m.logger))
		if err != nil {
			m.mu.Unlock()
			continue
		}
		m.hosts[info.Name] = h
		m.order = append(m.order, info.Name)
		m.mu.Unlock()

		pending = append(pending, h)
	}

	for _, h := range pending {
		h.Declare()
	}

	var errs []error
	for _, h := range pending {
		if err := h.Activate(ctx); err != nil {
			m.logger.Warn("plugin activation failed", "plugin", h.Name(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Host returns a loaded plugin host by name.
func (m *Manager) Host(name string) (*Host, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hosts[name]
	return h, ok
}

// Hosts returns every loaded host in load order.
func (m *Manager) Hosts() []*Host {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Host, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.hosts[name])
	}
	return out
}

// Dispose deactivates every plugin in reverse load order. Idempotent.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	hosts := make([]*Host, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		hosts = append(hosts, m.hosts[m.order[i]])
	}
	m.hosts = make(map[string]*Host)
	m.order = nil
	m.mu.Unlock()

	var errs []error
	for _, h := range hosts {
		if err := h.Deactivate(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
