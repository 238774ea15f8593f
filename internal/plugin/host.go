package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/clangmux/internal/project"
)

// Host manages a single plugin: its Lua state, its lifecycle, and the
// strategies it registers with the project service.
type Host struct {
	manifest *Manifest
	service  *project.Service
	logger   *slog.Logger

	mu         sync.Mutex
	state      *luaState
	strategies []*luaStrategy
	phase      State
	err        error
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithHostLogger sets the host's logger.
func WithHostLogger(logger *slog.Logger) HostOption {
	return func(h *Host) {
		h.logger = logger
	}
}

// NewHost creates a host for the plugin described by manifest.
func NewHost(manifest *Manifest, service *project.Service, opts ...HostOption) (*Host, error) {
	if manifest == nil {
		return nil, ErrNilManifest
	}

	h := &Host{
		manifest: manifest,
		service:  service,
		logger:   slog.Default(),
		phase:    StateDiscovered,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Name returns the plugin name.
func (h *Host) Name() string {
	return h.manifest.Name
}

// Manifest returns the plugin's manifest.
func (h *Host) Manifest() *Manifest {
	return h.manifest
}

// State returns the lifecycle state.
func (h *Host) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// Err returns the activation error, if any.
func (h *Host) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// StrategyIDs returns the ids of the registered strategies.
func (h *Host) StrategyIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, len(h.strategies))
	for i, s := range h.strategies {
		ids[i] = s.ID()
	}
	return ids
}

// Declare hands the manifest's strategy ids to the readiness gate. It
// must run before Activate, and before Activate of any sibling plugin,
// so no resolution observes a partially registered strategy set.
func (h *Host) Declare() {
	h.mu.Lock()
	if h.phase != StateDiscovered {
		h.mu.Unlock()
		return
	}
	h.phase = StateDeclared
	h.mu.Unlock()

	if len(h.manifest.Strategies) > 0 {
		h.service.ExpectStrategies(h.manifest.Strategies...)
	}
}

// Activate runs the plugin's entry point and registers the strategies
// its activate function returns. On failure every declared expectation
// is cancelled so resolution cannot deadlock on a strategy that will
// never arrive.
func (h *Host) Activate(ctx context.Context) error {
	h.mu.Lock()
	switch h.phase {
	case StateDiscovered, StateDeclared:
	case StateActive:
		h.mu.Unlock()
		return fmt.Errorf("plugin %s: %w", h.manifest.Name, ErrAlreadyActive)
	default:
		h.mu.Unlock()
		return fmt.Errorf("plugin %s is %s", h.manifest.Name, h.phase)
	}
	h.mu.Unlock()

	if err := h.activate(ctx); err != nil {
		h.fail(err)
		return err
	}
	return nil
}

func (h *Host) activate(ctx context.Context) error {
	state := newLuaState()
	h.installAPI(state)

	if err := state.doFile(h.manifest.MainPath()); err != nil {
		state.close()
		return fmt.Errorf("plugin %s: %w", h.manifest.Name, err)
	}

	descriptors, err := callActivate(state)
	if err != nil {
		state.close()
		return fmt.Errorf("plugin %s: %w", h.manifest.Name, err)
	}

	var registered []*luaStrategy
	for _, desc := range descriptors {
		strat, err := newLuaStrategy(h.manifest.Name, state, desc, h.logger)
		if err != nil {
			h.logger.Warn("skipping malformed strategy descriptor",
				"plugin", h.manifest.Name, "error", err)
			continue
		}
		if err := h.service.RegisterStrategy(strat); err != nil {
			h.logger.Warn("strategy registration rejected",
				"plugin", h.manifest.Name, "strategy", strat.ID(), "error", err)
			strat.Dispose()
			continue
		}
		registered = append(registered, strat)
	}

	h.mu.Lock()
	h.state = state
	h.strategies = registered
	h.phase = StateActive
	h.err = nil
	h.mu.Unlock()

	h.cancelUndelivered(registered)
	h.logger.Info("plugin activated",
		"plugin", h.manifest.Name, "strategies", len(registered))
	return nil
}

// fail records the error and cancels every declared expectation.
// Registration already satisfied an id's expectation, so cancelling all
// of them is safe.
func (h *Host) fail(err error) {
	h.mu.Lock()
	h.phase = StateFailed
	h.err = err
	h.mu.Unlock()

	for _, id := range h.manifest.Strategies {
		h.service.CancelExpectation(id)
	}
}

// cancelUndelivered drops declared ids the activate function never
// turned into a registration.
func (h *Host) cancelUndelivered(registered []*luaStrategy) {
	for _, id := range h.manifest.Strategies {
		delivered := false
		for _, s := range registered {
			if s.ID() == id {
				delivered = true
				break
			}
		}
		if !delivered {
			h.logger.Warn("declared strategy never registered",
				"plugin", h.manifest.Name, "strategy", id)
			h.service.CancelExpectation(id)
		}
	}
}

// Deactivate unregisters the plugin's strategies, runs its optional
// deactivate function, and closes the Lua state. Calls outside the
// active state are no-ops.
func (h *Host) Deactivate() error {
	h.mu.Lock()
	if h.phase != StateActive {
		h.mu.Unlock()
		return nil
	}
	h.phase = StateDeactivated
	state := h.state
	strategies := h.strategies
	h.state = nil
	h.strategies = nil
	h.mu.Unlock()

	var errs []error
	for _, strat := range strategies {
		if err := h.service.UnregisterStrategy(strat.ID()); err != nil {
			errs = append(errs, err)
		}
	}

	if fn := state.global("deactivate"); fn.Type() == lua.LTFunction {
		if _, err := state.call(fn); err != nil {
			h.logger.Warn("plugin deactivate failed",
				"plugin", h.manifest.Name, "error", err)
		}
	}
	state.close()

	h.logger.Info("plugin deactivated", "plugin", h.manifest.Name)
	return errors.Join(errs...)
}

// installAPI injects the clangmux table the entry point can call.
func (h *Host) installAPI(state *luaState) {
	_ = state.with(func(L *lua.LState) {
		api := L.NewTable()
		L.SetField(api, "log", L.NewFunction(h.luaLog))
		L.SetField(api, "notify_projects_changed", L.NewFunction(h.luaNotify))
		L.SetGlobal("clangmux", api)
	})
}

func (h *Host) luaLog(L *lua.LState) int {
	msg := lua.LVAsString(L.Get(1))
	h.logger.Debug("plugin log", "plugin", h.manifest.Name, "message", msg)
	return 0
}

// luaNotify schedules a membership refresh for one of the plugin's
// strategies. The refresh runs on its own goroutine because the
// notifying Lua call still holds the state lock.
func (h *Host) luaNotify(L *lua.LState) int {
	id := lua.LVAsString(L.Get(1))

	h.mu.Lock()
	var target *luaStrategy
	for _, s := range h.strategies {
		if s.ID() == id {
			target = s
			break
		}
	}
	h.mu.Unlock()

	if target != nil {
		go target.refresh()
	}
	return 0
}

// callActivate locates and runs the entry point's activate function.
func callActivate(state *luaState) ([]*lua.LTable, error) {
	fn := state.global("activate")
	if fn.Type() != lua.LTFunction {
		return nil, ErrNoActivate
	}

	ret, err := state.call(fn)
	if err != nil {
		return nil, fmt.Errorf("activate: %w", err)
	}
	return descriptorTables(ret), nil
}

// descriptorTables accepts one descriptor table or an array of them,
// mirroring the loose typing of the manifest declarations.
func descriptorTables(ret lua.LValue) []*lua.LTable {
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil
	}

	if tbl.RawGetString("id") != lua.LNil {
		return []*lua.LTable{tbl}
	}

	var out []*lua.LTable
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		if item, ok := tbl.RawGetInt(i).(*lua.LTable); ok {
			out = append(out, item)
		}
	}
	return out
}
