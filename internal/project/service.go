package project

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/dshills/clangmux/internal/config"
	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
)

// ServiceState represents the lifecycle state of the service.
type ServiceState int32

const (
	// ServiceUninitialized means Initialize has not been called.
	ServiceUninitialized ServiceState = iota

	// ServiceInitializing means Initialize is in progress.
	ServiceInitializing

	// ServiceReady means the service is accepting resolutions.
	ServiceReady

	// ServiceDisposed means the service has been torn down.
	ServiceDisposed
)

// String returns a human-readable state name.
func (s ServiceState) String() string {
	switch s {
	case ServiceUninitialized:
		return "uninitialized"
	case ServiceInitializing:
		return "initializing"
	case ServiceReady:
		return "ready"
	case ServiceDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// Service owns the strategy registry, the single active strategy, the
// current project, and the readiness gate. It is constructed once by the
// composition root and passed to every consumer.
type Service struct {
	store    *config.Store
	ui       host.UI
	commands host.Commands
	logger   *slog.Logger

	mu         sync.RWMutex
	strategies map[string]Strategy
	active     Strategy
	activeSub  *event.Subscription
	current    *Project

	gate *readinessGate

	projectEvents *event.Emitter[Change]
	currentEvents *event.Emitter[CurrentChange]

	configSub *event.Subscription
	state     atomic.Int32
	disposed  atomic.Bool
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceLogger sets the service's logger.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a service reading settings from store, reporting to
// ui, and triggering session restarts through commands.
func NewService(store *config.Store, ui host.UI, commands host.Commands, opts ...ServiceOption) *Service {
	s := &Service{
		store:         store,
		ui:            ui,
		commands:      commands,
		logger:        slog.Default(),
		strategies:    make(map[string]Strategy),
		gate:          newReadinessGate(),
		projectEvents: event.NewEmitter[Change](),
		currentEvents: event.NewEmitter[CurrentChange](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Initialize subscribes to configuration changes and marks the service
// ready. Strategy activation itself is lazy: the first Resolve selects and
// initializes the configured strategy.
func (s *Service) Initialize(ctx context.Context) error {
	if s.disposed.Load() {
		return ErrServiceDisposed
	}

	s.state.Store(int32(ServiceInitializing))

	s.mu.Lock()
	if s.configSub == nil {
		s.configSub = s.store.OnChange(s.handleConfigChange)
	}
	s.mu.Unlock()

	s.state.Store(int32(ServiceReady))
	s.logger.Debug("project service ready",
		"enabled", s.store.Snapshot().MultiProject.Enabled)
	return nil
}

// State returns the lifecycle state.
func (s *Service) State() ServiceState {
	return ServiceState(s.state.Load())
}

// RegisterStrategy stores a strategy under its id. Registering a duplicate
// id fails without side effects; the failure is reported, never thrown.
func (s *Service) RegisterStrategy(strategy Strategy) error {
	if s.disposed.Load() {
		return ErrServiceDisposed
	}
	if strategy == nil || strategy.ID() == "" {
		return ErrInvalidStrategy
	}

	id := strategy.ID()

	s.mu.Lock()
	if _, exists := s.strategies[id]; exists {
		s.mu.Unlock()
		s.logger.Warn("duplicate strategy registration", "id", id)
		return fmt.Errorf("%w: %s", ErrStrategyExists, id)
	}
	s.strategies[id] = strategy
	s.mu.Unlock()

	s.gate.Satisfy(id)
	s.logger.Debug("strategy registered", "id", id)
	return nil
}

// UnregisterStrategy disposes and removes a strategy. If it was active,
// the configured selection resets to the default, which triggers
// re-activation through the configuration change path.
func (s *Service) UnregisterStrategy(id string) error {
	if s.disposed.Load() {
		return ErrServiceDisposed
	}

	s.mu.Lock()
	strategy, exists := s.strategies[id]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	delete(s.strategies, id)

	wasActive := s.active == strategy
	if wasActive {
		if s.activeSub != nil {
			s.activeSub.Cancel()
			s.activeSub = nil
		}
		s.active = nil
	}
	s.mu.Unlock()

	strategy.Dispose()
	s.logger.Debug("strategy unregistered", "id", id, "was_active", wasActive)

	if wasActive {
		snap := s.store.Snapshot()
		if snap.MultiProject.Strategy != config.DefaultStrategy {
			snap.MultiProject.Strategy = config.DefaultStrategy
			s.store.Set(snap)
		}
	}
	return nil
}

// ExpectStrategies declares externally-provided strategy ids. Resolve
// blocks until every declared id registers or is cancelled.
func (s *Service) ExpectStrategies(ids ...string) {
	s.gate.Expect(ids...)
	s.logger.Debug("strategies declared", "ids", ids)
}

// CancelExpectation drops a declared id whose provider failed to activate,
// so the readiness gate cannot deadlock on it.
func (s *Service) CancelExpectation(id string) {
	s.gate.Cancel(id)
	s.logger.Debug("strategy expectation cancelled", "id", id)
}

// PendingStrategies returns declared ids that have not registered yet.
func (s *Service) PendingStrategies() []string {
	return s.gate.Pending()
}

// Resolve maps a location to its owning project.
//
// With multi-project support disabled it returns nil immediately.
// Otherwise it awaits the readiness gate, ensures an active strategy
// exists, and delegates to it. With updateCurrent set, a result that
// differs from the recorded current project updates it and emits a
// CurrentChange.
func (s *Service) Resolve(ctx context.Context, uri string, updateCurrent bool) (*Project, error) {
	if s.disposed.Load() {
		return nil, ErrServiceDisposed
	}

	snap := s.store.Snapshot()
	if !snap.MultiProject.Enabled {
		return nil, nil
	}

	if err := s.gate.Await(ctx); err != nil {
		return nil, err
	}

	strategy, err := s.ensureActive(ctx, snap.MultiProject.Strategy)
	if err != nil {
		return nil, err
	}

	proj := strategy.Resolve(uri)
	if updateCurrent {
		s.setCurrent(proj)
	}
	return proj, nil
}

// Projects returns the active strategy's current list, or nil when no
// strategy has been activated.
func (s *Service) Projects() []Project {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()

	if active == nil {
		return nil
	}
	return active.Projects()
}

// Current returns the project of the most recently focused document.
func (s *Service) Current() *Project {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return nil
	}
	p := *s.current
	return &p
}

// ActiveStrategyID returns the id of the active strategy, or empty.
func (s *Service) ActiveStrategyID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return ""
	}
	return s.active.ID()
}

// OnProjectsChanged subscribes to the active strategy's membership
// changes, forwarded verbatim across strategy switches.
func (s *Service) OnProjectsChanged(fn func(Change)) *event.Subscription {
	return s.projectEvents.Subscribe(fn)
}

// OnCurrentChanged subscribes to current-project transitions.
func (s *Service) OnCurrentChanged(fn func(CurrentChange)) *event.Subscription {
	return s.currentEvents.Subscribe(fn)
}

// Dispose tears down the service: every registered strategy is disposed
// and all subscriptions are cancelled. Idempotent.
func (s *Service) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}

	s.mu.Lock()
	configSub := s.configSub
	s.configSub = nil
	activeSub := s.activeSub
	s.activeSub = nil
	s.active = nil
	strategies := s.strategies
	s.strategies = make(map[string]Strategy)
	s.mu.Unlock()

	if configSub != nil {
		configSub.Cancel()
	}
	if activeSub != nil {
		activeSub.Cancel()
	}
	for _, strategy := range strategies {
		strategy.Dispose()
	}

	s.projectEvents.Close()
	s.currentEvents.Close()
	s.state.Store(int32(ServiceDisposed))
}

// ensureActive returns the active strategy, selecting and initializing one
// from the configured id when none is set. An unknown configured id warns
// the user and falls back to the default strategy with a second notice.
func (s *Service) ensureActive(ctx context.Context, configuredID string) (Strategy, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active != nil {
		return active, nil
	}

	s.mu.RLock()
	strategy, known := s.strategies[configuredID]
	if !known {
		strategy = s.strategies[config.DefaultStrategy]
	}
	s.mu.RUnlock()

	if !known {
		s.ui.Warn(fmt.Sprintf("Unknown project strategy %q", configuredID))
		if strategy == nil {
			return nil, fmt.Errorf("%w: configured %q and default %q are both unregistered",
				ErrNoStrategy, configuredID, config.DefaultStrategy)
		}
		s.ui.Info(fmt.Sprintf("Falling back to the %q strategy", config.DefaultStrategy))
	}
	if strategy == nil {
		return nil, fmt.Errorf("%w: %q is not registered", ErrNoStrategy, configuredID)
	}

	// A strategy that sat inactive has a stale view, so discovery runs on
	// every activation.
	if err := strategy.Initialize(ctx); err != nil {
		return nil, &StrategyError{ID: strategy.ID(), Err: err}
	}

	s.mu.Lock()
	if s.active != nil {
		// Another resolution activated concurrently; use its winner.
		winner := s.active
		s.mu.Unlock()
		return winner, nil
	}
	s.active = strategy
	s.activeSub = strategy.OnChange(func(c Change) {
		s.forwardChange(strategy, c)
	})
	s.mu.Unlock()

	s.logger.Info("strategy activated", "id", strategy.ID())
	return strategy, nil
}

// forwardChange re-emits a strategy change while that strategy is still
// active. Switching strategies cancels the subscription, but a delivery
// already in flight must not leak through.
func (s *Service) forwardChange(from Strategy, c Change) {
	s.mu.RLock()
	stillActive := s.active == from
	s.mu.RUnlock()

	if stillActive {
		s.reconcileCurrent(c)
		s.projectEvents.Emit(c)
	}
}

// reconcileCurrent keeps the current project consistent with a
// membership change: a removed current project leaves no current, and
// an updated one refreshes the recorded copy. Runs before the change is
// forwarded so consumers never observe a current project that the list
// no longer contains.
func (s *Service) reconcileCurrent(c Change) {
	s.mu.RLock()
	cur := s.current
	s.mu.RUnlock()
	if cur == nil {
		return
	}

	for _, rem := range c.Removed {
		if rem.ID == cur.ID {
			s.setCurrent(nil)
			return
		}
	}
	for i := range c.Updated {
		if c.Updated[i].ID != cur.ID {
			continue
		}
		// Same project, new metadata. Refreshing the copy is not a
		// transition, so nothing is emitted.
		s.mu.Lock()
		if s.current != nil && s.current.ID == c.Updated[i].ID {
			p := c.Updated[i]
			s.current = &p
		}
		s.mu.Unlock()
		return
	}
}

// setCurrent records the current project and emits on actual transitions.
func (s *Service) setCurrent(proj *Project) {
	s.mu.Lock()
	if Same(s.current, proj) {
		s.mu.Unlock()
		return
	}
	old := s.current
	if proj == nil {
		s.current = nil
	} else {
		p := *proj
		s.current = &p
	}
	s.mu.Unlock()

	s.currentEvents.Emit(CurrentChange{Old: old, New: proj})
}

// handleConfigChange reacts to settings transitions. Changes to the
// enabled flag or the strategy selection drop the active strategy, clear
// the current project, and force a restart of every client session.
func (s *Service) handleConfigChange(change config.Change) {
	if !change.MultiProjectChanged() {
		return
	}

	s.mu.Lock()
	if s.activeSub != nil {
		s.activeSub.Cancel()
		s.activeSub = nil
	}
	s.active = nil
	s.mu.Unlock()

	s.setCurrent(nil)

	s.logger.Info("multi-project configuration changed, restarting sessions",
		"enabled", change.New.MultiProject.Enabled,
		"strategy", change.New.MultiProject.Strategy)

	if _, err := s.commands.Execute(context.Background(), host.CommandRestart); err != nil {
		s.logger.Debug("restart command not executed", "error", err)
	}
}
