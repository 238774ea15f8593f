package lsp

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dshills/clangmux/internal/host"
)

// SupervisorState represents the state of a supervised session.
type SupervisorState int

const (
	// SupervisorStateIdle means the supervisor has not been started.
	SupervisorStateIdle SupervisorState = iota
	// SupervisorStateRunning means the session is up.
	SupervisorStateRunning
	// SupervisorStateRestarting means the session crashed and a
	// replacement is being started.
	SupervisorStateRestarting
	// SupervisorStateFailed means the restart cap was exceeded. The
	// session stays down until it is rebuilt by a restart command.
	SupervisorStateFailed
	// SupervisorStateStopped means the supervisor was stopped.
	SupervisorStateStopped
)

// String returns a human-readable state name.
func (s SupervisorState) String() string {
	switch s {
	case SupervisorStateIdle:
		return "idle"
	case SupervisorStateRunning:
		return "running"
	case SupervisorStateRestarting:
		return "restarting"
	case SupervisorStateFailed:
		return "failed"
	case SupervisorStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// RestartPolicy bounds automatic crash recovery.
type RestartPolicy struct {
	// MaxRestarts caps restart attempts. Zero disables automatic
	// restarts entirely: the first crash is terminal.
	MaxRestarts int

	// InitialBackoff is the delay before the first restart attempt.
	// Default: 1 second.
	InitialBackoff time.Duration

	// MaxBackoff caps the delay between attempts. Default: 30 seconds.
	MaxBackoff time.Duration

	// Multiplier grows the delay after each attempt. Default: 2.0.
	Multiplier float64

	// ResetWindow resets the attempt count after the session has been
	// up this long. Default: 3 minutes.
	ResetWindow time.Duration
}

// DefaultRestartPolicy returns the policy used when none is configured.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		MaxRestarts:    4,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		ResetWindow:    3 * time.Minute,
	}
}

// normalize fills zero-valued tuning fields. MaxRestarts is left alone
// because zero is meaningful there.
func (p RestartPolicy) normalize() RestartPolicy {
	def := DefaultRestartPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier <= 0 {
		p.Multiplier = def.Multiplier
	}
	if p.ResetWindow <= 0 {
		p.ResetWindow = def.ResetWindow
	}
	return p
}

// SupervisorEventType identifies the type of supervisor event.
type SupervisorEventType int

const (
	// SupervisorEventCrash indicates the session died unexpectedly.
	SupervisorEventCrash SupervisorEventType = iota
	// SupervisorEventRestarting indicates a restart attempt is pending.
	SupervisorEventRestarting
	// SupervisorEventRecovered indicates a replacement session is up.
	SupervisorEventRecovered
	// SupervisorEventFailed indicates the restart cap was exceeded.
	SupervisorEventFailed
)

// String returns a human-readable event type name.
func (t SupervisorEventType) String() string {
	switch t {
	case SupervisorEventCrash:
		return "crash"
	case SupervisorEventRestarting:
		return "restarting"
	case SupervisorEventRecovered:
		return "recovered"
	case SupervisorEventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// SupervisorEvent reports a lifecycle change of a supervised session.
type SupervisorEvent struct {
	Type      SupervisorEventType
	ProjectID string
	Err       error
	Attempt   int
	NextRetry time.Duration
}

// Supervisor runs one session and replaces it after crashes, up to the
// policy's restart cap. Documents attached through the supervisor are
// re-opened on the replacement after a recovery.
//
// The state field uses atomic reads; everything else is guarded by mu
// or docsMu.
type Supervisor struct {
	mu sync.Mutex

	factory Factory
	opts    ClientOptions
	policy  RestartPolicy
	logger  *slog.Logger

	client    Client
	state     atomic.Int32
	restarts  int
	lastStart time.Time

	docs   map[string]host.Document
	docsMu sync.RWMutex

	ctx       context.Context
	cancel    context.CancelFunc
	events    chan SupervisorEvent
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewSupervisor creates a supervisor for one session. The client is not
// built until Start.
func NewSupervisor(factory Factory, opts ClientOptions, policy RestartPolicy) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Supervisor{
		factory: factory,
		opts:    opts,
		policy:  policy.normalize(),
		logger:  logger,
		docs:    make(map[string]host.Document),
		events:  make(chan SupervisorEvent, 16),
	}
	s.state.Store(int32(SupervisorStateIdle))
	return s
}

// Start builds the session and begins supervising it.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorStateIdle {
		return ErrAlreadyStarted
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	if err := s.startClientLocked(); err != nil {
		s.state.Store(int32(SupervisorStateFailed))
		return &ClientError{ProjectID: s.opts.ProjectID, Err: err}
	}
	s.state.Store(int32(SupervisorStateRunning))

	go s.monitor()
	return nil
}

// startClientLocked builds and starts a fresh client.
func (s *Supervisor) startClientLocked() error {
	client, err := s.factory.New(s.opts)
	if err != nil {
		return err
	}
	if err := client.Start(s.ctx); err != nil {
		return err
	}
	s.client = client
	s.lastStart = time.Now()
	return nil
}

// monitor waits for session death and drives recovery.
func (s *Supervisor) monitor() {
	for {
		s.mu.Lock()
		client := s.client
		s.mu.Unlock()

		if client == nil {
			return
		}

		select {
		case <-s.ctx.Done():
			return
		case exitErr := <-client.Exited():
			if !s.recover(exitErr) {
				return
			}
		}
	}
}

// recover retries until a replacement session is up, the cap is hit,
// or the supervisor is stopped. Reports whether supervision continues.
func (s *Supervisor) recover(initialErr error) bool {
	exitErr := initialErr

	for {
		s.mu.Lock()

		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.mu.Unlock()
			return false
		}

		if time.Since(s.lastStart) > s.policy.ResetWindow {
			s.restarts = 0
		}
		s.restarts++

		s.emitLocked(SupervisorEvent{
			Type:      SupervisorEventCrash,
			ProjectID: s.opts.ProjectID,
			Err:       exitErr,
			Attempt:   s.restarts,
		})

		if s.restarts > s.policy.MaxRestarts {
			s.state.Store(int32(SupervisorStateFailed))
			s.emitLocked(SupervisorEvent{
				Type:      SupervisorEventFailed,
				ProjectID: s.opts.ProjectID,
				Err:       exitErr,
				Attempt:   s.restarts,
			})
			s.retireClientLocked()
			s.mu.Unlock()
			return false
		}

		delay := backoffDelay(s.restarts, s.policy)
		s.state.Store(int32(SupervisorStateRestarting))
		s.emitLocked(SupervisorEvent{
			Type:      SupervisorEventRestarting,
			ProjectID: s.opts.ProjectID,
			Attempt:   s.restarts,
			NextRetry: delay,
		})
		s.retireClientLocked()
		s.mu.Unlock()

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}

		s.mu.Lock()
		if SupervisorState(s.state.Load()) == SupervisorStateStopped {
			s.mu.Unlock()
			return false
		}

		if err := s.startClientLocked(); err != nil {
			exitErr = err
			s.mu.Unlock()
			continue
		}

		s.resyncDocumentsLocked()
		s.state.Store(int32(SupervisorStateRunning))
		s.emitLocked(SupervisorEvent{
			Type:      SupervisorEventRecovered,
			ProjectID: s.opts.ProjectID,
			Attempt:   s.restarts,
		})
		s.mu.Unlock()
		return true
	}
}

// retireClientLocked disposes the dead client so its streams are reaped.
func (s *Supervisor) retireClientLocked() {
	if s.client == nil {
		return
	}
	old := s.client
	s.client = nil
	if err := old.Dispose(); err != nil {
		s.logger.Debug("retiring dead client", "project", s.opts.ProjectID, "error", err)
	}
}

// resyncDocumentsLocked re-opens attached documents on the new client.
func (s *Supervisor) resyncDocumentsLocked() {
	if s.client == nil {
		return
	}

	s.docsMu.RLock()
	docs := make([]host.Document, 0, len(s.docs))
	for _, doc := range s.docs {
		docs = append(docs, doc)
	}
	s.docsMu.RUnlock()

	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	for _, doc := range docs {
		if err := s.client.OpenDocument(ctx, doc); err != nil {
			s.logger.Warn("re-opening document after recovery",
				"project", s.opts.ProjectID, "uri", doc.URI, "error", err)
		}
	}
}

// emitLocked delivers an event, dropping it if nobody is draining.
func (s *Supervisor) emitLocked(event SupervisorEvent) {
	if s.closed.Load() {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}

// OpenDocument attaches a document to the session. During a restart
// window the document is only recorded; it is opened on the replacement
// client after recovery.
func (s *Supervisor) OpenDocument(ctx context.Context, doc host.Document) error {
	s.docsMu.Lock()
	s.docs[doc.URI] = doc
	s.docsMu.Unlock()

	switch SupervisorState(s.state.Load()) {
	case SupervisorStateRunning:
	case SupervisorStateRestarting:
		return nil
	case SupervisorStateFailed:
		return ErrClientFailed
	default:
		return ErrNotStarted
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.OpenDocument(ctx, doc)
}

// CloseDocument detaches a document from the session.
func (s *Supervisor) CloseDocument(ctx context.Context, uri string) error {
	s.docsMu.Lock()
	delete(s.docs, uri)
	s.docsMu.Unlock()

	if SupervisorState(s.state.Load()) != SupervisorStateRunning {
		return nil
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.CloseDocument(ctx, uri)
}

// ExecuteCommand runs a workspace command on the session.
func (s *Supervisor) ExecuteCommand(ctx context.Context, command string, args ...any) (result []byte, err error) {
	switch SupervisorState(s.state.Load()) {
	case SupervisorStateRunning:
	case SupervisorStateFailed:
		return nil, ErrClientFailed
	default:
		return nil, ErrNotStarted
	}

	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return nil, ErrNotStarted
	}
	return client.ExecuteCommand(ctx, command, args...)
}

// Stop shuts the session down and ends supervision. Idempotent.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	state := SupervisorState(s.state.Load())
	if state == SupervisorStateStopped || state == SupervisorStateIdle {
		s.mu.Unlock()
		return nil
	}
	s.state.Store(int32(SupervisorStateStopped))
	client := s.client
	s.client = nil
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.events)
	})

	if client != nil {
		return client.Dispose()
	}
	return nil
}

// State returns the current supervisor state.
func (s *Supervisor) State() SupervisorState {
	return SupervisorState(s.state.Load())
}

// Restarts returns the attempt count since the last reset.
func (s *Supervisor) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// DocumentCount returns the number of attached documents.
func (s *Supervisor) DocumentCount() int {
	s.docsMu.RLock()
	defer s.docsMu.RUnlock()
	return len(s.docs)
}

// Events returns the lifecycle event channel. It is closed by Stop.
func (s *Supervisor) Events() <-chan SupervisorEvent {
	return s.events
}

// backoffDelay computes the delay before the given attempt.
func backoffDelay(attempt int, p RestartPolicy) time.Duration {
	if attempt <= 1 {
		return p.InitialBackoff
	}
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		return p.MaxBackoff
	}
	return time.Duration(delay)
}
