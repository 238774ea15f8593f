package project

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dshills/clangmux/internal/config"
	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
)

// stubStrategy is a registry-driven Strategy with a fixed project list.
type stubStrategy struct {
	id      string
	emitter *event.Emitter[Change]

	mu       sync.Mutex
	list     []Project
	inits    int
	initErr  error
	disposed bool
}

func newStubStrategy(id string, projects ...Project) *stubStrategy {
	list := make([]Project, len(projects))
	copy(list, projects)
	sortByDepth(list)
	return &stubStrategy{id: id, list: list, emitter: event.NewEmitter[Change]()}
}

func (s *stubStrategy) ID() string { return s.id }

func (s *stubStrategy) Initialize(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initErr != nil {
		return s.initErr
	}
	s.inits++
	return nil
}

func (s *stubStrategy) Projects() []Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Project, len(s.list))
	copy(out, s.list)
	return out
}

func (s *stubStrategy) Resolve(uri string) *Project {
	s.mu.Lock()
	defer s.mu.Unlock()
	return resolveIn(s.list, uri)
}

func (s *stubStrategy) OnChange(fn func(Change)) *event.Subscription {
	return s.emitter.Subscribe(fn)
}

func (s *stubStrategy) Dispose() {
	s.mu.Lock()
	already := s.disposed
	s.disposed = true
	s.mu.Unlock()

	if !already {
		s.emitter.Close()
	}
}

func (s *stubStrategy) initCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inits
}

func (s *stubStrategy) isDisposed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disposed
}

type nopSink struct{}

func (nopSink) Write(p []byte) (int, error) { return len(p), nil }
func (nopSink) Close() error                { return nil }

// recordingUI captures user-facing messages for assertions.
type recordingUI struct {
	mu    sync.Mutex
	infos []string
	warns []string
	errs  []string
}

func (u *recordingUI) Info(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.infos = append(u.infos, msg)
}

func (u *recordingUI) Warn(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.warns = append(u.warns, msg)
}

func (u *recordingUI) Error(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.errs = append(u.errs, msg)
}

func (u *recordingUI) SetStatus(string) {}

func (u *recordingUI) OutputSink(string) io.WriteCloser { return nopSink{} }

func containsSubstring(list []string, substr string) bool {
	for _, s := range list {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

func testProj(name string) Project {
	return New("file:///work/"+name, "/work/"+name, name)
}

type serviceFixture struct {
	store    *config.Store
	ui       *recordingUI
	service  *Service
	restarts *atomic.Int32
}

func newServiceFixture(t *testing.T, mutate func(*config.Settings)) *serviceFixture {
	t.Helper()

	settings := config.Default()
	settings.MultiProject.Enabled = true
	if mutate != nil {
		mutate(&settings)
	}

	store := config.NewStore(config.WithLogger(discardLogger()))
	store.Set(settings)

	ui := &recordingUI{}
	commands := host.NewCommandRegistry()

	restarts := &atomic.Int32{}
	if err := commands.Register(host.CommandRestart, func(context.Context, ...any) (any, error) {
		restarts.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatalf("register restart handler: %v", err)
	}

	svc := NewService(store, ui, commands, WithServiceLogger(discardLogger()))
	if err := svc.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	t.Cleanup(svc.Dispose)

	return &serviceFixture{store: store, ui: ui, service: svc, restarts: restarts}
}

func TestService_ResolveDisabled(t *testing.T) {
	fx := newServiceFixture(t, func(s *config.Settings) { s.MultiProject.Enabled = false })
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	proj, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", true)
	if err != nil || proj != nil {
		t.Errorf("Expected (nil, nil) while disabled, got (%v, %v)", proj, err)
	}
	if stub.initCount() != 0 {
		t.Errorf("Expected no activation while disabled, got %d inits", stub.initCount())
	}
	if fx.service.Current() != nil {
		t.Error("Expected no current project while disabled")
	}
}

func TestService_ResolveActivatesConfiguredStrategy(t *testing.T) {
	fx := newServiceFixture(t, nil)
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	proj, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if proj == nil || proj.Name != "app" {
		t.Fatalf("Expected project app, got %+v", proj)
	}
	if got := fx.service.ActiveStrategyID(); got != config.DefaultStrategy {
		t.Errorf("Expected active strategy %q, got %q", config.DefaultStrategy, got)
	}
	if len(fx.service.Projects()) != 1 {
		t.Errorf("Expected the strategy's list, got %v", fx.service.Projects())
	}

	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/other.cpp", false); err != nil {
		t.Fatalf("Second resolve failed: %v", err)
	}
	if stub.initCount() != 1 {
		t.Errorf("Expected a single activation, got %d inits", stub.initCount())
	}
}

func TestService_RegisterStrategy_Validation(t *testing.T) {
	fx := newServiceFixture(t, nil)

	if err := fx.service.RegisterStrategy(nil); !errors.Is(err, ErrInvalidStrategy) {
		t.Errorf("Expected ErrInvalidStrategy for nil, got %v", err)
	}

	first := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(first); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	second := newStubStrategy(config.DefaultStrategy, testProj("impostor"))
	if err := fx.service.RegisterStrategy(second); !errors.Is(err, ErrStrategyExists) {
		t.Errorf("Expected ErrStrategyExists, got %v", err)
	}

	// The original registration is untouched.
	proj, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false)
	if err != nil || proj == nil || proj.Name != "app" {
		t.Errorf("Expected the first strategy to keep serving, got (%+v, %v)", proj, err)
	}
}

func TestService_UnknownStrategyFallsBack(t *testing.T) {
	fx := newServiceFixture(t, func(s *config.Settings) { s.MultiProject.Strategy = "made-up" })
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	proj, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if proj == nil || proj.Name != "app" {
		t.Errorf("Expected resolution through the fallback, got %+v", proj)
	}

	fx.ui.mu.Lock()
	warns, infos := fx.ui.warns, fx.ui.infos
	fx.ui.mu.Unlock()
	if !containsSubstring(warns, `Unknown project strategy "made-up"`) {
		t.Errorf("Expected an unknown-strategy warning, got %v", warns)
	}
	if !containsSubstring(infos, "Falling back") {
		t.Errorf("Expected a fallback notice, got %v", infos)
	}
}

func TestService_ResolveWithoutAnyStrategy(t *testing.T) {
	fx := newServiceFixture(t, nil)

	_, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false)
	if !errors.Is(err, ErrNoStrategy) {
		t.Errorf("Expected ErrNoStrategy, got %v", err)
	}
}

func TestService_CurrentTracking(t *testing.T) {
	fx := newServiceFixture(t, nil)
	a, b := testProj("app"), testProj("lib")
	stub := newStubStrategy(config.DefaultStrategy, a, b)
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	var transitions []CurrentChange
	sub := fx.service.OnCurrentChanged(func(c CurrentChange) { transitions = append(transitions, c) })
	defer sub.Cancel()

	resolve := func(uri string) {
		t.Helper()
		if _, err := fx.service.Resolve(context.Background(), uri, true); err != nil {
			t.Fatalf("Resolve(%s) failed: %v", uri, err)
		}
	}

	resolve("file:///work/app/main.cpp")
	if cur := fx.service.Current(); cur == nil || cur.ID != a.ID {
		t.Fatalf("Expected current app, got %+v", cur)
	}
	if len(transitions) != 1 || transitions[0].Old != nil || transitions[0].New.ID != a.ID {
		t.Fatalf("Expected one transition to app, got %+v", transitions)
	}

	resolve("file:///work/app/other.cpp")
	if len(transitions) != 1 {
		t.Errorf("Expected no transition for the same project, got %+v", transitions)
	}

	resolve("file:///work/lib/lib.cpp")
	if len(transitions) != 2 || transitions[1].Old.ID != a.ID || transitions[1].New.ID != b.ID {
		t.Fatalf("Expected a transition to lib, got %+v", transitions)
	}

	resolve("file:///elsewhere/loose.cpp")
	if cur := fx.service.Current(); cur != nil {
		t.Errorf("Expected no current after an unmatched focus, got %+v", cur)
	}
	if len(transitions) != 3 || transitions[2].New != nil {
		t.Errorf("Expected a transition to none, got %+v", transitions)
	}
}

func TestService_RemovedCurrentIsCleared(t *testing.T) {
	fx := newServiceFixture(t, nil)
	a := testProj("app")
	stub := newStubStrategy(config.DefaultStrategy, a)
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", true); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var transitions []CurrentChange
	subC := fx.service.OnCurrentChanged(func(c CurrentChange) { transitions = append(transitions, c) })
	defer subC.Cancel()

	var forwarded int
	var currentDuringForward *Project
	subP := fx.service.OnProjectsChanged(func(Change) {
		forwarded++
		currentDuringForward = fx.service.Current()
	})
	defer subP.Cancel()

	stub.emitter.Emit(Change{Removed: []Project{a}})

	if cur := fx.service.Current(); cur != nil {
		t.Errorf("Expected the removed current to be cleared, got %+v", cur)
	}
	if len(transitions) != 1 || transitions[0].New != nil {
		t.Errorf("Expected a transition to none, got %+v", transitions)
	}
	if forwarded != 1 {
		t.Fatalf("Expected the change to be forwarded once, got %d", forwarded)
	}
	if currentDuringForward != nil {
		t.Errorf("Expected consumers to see the cleared current, got %+v", currentDuringForward)
	}
}

func TestService_UpdatedCurrentRefreshesSilently(t *testing.T) {
	fx := newServiceFixture(t, nil)
	a := testProj("app")
	stub := newStubStrategy(config.DefaultStrategy, a)
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", true); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	var transitions int
	sub := fx.service.OnCurrentChanged(func(CurrentChange) { transitions++ })
	defer sub.Cancel()

	renamed := a
	renamed.Name = "app-renamed"
	stub.emitter.Emit(Change{Updated: []Project{renamed}})

	cur := fx.service.Current()
	if cur == nil || cur.Name != "app-renamed" {
		t.Errorf("Expected the current copy to refresh, got %+v", cur)
	}
	if transitions != 0 {
		t.Errorf("Expected no transition for a metadata refresh, got %d", transitions)
	}
}

func TestService_UnregisterActiveResetsConfiguration(t *testing.T) {
	fx := newServiceFixture(t, func(s *config.Settings) { s.MultiProject.Strategy = "custom" })
	stub := newStubStrategy("custom", testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", true); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if err := fx.service.UnregisterStrategy("custom"); err != nil {
		t.Fatalf("UnregisterStrategy failed: %v", err)
	}

	if !stub.isDisposed() {
		t.Error("Expected the unregistered strategy to be disposed")
	}
	if got := fx.service.ActiveStrategyID(); got != "" {
		t.Errorf("Expected no active strategy, got %q", got)
	}
	if got := fx.store.Snapshot().MultiProject.Strategy; got != config.DefaultStrategy {
		t.Errorf("Expected the configured strategy to reset, got %q", got)
	}
	if fx.restarts.Load() != 1 {
		t.Errorf("Expected one session restart, got %d", fx.restarts.Load())
	}
	if fx.service.Current() != nil {
		t.Error("Expected the current project to clear on reconfiguration")
	}

	if err := fx.service.UnregisterStrategy("custom"); !errors.Is(err, ErrStrategyNotFound) {
		t.Errorf("Expected ErrStrategyNotFound, got %v", err)
	}
}

func TestService_ConfigChangeRestartsAndReactivates(t *testing.T) {
	fx := newServiceFixture(t, nil)
	def := newStubStrategy(config.DefaultStrategy, testProj("app"))
	alt := newStubStrategy("alternate", testProj("lib"))
	if err := fx.service.RegisterStrategy(def); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if err := fx.service.RegisterStrategy(alt); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", true); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	snap := fx.store.Snapshot()
	snap.MultiProject.Strategy = "alternate"
	fx.store.Set(snap)

	if fx.restarts.Load() != 1 {
		t.Errorf("Expected a restart on strategy change, got %d", fx.restarts.Load())
	}
	if got := fx.service.ActiveStrategyID(); got != "" {
		t.Errorf("Expected the active strategy dropped, got %q", got)
	}
	if fx.service.Current() != nil {
		t.Error("Expected the current project cleared")
	}

	proj, err := fx.service.Resolve(context.Background(), "file:///work/lib/lib.cpp", false)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if proj == nil || proj.Name != "lib" {
		t.Errorf("Expected resolution through the new strategy, got %+v", proj)
	}
	if alt.initCount() != 1 {
		t.Errorf("Expected the new strategy activated, got %d inits", alt.initCount())
	}

	// Switching back re-runs discovery on the stale strategy.
	snap = fx.store.Snapshot()
	snap.MultiProject.Strategy = config.DefaultStrategy
	fx.store.Set(snap)
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if def.initCount() != 2 {
		t.Errorf("Expected re-initialization on re-activation, got %d inits", def.initCount())
	}
}

func TestService_UnrelatedConfigChangeKeepsActive(t *testing.T) {
	fx := newServiceFixture(t, nil)
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	snap := fx.store.Snapshot()
	snap.Client.Command = "clangd-18"
	fx.store.Set(snap)

	if fx.restarts.Load() != 0 {
		t.Errorf("Expected no restart for a client-only change, got %d", fx.restarts.Load())
	}
	if got := fx.service.ActiveStrategyID(); got != config.DefaultStrategy {
		t.Errorf("Expected the active strategy kept, got %q", got)
	}
}

func TestService_ExpectStrategiesGatesResolve(t *testing.T) {
	fx := newServiceFixture(t, func(s *config.Settings) { s.MultiProject.Strategy = "plugin-x" })

	fx.service.ExpectStrategies("plugin-x")
	if pending := fx.service.PendingStrategies(); len(pending) != 1 || pending[0] != "plugin-x" {
		t.Fatalf("Expected plugin-x pending, got %v", pending)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := fx.service.Resolve(ctx, "file:///work/app/main.cpp", false); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected resolution to block on the declared strategy, got %v", err)
	}

	stub := newStubStrategy("plugin-x", testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	proj, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false)
	if err != nil || proj == nil {
		t.Fatalf("Expected resolution after registration, got (%+v, %v)", proj, err)
	}
	if len(fx.service.PendingStrategies()) != 0 {
		t.Errorf("Expected no pending strategies, got %v", fx.service.PendingStrategies())
	}
}

func TestService_CancelExpectationUnblocks(t *testing.T) {
	fx := newServiceFixture(t, nil)
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}

	fx.service.ExpectStrategies("ghost")
	fx.service.CancelExpectation("ghost")

	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false); err != nil {
		t.Errorf("Expected resolution after cancellation, got %v", err)
	}
}

func TestService_Dispose(t *testing.T) {
	fx := newServiceFixture(t, nil)
	stub := newStubStrategy(config.DefaultStrategy, testProj("app"))
	if err := fx.service.RegisterStrategy(stub); err != nil {
		t.Fatalf("RegisterStrategy failed: %v", err)
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	fx.service.Dispose()
	fx.service.Dispose()

	if got := fx.service.State(); got != ServiceDisposed {
		t.Errorf("Expected disposed state, got %v", got)
	}
	if !stub.isDisposed() {
		t.Error("Expected registered strategies to be disposed")
	}
	if _, err := fx.service.Resolve(context.Background(), "file:///work/app/main.cpp", false); !errors.Is(err, ErrServiceDisposed) {
		t.Errorf("Expected ErrServiceDisposed from Resolve, got %v", err)
	}
	if err := fx.service.RegisterStrategy(newStubStrategy("late")); !errors.Is(err, ErrServiceDisposed) {
		t.Errorf("Expected ErrServiceDisposed from RegisterStrategy, got %v", err)
	}
}
