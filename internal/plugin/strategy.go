package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/clangmux/internal/event"
	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/project"
)

// luaStrategy adapts one strategy descriptor table into a
// project.Strategy. The descriptor's functions run inside the plugin's
// shared Lua state.
type luaStrategy struct {
	id     string
	plugin string
	state  *luaState
	logger *slog.Logger

	projectsFn   lua.LValue
	resolveFn    lua.LValue // lua.LNil when the descriptor omits resolve
	initializeFn lua.LValue // lua.LNil when the descriptor omits initialize

	mu   sync.Mutex
	last []project.Project

	changes  *event.Emitter[project.Change]
	disposed atomic.Bool
}

// newLuaStrategy validates the descriptor shape: an id string and a
// projects function are mandatory, resolve and initialize are optional.
func newLuaStrategy(pluginName string, state *luaState, desc *lua.LTable, logger *slog.Logger) (*luaStrategy, error) {
	id := lua.LVAsString(desc.RawGetString("id"))
	if id == "" {
		return nil, fmt.Errorf("descriptor has no id")
	}

	projectsFn := desc.RawGetString("projects")
	if projectsFn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("descriptor %q has no projects function", id)
	}

	s := &luaStrategy{
		id:           id,
		plugin:       pluginName,
		state:        state,
		logger:       logger,
		projectsFn:   projectsFn,
		resolveFn:    desc.RawGetString("resolve"),
		initializeFn: desc.RawGetString("initialize"),
		changes:      event.NewEmitter[project.Change](),
	}
	if s.resolveFn.Type() != lua.LTFunction {
		s.resolveFn = lua.LNil
	}
	if s.initializeFn.Type() != lua.LTFunction {
		s.initializeFn = lua.LNil
	}
	return s, nil
}

// ID returns the strategy id.
func (s *luaStrategy) ID() string {
	return s.id
}

// Initialize runs the descriptor's optional initialize function and
// primes the project cache with a first discovery pass.
func (s *luaStrategy) Initialize(ctx context.Context) error {
	if s.disposed.Load() {
		return project.ErrStrategyDisposed
	}

	if s.initializeFn != lua.LNil {
		if _, err := s.state.call(s.initializeFn); err != nil {
			return fmt.Errorf("strategy %s: initialize: %w", s.id, err)
		}
	}

	if _, err := s.snapshot(); err != nil {
		return fmt.Errorf("strategy %s: %w", s.id, err)
	}
	return nil
}

// Projects queries the plugin's live project list. A query failure keeps
// serving the last good list.
func (s *luaStrategy) Projects() []project.Project {
	if s.disposed.Load() {
		return s.cached()
	}

	list, err := s.snapshot()
	if err != nil {
		s.logger.Warn("plugin project query failed",
			"plugin", s.plugin, "strategy", s.id, "error", err)
		return s.cached()
	}
	return list
}

// Resolve maps a location through the descriptor's resolve function, or
// falls back to root-prefix matching against the cached list.
func (s *luaStrategy) Resolve(uri string) *project.Project {
	if s.disposed.Load() {
		return nil
	}

	if s.resolveFn != lua.LNil {
		ret, err := s.state.call(s.resolveFn, lua.LString(uri))
		if err != nil {
			s.logger.Warn("plugin resolve failed",
				"plugin", s.plugin, "strategy", s.id, "error", err)
			return nil
		}
		if p, ok := projectFromLua(ret); ok {
			return &p
		}
		return nil
	}

	return ownerOf(s.cached(), uri)
}

// OnChange subscribes to membership changes.
func (s *luaStrategy) OnChange(fn func(project.Change)) *event.Subscription {
	return s.changes.Subscribe(fn)
}

// Dispose silences the strategy. The Lua state belongs to the plugin
// host and outlives the strategy.
func (s *luaStrategy) Dispose() {
	if !s.disposed.CompareAndSwap(false, true) {
		return
	}
	s.changes.Close()
}

// refresh re-queries the list and emits the membership diff. Runs on its
// own goroutine: the notifying Lua call still holds the state lock.
func (s *luaStrategy) refresh() {
	if s.disposed.Load() {
		return
	}

	old := s.cached()
	list, err := s.snapshot()
	if err != nil {
		s.logger.Warn("plugin project refresh failed",
			"plugin", s.plugin, "strategy", s.id, "error", err)
		return
	}

	change := diffProjects(old, list)
	if change.Empty() {
		return
	}
	s.changes.Emit(change)
}

// snapshot calls the plugin's projects function and refreshes the cache.
func (s *luaStrategy) snapshot() ([]project.Project, error) {
	ret, err := s.state.call(s.projectsFn)
	if err != nil {
		return nil, fmt.Errorf("projects: %w", err)
	}
	list := projectListFromLua(ret)

	s.mu.Lock()
	s.last = list
	s.mu.Unlock()

	out := make([]project.Project, len(list))
	copy(out, list)
	return out, nil
}

func (s *luaStrategy) cached() []project.Project {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]project.Project, len(s.last))
	copy(out, s.last)
	return out
}

// projectListFromLua converts a Lua array of project values, dropping
// malformed entries.
func projectListFromLua(ret lua.LValue) []project.Project {
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil
	}

	var out []project.Project
	seen := make(map[string]struct{})
	n := tbl.Len()
	for i := 1; i <= n; i++ {
		p, ok := projectFromLua(tbl.RawGetInt(i))
		if !ok {
			continue
		}
		if _, dup := seen[p.ID]; dup {
			continue
		}
		seen[p.ID] = struct{}{}
		out = append(out, p)
	}
	return out
}

// projectFromLua accepts a bare root path string or a table with root
// and optional name fields.
func projectFromLua(lv lua.LValue) (project.Project, bool) {
	switch v := lv.(type) {
	case lua.LString:
		root := string(v)
		if root == "" {
			return project.Project{}, false
		}
		return project.New(host.PathToURI(root), root, filepath.Base(root)), true

	case *lua.LTable:
		root := lua.LVAsString(v.RawGetString("root"))
		if root == "" {
			return project.Project{}, false
		}
		name := lua.LVAsString(v.RawGetString("name"))
		if name == "" {
			name = filepath.Base(root)
		}
		return project.New(host.PathToURI(root), root, name), true
	}
	return project.Project{}, false
}

// ownerOf returns the shallowest project whose root is a prefix of uri.
func ownerOf(list []project.Project, uri string) *project.Project {
	norm := project.NormalizeURI(uri)
	var best *project.Project
	for i := range list {
		if !strings.HasPrefix(norm, list[i].ID) {
			continue
		}
		if best == nil || len(list[i].ID) < len(best.ID) {
			best = &list[i]
		}
	}
	if best == nil {
		return nil
	}
	p := *best
	return &p
}

// diffProjects computes the added and removed sets between two lists.
func diffProjects(old, updated []project.Project) project.Change {
	var change project.Change
	for i := range updated {
		if !containsProjectID(old, updated[i].ID) {
			change.Added = append(change.Added, updated[i])
		}
	}
	for i := range old {
		if !containsProjectID(updated, old[i].ID) {
			change.Removed = append(change.Removed, old[i])
		}
	}
	return change
}

func containsProjectID(list []project.Project, id string) bool {
	for i := range list {
		if list[i].ID == id {
			return true
		}
	}
	return false
}

// Ensure luaStrategy implements project.Strategy.
var _ project.Strategy = (*luaStrategy)(nil)
