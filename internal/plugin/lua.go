package plugin

import (
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// luaState wraps a restricted gopher-lua state.
//
// The underlying LState is not goroutine-safe, so every entry point
// serializes on one mutex. Strategy adapters and the host share the
// state; a plugin's Lua code therefore runs strictly one call at a time.
//
// The state opens only the base, table, string, and math libraries. The
// io, os, debug, and package libraries stay closed, and the chunk-loading
// globals are removed so plugin code cannot pull in anything beyond its
// entry point.
type luaState struct {
	mu     sync.Mutex
	L      *lua.LState
	closed bool
}

func newLuaState() *luaState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)

	for _, name := range []string{"dofile", "loadfile", "load", "loadstring"} {
		L.SetGlobal(name, lua.LNil)
	}

	return &luaState{L: L}
}

// with runs fn against the raw state under the state lock. The callback
// must not call back into other luaState methods.
func (s *luaState) with(fn func(L *lua.LState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}
	fn(s.L)
	return nil
}

// doFile executes the plugin's entry point.
func (s *luaState) doFile(path string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return s.L.DoFile(path)
}

// doString executes a Lua chunk.
func (s *luaState) doString(code string) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return s.L.DoString(code)
}

// global returns a global value, or lua.LNil on a closed state.
func (s *luaState) global(name string) lua.LValue {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil
	}
	return s.L.GetGlobal(name)
}

// call invokes a Lua function and returns its first result.
func (s *luaState) call(fn lua.LValue, args ...lua.LValue) (ret lua.LValue, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return lua.LNil, ErrStateClosed
	}

	defer func() {
		if r := recover(); r != nil {
			ret, err = lua.LNil, fmt.Errorf("lua panic: %v", r)
		}
	}()

	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	ret = s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

// close shuts the state down. Idempotent.
func (s *luaState) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.L.Close()
}
