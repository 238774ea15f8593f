package plugin

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/clangmux/internal/host"
	"github.com/dshills/clangmux/internal/project"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// loadStrategy runs a chunk that must define a global descriptor table
// and adapts it into a strategy.
func loadStrategy(t *testing.T, code string) (*luaState, *luaStrategy) {
	t.Helper()

	state := newLuaState()
	t.Cleanup(state.close)

	if err := state.doString(code); err != nil {
		t.Fatalf("Lua chunk failed: %v", err)
	}
	desc, ok := state.global("descriptor").(*lua.LTable)
	if !ok {
		t.Fatal("Expected chunk to define a descriptor table")
	}
	strat, err := newLuaStrategy("test-plugin", state, desc, discardLogger())
	if err != nil {
		t.Fatalf("Expected descriptor to adapt, got %v", err)
	}
	return state, strat
}

func TestNewLuaStrategy_DescriptorValidation(t *testing.T) {
	tests := []struct {
		name string
		code string
	}{
		{"missing id", `descriptor = { projects = function() return {} end }`},
		{"missing projects", `descriptor = { id = "x" }`},
		{"projects not a function", `descriptor = { id = "x", projects = {} }`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newLuaState()
			defer state.close()

			if err := state.doString(tt.code); err != nil {
				t.Fatalf("Lua chunk failed: %v", err)
			}
			desc, ok := state.global("descriptor").(*lua.LTable)
			if !ok {
				t.Fatal("Expected chunk to define a descriptor table")
			}
			if _, err := newLuaStrategy("p", state, desc, discardLogger()); err == nil {
				t.Error("Expected descriptor rejection")
			}
		})
	}
}

func TestLuaStrategy_ProjectsConversion(t *testing.T) {
	_, strat := loadStrategy(t, `
		roots = {
			{ root = "/work/app", name = "App" },
			"/work/lib",
			{ root = "" },
			"",
			42,
			{ name = "rootless" },
			"/work/app",
		}
		descriptor = { id = "mixed", projects = function() return roots end }
	`)

	list := strat.Projects()
	if len(list) != 2 {
		t.Fatalf("Expected 2 projects after dropping malformed entries, got %d", len(list))
	}
	if list[0].Name != "App" || list[0].RootPath != "/work/app" {
		t.Errorf("Expected App at /work/app, got %q at %q", list[0].Name, list[0].RootPath)
	}
	expectedID := project.NormalizeURI(host.PathToURI("/work/app"))
	if list[0].ID != expectedID {
		t.Errorf("Expected ID %q, got %q", expectedID, list[0].ID)
	}
	if list[1].Name != "lib" {
		t.Errorf("Expected bare path to take its base name, got %q", list[1].Name)
	}
}

func TestLuaStrategy_Initialize(t *testing.T) {
	_, strat := loadStrategy(t, `
		ready = false
		descriptor = {
			id = "gated",
			initialize = function() ready = true end,
			projects = function()
				if ready then return { "/work/app" } end
				return {}
			end,
		}
	`)

	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if list := strat.cached(); len(list) != 1 {
		t.Errorf("Expected cache primed after initialize, got %d projects", len(list))
	}
}

func TestLuaStrategy_Initialize_Error(t *testing.T) {
	_, strat := loadStrategy(t, `
		descriptor = {
			id = "boom",
			initialize = function() error("no presets file") end,
			projects = function() return {} end,
		}
	`)

	if err := strat.Initialize(context.Background()); err == nil {
		t.Error("Expected initialize error to surface")
	}
}

func TestLuaStrategy_ProjectsFailureServesCache(t *testing.T) {
	state, strat := loadStrategy(t, `
		fail = false
		descriptor = {
			id = "flaky",
			projects = function()
				if fail then error("query failed") end
				return { "/work/app" }
			end,
		}
	`)

	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if err := state.doString(`fail = true`); err != nil {
		t.Fatal(err)
	}

	list := strat.Projects()
	if len(list) != 1 || list[0].Name != "app" {
		t.Errorf("Expected last good list on query failure, got %v", list)
	}
}

func TestLuaStrategy_Resolve_Function(t *testing.T) {
	_, strat := loadStrategy(t, `
		descriptor = {
			id = "custom",
			projects = function() return { "/work/app" } end,
			resolve = function(uri)
				if string.find(uri, "special", 1, true) then
					return { root = "/work/special", name = "Special" }
				end
				if string.find(uri, "bare", 1, true) then
					return "/work/bare"
				end
				return nil
			end,
		}
	`)

	if p := strat.Resolve("file:///work/special/x.cpp"); p == nil || p.Name != "Special" {
		t.Errorf("Expected Special, got %v", p)
	}
	if p := strat.Resolve("file:///work/bare/y.cpp"); p == nil || p.Name != "bare" {
		t.Errorf("Expected bare path result, got %v", p)
	}
	if p := strat.Resolve("file:///elsewhere/z.cpp"); p != nil {
		t.Errorf("Expected nil for unmatched location, got %v", p)
	}
}

func TestLuaStrategy_Resolve_FunctionError(t *testing.T) {
	_, strat := loadStrategy(t, `
		descriptor = {
			id = "custom",
			projects = function() return {} end,
			resolve = function(uri) error("cannot resolve") end,
		}
	`)

	if p := strat.Resolve("file:///work/app/x.cpp"); p != nil {
		t.Errorf("Expected nil on resolve error, got %v", p)
	}
}

func TestLuaStrategy_Resolve_FallbackPrefix(t *testing.T) {
	_, strat := loadStrategy(t, `
		descriptor = {
			id = "plain",
			projects = function() return { "/work/app", "/work" } end,
		}
	`)

	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	p := strat.Resolve(host.PathToURI("/work/app/src/main.cpp"))
	if p == nil {
		t.Fatal("Expected a project for a location under a root")
	}
	if p.RootPath != "/work" {
		t.Errorf("Expected shallowest root /work, got %q", p.RootPath)
	}
	if p := strat.Resolve("file:///elsewhere/x.cpp"); p != nil {
		t.Errorf("Expected nil outside every root, got %v", p)
	}
}

func TestLuaStrategy_Refresh_EmitsDiff(t *testing.T) {
	state, strat := loadStrategy(t, `
		roots = { "/work/app" }
		descriptor = { id = "dyn", projects = function() return roots end }
	`)

	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	var mu sync.Mutex
	var changes []project.Change
	strat.OnChange(func(c project.Change) {
		mu.Lock()
		changes = append(changes, c)
		mu.Unlock()
	})

	if err := state.doString(`roots = { "/work/app", "/work/lib" }`); err != nil {
		t.Fatal(err)
	}
	strat.refresh()

	mu.Lock()
	if len(changes) != 1 {
		mu.Unlock()
		t.Fatalf("Expected 1 change, got %d", len(changes))
	}
	first := changes[0]
	mu.Unlock()
	if len(first.Added) != 1 || first.Added[0].Name != "lib" {
		t.Errorf("Expected lib added, got %v", first.Added)
	}
	if len(first.Removed) != 0 {
		t.Errorf("Expected no removals, got %v", first.Removed)
	}

	if err := state.doString(`roots = { "/work/lib" }`); err != nil {
		t.Fatal(err)
	}
	strat.refresh()
	strat.refresh()

	mu.Lock()
	defer mu.Unlock()
	if len(changes) != 2 {
		t.Fatalf("Expected refresh without membership change to stay silent, got %d changes", len(changes))
	}
	if len(changes[1].Removed) != 1 || changes[1].Removed[0].Name != "app" {
		t.Errorf("Expected app removed, got %v", changes[1].Removed)
	}
}

func TestLuaStrategy_Dispose(t *testing.T) {
	_, strat := loadStrategy(t, `
		descriptor = { id = "done", projects = function() return { "/work/app" } end }
	`)

	if err := strat.Initialize(context.Background()); err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	strat.Dispose()
	strat.Dispose()

	if list := strat.Projects(); len(list) != 1 {
		t.Errorf("Expected cached list after dispose, got %d projects", len(list))
	}
	if p := strat.Resolve(host.PathToURI("/work/app/x.cpp")); p != nil {
		t.Errorf("Expected nil resolution after dispose, got %v", p)
	}
	if err := strat.Initialize(context.Background()); !errors.Is(err, project.ErrStrategyDisposed) {
		t.Errorf("Expected ErrStrategyDisposed, got %v", err)
	}
	strat.refresh()
}
