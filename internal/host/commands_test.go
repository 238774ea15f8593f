package host

import (
	"context"
	"errors"
	"testing"
)

func TestCommandRegistry_RegisterAndExecute(t *testing.T) {
	reg := NewCommandRegistry()

	err := reg.Register("test.echo", func(ctx context.Context, args ...any) (any, error) {
		if len(args) != 1 {
			return nil, errors.New("want one arg")
		}
		return args[0], nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	result, err := reg.Execute(context.Background(), "test.echo", "hello")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result != "hello" {
		t.Errorf("Expected hello, got %v", result)
	}
}

func TestCommandRegistry_Register_DuplicateID(t *testing.T) {
	reg := NewCommandRegistry()
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	if err := reg.Register("dup", noop); err != nil {
		t.Fatalf("First register failed: %v", err)
	}
	err := reg.Register("dup", noop)
	if !errors.Is(err, ErrCommandExists) {
		t.Errorf("Expected ErrCommandExists, got %v", err)
	}
}

func TestCommandRegistry_Register_NilHandler(t *testing.T) {
	reg := NewCommandRegistry()

	err := reg.Register("nil", nil)
	if !errors.Is(err, ErrNilHandler) {
		t.Errorf("Expected ErrNilHandler, got %v", err)
	}
}

func TestCommandRegistry_Execute_Unknown(t *testing.T) {
	reg := NewCommandRegistry()

	_, err := reg.Execute(context.Background(), "missing")
	if !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Expected ErrCommandNotFound, got %v", err)
	}
}

func TestCommandRegistry_Unregister(t *testing.T) {
	reg := NewCommandRegistry()
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	if err := reg.Register("gone", noop); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := reg.Unregister("gone"); err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}
	if reg.Has("gone") {
		t.Error("Expected command to be unregistered")
	}
	if err := reg.Unregister("gone"); !errors.Is(err, ErrCommandNotFound) {
		t.Errorf("Expected ErrCommandNotFound, got %v", err)
	}
}

func TestCommandRegistry_List_Sorted(t *testing.T) {
	reg := NewCommandRegistry()
	noop := func(ctx context.Context, args ...any) (any, error) { return nil, nil }

	for _, id := range []string{"b.cmd", "a.cmd", "c.cmd"} {
		if err := reg.Register(id, noop); err != nil {
			t.Fatalf("Register %s failed: %v", id, err)
		}
	}

	got := reg.List()
	want := []string{"a.cmd", "b.cmd", "c.cmd"}
	if len(got) != len(want) {
		t.Fatalf("Expected %d ids, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expected %s at %d, got %s", want[i], i, got[i])
		}
	}
}
