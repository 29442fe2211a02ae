package backend

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistry_Register(t *testing.T) {
	registry := NewRegistry()

	b := &mockBackend{kind: "local", name: "time", enabled: true}

	if err := registry.Register(b); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	err := registry.Register(b)
	if !errors.Is(err, ErrServerExists) {
		t.Errorf("Register() duplicate error = %v, want ErrServerExists", err)
	}
}

func TestRegistry_RegisterRejectsUnnamed(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(&mockBackend{}); err == nil {
		t.Error("Register() should reject a server without a name")
	}
	if err := registry.Register(nil); err == nil {
		t.Error("Register() should reject nil")
	}
}

func TestRegistry_ListKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"time", "git", "sqlite", "filesystem"} {
		_ = registry.Register(&mockBackend{kind: "mcp", name: name, enabled: name != "sqlite"})
	}

	want := []string{"time", "git", "sqlite", "filesystem"}
	if got := registry.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	var enabled []string
	for _, b := range registry.ListEnabled() {
		enabled = append(enabled, b.Name())
	}
	if want := []string{"time", "git", "filesystem"}; !reflect.DeepEqual(enabled, want) {
		t.Errorf("ListEnabled() = %v, want %v", enabled, want)
	}
}

func TestRegistry_Unregister(t *testing.T) {
	registry := NewRegistry()

	b := &mockBackend{kind: "local", name: "time", enabled: true}
	_ = registry.Register(b)
	_ = registry.Register(&mockBackend{kind: "local", name: "git", enabled: true})

	registry.Unregister("time")

	if _, ok := registry.Get("time"); ok {
		t.Error("Get() should return false after Unregister()")
	}
	if !b.stopped {
		t.Error("Unregister() should stop the server")
	}
	if got := registry.Names(); !reflect.DeepEqual(got, []string{"git"}) {
		t.Errorf("Names() = %v, want [git]", got)
	}
}

func TestRegistry_CreateUsesFactory(t *testing.T) {
	registry := NewRegistry()
	registry.RegisterFactory("mock", func(name string) (Backend, error) {
		return &mockBackend{kind: "mock", name: name, enabled: true}, nil
	})

	b, err := registry.Create("mock", "time")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if b.Name() != "time" {
		t.Errorf("Name() = %q, want time", b.Name())
	}
	if _, ok := registry.Get("time"); !ok {
		t.Error("Create() should register the server")
	}

	if _, err := registry.Create("unknown", "x"); err == nil {
		t.Error("Create() with unknown kind should fail")
	}
}
