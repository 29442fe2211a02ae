package local

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/codemode/backend"
)

func TestLocalBackend_Interface(t *testing.T) {
	t.Helper()
	var _ backend.Backend = (*Backend)(nil)
}

func TestLocalBackend_KindAndName(t *testing.T) {
	b := New("time")
	if b.Kind() != "local" {
		t.Errorf("Kind() = %q, want %q", b.Kind(), "local")
	}
	if b.Name() != "time" {
		t.Errorf("Name() = %q, want %q", b.Name(), "time")
	}
}

func TestLocalBackend_ListToolsInRegistrationOrder(t *testing.T) {
	b := New("time")
	for _, name := range []string{"get_time", "convert_time", "list_zones"} {
		b.RegisterHandler(name, ToolDef{Description: name})
	}
	b.RegisterHandler("get_time", ToolDef{Description: "replaced"})

	tools, err := b.ListTools(context.Background())
	if err != nil {
		t.Fatalf("ListTools() error = %v", err)
	}
	if len(tools) != 3 {
		t.Fatalf("ListTools() returned %d tools, want 3", len(tools))
	}
	want := []string{"get_time", "convert_time", "list_zones"}
	for i, tool := range tools {
		if tool.Name != want[i] {
			t.Errorf("tools[%d].Name = %q, want %q", i, tool.Name, want[i])
		}
		if tool.Namespace != "time" {
			t.Errorf("tools[%d].Namespace = %q, want time", i, tool.Namespace)
		}
		if tool.InputSchema == nil {
			t.Errorf("tools[%d].InputSchema is nil", i)
		}
	}
	if tools[0].Description != "replaced" {
		t.Errorf("tools[0].Description = %q, want replaced", tools[0].Description)
	}

	b.UnregisterHandler("convert_time")
	tools, _ = b.ListTools(context.Background())
	if len(tools) != 2 || tools[1].Name != "list_zones" {
		t.Errorf("after UnregisterHandler: %v", tools)
	}
}

func TestLocalBackend_Execute(t *testing.T) {
	b := New("time")
	b.RegisterHandler("get_time", ToolDef{
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return "12:00 in " + args["city"].(string), nil
		},
	})

	out, err := b.Execute(context.Background(), "get_time", map[string]any{"city": "Amsterdam"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if out != "12:00 in Amsterdam" {
		t.Errorf("Execute() = %v", out)
	}

	if _, err := b.Execute(context.Background(), "missing", nil); !errors.Is(err, backend.ErrToolNotFound) {
		t.Errorf("Execute(missing) error = %v, want ErrToolNotFound", err)
	}

	b.SetEnabled(false)
	if _, err := b.Execute(context.Background(), "get_time", nil); !errors.Is(err, backend.ErrServerDisabled) {
		t.Errorf("Execute(disabled) error = %v, want ErrServerDisabled", err)
	}
}

func TestLocalBackend_ExecuteHonorsCancellation(t *testing.T) {
	b := New("time")
	b.RegisterHandler("get_time", ToolDef{
		Handler: func(_ context.Context, _ map[string]any) (any, error) { return "x", nil },
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Execute(ctx, "get_time", nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Execute() error = %v, want context.Canceled", err)
	}
}
