package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/local"
)

var timeSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"city": map[string]any{"type": "string", "description": "City name"},
	},
	"required": []any{"city"},
}

// timeServer is a local stand-in for the time MCP server.
func timeServer() *local.Backend {
	srv := local.New("time")
	srv.RegisterHandler("get_time", local.ToolDef{
		Description: "Get the current time in a city.",
		InputSchema: timeSchema,
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			return fmt.Sprintf("12:00 in %s", args["city"]), nil
		},
	})
	srv.RegisterHandler("broken", local.ToolDef{
		Description: "Always fails.",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("clock unavailable")
		},
	})
	return srv
}

func newServers(t *testing.T, bs ...backend.Backend) *backend.Registry {
	t.Helper()
	reg := backend.NewRegistry()
	for _, b := range bs {
		if err := reg.Register(b); err != nil {
			t.Fatalf("Register(%s) error = %v", b.Name(), err)
		}
	}
	return reg
}

// newBuilt returns an Exec over a time server with one successful build.
func newBuilt(t *testing.T, mutate ...func(*Options)) *Exec {
	t.Helper()
	opts := Options{Servers: newServers(t, timeServer())}
	for _, m := range mutate {
		m(&opts)
	}
	ex, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := ex.Rebuild(context.Background()); err != nil {
		t.Fatalf("Rebuild() error = %v", err)
	}
	return ex
}
