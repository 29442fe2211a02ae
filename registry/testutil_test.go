package registry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/local"
	"github.com/jonwraymond/toolfoundation/model"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func noop(context.Context, map[string]any) (any, error) { return nil, nil }

// timeServer mimics a small "time" server.
func timeServer() *local.Backend {
	b := local.New("time")
	b.RegisterHandler("get_current_time", local.ToolDef{
		Description: "Get the current time in a timezone.\nReturns ISO-8601.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"timezone": map[string]any{"type": "string", "description": "IANA zone name"},
			},
			"required": []any{"timezone"},
		},
		Handler: noop,
	})
	b.RegisterHandler("convert_time", local.ToolDef{
		Description: "Convert a time between zones.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"source_timezone": map[string]any{"type": "string"},
				"target_timezone": map[string]any{"type": "string"},
				"time":            map[string]any{"type": "string"},
			},
			"required": []any{"source_timezone", "time", "target_timezone"},
		},
		Handler: noop,
	})
	return b
}

func gitServer() *local.Backend {
	b := local.New("git")
	b.RegisterHandler("git_status", local.ToolDef{
		Description: "Show the working tree status.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{"repo_path": map[string]any{"type": "string"}},
			"required":   []any{"repo_path"},
		},
		Handler: noop,
	})
	return b
}

// brokenServer fails to start.
type brokenServer struct {
	name string
}

func (b *brokenServer) Kind() string  { return "mcp" }
func (b *brokenServer) Name() string  { return b.name }
func (b *brokenServer) Enabled() bool { return true }
func (b *brokenServer) ListTools(context.Context) ([]model.Tool, error) {
	return nil, errors.New("not started")
}
func (b *brokenServer) Execute(context.Context, string, map[string]any) (any, error) {
	return nil, backend.ErrServerUnavailable
}
func (b *brokenServer) Start(context.Context) error {
	return backend.ErrServerUnavailable
}
func (b *brokenServer) Stop() error { return nil }

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

func newTestBuilder(t *testing.T, reg *backend.Registry) *Builder {
	t.Helper()
	b, err := NewBuilder(BuilderConfig{Servers: reg, Now: func() time.Time { return testTime }})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	return b
}

// testSnapshot builds a snapshot of the time and git servers.
func testSnapshot(t *testing.T) *Snapshot {
	t.Helper()
	snap, err := newTestBuilder(t, newServers(t, timeServer(), gitServer())).Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return snap
}
