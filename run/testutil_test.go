package run

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/local"
	"github.com/jonwraymond/codemode/registry"
)

// timeFixture is a mock "time" server exposing get_time(city).
type timeFixture struct {
	calls atomic.Int32
	agg   *backend.Aggregator
	snap  *registry.Snapshot
}

func newTimeFixture(t *testing.T) *timeFixture {
	t.Helper()
	f := &timeFixture{}

	srv := local.New("time")
	srv.RegisterHandler("get_time", local.ToolDef{
		Description: "Get the current time in a city.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string", "minLength": 1},
			},
			"required": []any{"city"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			f.calls.Add(1)
			return "12:00 in " + args["city"].(string), nil
		},
	})
	srv.RegisterHandler("fail", local.ToolDef{
		Description: "Always fails.",
		Handler: func(context.Context, map[string]any) (any, error) {
			f.calls.Add(1)
			return nil, errors.New("upstream exploded")
		},
	})
	srv.RegisterHandler("echo", local.ToolDef{
		Description: "Echo any arguments.",
		InputSchema: map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"msg": map[string]any{"type": "string"}},
			"additionalProperties": true,
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			f.calls.Add(1)
			return args, nil
		},
	})

	sqlite := local.New("sqlite_db")
	sqlite.RegisterHandler("list_tables", local.ToolDef{
		Handler: func(context.Context, map[string]any) (any, error) {
			f.calls.Add(1)
			return []any{"users"}, nil
		},
	})

	reg := backend.NewRegistry()
	_ = reg.Register(srv)
	_ = reg.Register(sqlite)
	b, err := registry.NewBuilder(registry.BuilderConfig{Servers: reg})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	f.snap, err = b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	f.agg = backend.NewAggregator(reg)
	return f
}

func (f *timeFixture) dispatcher(t *testing.T, opts ...ConfigOption) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(f.snap, append([]ConfigOption{WithInvoker(f.agg)}, opts...)...)
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	return d
}
