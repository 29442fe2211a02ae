package backend

import (
	"context"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
)

// mockBackend implements Backend for testing.
type mockBackend struct {
	kind    string
	name    string
	enabled bool
	tools   []model.Tool
	execFn  func(ctx context.Context, tool string, args map[string]any) (any, error)

	mu      sync.Mutex
	stopped bool
}

func (m *mockBackend) Kind() string  { return m.kind }
func (m *mockBackend) Name() string  { return m.name }
func (m *mockBackend) Enabled() bool { return m.enabled }

func (m *mockBackend) ListTools(_ context.Context) ([]model.Tool, error) {
	return append([]model.Tool(nil), m.tools...), nil
}

func (m *mockBackend) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	if m.execFn != nil {
		return m.execFn(ctx, tool, args)
	}
	return nil, nil
}

func (m *mockBackend) Start(_ context.Context) error { return nil }

func (m *mockBackend) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	return nil
}

var _ Backend = (*mockBackend)(nil)
