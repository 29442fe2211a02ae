package code

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/local"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
)

// testTree exports a one-server discovery tree.
func testTree(t *testing.T) *discovery.Tree {
	t.Helper()
	tm := local.New("time")
	tm.RegisterHandler("get_time", local.ToolDef{
		Description: "Get the current time in a city.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string"},
			},
			"required": []any{"city"},
		},
		Handler: func(context.Context, map[string]any) (any, error) { return "12:00", nil },
	})
	reg := backend.NewRegistry()
	if err := reg.Register(tm); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	b, err := registry.NewBuilder(registry.BuilderConfig{
		Servers: reg,
		Now:     func() time.Time { return time.Unix(1, 0) },
	})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	snap, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return discovery.Export(snap)
}

func testConfig(t *testing.T, runner run.Runner, engine Engine) Config {
	t.Helper()
	return Config{Tree: testTree(t), Run: runner, Engine: engine}
}

// mockRunner implements run.Runner for testing.
type mockRunner struct {
	mu sync.Mutex

	// Configurable returns
	runResult run.RunResult
	runErr    error

	// Call tracking
	runCalls []runCall
}

type runCall struct {
	server string
	tool   string
	args   map[string]any
}

func (m *mockRunner) Run(_ context.Context, server, tool string, args map[string]any) (run.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runCalls = append(m.runCalls, runCall{server, tool, args})
	res := m.runResult
	res.Server, res.Tool = server, tool
	return res, m.runErr
}

func (m *mockRunner) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.runCalls)
}

// mockSearcher implements Searcher for testing.
type mockSearcher struct {
	results   []index.Summary
	err       error
	queries   []string
	docs      map[string]tooldoc.ToolDoc
	described []string
}

func (m *mockSearcher) Search(query string, limit int) ([]index.Summary, error) {
	m.queries = append(m.queries, fmt.Sprintf("%s/%d", query, limit))
	return m.results, m.err
}

func (m *mockSearcher) Describe(id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	m.described = append(m.described, fmt.Sprintf("%s/%s", id, level))
	doc, ok := m.docs[id]
	if !ok {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s", tooldoc.ErrNotFound, id)
	}
	return doc, nil
}

// mockEngine implements Engine for testing. When script is set it runs
// against the Tools environment the executor supplies.
type mockEngine struct {
	mu sync.Mutex

	// Configurable returns
	executeResult ExecuteResult
	executeErr    error
	script        func(ctx context.Context, tools Tools) error

	// Call tracking
	executeCalls []executeCall
}

type executeCall struct {
	ctx    context.Context
	params ExecuteParams
	tools  Tools
}

func (m *mockEngine) Execute(ctx context.Context, params ExecuteParams, tools Tools) (ExecuteResult, error) {
	m.mu.Lock()
	m.executeCalls = append(m.executeCalls, executeCall{ctx, params, tools})
	m.mu.Unlock()
	if m.script != nil {
		if err := m.script(ctx, tools); err != nil {
			return m.executeResult, err
		}
	}
	return m.executeResult, m.executeErr
}

func (m *mockEngine) lastParams() ExecuteParams {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.executeCalls[len(m.executeCalls)-1].params
}

// mockLogger implements Logger for testing.
type mockLogger struct {
	mu       sync.Mutex
	messages []string
}

func (l *mockLogger) Logf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.messages = append(l.messages, fmt.Sprintf(format, args...))
}
