package toolcodeengine_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/local"
	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
	"github.com/jonwraymond/codemode/runtime"
	"github.com/jonwraymond/codemode/runtime/backend/starlark"
	"github.com/jonwraymond/codemode/runtime/toolcodeengine"
)

type stack struct {
	exec      *code.DefaultExecutor
	timeCalls *atomic.Int64
}

// newStack wires executor -> engine -> runtime -> starlark backend over a
// local "time" server.
func newStack(t *testing.T, mutate ...func(*code.Config)) *stack {
	t.Helper()
	var calls atomic.Int64
	srv := local.New("time")
	srv.RegisterHandler("get_time", local.ToolDef{
		Description: "Get the current time in a city.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"city": map[string]any{"type": "string", "description": "City name"},
			},
			"required": []any{"city"},
		},
		Handler: func(_ context.Context, args map[string]any) (any, error) {
			calls.Add(1)
			return fmt.Sprintf("12:00 in %s", args["city"]), nil
		},
	})
	srv.RegisterHandler("broken", local.ToolDef{
		Description: "Always fails.",
		Handler: func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("clock unavailable")
		},
	})

	servers := backend.NewRegistry()
	if err := servers.Register(srv); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	builder, err := registry.NewBuilder(registry.BuilderConfig{Servers: servers})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	snap, err := builder.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	dispatcher, err := run.NewDispatcher(snap, run.WithInvoker(backend.NewAggregator(servers)))
	if err != nil {
		t.Fatalf("NewDispatcher() error = %v", err)
	}
	idx, err := snap.Index()
	if err != nil {
		t.Fatalf("Index() error = %v", err)
	}

	sandbox := starlark.New(starlark.Config{})
	rt := runtime.NewDefaultRuntime(runtime.RuntimeConfig{
		Backends: map[runtime.SecurityProfile]runtime.Backend{
			runtime.ProfileDev:      sandbox,
			runtime.ProfileStandard: sandbox,
			runtime.ProfileHardened: sandbox,
		},
	})
	engine, err := toolcodeengine.New(toolcodeengine.Config{Runtime: rt})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cfg := code.Config{
		Tree:   discovery.Export(snap),
		Run:    dispatcher,
		Search: idx,
		Engine: engine,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	exec, err := code.NewDefaultExecutor(cfg)
	if err != nil {
		t.Fatalf("NewDefaultExecutor() error = %v", err)
	}
	return &stack{exec: exec, timeCalls: &calls}
}

func (s *stack) run(t *testing.T, src string) (code.ExecuteResult, error) {
	t.Helper()
	return s.exec.ExecuteCode(context.Background(), code.ExecuteParams{Code: src})
}

func TestDiscoveryWithoutToolCalls(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `print(ls("/"))
print(cat("/time/INDEX.md"))
`)
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if !strings.Contains(res.Stdout, `["INDEX.md", "time"]`) {
		t.Errorf("stdout missing root listing:\n%s", res.Stdout)
	}
	if !strings.Contains(res.Stdout, "- **get_time**: Get the current time in a city.") {
		t.Errorf("stdout missing server index:\n%s", res.Stdout)
	}
	if len(res.ToolCalls) != 0 || s.timeCalls.Load() != 0 {
		t.Errorf("tool calls = %d log entries, %d handler calls; want none", len(res.ToolCalls), s.timeCalls.Load())
	}
}

func TestCallToolThroughBridge(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `print(call_tool("time", "get_time", {"city": "Amsterdam"}))`)
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if res.Stdout != "12:00 in Amsterdam\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("ToolCalls = %d, want 1", len(res.ToolCalls))
	}
	rec := res.ToolCalls[0]
	if rec.ToolID != "time:get_time" || rec.Args["city"] != "Amsterdam" || rec.BackendKind != "local" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Structured != "12:00 in Amsterdam" {
		t.Errorf("Structured = %v", rec.Structured)
	}
}

func TestCallToolViaStub(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `load("/time/get_time.star", "get_time")
__out = get_time(city="Oslo")
`)
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if res.Value != "12:00 in Oslo" {
		t.Errorf("Value = %v", res.Value)
	}
	if res.Stdout != "" {
		t.Errorf("Stdout = %q, want empty", res.Stdout)
	}
}

func TestFailedCallIsAnErrorValue(t *testing.T) {
	tests := []struct {
		name string
		call string
		want code.Kind
	}{
		{name: "tool failure", call: `call_tool("time", "broken")`, want: code.KindToolInvocation},
		{name: "missing required", call: `call_tool("time", "get_time", {})`, want: code.KindValidation},
		{name: "unknown field", call: `call_tool("time", "get_time", {"city": "x", "zone": "y"})`, want: code.KindValidation},
		{name: "unknown tool", call: `call_tool("time", "nope")`, want: code.KindNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStack(t)
			res, err := s.run(t, "r = "+tt.call+"\nprint(r[\"error\"])\nprint(\"continued\")\n")
			if err != nil {
				t.Fatalf("ExecuteCode() error = %v", err)
			}
			if res.Stdout != string(tt.want)+"\ncontinued\n" {
				t.Errorf("Stdout = %q", res.Stdout)
			}
			if len(res.ToolCalls) != 1 || res.ToolCalls[0].ErrorKind != tt.want {
				t.Errorf("ToolCalls = %+v", res.ToolCalls)
			}
			if s.timeCalls.Load() != 0 {
				t.Errorf("handler called %d times", s.timeCalls.Load())
			}
		})
	}
}

func TestForbiddenImportRunsNothing(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `call_tool("time", "get_time", {"city": "Paris"})
import subprocess
`)
	var fe *code.ForbiddenImportError
	if !errors.As(err, &fe) || fe.Module != "subprocess" || fe.Line != 2 {
		t.Fatalf("error = %v, want ForbiddenImportError for subprocess on line 2", err)
	}
	if res.ErrorKind != code.KindForbiddenImport {
		t.Errorf("ErrorKind = %q", res.ErrorKind)
	}
	if s.timeCalls.Load() != 0 || len(res.ToolCalls) != 0 {
		t.Error("a statement ran before the import check")
	}
}

func TestSyntaxErrorReported(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, "x = 1\nif x\n    print(x)\n")
	if !errors.Is(err, code.ErrSyntax) {
		t.Fatalf("error = %v, want ErrSyntax", err)
	}
	var ce *code.CodeError
	if !errors.As(err, &ce) || ce.Line != 2 {
		t.Errorf("CodeError = %+v, want line 2", ce)
	}
	if res.ErrorKind != code.KindSyntax || res.ErrorMessage == "" {
		t.Errorf("ErrorKind = %q, ErrorMessage = %q", res.ErrorKind, res.ErrorMessage)
	}
}

func TestRuntimeErrorIsExecutionKind(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, "d = {}\nprint(d['missing'])\n")
	if !errors.Is(err, code.ErrCodeExecution) {
		t.Fatalf("error = %v, want ErrCodeExecution", err)
	}
	if res.ErrorKind != code.KindExecution {
		t.Errorf("ErrorKind = %q", res.ErrorKind)
	}
}

func TestTimeoutDiscardsLog(t *testing.T) {
	s := newStack(t)
	start := time.Now()
	res, err := s.exec.ExecuteCode(context.Background(), code.ExecuteParams{
		Code: `call_tool("time", "get_time", {"city": "Rome"})
while True:
    pass
`,
		Timeout: 100 * time.Millisecond,
	})
	var rle *code.ResourceLimitError
	if !errors.As(err, &rle) || rle.Resource != "timeout" {
		t.Fatalf("error = %v, want timeout ResourceLimitError", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
	if res.ToolCalls != nil {
		t.Errorf("ToolCalls = %v, want nil", res.ToolCalls)
	}
}

func TestToolCallLimit(t *testing.T) {
	s := newStack(t, func(c *code.Config) { c.MaxToolCalls = 3 })
	res, err := s.run(t, `for i in range(10):
    call_tool("time", "get_time", {"city": str(i)})
`)
	var rle *code.ResourceLimitError
	if !errors.As(err, &rle) || rle.Resource != "tool_calls" {
		t.Fatalf("error = %v, want tool_calls ResourceLimitError", err)
	}
	if s.timeCalls.Load() != 3 {
		t.Errorf("handler calls = %d, want 3", s.timeCalls.Load())
	}
	if res.ToolCalls != nil {
		t.Errorf("ToolCalls = %v, want nil", res.ToolCalls)
	}
}

func TestSearchTools(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `[h["id"] for h in search_tools("current time city")]`)
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if !strings.Contains(res.Stdout, `"time:get_time"`) {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestDescribeTool(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, `doc = describe_tool("time:get_time", "full")
print(doc["notes"])
`)
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if !strings.Contains(res.Stdout, "- city (string, required): City name") {
		t.Errorf("Stdout = %q", res.Stdout)
	}
}

func TestStateCarriesDefinitions(t *testing.T) {
	s := newStack(t)
	st := runtime.NewState()
	ctx := context.Background()

	_, err := s.exec.ExecuteCode(ctx, code.ExecuteParams{State: st, Code: `def at(city):
    return call_tool("time", "get_time", {"city": city})
home = "Lisbon"
`})
	if err != nil {
		t.Fatalf("first ExecuteCode() error = %v", err)
	}
	res, err := s.exec.ExecuteCode(ctx, code.ExecuteParams{State: st, Code: "print(at(home))"})
	if err != nil {
		t.Fatalf("second ExecuteCode() error = %v", err)
	}
	if res.Stdout != "12:00 in Lisbon\n" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	// The carried function reports its call in the run that made it.
	if len(res.ToolCalls) != 1 || res.ToolCalls[0].ToolID != "time:get_time" {
		t.Errorf("ToolCalls = %+v, want the call from the second run", res.ToolCalls)
	}

	if _, err := s.run(t, "print(home)"); err == nil {
		t.Error("a run without state saw a carried name")
	}
}

func TestConcurrentExecutionsAreIsolated(t *testing.T) {
	s := newStack(t)
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			city := fmt.Sprintf("city%d", i)
			res, err := s.run(t, fmt.Sprintf("mine = %q\nprint(call_tool(\"time\", \"get_time\", {\"city\": mine}))", city))
			if err != nil {
				errs <- err
				return
			}
			if res.Stdout != "12:00 in "+city+"\n" {
				errs <- fmt.Errorf("execution %d saw %q", i, res.Stdout)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestEmptyOutput(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, "x = 1")
	if err != nil {
		t.Fatalf("ExecuteCode() error = %v", err)
	}
	if res.Stdout != "" || res.Value != nil {
		t.Errorf("Stdout = %q, Value = %v; want empty", res.Stdout, res.Value)
	}
}

func TestImportDatetimeFailsBeforeOutput(t *testing.T) {
	s := newStack(t)
	res, err := s.run(t, "print(\"starting\")\nimport datetime\nprint(datetime.now())\n")
	if !errors.Is(err, code.ErrForbiddenImport) {
		t.Fatalf("error = %v, want ErrForbiddenImport", err)
	}
	if res.Stdout != "" {
		t.Errorf("Stdout = %q, want no output", res.Stdout)
	}
}
