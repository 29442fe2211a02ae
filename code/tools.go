package code

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
)

// Tools is the environment exposed to code snippets during execution. It is
// the only route from a snippet to the tool servers.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: CallTool returns ResourceLimitError once the call budget is spent;
// other failures propagate from the runner (ErrValidation, ErrNotFound,
// ErrToolInvocation).
// - Ownership: args are read-only; returned slices/results are caller-owned snapshots.
// - Nil/zero: nil args treated as empty.
type Tools interface {
	// CallTool invokes tool on server. Each call is recorded in the
	// invocation log.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)

	// ListDir returns the entry names of a discovery directory.
	ListDir(ctx context.Context, path string) ([]string, error)

	// ReadFile returns the content of a discovery file.
	ReadFile(ctx context.Context, path string) (string, error)

	// SearchTools searches for tools matching the query, returning up to limit results.
	SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error)

	// DescribeTool documents a "server:tool" id at the given detail level.
	DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error)
}

// toolsImpl is the internal implementation of Tools that tracks tool calls
// and enforces limits.
type toolsImpl struct {
	tree         *discovery.Tree
	runner       run.Runner
	search       Searcher
	logger       Logger
	maxToolCalls int

	mu        sync.Mutex
	toolCalls []ToolCallRecord
	callCount int
}

// newTools creates a new Tools implementation with the given configuration
// and limit. A limit of 0 is treated as unlimited.
func newTools(cfg *Config, maxToolCalls int) *toolsImpl {
	return &toolsImpl{
		tree:         cfg.Tree,
		runner:       cfg.Run,
		search:       cfg.Search,
		logger:       cfg.Logger,
		maxToolCalls: maxToolCalls,
	}
}

func (t *toolsImpl) CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	if t.maxToolCalls > 0 && t.callCount >= t.maxToolCalls {
		t.mu.Unlock()
		return nil, &ResourceLimitError{
			Resource: "tool_calls",
			Limit:    fmt.Sprintf("max %d calls", t.maxToolCalls),
		}
	}
	t.callCount++
	t.mu.Unlock()

	start := time.Now()
	result, err := t.runner.Run(ctx, server, tool, args)
	duration := time.Since(start).Milliseconds()

	record := ToolCallRecord{
		ToolID:     backend.FormatToolID(server, tool),
		Server:     server,
		Tool:       tool,
		Args:       deepCopyArgs(args),
		DurationMs: duration,
	}
	if err != nil {
		record.Error = err.Error()
		record.ErrorKind = Classify(err)
		record.ErrorOp = "call_tool"
		record.BackendKind = result.BackendKind
		if t.logger != nil {
			t.logger.Logf("call_tool %s failed: %v", record.ToolID, err)
		}
	} else {
		record.Structured = deepCopyValue(result.Structured)
		record.BackendKind = result.BackendKind
	}

	t.mu.Lock()
	t.toolCalls = append(t.toolCalls, record)
	t.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return result.Structured, nil
}

func (t *toolsImpl) ListDir(ctx context.Context, path string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	nodes, err := t.tree.List(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(nodes))
	for i, n := range nodes {
		names[i] = n.Name
	}
	return names, nil
}

func (t *toolsImpl) ReadFile(ctx context.Context, path string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	data, err := t.tree.Read(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (t *toolsImpl) SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.search == nil {
		return nil, nil
	}
	return t.search.Search(query, limit)
}

func (t *toolsImpl) DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	if err := ctx.Err(); err != nil {
		return tooldoc.ToolDoc{}, err
	}
	if t.search == nil {
		return tooldoc.ToolDoc{}, fmt.Errorf("%w: %s", registry.ErrNotFound, id)
	}
	if level == "" {
		level = tooldoc.DetailSummary
	}
	return t.search.Describe(id, level)
}

// GetToolCalls returns a copy of all recorded tool calls.
func (t *toolsImpl) GetToolCalls() []ToolCallRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ToolCallRecord(nil), t.toolCalls...)
}

// deepCopyArgs performs a deep copy of an args map.
// It normalizes typed maps/slices into MCP-native shapes (map[string]any, []any).
func deepCopyArgs(args map[string]any) map[string]any {
	if args == nil {
		return nil
	}
	result := make(map[string]any, len(args))
	for k, v := range args {
		result[k] = deepCopyValue(v)
	}
	return result
}

// deepCopyValue recursively copies a value into MCP-native shapes.
func deepCopyValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case map[string]any:
		return deepCopyArgs(val)
	case []any:
		return deepCopySlice(val)
	case map[string]string:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case map[string]int:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case map[string]float64:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case map[string]bool:
		out := make(map[string]any, len(val))
		for k, v := range val {
			out[k] = v
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case []int:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case []float64:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case []bool:
		out := make([]any, len(val))
		for i, v := range val {
			out[i] = v
		}
		return out
	case string, bool, float64, float32,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return val
	case json.Number:
		return val
	default:
		rv := reflect.ValueOf(val)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return nil
			}
			return deepCopyValue(rv.Elem().Interface())
		}
		if out, ok := deepCopyViaJSON(val); ok {
			return out
		}
		return val
	}
}

func deepCopySlice(s []any) []any {
	if s == nil {
		return nil
	}
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = deepCopyValue(v)
	}
	return out
}

func deepCopyViaJSON(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}
