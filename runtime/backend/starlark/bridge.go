package starlark

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"go.starlark.net/starlark"

	"github.com/jonwraymond/codemode/runtime"
)

// maxOutput bounds captured stdout.
const maxOutput = 1 << 20

func isBuiltin(name string) bool { return builtins.Has(name) }

// execution is the state of one snippet run.
type execution struct {
	ctx      context.Context
	gateway  runtime.ToolGateway
	allowed  map[string]bool
	filename string
	loaded   map[string]starlark.StringDict

	mu         sync.Mutex
	stdout     strings.Builder
	truncated  bool
	reason     string
	gatewayErr error
}

// executionKey is the thread-local slot holding the active execution.
const executionKey = "codemode.execution"

// builtins resolve the execution from the calling thread rather than
// capturing it, so functions carried over from an earlier run act on the
// run that calls them.
var builtins = starlark.StringDict{
	"call_tool":     builtin("call_tool", (*execution).callTool),
	"ls":            builtin("ls", (*execution).ls),
	"cat":           builtin("cat", (*execution).cat),
	"search_tools":  builtin("search_tools", (*execution).searchTools),
	"describe_tool": builtin("describe_tool", (*execution).describeTool),
}

type builtinFunc func(*execution, *starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error)

func builtin(name string, impl builtinFunc) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		x, ok := thread.Local(executionKey).(*execution)
		if !ok {
			return nil, fmt.Errorf("%s: no active execution", name)
		}
		return impl(x, thread, fn, args, kwargs)
	})
}

// callTool implements call_tool(server, tool, args=None, **kwargs).
func (x *execution) callTool(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("%s: want server, tool and optional args dict, got %d positional arguments", fn.Name(), len(args))
	}
	server, ok := starlark.AsString(args[0])
	if !ok {
		return nil, fmt.Errorf("%s: server must be a string, got %s", fn.Name(), args[0].Type())
	}
	tool, ok := starlark.AsString(args[1])
	if !ok {
		return nil, fmt.Errorf("%s: tool must be a string, got %s", fn.Name(), args[1].Type())
	}

	callArgs := make(map[string]any)
	if len(args) == 3 && args[2] != starlark.None {
		d, ok := args[2].(*starlark.Dict)
		if !ok {
			return nil, fmt.Errorf("%s: args must be a dict, got %s", fn.Name(), args[2].Type())
		}
		for k, v := range fromStarlark(d).(map[string]any) {
			callArgs[k] = v
		}
	}
	for _, kv := range kwargs {
		name, _ := starlark.AsString(kv[0])
		callArgs[name] = fromStarlark(kv[1])
	}

	res, err := x.gateway.CallTool(x.ctx, server, tool, callArgs)
	if err != nil {
		x.mu.Lock()
		x.gatewayErr = err
		x.mu.Unlock()
		return nil, err
	}
	return toStarlark(res), nil
}

// ls implements ls(path="/").
func (x *execution) ls(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	p := "/"
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "path?", &p); err != nil {
		return nil, err
	}
	names, err := x.gateway.ListDir(x.ctx, p)
	if err != nil {
		return nil, err
	}
	return toStarlark(names), nil
}

// cat implements cat(path).
func (x *execution) cat(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var p string
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "path", &p); err != nil {
		return nil, err
	}
	content, err := x.gateway.ReadFile(x.ctx, p)
	if err != nil {
		return nil, err
	}
	return starlark.String(content), nil
}

// searchTools implements search_tools(query, limit=5).
func (x *execution) searchTools(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var query string
	limit := 5
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "query", &query, "limit?", &limit); err != nil {
		return nil, err
	}
	hits, err := x.gateway.SearchTools(x.ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(hits))
	for _, h := range hits {
		tags := make([]any, len(h.Tags))
		for i, t := range h.Tags {
			tags[i] = t
		}
		out = append(out, map[string]any{
			"id":          h.ID,
			"name":        h.Name,
			"server":      h.Namespace,
			"description": h.ShortDescription,
			"tags":        tags,
		})
	}
	return toStarlark(out), nil
}

// describeTool implements describe_tool(id, level="summary"). The result is
// a dict with the tool's summary, and its schema and notes at the higher
// levels.
func (x *execution) describeTool(_ *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var id string
	level := string(tooldoc.DetailSummary)
	if err := starlark.UnpackArgs(fn.Name(), args, kwargs, "id", &id, "level?", &level); err != nil {
		return nil, err
	}
	doc, err := x.gateway.DescribeTool(x.ctx, id, tooldoc.DetailLevel(level))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", fn.Name(), err)
	}
	return toStarlark(doc), nil
}

// load resolves load statements: allowed library modules by name, and
// discovery stubs by path. Stubs run on the same thread so they share the
// snippet's limits.
func (x *execution) load(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	if !isStubPath(module) {
		if !x.allowed[module] {
			return nil, violation(module, 0, 0)
		}
		m, ok := modules[module]
		if !ok {
			return nil, fmt.Errorf("module %q is not available", module)
		}
		return starlark.StringDict{module: m}, nil
	}

	if globals, ok := x.loaded[module]; ok {
		return globals, nil
	}
	src, err := x.gateway.ReadFile(x.ctx, module)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", module, err)
	}
	globals, err := starlark.ExecFile(thread, module, src, builtins)
	if err != nil {
		return nil, err
	}
	globals.Freeze()
	x.loaded[module] = globals
	return globals, nil
}

func (x *execution) print(msg string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.truncated {
		return
	}
	if x.stdout.Len()+len(msg)+1 > maxOutput {
		x.stdout.WriteString("... output truncated\n")
		x.truncated = true
		return
	}
	x.stdout.WriteString(msg)
	x.stdout.WriteByte('\n')
}

func (x *execution) output() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.stdout.String()
}

// abort records why the thread is being cancelled. The first reason wins.
func (x *execution) abort(reason string) {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.reason == "" {
		x.reason = reason
	}
}

func (x *execution) abortReason() string {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.reason
}

func (x *execution) lastGatewayErr() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.gatewayErr
}

// position returns the innermost snippet position of err, if any.
func (x *execution) position(err error) (line, col int) {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return 0, 0
	}
	stack := evalErr.CallStack
	for i := len(stack) - 1; i >= 0; i-- {
		pos := stack[i].Pos
		if pos.Filename() == x.filename {
			return int(pos.Line), int(pos.Col)
		}
	}
	return 0, 0
}
