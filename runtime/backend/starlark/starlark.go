// Package starlark provides the in-process sandbox backend. Snippets run in
// an embedded Starlark interpreter whose only capabilities are the bridge
// builtins bound to the request's gateway.
package starlark

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"go.starlark.net/lib/json"
	"go.starlark.net/lib/math"
	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"github.com/jonwraymond/codemode/runtime"
)

// Snippets are written like Python scripts: top-level loops, while loops and
// rebinding globals are all allowed.
func init() {
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = true
	resolve.AllowSet = true
}

const (
	// OutVar is the global a snippet assigns to return a structured value.
	OutVar = "__out"

	// echoVar receives the value of a trailing expression statement.
	echoVar = "_last_value"

	// DefaultFilename names snippets in error positions.
	DefaultFilename = "snippet.star"

	// DefaultCheckSteps is how many interpreter steps run between memory
	// checkpoints.
	DefaultCheckSteps = 10_000
)

// Languages lists the language names this backend accepts.
var Languages = []string{"starlark", "python", "py"}

// modules maps allow-list names to the Starlark modules they load.
var modules = map[string]starlark.Value{
	"json": json.Module,
	"math": math.Module,
	"time": startime.Module,
}

// Config configures a Starlark backend.
type Config struct {
	// Filename names the snippet in positions and tracebacks.
	// Default: DefaultFilename
	Filename string

	// CheckSteps is the minimum number of steps between memory
	// checkpoints. Default: DefaultCheckSteps
	CheckSteps uint64

	// Logger receives execution events. Nil means no logging.
	Logger *zap.Logger
}

// Backend executes snippets in an embedded Starlark interpreter.
type Backend struct {
	filename   string
	checkSteps uint64
	logger     *zap.Logger
}

// New creates a Starlark backend with the given configuration.
func New(cfg Config) *Backend {
	filename := cfg.Filename
	if filename == "" {
		filename = DefaultFilename
	}
	checkSteps := cfg.CheckSteps
	if checkSteps == 0 {
		checkSteps = DefaultCheckSteps
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backend{
		filename:   filename,
		checkSteps: checkSteps,
		logger:     logger,
	}
}

// Kind returns the backend kind identifier.
func (b *Backend) Kind() runtime.BackendKind {
	return runtime.BackendStarlark
}

// Execute runs req.Code. Every call gets a fresh interpreter thread. Without
// req.State the globals are fresh too. With it, the frozen top-level
// definitions of earlier successful runs are visible as predeclared names,
// and a successful run adds its own.
func (b *Backend) Execute(ctx context.Context, req runtime.ExecuteRequest) (runtime.ExecuteResult, error) {
	if err := req.Validate(); err != nil {
		return runtime.ExecuteResult{}, err
	}
	if !supportedLanguage(req.Language) {
		return runtime.ExecuteResult{}, fmt.Errorf("%w: %s", runtime.ErrUnsupportedLanguage, req.Language)
	}

	profile := req.Profile
	if profile == "" {
		profile = runtime.ProfileStandard
	}
	info := b.backendInfo(profile)
	enforced := runtime.LimitsEnforced{
		Timeout:   true,
		Memory:    req.Limits.MemoryBytes > 0,
		Steps:     req.Limits.MaxSteps > 0,
		ToolCalls: req.Limits.MaxToolCalls > 0,
	}

	allowed := make(map[string]bool)
	for _, m := range req.AllowedModules() {
		allowed[m] = true
	}

	var carried starlark.StringDict
	if req.State != nil {
		carried, _ = req.State.Load(runtime.BackendStarlark).(starlark.StringDict)
	}

	prog, err := b.compile(req.Code, allowed, carried)
	if err != nil {
		return runtime.ExecuteResult{Backend: info, Enforced: enforced}, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	x := &execution{
		ctx:      ctx,
		gateway:  req.Gateway,
		allowed:  allowed,
		filename: b.filename,
		loaded:   make(map[string]starlark.StringDict),
	}
	env := builtins
	if len(carried) > 0 {
		env = make(starlark.StringDict, len(carried)+len(builtins))
		for name, v := range carried {
			env[name] = v
		}
		for name, v := range builtins {
			env[name] = v
		}
	}

	thread := &starlark.Thread{
		Name:  "snippet",
		Print: func(_ *starlark.Thread, msg string) { x.print(msg) },
		Load:  x.load,
	}
	thread.SetLocal(executionKey, x)
	var meter *memoryMeter
	if req.Limits.MemoryBytes > 0 {
		meter = &memoryMeter{x: x, limit: req.Limits.MemoryBytes, maxSteps: req.Limits.MaxSteps, every: b.checkSteps, carried: carried}
		meter.install(thread)
	} else if req.Limits.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(req.Limits.MaxSteps)
	}

	start := time.Now()
	stop := b.watch(ctx, thread, x)
	globals, err := prog.Init(thread, env)
	stop()

	var peak int64
	if meter != nil {
		peak = meter.peak
	}
	if err == nil {
		peak = max(peak, globalsSize(carried, globals))
	}

	res := runtime.ExecuteResult{
		Duration:   time.Since(start),
		Steps:      thread.ExecutionSteps(),
		MemoryPeak: peak,
		Backend:    info,
		Enforced:   enforced,
	}
	if err != nil {
		res.Stdout = x.output()
		err = b.classify(err, x, thread, req.Limits)
		b.logger.Debug("snippet failed",
			zap.String("profile", string(profile)),
			zap.Uint64("steps", res.Steps),
			zap.Error(err),
		)
		return res, err
	}

	if v, ok := globals[echoVar]; ok && v != starlark.None {
		x.print(v.String())
	}
	res.Stdout = x.output()
	if v, ok := globals[OutVar]; ok {
		res.Value = fromStarlark(v)
	}
	if req.State != nil {
		req.State.Store(runtime.BackendStarlark, carry(carried, globals))
	}
	return res, nil
}

// carry merges a finished run's globals over the carried ones and freezes
// the result. The echo slot and the output slot describe a single run and
// are not carried.
func carry(prev, globals starlark.StringDict) starlark.StringDict {
	next := make(starlark.StringDict, len(prev)+len(globals))
	for name, v := range prev {
		next[name] = v
	}
	for name, v := range globals {
		if name == echoVar || name == OutVar {
			continue
		}
		next[name] = v
	}
	next.Freeze()
	return next
}

// compile runs every static check and produces a program. Nothing in the
// snippet executes before compile succeeds.
func (b *Backend) compile(src string, allowed map[string]bool, carried starlark.StringDict) (*starlark.Program, error) {
	src, err := rewriteImports(src, allowed)
	if err != nil {
		return nil, err
	}

	f, err := syntax.Parse(b.filename, src, 0)
	if err != nil {
		return nil, syntaxError(err)
	}

	for _, stmt := range f.Stmts {
		load, ok := stmt.(*syntax.LoadStmt)
		if !ok {
			continue
		}
		module, _ := load.Module.Value.(string)
		if isStubPath(module) || allowed[module] {
			continue
		}
		pos, _ := load.Span()
		return nil, violation(module, int(pos.Line), int(pos.Col))
	}

	// A trailing expression is echoed like an interactive prompt would.
	if n := len(f.Stmts); n > 0 {
		if es, ok := f.Stmts[n-1].(*syntax.ExprStmt); ok {
			pos, _ := es.X.Span()
			f.Stmts[n-1] = &syntax.AssignStmt{
				OpPos: pos,
				Op:    syntax.EQ,
				LHS:   &syntax.Ident{NamePos: pos, Name: echoVar},
				RHS:   es.X,
			}
		}
	}

	prog, err := starlark.FileProgram(f, func(name string) bool {
		return isBuiltin(name) || carried.Has(name)
	})
	if err != nil {
		return nil, syntaxError(err)
	}
	return prog, nil
}

// watch cancels the thread when ctx is done. The returned function stops
// the watchdog.
func (b *Backend) watch(ctx context.Context, thread *starlark.Thread, x *execution) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				x.abort("timeout")
			} else {
				x.abort("cancelled")
			}
			thread.Cancel(x.abortReason())
		case <-done:
		}
	}()

	return func() {
		close(done)
		wg.Wait()
	}
}

// classify maps an interpreter error onto the runtime error categories.
func (b *Backend) classify(err error, x *execution, thread *starlark.Thread, limits runtime.Limits) error {
	line, col := x.position(err)
	msg := err.Error()
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		msg = evalErr.Msg
	}

	reason := x.abortReason()
	if reason == "" {
		// A builtin can observe the deadline before the watchdog does.
		switch {
		case errors.Is(x.ctx.Err(), context.DeadlineExceeded):
			reason = "timeout"
		case x.ctx.Err() != nil:
			reason = "cancelled"
		}
	}
	switch reason {
	case "timeout":
		return &runtime.ScriptError{Kind: runtime.ErrTimeout, Message: "execution timed out", Line: line, Column: col, Limit: "timeout", Cause: context.DeadlineExceeded}
	case "cancelled":
		return &runtime.ScriptError{Kind: runtime.ErrScript, Message: "execution cancelled", Line: line, Column: col, Cause: context.Canceled}
	case "memory":
		return &runtime.ScriptError{Kind: runtime.ErrResourceLimit, Message: fmt.Sprintf("memory limit of %d bytes exceeded", limits.MemoryBytes), Line: line, Column: col, Limit: "memory"}
	}

	if limits.MaxSteps > 0 && thread.ExecutionSteps() >= limits.MaxSteps {
		return &runtime.ScriptError{Kind: runtime.ErrResourceLimit, Message: fmt.Sprintf("step limit of %d exceeded", limits.MaxSteps), Line: line, Column: col, Limit: "steps"}
	}

	// Errors returned by the gateway abort the snippet; keep them reachable.
	if gwErr := x.lastGatewayErr(); gwErr != nil {
		if errors.Is(gwErr, runtime.ErrResourceLimit) {
			return &runtime.ScriptError{Kind: runtime.ErrResourceLimit, Message: gwErr.Error(), Line: line, Column: col, Limit: "tool_calls", Cause: gwErr}
		}
		return &runtime.ScriptError{Kind: runtime.ErrScript, Message: msg, Line: line, Column: col, Cause: gwErr}
	}
	var violationErr *runtime.ScriptError
	if errors.As(err, &violationErr) && errors.Is(violationErr.Kind, runtime.ErrSandboxViolation) {
		violationErr.Line, violationErr.Column = line, col
		return violationErr
	}
	return &runtime.ScriptError{Kind: runtime.ErrScript, Message: msg, Line: line, Column: col, Cause: unwrapEval(err)}
}

func (b *Backend) backendInfo(profile runtime.SecurityProfile) runtime.BackendInfo {
	return runtime.BackendInfo{
		Kind:      runtime.BackendStarlark,
		Readiness: runtime.ReadinessStable,
		Details: map[string]any{
			"profile":  string(profile),
			"filename": b.filename,
		},
	}
}

// unwrapEval returns the innermost non-interpreter error, or err itself.
func unwrapEval(err error) error {
	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return err
	}
	if cause := errors.Unwrap(evalErr); cause != nil {
		return cause
	}
	return err
}

// syntaxError converts parse and resolve errors into ScriptErrors.
func syntaxError(err error) error {
	var serr syntax.Error
	if errors.As(err, &serr) {
		return &runtime.ScriptError{Kind: runtime.ErrSyntax, Message: serr.Msg, Line: int(serr.Pos.Line), Column: int(serr.Pos.Col)}
	}
	var list resolve.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return &runtime.ScriptError{Kind: runtime.ErrSyntax, Message: first.Msg, Line: int(first.Pos.Line), Column: int(first.Pos.Col)}
	}
	return &runtime.ScriptError{Kind: runtime.ErrSyntax, Message: err.Error()}
}

func supportedLanguage(lang string) bool {
	if lang == "" {
		return true
	}
	lang = strings.ToLower(lang)
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// isStubPath reports whether module names a discovery stub rather than a
// library module.
func isStubPath(module string) bool {
	return path.Ext(module) == ".star"
}

var _ runtime.Backend = (*Backend)(nil)
