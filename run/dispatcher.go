package run

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jonwraymond/codemode/registry"
	"go.uber.org/zap"
)

// ToolCall is a structured tool call emitted by a model. Either Server and
// Tool or Name must be set; Name accepts "<server>_<tool>" function names
// and "<server>:<tool>" ids.
type ToolCall struct {
	ID     string         `json:"id,omitempty"`
	Server string         `json:"server,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Name   string         `json:"name,omitempty"`
	Args   map[string]any `json:"arguments,omitempty"`
}

// RunResult is the outcome of one dispatched call.
type RunResult struct {
	Server      string        `json:"server"`
	Tool        string        `json:"tool"`
	Structured  any           `json:"structured,omitempty"`
	Text        string        `json:"text"`
	BackendKind string        `json:"backendKind,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// Runner runs a tool by server and tool name.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines.
// - Errors: unknown tools match registry.ErrNotFound, bad arguments
// ErrValidation, server failures ErrToolInvocation.
type Runner interface {
	Run(ctx context.Context, server, tool string, args map[string]any) (RunResult, error)
}

// Dispatcher resolves and invokes tool calls against one snapshot.
type Dispatcher struct {
	snap *registry.Snapshot
	cfg  Config
}

// NewDispatcher creates a dispatcher bound to snap.
func NewDispatcher(snap *registry.Snapshot, opts ...ConfigOption) (*Dispatcher, error) {
	if snap == nil {
		return nil, registry.ErrNoSnapshot
	}
	cfg := Config{ValidateInput: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Invoker == nil {
		return nil, errors.New("run: Invoker is required")
	}
	cfg.applyDefaults()
	return &Dispatcher{snap: snap, cfg: cfg}, nil
}

// Snapshot returns the snapshot the dispatcher resolves against.
func (d *Dispatcher) Snapshot() *registry.Snapshot {
	return d.snap
}

// Resolve finds the descriptor a call refers to.
func (d *Dispatcher) Resolve(call ToolCall) (registry.ToolDescriptor, error) {
	if call.Server != "" || call.Tool != "" {
		return d.snap.Lookup(call.Server, call.Tool)
	}
	name := strings.TrimSpace(call.Name)
	if name == "" {
		return registry.ToolDescriptor{}, fmt.Errorf("%w: no tool named", ErrInvalidCall)
	}
	if server, tool, ok := strings.Cut(name, ":"); ok {
		return d.snap.Lookup(server, tool)
	}

	// Server names may themselves contain underscores; prefer the longest.
	servers := d.snap.Servers()
	sort.SliceStable(servers, func(i, j int) bool { return len(servers[i]) > len(servers[j]) })
	for _, server := range servers {
		tool, ok := strings.CutPrefix(name, server+"_")
		if !ok {
			continue
		}
		if desc, err := d.snap.Lookup(server, tool); err == nil {
			return desc, nil
		}
	}
	return registry.ToolDescriptor{}, &registry.NotFoundError{Tool: name}
}

// Dispatch validates and invokes a tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call ToolCall) (RunResult, error) {
	desc, err := d.Resolve(call)
	if err != nil {
		return RunResult{}, err
	}
	res := RunResult{Server: desc.Server, Tool: desc.Name}
	res.BackendKind, _ = d.snap.ServerKind(desc.Server)

	if d.cfg.ValidateInput {
		if err := d.cfg.Validator.Validate(desc, call.Args); err != nil {
			d.cfg.Logger.Debug("rejected tool call",
				zap.String("tool", desc.ID()),
				zap.Error(err),
			)
			return res, err
		}
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	start := time.Now()
	out, err := d.cfg.Invoker.Call(ctx, desc.Server, desc.Name, args)
	res.Duration = time.Since(start)
	if err != nil {
		d.cfg.Logger.Info("tool call failed",
			zap.String("tool", desc.ID()),
			zap.Duration("duration", res.Duration),
			zap.Error(err),
		)
		return res, &ToolError{Server: desc.Server, Tool: desc.Name, BackendKind: res.BackendKind, Err: err}
	}

	res.Structured = out
	res.Text = FlattenText(out)
	d.cfg.Logger.Debug("dispatched tool call",
		zap.String("tool", desc.ID()),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// Run implements Runner.
func (d *Dispatcher) Run(ctx context.Context, server, tool string, args map[string]any) (RunResult, error) {
	return d.Dispatch(ctx, ToolCall{Server: server, Tool: tool, Args: args})
}

// FlattenText renders a tool result as the text a model would see.
func FlattenText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case fmt.Stringer:
		return t.String()
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
