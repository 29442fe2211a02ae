package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
)

// SecurityProfile selects how much a snippet may do.
type SecurityProfile string

const (
	// ProfileDev additionally allows the time module. Local use only.
	ProfileDev SecurityProfile = "dev"

	// ProfileStandard allows the json and math modules.
	ProfileStandard SecurityProfile = "standard"

	// ProfileHardened allows no modules beyond discovery stubs.
	ProfileHardened SecurityProfile = "hardened"
)

// IsValid reports whether p is a known profile.
func (p SecurityProfile) IsValid() bool {
	switch p {
	case ProfileDev, ProfileStandard, ProfileHardened:
		return true
	}
	return false
}

// Modules returns the modules a snippet may load under p.
func (p SecurityProfile) Modules() []string {
	switch p {
	case ProfileDev:
		return []string{"json", "math", "time"}
	case ProfileStandard:
		return []string{"json", "math"}
	default:
		return nil
	}
}

// BackendKind identifies a sandbox implementation.
type BackendKind string

// BackendStarlark runs snippets in an embedded Starlark interpreter.
const BackendStarlark BackendKind = "starlark"

// Readiness describes how mature a backend is.
type Readiness string

const (
	ReadinessStable Readiness = "stable"
	ReadinessBeta   Readiness = "beta"
)

// BackendInfo describes the backend that ran a request.
type BackendInfo struct {
	Kind      BackendKind    `json:"kind"`
	Readiness Readiness      `json:"readiness"`
	Details   map[string]any `json:"details,omitempty"`
}

// Limits bounds one execution. Zero values mean unlimited.
type Limits struct {
	// MaxToolCalls caps call_tool invocations.
	MaxToolCalls int `json:"maxToolCalls,omitempty"`

	// MaxSteps caps interpreter steps.
	MaxSteps uint64 `json:"maxSteps,omitempty"`

	// MemoryBytes caps heap growth during the execution.
	MemoryBytes int64 `json:"memoryBytes,omitempty"`
}

// LimitsEnforced reports which limits a backend actually applied.
type LimitsEnforced struct {
	Timeout   bool `json:"timeout"`
	Memory    bool `json:"memory"`
	Steps     bool `json:"steps"`
	ToolCalls bool `json:"toolCalls"`
}

// ToolGateway is the capability object handed to a snippet. It is the only
// path from sandboxed code to the outside world.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Errors: any error returned aborts the snippet. Gateways that want the
// snippet to observe a tool failure return it as a value instead. Limit
// violations should match ErrResourceLimit.
// - Ownership: args are read-only; returned values are caller-owned.
type ToolGateway interface {
	// CallTool invokes tool on server and records the call.
	CallTool(ctx context.Context, server, tool string, args map[string]any) (any, error)

	// ListDir lists entry names of a discovery directory.
	ListDir(ctx context.Context, path string) ([]string, error)

	// ReadFile returns the content of a discovery file.
	ReadFile(ctx context.Context, path string) (string, error)

	// SearchTools searches the tool index.
	SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error)

	// DescribeTool documents a "server:tool" id at the given detail level
	// (summary, schema or full).
	DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error)
}

// ExecuteRequest is one snippet execution.
type ExecuteRequest struct {
	// Language of Code. Backends reject languages they do not run.
	Language string `json:"language,omitempty"`

	// Code is the snippet source.
	Code string `json:"code"`

	// Profile selects the backend and module allow-list. Defaults to the
	// runtime's default profile.
	Profile SecurityProfile `json:"profile,omitempty"`

	// Modules overrides the profile's module allow-list when non-nil.
	Modules []string `json:"modules,omitempty"`

	// Timeout bounds wall-clock time. Zero means the context's deadline.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Limits bounds resources.
	Limits Limits `json:"limits"`

	// Gateway is the snippet's only capability. Required.
	Gateway ToolGateway `json:"-"`

	// State, when set, carries top-level definitions from one execution to
	// the next. Nil runs the snippet in fresh globals.
	State *State `json:"-"`
}

// Validate checks the request shape.
func (r ExecuteRequest) Validate() error {
	if r.Gateway == nil {
		return ErrMissingGateway
	}
	if r.Profile != "" && !r.Profile.IsValid() {
		return fmt.Errorf("%w: unknown profile %q", ErrBackendDenied, r.Profile)
	}
	if r.Timeout < 0 || r.Limits.MaxToolCalls < 0 || r.Limits.MemoryBytes < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidRequest)
	}
	return nil
}

// AllowedModules returns the effective module allow-list.
func (r ExecuteRequest) AllowedModules() []string {
	if r.Modules != nil {
		return r.Modules
	}
	p := r.Profile
	if p == "" {
		p = ProfileStandard
	}
	return p.Modules()
}

// ExecuteResult is what a backend observed while running a snippet.
type ExecuteResult struct {
	// Value is the snippet's __out value converted to Go, or nil.
	Value any `json:"value,omitempty"`

	// Stdout holds printed output and the echoed value of a trailing
	// expression.
	Stdout string `json:"stdout,omitempty"`

	// Stderr holds interpreter diagnostics.
	Stderr string `json:"stderr,omitempty"`

	Duration   time.Duration  `json:"duration"`
	Steps      uint64         `json:"steps,omitempty"`
	MemoryPeak int64          `json:"memoryPeak,omitempty"`
	Backend    BackendInfo    `json:"backend"`
	Enforced   LimitsEnforced `json:"limitsEnforced"`
}

// Backend runs requests in one kind of sandbox.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use; each
// Execute gets its own isolated environment.
// - Context: must abort promptly when ctx is done and report ErrTimeout.
// - Errors: use ErrSyntax, ErrSandboxViolation, ErrTimeout, ErrResourceLimit
// and ErrScript (via *ScriptError) so callers can classify failures.
type Backend interface {
	Kind() BackendKind
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}

// Runtime executes snippets.
type Runtime interface {
	Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error)
}
