package backend

import (
	"context"
	"errors"

	"github.com/jonwraymond/toolfoundation/model"
)

// Common errors for server operations.
var (
	ErrServerNotFound    = errors.New("server not found")
	ErrServerDisabled    = errors.New("server disabled")
	ErrToolNotFound      = errors.New("tool not found on server")
	ErrServerUnavailable = errors.New("server unavailable")
	ErrToolFailed        = errors.New("tool reported failure")
)

// Backend is one external tool server. Its tools are listed during a
// registry build and invoked by the dispatcher and the sandbox bridge.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: methods must honor cancellation/deadlines.
// - Errors: use ErrServerDisabled/ErrToolNotFound/ErrServerUnavailable/ErrToolFailed where applicable.
type Backend interface {
	// Kind returns the server type (e.g., "local", "mcp").
	Kind() string

	// Name returns the unique server name. It becomes the first path
	// element of every tool in the discovery tree.
	Name() string

	// Enabled returns whether this server is currently enabled.
	Enabled() bool

	// ListTools returns the tools exposed by this server, in the order the
	// server reports them.
	ListTools(ctx context.Context) ([]model.Tool, error)

	// Execute invokes a tool on this server.
	Execute(ctx context.Context, tool string, args map[string]any) (any, error)

	// Start connects to the server (spawn subprocess, open session, ...).
	Start(ctx context.Context) error

	// Stop shuts the server connection down.
	Stop() error
}

// Factory creates a server backend from its configured name.
type Factory func(name string) (Backend, error)

// Info contains metadata about a server.
type Info struct {
	Kind    string `json:"kind"`
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
}

// Describe returns the Info for b.
func Describe(b Backend) Info {
	return Info{Kind: b.Kind(), Name: b.Name(), Enabled: b.Enabled()}
}
