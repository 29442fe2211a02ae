package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jonwraymond/toolfoundation/model"
	"golang.org/x/sync/semaphore"
)

// ErrInvalidToolID is returned for malformed tool IDs.
var ErrInvalidToolID = errors.New("invalid tool ID format")

// Aggregator routes tool invocations to the registered servers. It is the
// single place where a tool call leaves the process, so calls to one
// server are serialized through a per-server lock. Waiting for the lock
// honors the caller's context.
type Aggregator struct {
	registry *Registry

	mu    sync.Mutex
	locks map[string]*semaphore.Weighted
}

// NewAggregator creates a new tool aggregator.
func NewAggregator(registry *Registry) *Aggregator {
	return &Aggregator{
		registry: registry,
		locks:    make(map[string]*semaphore.Weighted),
	}
}

// Registry returns the underlying server registry.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// ListAllTools returns tools from all enabled servers, stamping each tool's
// namespace with its server name.
func (a *Aggregator) ListAllTools(ctx context.Context) ([]model.Tool, error) {
	all := make([]model.Tool, 0)

	for _, b := range a.registry.ListEnabled() {
		tools, err := b.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", b.Name(), err)
		}
		for i := range tools {
			tools[i].Namespace = b.Name()
			all = append(all, tools[i])
		}
	}

	return all, nil
}

// Call invokes tool on the named server.
func (a *Aggregator) Call(ctx context.Context, server, tool string, args map[string]any) (any, error) {
	b, ok := a.registry.Get(server)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrServerNotFound, server)
	}
	if !b.Enabled() {
		return nil, fmt.Errorf("%w: %s", ErrServerDisabled, server)
	}

	lock := a.serverLock(server)
	if err := lock.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for %s: %w", server, err)
	}
	defer lock.Release(1)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return b.Execute(ctx, tool, args)
}

// Execute invokes a tool by its "server:tool" identifier.
func (a *Aggregator) Execute(ctx context.Context, toolID string, args map[string]any) (any, error) {
	server, tool, err := ParseToolID(toolID)
	if err != nil {
		return nil, err
	}
	return a.Call(ctx, server, tool, args)
}

func (a *Aggregator) serverLock(server string) *semaphore.Weighted {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[server]
	if !ok {
		l = semaphore.NewWeighted(1)
		a.locks[server] = l
	}
	return l
}

// ParseToolID splits a "server:tool" ID into server and tool name.
func ParseToolID(id string) (server, tool string, err error) {
	server, tool, err = model.ParseToolID(id)
	if err != nil || server == "" || tool == "" || strings.Contains(tool, ":") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidToolID, id)
	}
	return server, tool, nil
}

// FormatToolID builds a tool ID from server and tool name.
func FormatToolID(server, tool string) string {
	if server == "" {
		return tool
	}
	return server + ":" + tool
}
