// Package local provides an in-process tool server whose tools are Go
// handler functions. It stands in for external servers in tests and
// demos (for example a fixed-response "time" server).
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/toolfoundation/model"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// HandlerFunc is the function signature for tool handlers.
type HandlerFunc func(ctx context.Context, args map[string]any) (any, error)

// ToolDef defines a local tool with its handler.
type ToolDef struct {
	Name        string
	Title       string
	Description string
	InputSchema map[string]any
	Tags        []string
	Handler     HandlerFunc
}

// Backend implements backend.Backend for local tool handlers. Tools are
// listed in registration order.
type Backend struct {
	name     string
	enabled  bool
	handlers map[string]ToolDef
	order    []string
	mu       sync.RWMutex
}

// New creates a new local server.
func New(name string) *Backend {
	return &Backend{
		name:     name,
		enabled:  true,
		handlers: make(map[string]ToolDef),
	}
}

// Kind returns the server kind.
func (b *Backend) Kind() string {
	return "local"
}

// Name returns the server name.
func (b *Backend) Name() string {
	return b.name
}

// Enabled returns whether the server is enabled.
func (b *Backend) Enabled() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.enabled
}

// SetEnabled enables or disables the server.
func (b *Backend) SetEnabled(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

// RegisterHandler registers a tool handler. Re-registering a name replaces
// the definition but keeps its original position.
func (b *Backend) RegisterHandler(name string, def ToolDef) {
	if def.Name == "" {
		def.Name = name
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[name]; !exists {
		b.order = append(b.order, name)
	}
	b.handlers[name] = def
}

// UnregisterHandler removes a tool handler.
func (b *Backend) UnregisterHandler(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.handlers[name]; !exists {
		return
	}
	delete(b.handlers, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i:i], b.order[i+1:]...)
			break
		}
	}
}

// ListTools returns the registered tools in registration order.
func (b *Backend) ListTools(_ context.Context) ([]model.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]model.Tool, 0, len(b.order))
	for _, name := range b.order {
		def := b.handlers[name]
		schema := def.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		out = append(out, model.Tool{
			Tool: mcp.Tool{
				Name:        def.Name,
				Title:       def.Title,
				Description: def.Description,
				InputSchema: schema,
			},
			Namespace: b.name,
			Tags:      model.NormalizeTags(def.Tags),
		})
	}
	return out, nil
}

// Execute invokes a tool handler.
func (b *Backend) Execute(ctx context.Context, tool string, args map[string]any) (any, error) {
	b.mu.RLock()
	enabled := b.enabled
	def, ok := b.handlers[tool]
	b.mu.RUnlock()

	if !enabled {
		return nil, backend.ErrServerDisabled
	}
	if !ok || def.Handler == nil {
		return nil, fmt.Errorf("%w: %s/%s", backend.ErrToolNotFound, b.name, tool)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return def.Handler(ctx, args)
}

// Start is a no-op for local servers.
func (b *Backend) Start(_ context.Context) error {
	return nil
}

// Stop is a no-op for local servers.
func (b *Backend) Stop() error {
	return nil
}
