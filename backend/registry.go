package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrServerExists is returned when registering a duplicate server name.
var ErrServerExists = errors.New("server already registered")

// Registry holds the configured tool servers in registration order.
// Registration order is the order used by registry builds, so the
// discovery tree lists servers the way the configuration does.
type Registry struct {
	mu        sync.RWMutex
	backends  map[string]Backend
	order     []string
	factories map[string]Factory
}

// NewRegistry creates an empty server registry.
func NewRegistry() *Registry {
	return &Registry{
		backends:  make(map[string]Backend),
		factories: make(map[string]Factory),
	}
}

// RegisterFactory registers a factory for a server kind.
func (r *Registry) RegisterFactory(kind string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if kind == "" || factory == nil {
		return
	}
	r.factories[kind] = factory
}

// Create builds a server of the given kind with a registered factory and
// registers it.
func (r *Registry) Create(kind, name string) (Backend, error) {
	r.mu.RLock()
	factory, ok := r.factories[kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no factory for server kind %q", kind)
	}
	b, err := factory(name)
	if err != nil {
		return nil, fmt.Errorf("create server %q: %w", name, err)
	}
	if err := r.Register(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Register adds a server to the registry.
func (r *Registry) Register(b Backend) error {
	if b == nil {
		return fmt.Errorf("server is nil")
	}
	name := b.Name()
	if name == "" {
		return fmt.Errorf("server name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.backends[name]; exists {
		return fmt.Errorf("%w: %s", ErrServerExists, name)
	}
	r.backends[name] = b
	r.order = append(r.order, name)
	return nil
}

// Unregister stops and removes a server.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, exists := r.backends[name]
	if !exists {
		return
	}
	_ = b.Stop()
	delete(r.backends, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Get retrieves a server by name.
func (r *Registry) Get(name string) (Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.backends[name]
	return b, ok
}

// List returns all servers in registration order.
func (r *Registry) List() []Backend {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Backend, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.backends[name])
	}
	return out
}

// ListEnabled returns enabled servers only, in registration order.
func (r *Registry) ListEnabled() []Backend {
	all := r.List()
	out := make([]Backend, 0, len(all))
	for _, b := range all {
		if b.Enabled() {
			out = append(out, b)
		}
	}
	return out
}

// Names returns server names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// StartAll starts every enabled server. It stops at the first failure;
// callers that want best-effort startup start servers individually.
func (r *Registry) StartAll(ctx context.Context) error {
	for _, b := range r.ListEnabled() {
		if err := b.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", b.Name(), err)
		}
	}
	return nil
}

// StopAll stops all servers and returns the joined errors.
func (r *Registry) StopAll() error {
	var errs []error
	for _, b := range r.List() {
		if err := b.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
