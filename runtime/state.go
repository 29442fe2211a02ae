package runtime

import "sync"

// State is what a backend keeps between the executions of one
// conversation. Each backend stores its own value under its kind; the
// value's type is private to that backend.
//
// A State is safe for concurrent use, but executions sharing one should be
// serialized by the caller so that each sees the previous one's result.
type State struct {
	mu     sync.Mutex
	values map[BackendKind]any
}

// NewState returns an empty state.
func NewState() *State {
	return &State{values: make(map[BackendKind]any)}
}

// Load returns the value stored for kind, or nil.
func (s *State) Load(kind BackendKind) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[kind]
}

// Store replaces the value stored for kind.
func (s *State) Store(kind BackendKind, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[kind] = v
}

// Reset drops every stored value.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.values)
}
