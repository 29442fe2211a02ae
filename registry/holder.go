package registry

import (
	"context"
	"sync"
)

// Holder carries the current snapshot. Readers hold a shared lease while
// they use a snapshot; Update takes the exclusive lock, so a rebuild never
// overlaps an execution.
type Holder struct {
	mu   sync.RWMutex
	snap *Snapshot
}

// NewHolder returns a holder seeded with s, which may be nil.
func NewHolder(s *Snapshot) *Holder {
	return &Holder{snap: s}
}

// Current returns the snapshot without taking a lease.
func (h *Holder) Current() *Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.snap
}

// Acquire returns the current snapshot under a shared lease. The caller
// must call release exactly once.
func (h *Holder) Acquire() (s *Snapshot, release func()) {
	h.mu.RLock()
	var once sync.Once
	return h.snap, func() { once.Do(h.mu.RUnlock) }
}

// Swap installs s and returns the previous snapshot.
func (h *Holder) Swap(s *Snapshot) *Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	prev := h.snap
	h.snap = s
	return prev
}

// Update runs fn while holding the exclusive lock and installs the snapshot
// it returns. It returns the installed snapshot, or nil when fn returned nil
// and the current one stays in place. The error from fn is returned even
// when a snapshot was installed, so partial builds surface their discovery
// errors. fn must not call methods on h.
func (h *Holder) Update(ctx context.Context, fn func(ctx context.Context, current *Snapshot) (*Snapshot, error)) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	next, err := fn(ctx, h.snap)
	if next != nil {
		h.snap = next
	}
	return next, err
}
