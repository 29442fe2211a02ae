package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry operations.
var (
	// ErrNotFound indicates a lookup of an unknown server or tool.
	ErrNotFound = errors.New("tool not found")

	// ErrDiscovery indicates a server could not be queried during a build.
	ErrDiscovery = errors.New("discovery failed")

	// ErrNoServers indicates a build where no server could be queried.
	ErrNoServers = errors.New("no servers reachable")

	// ErrNoSnapshot indicates that a store holds no snapshot yet.
	ErrNoSnapshot = errors.New("no registry snapshot")

	// ErrInvalidSnapshot indicates a snapshot that violates the uniqueness invariants.
	ErrInvalidSnapshot = errors.New("invalid registry snapshot")
)

// NotFoundError reports the server/tool pair that a lookup failed on.
type NotFoundError struct {
	Server string
	Tool   string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Tool == "":
		return fmt.Sprintf("server %q not found", e.Server)
	case e.Server == "":
		return fmt.Sprintf("tool %q not found", e.Tool)
	}
	return fmt.Sprintf("tool %q not found on server %q", e.Tool, e.Server)
}

// Is matches ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// DiscoveryError reports a server skipped during a build.
type DiscoveryError struct {
	Server string
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Server, e.Err)
}

// Unwrap returns the underlying error.
func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// Is matches ErrDiscovery.
func (e *DiscoveryError) Is(target error) bool {
	return target == ErrDiscovery
}
