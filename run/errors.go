package run

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation indicates arguments that do not match a tool's schema.
	ErrValidation = errors.New("argument validation failed")

	// ErrToolInvocation indicates a failure reported by the tool server.
	ErrToolInvocation = errors.New("tool invocation failed")

	// ErrInvalidCall indicates a tool call that names no tool.
	ErrInvalidCall = errors.New("invalid tool call")
)

// ValidationError describes the first argument that failed validation.
type ValidationError struct {
	Server string
	Tool   string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s:%s: invalid arguments: %s", e.Server, e.Tool, e.Reason)
	}
	return fmt.Sprintf("%s:%s: argument %q: %s", e.Server, e.Tool, e.Field, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// ToolError wraps a failure from the server that ran a tool.
type ToolError struct {
	Server      string
	Tool        string
	BackendKind string
	Err         error
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s:%s failed: %v", e.Server, e.Tool, e.Err)
}

// Unwrap returns the underlying error.
func (e *ToolError) Unwrap() error {
	return e.Err
}

// Is matches ErrToolInvocation.
func (e *ToolError) Is(target error) bool {
	return target == ErrToolInvocation
}
