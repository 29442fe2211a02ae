package runtime

import (
	"errors"
	"fmt"
)

var (
	ErrMissingGateway      = errors.New("gateway is required")
	ErrRuntimeUnavailable  = errors.New("runtime unavailable")
	ErrBackendDenied       = errors.New("backend denied by policy")
	ErrInvalidRequest      = errors.New("invalid execute request")
	ErrUnsupportedLanguage = errors.New("language not supported")

	// ErrSyntax indicates a snippet that does not parse.
	ErrSyntax = errors.New("syntax error")

	// ErrSandboxViolation indicates a snippet that reached for a forbidden
	// module.
	ErrSandboxViolation = errors.New("sandbox violation")

	// ErrTimeout indicates the wall-clock limit was hit.
	ErrTimeout = errors.New("execution timed out")

	// ErrResourceLimit indicates a step, memory or tool-call limit was hit.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrScript indicates a runtime error raised by the snippet itself.
	ErrScript = errors.New("script error")
)

// ScriptError carries the position and category of a snippet failure.
// Kind is one of this package's sentinels; Cause, when set, is the error
// that aborted the snippet (for example one returned by the gateway).
type ScriptError struct {
	Kind    error
	Message string
	Line    int
	Column  int

	// Module names the forbidden module for sandbox violations.
	Module string

	// Limit names the exhausted resource for limit errors
	// ("timeout", "steps", "memory", "tool_calls").
	Limit string

	Cause error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%v: %s (line %d, col %d)", e.Kind, e.Message, e.Line, e.Column)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Message)
}

// Unwrap exposes both the category sentinel and the cause.
func (e *ScriptError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}
