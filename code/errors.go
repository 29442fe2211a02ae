package code

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/tooldiscovery/tooldoc"

	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
)

// Sentinel errors for error classification.
var (
	// ErrCodeExecution indicates an error raised by the snippet itself.
	ErrCodeExecution = errors.New("code execution error")

	// ErrConfiguration indicates an invalid or incomplete configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrLimitExceeded indicates that an execution limit was reached,
	// such as timeout or maximum tool calls.
	ErrLimitExceeded = errors.New("limit exceeded")

	// ErrResourceLimit indicates a timeout, step, memory or tool-call
	// ceiling aborted the snippet. Errors matching it also match
	// ErrLimitExceeded.
	ErrResourceLimit = errors.New("resource limit exceeded")

	// ErrSyntax indicates a snippet that does not parse.
	ErrSyntax = errors.New("syntax error")

	// ErrForbiddenImport indicates a snippet that loads a module outside the
	// allow-list.
	ErrForbiddenImport = errors.New("forbidden import")

	// ErrToolInvocation indicates a tool call that failed on its server.
	ErrToolInvocation = run.ErrToolInvocation
)

// ToolInvocationError is the error recorded for a failing call_tool.
type ToolInvocationError = run.ToolError

// CodeError represents an error that occurred during code snippet execution.
// It includes optional source location information for debugging.
type CodeError struct {
	// Message describes the error.
	Message string

	// Line is the 1-based line number where the error occurred.
	// Zero indicates the line is unknown.
	Line int

	// Column is the 1-based column number where the error occurred.
	// Zero indicates the column is unknown.
	Column int

	// Syntax marks parse failures; they also match ErrSyntax.
	Syntax bool

	// Err is the underlying error, if any.
	Err error
}

// Error returns the error message, including line and column if available.
func (e *CodeError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s (line %d, col %d)", e.Message, e.Line, e.Column)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is and errors.As.
func (e *CodeError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target.
// CodeError matches ErrCodeExecution to allow sentinel-style error checking.
func (e *CodeError) Is(target error) bool {
	return target == ErrCodeExecution || (e.Syntax && target == ErrSyntax)
}

// ResourceLimitError reports which ceiling aborted a snippet.
type ResourceLimitError struct {
	// Resource is one of "timeout", "steps", "memory", "tool_calls".
	Resource string

	// Limit is the configured ceiling, formatted for humans.
	Limit string

	Err error
}

func (e *ResourceLimitError) Error() string {
	msg := fmt.Sprintf("resource limit exceeded: %s", e.Resource)
	if e.Limit != "" {
		msg += " (" + e.Limit + ")"
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ResourceLimitError) Unwrap() error {
	return e.Err
}

// Is matches ErrResourceLimit and ErrLimitExceeded.
func (e *ResourceLimitError) Is(target error) bool {
	return target == ErrResourceLimit || target == ErrLimitExceeded
}

// ForbiddenImportError names the module a snippet was not allowed to load.
type ForbiddenImportError struct {
	Module string
	Line   int
}

func (e *ForbiddenImportError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("forbidden import: %q (line %d)", e.Module, e.Line)
	}
	return fmt.Sprintf("forbidden import: %q", e.Module)
}

// Is matches ErrForbiddenImport.
func (e *ForbiddenImportError) Is(target error) bool {
	return target == ErrForbiddenImport
}

// Kind names a failure category for orchestrators.
type Kind string

const (
	KindSyntax          Kind = "syntax"
	KindResourceLimit   Kind = "resource_limit"
	KindForbiddenImport Kind = "forbidden_import"
	KindToolInvocation  Kind = "tool_invocation"
	KindExecution       Kind = "execution"
	KindNotFound        Kind = "not_found"
	KindValidation      Kind = "validation"
	KindConfiguration   Kind = "configuration"
)

// Classify returns the failure category of err, or "" for nil.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrForbiddenImport):
		return KindForbiddenImport
	case errors.Is(err, ErrSyntax):
		return KindSyntax
	case errors.Is(err, ErrResourceLimit), errors.Is(err, ErrLimitExceeded),
		errors.Is(err, context.DeadlineExceeded):
		return KindResourceLimit
	case errors.Is(err, run.ErrValidation):
		return KindValidation
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, tooldoc.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrToolInvocation):
		return KindToolInvocation
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	default:
		return KindExecution
	}
}
