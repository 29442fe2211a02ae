// Package toolcodeengine provides an adapter that implements code.Engine
// using runtime.Runtime for execution.
package toolcodeengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/runtime"
)

// Config configures an Engine.
type Config struct {
	// Runtime is the runtime.Runtime to use for execution.
	Runtime runtime.Runtime

	// Profile is the security profile to use for execution.
	Profile runtime.SecurityProfile

	// Modules overrides the profile's module allow-list when non-nil.
	Modules []string
}

// Engine implements code.Engine using a runtime.Runtime backend.
type Engine struct {
	runtime runtime.Runtime
	profile runtime.SecurityProfile
	modules []string
}

// New creates a new Engine with the given configuration.
func New(cfg Config) (*Engine, error) {
	if cfg.Runtime == nil {
		return nil, runtime.ErrRuntimeUnavailable
	}

	profile := cfg.Profile
	if profile == "" {
		profile = runtime.ProfileStandard
	}
	if !profile.IsValid() {
		return nil, fmt.Errorf("%w: unknown profile %q", runtime.ErrBackendDenied, profile)
	}

	return &Engine{
		runtime: cfg.Runtime,
		profile: profile,
		modules: cfg.Modules,
	}, nil
}

// Execute implements code.Engine by delegating to the underlying runtime.
func (e *Engine) Execute(ctx context.Context, params code.ExecuteParams, tools code.Tools) (code.ExecuteResult, error) {
	if e.runtime == nil {
		return code.ExecuteResult{}, runtime.ErrRuntimeUnavailable
	}

	req := runtime.ExecuteRequest{
		Language: params.Language,
		Code:     params.Code,
		Timeout:  params.Timeout,
		Limits: runtime.Limits{
			MaxToolCalls: params.MaxToolCalls,
			MaxSteps:     params.MaxSteps,
			MemoryBytes:  params.MemoryLimit,
		},
		Profile: e.profile,
		Modules: e.modules,
		Gateway: WrapTools(tools),
		State:   params.State,
	}

	result, err := e.runtime.Execute(ctx, req)
	if err != nil {
		return mapResult(result), mapError(err)
	}
	return mapResult(result), nil
}

// mapResult converts runtime.ExecuteResult to code.ExecuteResult. The
// invocation log is collected by the executor from its Tools.
func mapResult(r runtime.ExecuteResult) code.ExecuteResult {
	return code.ExecuteResult{
		Value:      r.Value,
		Stdout:     r.Stdout,
		Stderr:     r.Stderr,
		DurationMs: r.Duration.Milliseconds(),
		MemoryPeak: r.MemoryPeak,
		Steps:      r.Steps,
	}
}

// mapError converts runtime errors to code errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}

	// A limit error raised by the Tools environment keeps its own identity.
	var limitErr *code.ResourceLimitError
	if errors.As(err, &limitErr) {
		return limitErr
	}

	var se *runtime.ScriptError
	if !errors.As(err, &se) {
		switch {
		case errors.Is(err, runtime.ErrMissingGateway),
			errors.Is(err, runtime.ErrRuntimeUnavailable),
			errors.Is(err, runtime.ErrBackendDenied):
			return fmt.Errorf("%w: %w", code.ErrConfiguration, err)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return err
		default:
			return &code.CodeError{Message: err.Error(), Err: err}
		}
	}

	switch {
	case errors.Is(se.Kind, runtime.ErrSyntax):
		return &code.CodeError{Message: se.Message, Line: se.Line, Column: se.Column, Syntax: true, Err: err}
	case errors.Is(se.Kind, runtime.ErrSandboxViolation):
		return &code.ForbiddenImportError{Module: se.Module, Line: se.Line}
	case errors.Is(se.Kind, runtime.ErrTimeout):
		return &code.ResourceLimitError{Resource: "timeout", Err: err}
	case errors.Is(se.Kind, runtime.ErrResourceLimit):
		return &code.ResourceLimitError{Resource: se.Limit, Limit: se.Message, Err: err}
	case errors.Is(se.Cause, context.Canceled):
		return fmt.Errorf("%w: %s", context.Canceled, se.Message)
	default:
		return &code.CodeError{Message: se.Message, Line: se.Line, Column: se.Column, Err: err}
	}
}
