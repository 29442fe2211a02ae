package code

import (
	"context"
	"errors"
	"time"
)

// Executor is the main entry point for executing code snippets.
// It orchestrates configuration, limits, and result collection.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines; deadline exceeded is reported as ResourceLimitError.
// - Errors: configuration failures return ErrConfiguration; execution failures are
// returned and also described by ExecuteResult.ErrorKind/ErrorMessage.
// - Ownership: params are read-only; returned ExecuteResult is caller-owned.
type Executor interface {
	// ExecuteCode runs a code snippet with the given parameters.
	// It applies configuration defaults, enforces limits, and collects
	// tool call traces and output.
	ExecuteCode(ctx context.Context, params ExecuteParams) (ExecuteResult, error)
}

// DefaultExecutor is the standard implementation of Executor.
type DefaultExecutor struct {
	cfg Config
}

// NewDefaultExecutor creates a new DefaultExecutor with the given configuration.
// Returns ErrConfiguration if any required field is missing.
func NewDefaultExecutor(cfg Config) (*DefaultExecutor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &DefaultExecutor{cfg: cfg}, nil
}

// ExecuteCode runs a code snippet with the given parameters.
func (e *DefaultExecutor) ExecuteCode(ctx context.Context, params ExecuteParams) (ExecuteResult, error) {
	params = e.resolve(params)

	tools := newTools(&e.cfg, params.MaxToolCalls)

	var cancel context.CancelFunc
	if params.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, err := e.cfg.Engine.Execute(ctx, params, tools)
	duration := time.Since(start).Milliseconds()

	result.ToolCalls = tools.GetToolCalls()
	result.DurationMs = duration

	if err != nil && errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ErrResourceLimit) {
		err = &ResourceLimitError{Resource: "timeout", Limit: params.Timeout.String(), Err: err}
	}
	if err != nil {
		result.ErrorKind = Classify(err)
		result.ErrorMessage = err.Error()
		if result.ErrorKind == KindResourceLimit {
			result.ToolCalls = nil
		}
	}

	if e.cfg.Logger != nil {
		if err != nil {
			e.cfg.Logger.Logf("turn %s: %s error after %d tool calls in %dms: %v",
				params.TurnID, result.ErrorKind, len(tools.GetToolCalls()), duration, err)
		} else {
			e.cfg.Logger.Logf("turn %s: executed %d tool calls in %dms",
				params.TurnID, len(result.ToolCalls), duration)
		}
	}

	return result, err
}

// resolve fills unset params from the executor configuration. Per-call
// limits may lower the configured ones but never raise them.
func (e *DefaultExecutor) resolve(params ExecuteParams) ExecuteParams {
	if params.Language == "" {
		params.Language = e.cfg.DefaultLanguage
	}
	if params.Timeout <= 0 || (e.cfg.DefaultTimeout > 0 && params.Timeout > e.cfg.DefaultTimeout) {
		params.Timeout = e.cfg.DefaultTimeout
	}
	if e.cfg.MaxToolCalls > 0 {
		if params.MaxToolCalls <= 0 || params.MaxToolCalls > e.cfg.MaxToolCalls {
			params.MaxToolCalls = e.cfg.MaxToolCalls
		}
	}
	if e.cfg.DefaultMemoryLimit > 0 {
		if params.MemoryLimit <= 0 || params.MemoryLimit > e.cfg.DefaultMemoryLimit {
			params.MemoryLimit = e.cfg.DefaultMemoryLimit
		}
	}
	if params.MaxSteps == 0 || params.MaxSteps > e.cfg.DefaultMaxSteps {
		params.MaxSteps = e.cfg.DefaultMaxSteps
	}
	return params
}
