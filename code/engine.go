package code

import "context"

// Engine is the pluggable code execution engine that runs code snippets
// with access to the Tools environment. Implementations are responsible
// for parsing and executing the code in the specified language.
//
// The Engine should:
//   - Execute the code with access to the provided Tools
//   - Capture the final result (the __out variable convention)
//   - Return captured stdout/stderr, steps and memory peak
//   - Report failures as CodeError, ForbiddenImportError or
//     ResourceLimitError so Classify can categorize them
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: must honor cancellation/deadlines and return ctx.Err() when canceled.
// - Errors: execution failures should return the typed errors above; callers use errors.Is.
// - Ownership: params and Tools are read-only; returned ExecuteResult is caller-owned.
type Engine interface {
	// Execute runs a code snippet with access to the tools environment.
	// It returns the execution result including the final value, output,
	// and any errors encountered.
	Execute(ctx context.Context, params ExecuteParams, tools Tools) (ExecuteResult, error)
}
