package code

import (
	"time"

	"github.com/jonwraymond/codemode/runtime"
)

// ToolCallRecord captures one call_tool invocation made by a snippet. The
// ordered list of records is the execution's invocation log.
type ToolCallRecord struct {
	// ToolID is the "server:tool" identifier of the tool that was called.
	ToolID string `json:"toolId"`

	Server string `json:"server"`
	Tool   string `json:"tool"`

	// Args contains the arguments passed to the tool.
	Args map[string]any `json:"args,omitempty"`

	// Structured contains the result of a successful call.
	Structured any `json:"structured,omitempty"`

	// BackendKind indicates which server kind executed the tool (mcp, local).
	BackendKind string `json:"backendKind,omitempty"`

	// Error contains the error message if the tool call failed.
	Error string `json:"error,omitempty"`

	// ErrorKind is the Classify kind of a failed call.
	ErrorKind Kind `json:"errorKind,omitempty"`

	// ErrorOp indicates the operation that failed (e.g., "call_tool").
	ErrorOp string `json:"errorOp,omitempty"`

	// DurationMs is the execution time in milliseconds.
	DurationMs int64 `json:"durationMs"`
}

// ExecuteParams specifies the parameters for executing a code snippet.
type ExecuteParams struct {
	// TurnID identifies the conversation turn the snippet belongs to.
	TurnID string `json:"turnId,omitempty"`

	// Language specifies the programming language of the code snippet.
	// If empty, the executor's default language is used.
	Language string `json:"language"`

	// Code is the source code to execute.
	Code string `json:"code"`

	// Timeout specifies the maximum duration for execution.
	// If zero, the executor's default timeout is used.
	Timeout time.Duration `json:"timeout"`

	// MaxToolCalls limits the number of tool invocations allowed.
	// If zero, the executor's configured limit applies (or unlimited if none).
	MaxToolCalls int `json:"maxToolCalls,omitempty"`

	// MemoryLimit caps heap growth in bytes. Zero uses the executor default.
	MemoryLimit int64 `json:"memoryLimit,omitempty"`

	// MaxSteps caps interpreter steps. Zero uses the executor default.
	MaxSteps uint64 `json:"maxSteps,omitempty"`

	// State carries top-level definitions between the snippets of one
	// conversation. Nil gives every snippet fresh globals.
	State *runtime.State `json:"-"`
}

// ExecuteResult contains the outcome of executing a code snippet.
type ExecuteResult struct {
	// Value is the final result of the code execution, from the __out
	// variable convention.
	Value any `json:"value,omitempty"`

	// Stdout contains printed output and the echo of a trailing expression.
	Stdout string `json:"stdout,omitempty"`

	// Stderr contains any error output from the execution.
	Stderr string `json:"stderr,omitempty"`

	// ToolCalls records all tool invocations made during execution. It is
	// nil when the execution was aborted by a timeout or resource limit.
	ToolCalls []ToolCallRecord `json:"toolCalls,omitempty"`

	// DurationMs is the total execution time in milliseconds.
	DurationMs int64 `json:"durationMs"`

	// MemoryPeak is the largest heap growth observed, in bytes.
	MemoryPeak int64 `json:"memoryPeak,omitempty"`

	// Steps is the number of interpreter steps executed.
	Steps uint64 `json:"steps,omitempty"`

	// ErrorKind and ErrorMessage describe a failed execution.
	ErrorKind    Kind   `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Failed reports whether the execution ended with an error.
func (r ExecuteResult) Failed() bool {
	return r.ErrorKind != ""
}
