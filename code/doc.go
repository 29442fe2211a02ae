// Package code provides the code-mode orchestration layer: it runs a
// model-written snippet in a sandbox whose only route to the outside world
// is a small tool environment.
//
// # Architecture
//
// The package defines three main interfaces:
//
//   - [Tools]: The environment exposed to snippets. CallTool reaches a tool
//     server through the dispatcher; ListDir and ReadFile browse the
//     discovery tree; SearchTools queries the snapshot's search index.
//
//   - [Engine]: The pluggable code execution engine that runs snippets with
//     access to the Tools environment.
//
//   - [Executor]: The main entry point that orchestrates execution, applying
//     defaults, enforcing limits, and collecting results.
//
// # Execution Limits
//
// Timeout, interpreter steps, heap growth and tool calls are all bounded.
// Hitting any of them aborts the snippet with a [ResourceLimitError]; the
// partial invocation log of an aborted run is discarded.
//
// # Tool Call Tracing
//
// Every call_tool invocation is recorded in a [ToolCallRecord] containing
// the tool ID, arguments, structured result or error, the server kind and
// the duration.
//
// # Result Convention
//
// Snippets assign their structured result to the `__out` variable. Printed
// output, and the value of a trailing expression, are returned as Stdout.
//
// # Errors
//
// [Classify] maps any execution error to a [Kind] so orchestrators can
// report a kind and a message without inspecting error types.
package code
