// Package run implements traditional tool dispatch: a model emits a
// structured tool call, the Dispatcher resolves it against a registry
// snapshot, validates the arguments against the tool's JSON Schema and
// invokes the tool on its server.
//
// Tool calls may name a tool either by server and tool name or by the
// function name used in tool definitions ("<server>_<tool>"). The
// definitions sent to a model in traditional mode are produced by
// [Definitions].
//
// Errors follow one taxonomy:
//
//   - [ErrValidation] / [ValidationError]: arguments do not match the schema
//   - registry.ErrNotFound: the tool does not exist
//   - [ErrToolInvocation] / [ToolError]: the server failed the call
//
// No call is retried.
package run
