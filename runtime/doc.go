// Package runtime defines the sandbox boundary that code-mode snippets run
// behind.
//
// A [Runtime] executes an [ExecuteRequest] on a [Backend] chosen by the
// request's [SecurityProfile]. The only capability a snippet receives is
// the request's [ToolGateway]: it can call tools, browse the discovery
// hierarchy and search the tool index, and nothing else. Backends enforce
// the request's [Limits] and report violations with the sentinel errors of
// this package.
package runtime
