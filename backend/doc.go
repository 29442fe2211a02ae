// Package backend defines the tool servers that the registry is built from
// and that tool calls are routed to.
//
// A [Backend] is one external server grouping related tools (an MCP server
// spawned over stdio, or an in-process handler set). The [Registry] keeps
// servers in configuration order; the [Aggregator] is the only component
// that invokes a server, serializing calls per server:
//
//	servers := backend.NewRegistry()
//	servers.Register(timeServer)
//	agg := backend.NewAggregator(servers)
//	out, err := agg.Call(ctx, "time", "get_time", map[string]any{"city": "Amsterdam"})
package backend
