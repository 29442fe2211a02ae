// Package registry builds and persists the catalog of tools discovered on
// the configured servers.
//
// A [Snapshot] is immutable and versioned: a rebuild produces a new
// snapshot instead of mutating the old one, so readers never observe a
// half-built catalog. The [Builder] queries every server concurrently and
// commits the healthy ones in configuration order; an unreachable server
// is logged and skipped with a [DiscoveryError].
//
// Snapshots are persisted by a [Store] ([FileStore] or [BoltStore]) so the
// discovery tree and the dispatcher can run without re-querying servers.
// A [Holder] carries the current snapshot for a running process and makes
// rebuilds exclusive against in-flight turns.
package registry
