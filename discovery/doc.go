// Package discovery renders a registry snapshot as a navigable hierarchy of
// server directories and tool stub files.
//
// Code running in the sandbox learns which tools exist by listing and
// reading this hierarchy instead of receiving every schema up front:
//
//	/INDEX.md                         servers and tool counts
//	/<server>/INDEX.md                tool names with one-line summaries
//	/<server>/<tool>.star             callable stub with parameter docs
//
// A Tree is an in-memory arena of nodes indexed by path. It is derived
// deterministically from a snapshot: exporting the same snapshot twice
// yields byte-identical trees. Materialize writes a tree to disk and
// Tree.FS exposes it as an io/fs.FS.
package discovery
