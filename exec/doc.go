// Package exec is the facade that puts the codemode components together.
//
// An [Exec] owns the tool servers, the current registry snapshot and
// everything derived from it: the discovery tree, the search index, the
// traditional-mode dispatcher and the code-mode executor. Derived state is
// built once per snapshot and shared by every caller reading that snapshot.
//
// # Sessions
//
// A [Session] is one conversation. Its turns run strictly one after another;
// separate sessions may run in parallel. Every turn records a row in the
// token tally, using explicit counts when the caller has them and
// estimates otherwise:
//
//	ex, err := exec.New(exec.Options{Servers: servers, Store: store})
//	if err != nil {
//	    return err
//	}
//	if _, err := ex.Rebuild(ctx); err != nil {
//	    log.Printf("partial build: %v", err)
//	}
//
//	s := ex.NewSession()
//	turn, err := s.ExecuteCode(ctx, `print(call_tool("time", "get_time", {"city": "Amsterdam"}))`, nil)
//	fmt.Println(turn.Observation)
//
// # Rebuilds
//
// [Exec.Rebuild] queries the servers again, persists the new snapshot and
// swaps it in. It waits for running dispatches and executions to finish,
// and those started afterwards see the new snapshot.
package exec
