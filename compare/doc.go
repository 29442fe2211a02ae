// Package compare replays a scripted conversation in both tool-access modes
// and reports the token usage of each.
//
// A [Script] holds the instruction plus the turns a model produced in each
// mode: structured tool calls for traditional mode and snippets for code
// mode. [Run] replays them against an [exec.Exec] in two independent
// sessions and [Report.WriteTable] prints the comparison.
package compare
