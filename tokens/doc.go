// Package tokens records per-turn token usage for the two tool-access modes
// and summarizes it for comparison.
//
// An [Accountant] is an append-only tally. Each row describes one model turn:
// the tokens sent and received, how many tool definitions were in context, and
// what those definitions cost. [Accountant.Summarize] is a pure function of
// the recorded rows, so a summary taken twice without intervening records is
// identical.
//
// When real counts from a model provider are unavailable, [Estimate] applies
// the four-characters-per-token heuristic and [DefinitionCost] measures the
// tool list a traditional-mode model would receive.
package tokens
