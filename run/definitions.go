package run

import "github.com/jonwraymond/codemode/registry"

// Definition is one entry of the tool list given to a model in
// traditional mode, in the widely used function-calling shape.
type Definition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function.
type FunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionName returns the function name used for a tool in definitions.
func FunctionName(server, tool string) string {
	return server + "_" + tool
}

// Definitions renders every tool in snap, in snapshot order.
func Definitions(snap *registry.Snapshot) []Definition {
	defs := make([]Definition, 0, snap.Len())
	for d := range snap.ListAll() {
		defs = append(defs, Definition{
			Type: "function",
			Function: FunctionDef{
				Name:        FunctionName(d.Server, d.Name),
				Description: d.Description,
				Parameters:  d.Schema(),
			},
		})
	}
	return defs
}
