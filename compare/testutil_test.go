package compare

import "github.com/jonwraymond/codemode/tokens"

func totalsOf(turns, in, out, tools, defs int) tokens.Totals {
	return tokens.Totals{
		Turns:                turns,
		InputTokens:          in,
		OutputTokens:         out,
		TotalTokens:          in + out,
		MaxToolsInContext:    tools,
		ToolDefinitionTokens: defs,
	}
}
