package tokens

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/jonwraymond/codemode/run"
)

// CharsPerToken is the ratio used by Estimate.
const CharsPerToken = 4

// Estimate approximates the token count of text as ceil(chars/4). Characters
// are counted as runes so multi-byte text is not overcounted.
func Estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// DefinitionCost estimates the tokens a model spends reading defs, measured
// on their JSON encoding as sent to the model.
func DefinitionCost(defs []run.Definition) (int, error) {
	if len(defs) == 0 {
		return 0, nil
	}
	data, err := json.Marshal(defs)
	if err != nil {
		return 0, fmt.Errorf("encode tool definitions: %w", err)
	}
	return Estimate(string(data)), nil
}
