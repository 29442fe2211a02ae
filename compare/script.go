package compare

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonwraymond/codemode/exec"
	"github.com/jonwraymond/codemode/run"
	"go.yaml.in/yaml/v3"
)

// ErrInvalidScript is returned for scripts that cannot be replayed.
var ErrInvalidScript = errors.New("invalid comparison script")

// Script is a scripted conversation.
type Script struct {
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Instruction string            `json:"instruction" yaml:"instruction"`
	Traditional []TraditionalTurn `json:"traditional,omitempty" yaml:"traditional,omitempty"`
	Code        []CodeTurn        `json:"code,omitempty" yaml:"code,omitempty"`

	// PersistGlobals carries top-level definitions from one code turn to
	// the next.
	PersistGlobals bool `json:"persistGlobals,omitempty" yaml:"persist_globals,omitempty"`
}

// TraditionalTurn is one structured tool call. Name accepts
// "<server>_<tool>" and "<server>:<tool>".
type TraditionalTurn struct {
	Name      string         `json:"name,omitempty" yaml:"name,omitempty"`
	Server    string         `json:"server,omitempty" yaml:"server,omitempty"`
	Tool      string         `json:"tool,omitempty" yaml:"tool,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
	Usage     *exec.Usage    `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// ToolCall converts the turn to a dispatcher call.
func (t TraditionalTurn) ToolCall() run.ToolCall {
	return run.ToolCall{Name: t.Name, Server: t.Server, Tool: t.Tool, Args: t.Arguments}
}

// CodeTurn is one snippet.
type CodeTurn struct {
	Code  string      `json:"code" yaml:"code"`
	Usage *exec.Usage `json:"usage,omitempty" yaml:"usage,omitempty"`
}

// Validate checks that the script can be replayed.
func (s *Script) Validate() error {
	if len(s.Traditional) == 0 && len(s.Code) == 0 {
		return fmt.Errorf("%w: no turns", ErrInvalidScript)
	}
	for i, t := range s.Traditional {
		if t.Name == "" && (t.Server == "" || t.Tool == "") {
			return fmt.Errorf("%w: traditional turn %d names no tool", ErrInvalidScript, i+1)
		}
	}
	for i, t := range s.Code {
		if strings.TrimSpace(t.Code) == "" {
			return fmt.Errorf("%w: code turn %d is empty", ErrInvalidScript, i+1)
		}
	}
	return nil
}

// LoadScript reads a script from path. Files ending in .json are decoded as
// JSON, anything else as YAML.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := ParseScript(data, strings.EqualFold(filepath.Ext(path), ".json"))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}

// ParseScript decodes and validates a script.
func ParseScript(data []byte, isJSON bool) (*Script, error) {
	var s Script
	var err error
	if isJSON {
		err = json.Unmarshal(data, &s)
	} else {
		err = yaml.Unmarshal(data, &s)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScript, err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
