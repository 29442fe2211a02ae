package registry

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/jonwraymond/toolfoundation/model"
)

// Param describes one parameter of a tool, derived from its input schema.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
}

// ToolDescriptor identifies one external tool. Descriptors handed out by a
// Snapshot are copies; mutating them does not affect the snapshot.
type ToolDescriptor struct {
	Server      string          `json:"server"`
	Name        string          `json:"name"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Params      []Param         `json:"params"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Tags        []string        `json:"tags,omitempty"`
}

// ID returns the "server:tool" invocation handle.
func (d ToolDescriptor) ID() string {
	return d.Server + ":" + d.Name
}

// Schema decodes a fresh copy of the input schema.
func (d ToolDescriptor) Schema() map[string]any {
	out := map[string]any{}
	if len(d.InputSchema) == 0 {
		out["type"] = "object"
		return out
	}
	if err := json.Unmarshal(d.InputSchema, &out); err != nil {
		return map[string]any{"type": "object"}
	}
	return out
}

// Summary returns the first line of the description.
func (d ToolDescriptor) Summary() string {
	line, _, _ := strings.Cut(strings.TrimSpace(d.Description), "\n")
	return strings.TrimSpace(line)
}

func (d ToolDescriptor) clone() ToolDescriptor {
	d.Params = slices.Clone(d.Params)
	d.InputSchema = slices.Clone(d.InputSchema)
	d.Tags = slices.Clone(d.Tags)
	return d
}

// NewDescriptor converts a server-reported tool into a descriptor.
func NewDescriptor(server string, tool model.Tool) (ToolDescriptor, error) {
	if err := validName(tool.Name); err != nil {
		return ToolDescriptor{}, err
	}

	var schema map[string]any
	switch s := tool.InputSchema.(type) {
	case nil:
	case map[string]any:
		schema = s
	default:
		data, err := json.Marshal(s)
		if err != nil {
			return ToolDescriptor{}, fmt.Errorf("tool %s: encode input schema: %w", tool.Name, err)
		}
		if err := json.Unmarshal(data, &schema); err != nil {
			return ToolDescriptor{}, fmt.Errorf("tool %s: input schema is not an object: %w", tool.Name, err)
		}
	}
	if schema == nil {
		schema = map[string]any{"type": "object"}
	}

	// encoding/json sorts map keys, which makes the stored schema canonical.
	raw, err := json.Marshal(schema)
	if err != nil {
		return ToolDescriptor{}, fmt.Errorf("tool %s: encode input schema: %w", tool.Name, err)
	}

	return ToolDescriptor{
		Server:      server,
		Name:        tool.Name,
		Title:       tool.Title,
		Description: strings.TrimSpace(tool.Description),
		Params:      ParamsFromSchema(schema),
		InputSchema: raw,
		Tags:        model.NormalizeTags(tool.Tags),
	}, nil
}

// ParamsFromSchema lists the top-level properties of an object schema,
// required parameters first and then by name.
func ParamsFromSchema(schema map[string]any) []Param {
	props, _ := schema["properties"].(map[string]any)
	required := map[string]bool{}
	switch req := schema["required"].(type) {
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	case []string:
		for _, s := range req {
			required[s] = true
		}
	}

	params := make([]Param, 0, len(props))
	for name, raw := range props {
		p := Param{Name: name, Type: "any", Required: required[name]}
		if def, ok := raw.(map[string]any); ok {
			p.Type = schemaType(def["type"])
			p.Description, _ = def["description"].(string)
		}
		params = append(params, p)
	}
	sort.Slice(params, func(i, j int) bool {
		if params[i].Required != params[j].Required {
			return params[i].Required
		}
		return params[i].Name < params[j].Name
	})
	return params
}

func schemaType(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, p := range t {
			if s, ok := p.(string); ok {
				parts = append(parts, s)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "|")
		}
	}
	return "any"
}

// validName rejects names that cannot be used as discovery path elements.
func validName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidSnapshot)
	}
	if strings.ContainsAny(name, "/\\:") || name == "." || name == ".." {
		return fmt.Errorf("%w: name %q contains a path separator", ErrInvalidSnapshot, name)
	}
	return nil
}
