package run

import (
	"bytes"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"

	"github.com/jonwraymond/codemode/registry"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Validator checks tool arguments against a descriptor's input schema.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: mismatches return *ValidationError (matches ErrValidation).
// - Ownership: args are read-only.
type Validator interface {
	Validate(d registry.ToolDescriptor, args map[string]any) error
}

// SchemaValidator validates in two passes. The first reports missing
// required fields and, when the schema declares properties without
// allowing additional ones, unknown fields. The second runs full JSON
// Schema validation. Compiled schemas are cached by schema content.
type SchemaValidator struct {
	compiled sync.Map // string(schema JSON) -> *compiledSchema
	printer  *message.Printer
}

type compiledSchema struct {
	schema *jsonschema.Schema
	err    error
}

// NewSchemaValidator returns a SchemaValidator.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{printer: message.NewPrinter(language.English)}
}

// Validate implements Validator.
func (v *SchemaValidator) Validate(d registry.ToolDescriptor, args map[string]any) error {
	schema := d.Schema()
	if err := checkFields(d, schema, args); err != nil {
		return err
	}

	cs := v.compile(d)
	if cs.err != nil {
		// A schema the server got wrong is not the caller's fault; the
		// field checks above are all that can be enforced.
		return nil
	}

	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return &ValidationError{Server: d.Server, Tool: d.Name, Reason: "arguments are not JSON encodable: " + err.Error()}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &ValidationError{Server: d.Server, Tool: d.Name, Reason: err.Error()}
	}
	if err := cs.schema.Validate(inst); err != nil {
		return v.convert(d, err)
	}
	return nil
}

func (v *SchemaValidator) compile(d registry.ToolDescriptor) *compiledSchema {
	key := string(d.InputSchema)
	if cached, ok := v.compiled.Load(key); ok {
		return cached.(*compiledSchema)
	}

	cs := &compiledSchema{}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(d.InputSchema))
	if err == nil {
		c := jsonschema.NewCompiler()
		if err = c.AddResource("schema.json", doc); err == nil {
			cs.schema, err = c.Compile("schema.json")
		}
	}
	cs.err = err

	actual, _ := v.compiled.LoadOrStore(key, cs)
	return actual.(*compiledSchema)
}

// convert reduces a jsonschema error to its first leaf cause.
func (v *SchemaValidator) convert(d registry.ToolDescriptor, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return &ValidationError{Server: d.Server, Tool: d.Name, Reason: err.Error()}
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return &ValidationError{
		Server: d.Server,
		Tool:   d.Name,
		Field:  strings.Join(leaf.InstanceLocation, "/"),
		Reason: leaf.ErrorKind.LocalizedString(v.printer),
	}
}

func checkFields(d registry.ToolDescriptor, schema map[string]any, args map[string]any) error {
	for _, name := range requiredFields(schema) {
		if _, ok := args[name]; !ok {
			return &ValidationError{Server: d.Server, Tool: d.Name, Field: name, Reason: "required field missing"}
		}
	}

	if allowsAdditional(schema) {
		return nil
	}
	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(args))
	for name := range args {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		if _, ok := props[name]; !ok {
			return &ValidationError{Server: d.Server, Tool: d.Name, Field: name, Reason: "unknown field"}
		}
	}
	return nil
}

func requiredFields(schema map[string]any) []string {
	req, _ := schema["required"].([]any)
	out := make([]string, 0, len(req))
	for _, r := range req {
		if s, ok := r.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func allowsAdditional(schema map[string]any) bool {
	switch ap := schema["additionalProperties"].(type) {
	case bool:
		return ap
	case map[string]any:
		return true
	default:
		return false
	}
}

