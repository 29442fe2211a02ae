package code

import (
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"

	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/run"
)

// Defaults applied by NewDefaultExecutor.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultLanguage     = "starlark"
	DefaultMaxToolCalls = 50
	DefaultMemoryLimit  = 64 << 20
	DefaultMaxSteps     = 10_000_000
)

// Searcher finds and documents tools. *registry.SearchIndex satisfies it.
type Searcher interface {
	Search(query string, limit int) ([]index.Summary, error)
	Describe(id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error)
}

// Config holds the configuration for a code executor.
type Config struct {
	// Tree is the discovery hierarchy snippets browse with ls and cat.
	// Required.
	Tree *discovery.Tree

	// Run provides tool execution capabilities.
	// Required.
	Run run.Runner

	// Search backs search_tools. If nil, searches return no results.
	Search Searcher

	// Engine is the pluggable code execution engine.
	// Required.
	Engine Engine

	// DefaultTimeout is the default execution timeout when not specified
	// in ExecuteParams. Defaults to DefaultTimeout.
	DefaultTimeout time.Duration

	// DefaultLanguage is the default language when not specified in
	// ExecuteParams. Defaults to "starlark".
	DefaultLanguage string

	// MaxToolCalls limits the maximum number of tool invocations per
	// execution. Zero means DefaultMaxToolCalls; negative means unlimited.
	MaxToolCalls int

	// DefaultMemoryLimit caps heap growth per execution in bytes.
	// Zero means DefaultMemoryLimit; negative means unlimited.
	DefaultMemoryLimit int64

	// DefaultMaxSteps caps interpreter steps per execution.
	// Zero means DefaultMaxSteps.
	DefaultMaxSteps uint64

	// Logger is an optional logger for observability.
	Logger Logger
}

// Validate checks that all required fields are set.
// Returns ErrConfiguration if any required field is missing.
func (c *Config) Validate() error {
	var missing []string

	if c.Tree == nil {
		missing = append(missing, "Tree")
	}
	if c.Run == nil {
		missing = append(missing, "Run")
	}
	if c.Engine == nil {
		missing = append(missing, "Engine")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing required fields: %s",
			ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// applyDefaults sets default values for optional fields.
func (c *Config) applyDefaults() {
	if c.DefaultLanguage == "" {
		c.DefaultLanguage = DefaultLanguage
	}
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	switch {
	case c.MaxToolCalls == 0:
		c.MaxToolCalls = DefaultMaxToolCalls
	case c.MaxToolCalls < 0:
		c.MaxToolCalls = 0
	}
	switch {
	case c.DefaultMemoryLimit == 0:
		c.DefaultMemoryLimit = DefaultMemoryLimit
	case c.DefaultMemoryLimit < 0:
		c.DefaultMemoryLimit = 0
	}
	if c.DefaultMaxSteps == 0 {
		c.DefaultMaxSteps = DefaultMaxSteps
	}
}
