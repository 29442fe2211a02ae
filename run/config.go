package run

import (
	"context"

	"go.uber.org/zap"
)

// Invoker performs a tool call on a named server. *backend.Aggregator
// satisfies it.
type Invoker interface {
	Call(ctx context.Context, server, tool string, args map[string]any) (any, error)
}

// Config controls validation and dispatch behavior.
type Config struct {
	// Invoker reaches the tool servers. Required.
	Invoker Invoker

	// Validator checks arguments against a tool's input schema.
	// Defaults to NewSchemaValidator().
	Validator Validator

	// ValidateInput enables argument validation before invocation.
	// Defaults to true.
	ValidateInput bool

	// Logger receives dispatch events. Defaults to a no-op logger.
	Logger *zap.Logger
}

// applyDefaults sets default values for unset Config fields.
func (c *Config) applyDefaults() {
	if c.Validator == nil {
		c.Validator = NewSchemaValidator()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// ConfigOption is a functional option for configuring a Dispatcher.
type ConfigOption func(*Config)

// WithInvoker sets the tool invoker.
func WithInvoker(inv Invoker) ConfigOption {
	return func(c *Config) {
		c.Invoker = inv
	}
}

// WithValidator sets a custom schema validator.
func WithValidator(v Validator) ConfigOption {
	return func(c *Config) {
		c.Validator = v
	}
}

// WithValidation sets whether to validate arguments.
func WithValidation(input bool) ConfigOption {
	return func(c *Config) {
		c.ValidateInput = input
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ConfigOption {
	return func(c *Config) {
		c.Logger = l
	}
}
