package exec

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/runtime"
	"github.com/jonwraymond/codemode/tokens"
	"go.uber.org/zap"
)

// Errors returned by Options validation.
var (
	ErrServersRequired = errors.New("exec: Servers is required")
	ErrInvalidProfile  = errors.New("exec: unknown security profile")
)

// Options configures an Exec instance.
type Options struct {
	// Servers holds the tool servers registry builds query.
	// Required.
	Servers *backend.Registry

	// Store persists snapshots. Optional; when set, New seeds the current
	// snapshot from it and Rebuild saves to it.
	Store registry.Store

	// Holder carries the current snapshot. Optional; a new holder is
	// created when nil. Pass a shared holder to have a registry.Watcher
	// update the snapshot.
	Holder *registry.Holder

	// DiscoveryRoot, when set, is where Rebuild materializes the discovery
	// hierarchy on disk.
	DiscoveryRoot string

	// ServerTimeout bounds each server's discovery during a rebuild.
	// Default: registry.DefaultServerTimeout
	ServerTimeout time.Duration

	// Runtime executes snippets. Optional; defaults to the Starlark
	// backend for every profile.
	Runtime runtime.Runtime

	// SecurityProfile selects the sandbox profile.
	// Default: runtime.ProfileStandard
	SecurityProfile runtime.SecurityProfile

	// Modules overrides the profile's module allow-list when non-nil.
	Modules []string

	// DefaultTimeout bounds each snippet. Default: code.DefaultTimeout
	DefaultTimeout time.Duration

	// MaxToolCalls limits tool calls per snippet. Zero means the code
	// package default; negative means unlimited.
	MaxToolCalls int

	// MemoryLimit caps heap growth per snippet in bytes. Zero means the
	// code package default; negative means unlimited.
	MemoryLimit int64

	// MaxSteps caps interpreter steps per snippet. Zero means the code
	// package default.
	MaxSteps uint64

	// DisableValidation turns off argument validation in the dispatcher.
	DisableValidation bool

	// Accountant receives one row per session turn. Optional; a new
	// accountant is created when nil.
	Accountant *tokens.Accountant

	// Logger receives facade events. Default: no-op.
	Logger *zap.Logger
}

// validate checks that required fields are set.
func (o *Options) validate() error {
	if o.Servers == nil {
		return ErrServersRequired
	}
	if o.SecurityProfile != "" && !o.SecurityProfile.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidProfile, o.SecurityProfile)
	}
	return nil
}

// applyDefaults sets default values for unset optional fields.
func (o *Options) applyDefaults() {
	if o.SecurityProfile == "" {
		o.SecurityProfile = runtime.ProfileStandard
	}
	if o.Holder == nil {
		o.Holder = registry.NewHolder(nil)
	}
	if o.Accountant == nil {
		o.Accountant = tokens.NewAccountant()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}
