// Package config loads the codemode configuration: the tool servers to
// query, where the registry snapshot lives, sandbox limits, the HTTP
// surface and logging.
//
// Values come from built-in defaults, then an optional YAML file, then
// CODEMODE_* environment variables, in increasing priority.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jonwraymond/codemode/runtime"
	"go.uber.org/zap/zapcore"
	"go.yaml.in/yaml/v3"
)

// ErrInvalid is returned for configurations that fail validation.
var ErrInvalid = errors.New("invalid configuration")

// Store kinds.
const (
	StoreFile = "file"
	StoreBolt = "bolt"
)

// Log formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config is the complete configuration.
type Config struct {
	Servers   []Server  `yaml:"servers"`
	Registry  Registry  `yaml:"registry"`
	Discovery Discovery `yaml:"discovery"`
	Sandbox   Sandbox   `yaml:"sandbox"`
	HTTP      HTTP      `yaml:"http"`
	Log       Log       `yaml:"log"`
}

// Server is one MCP tool server reached over stdio.
type Server struct {
	Name     string            `yaml:"name"`
	Command  string            `yaml:"command"`
	Args     []string          `yaml:"args,omitempty"`
	Env      map[string]string `yaml:"env,omitempty"`
	Disabled bool              `yaml:"disabled,omitempty"`
}

// Registry configures snapshot persistence.
type Registry struct {
	// Store is "file" (JSON) or "bolt".
	Store string `yaml:"store"`
	Path  string `yaml:"path"`

	// Watch reloads the snapshot when another process rewrites it.
	// Only the file store can be watched.
	Watch bool `yaml:"watch"`

	// ServerTimeout bounds each server's discovery during a build.
	ServerTimeout time.Duration `yaml:"server_timeout"`
}

// Discovery configures the on-disk discovery hierarchy.
type Discovery struct {
	// Root is where builds materialize the hierarchy. Empty disables it.
	Root string `yaml:"root"`
}

// Sandbox configures snippet limits.
type Sandbox struct {
	Profile string        `yaml:"profile"`
	Timeout time.Duration `yaml:"timeout"`

	// MemoryBytes and MaxToolCalls accept -1 for unlimited.
	MemoryBytes  int64  `yaml:"memory_bytes"`
	MaxSteps     uint64 `yaml:"max_steps"`
	MaxToolCalls int    `yaml:"max_tool_calls"`

	// Modules overrides the profile's allow-list when set.
	Modules []string `yaml:"modules,omitempty"`
}

// HTTP configures the serve command.
type HTTP struct {
	Addr string `yaml:"addr"`

	// SessionTTL drops sessions idle for longer. MaxSessions bounds how
	// many are kept; the least recently used goes first.
	SessionTTL  time.Duration `yaml:"session_ttl"`
	MaxSessions int           `yaml:"max_sessions"`

	// PersistGlobals makes new sessions carry snippet definitions from
	// turn to turn unless a request says otherwise.
	PersistGlobals bool `yaml:"persist_globals"`
}

// Log configures logging.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. It has no servers; a usable
// configuration names at least one.
func Default() *Config {
	return &Config{
		Registry: Registry{
			Store:         StoreFile,
			Path:          "registry.json",
			ServerTimeout: 30 * time.Second,
		},
		Discovery: Discovery{Root: "./servers"},
		Sandbox: Sandbox{
			Profile:      string(runtime.ProfileStandard),
			Timeout:      10 * time.Second,
			MemoryBytes:  64 << 20,
			MaxSteps:     10_000_000,
			MaxToolCalls: 50,
		},
		HTTP: HTTP{Addr: ":8080", SessionTTL: 30 * time.Minute, MaxSessions: 1000},
		Log:  Log{Level: "info", Format: FormatJSON},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges YAML into cfg. Unknown keys are rejected so typos do not
// silently fall back to defaults.
func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		switch {
		case s.Name == "":
			fail("servers[%d]: name is required", i)
		case strings.ContainsAny(s.Name, ":/ \t"):
			fail("servers[%d]: name %q contains ':', '/' or whitespace", i, s.Name)
		case seen[s.Name]:
			fail("servers[%d]: duplicate name %q", i, s.Name)
		}
		seen[s.Name] = true
		if s.Command == "" {
			fail("servers[%d]: command is required", i)
		}
	}

	switch c.Registry.Store {
	case StoreFile, StoreBolt:
	default:
		fail("registry.store %q must be %q or %q", c.Registry.Store, StoreFile, StoreBolt)
	}
	if c.Registry.Path == "" {
		fail("registry.path is required")
	}
	if c.Registry.Watch && c.Registry.Store != StoreFile {
		fail("registry.watch requires the %q store", StoreFile)
	}
	if c.Registry.ServerTimeout < 0 {
		fail("registry.server_timeout must not be negative")
	}

	if !runtime.SecurityProfile(c.Sandbox.Profile).IsValid() {
		fail("sandbox.profile %q is unknown", c.Sandbox.Profile)
	}
	if c.Sandbox.Timeout <= 0 {
		fail("sandbox.timeout must be positive")
	}
	if c.Sandbox.MemoryBytes < -1 {
		fail("sandbox.memory_bytes must be -1 or more")
	}
	if c.Sandbox.MaxToolCalls < -1 {
		fail("sandbox.max_tool_calls must be -1 or more")
	}

	if c.HTTP.SessionTTL <= 0 {
		fail("http.session_ttl must be positive")
	}
	if c.HTTP.MaxSessions <= 0 {
		fail("http.max_sessions must be positive")
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		fail("log.level: %v", err)
	}
	if c.Log.Format != FormatJSON && c.Log.Format != FormatConsole {
		fail("log.format %q must be %q or %q", c.Log.Format, FormatJSON, FormatConsole)
	}
	return errors.Join(errs...)
}

// EnabledServers returns the servers not marked disabled.
func (c *Config) EnabledServers() []Server {
	out := make([]Server, 0, len(c.Servers))
	for _, s := range c.Servers {
		if !s.Disabled {
			out = append(out, s)
		}
	}
	return out
}
