package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codemode.yaml")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("Default().Validate() error = %v", err)
	}
}

func TestLoad_File(t *testing.T) {
	path := writeConfig(t, `
servers:
  - name: time
    command: uvx
    args: [mcp-server-time]
  - name: git
    command: uvx
    args: [mcp-server-git]
    disabled: true
registry:
  store: bolt
  path: /var/lib/codemode/registry.db
sandbox:
  timeout: 3s
  max_tool_calls: -1
  modules: [json]
log:
  level: debug
  format: console
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Servers) != 2 || cfg.Servers[0].Args[0] != "mcp-server-time" {
		t.Errorf("Servers = %+v", cfg.Servers)
	}
	if got := cfg.EnabledServers(); len(got) != 1 || got[0].Name != "time" {
		t.Errorf("EnabledServers() = %+v", got)
	}
	if cfg.Registry.Store != StoreBolt || cfg.Sandbox.Timeout != 3*time.Second || cfg.Sandbox.MaxToolCalls != -1 {
		t.Errorf("cfg = %+v", cfg)
	}
	// Unset keys keep their defaults.
	if cfg.Sandbox.MaxSteps != 10_000_000 || cfg.Discovery.Root != "./servers" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("defaults lost: %+v", cfg)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if cfg.Registry.Store != StoreFile {
		t.Errorf("Registry.Store = %q", cfg.Registry.Store)
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err != nil {
		t.Errorf("Load(empty) error = %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	_, err := Load(writeConfig(t, "sandbox:\n  timeuot: 3s\n"))
	if !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Load() error = %v, want ErrNotExist", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("CODEMODE_HTTP_ADDR", "127.0.0.1:9999")
	t.Setenv("CODEMODE_SANDBOX_TIMEOUT", "250ms")
	t.Setenv("CODEMODE_SANDBOX_MODULES", "json, math,")
	t.Setenv("CODEMODE_LOG_LEVEL", "warn")
	t.Setenv("CODEMODE_REGISTRY_WATCH", "true")
	t.Setenv("CODEMODE_HTTP_SESSION_TTL", "5m")
	t.Setenv("CODEMODE_HTTP_PERSIST_GLOBALS", "true")

	cfg, err := Load(writeConfig(t, "http:\n  addr: ':7000'\n"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HTTP.Addr != "127.0.0.1:9999" {
		t.Errorf("HTTP.Addr = %q, env should win over the file", cfg.HTTP.Addr)
	}
	if cfg.Sandbox.Timeout != 250*time.Millisecond || cfg.Log.Level != "warn" || !cfg.Registry.Watch {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.HTTP.SessionTTL != 5*time.Minute || cfg.HTTP.MaxSessions != 1000 || !cfg.HTTP.PersistGlobals {
		t.Errorf("HTTP = %+v", cfg.HTTP)
	}
	if len(cfg.Sandbox.Modules) != 2 || cfg.Sandbox.Modules[1] != "math" {
		t.Errorf("Sandbox.Modules = %q", cfg.Sandbox.Modules)
	}
}

func TestLoad_InvalidEnv(t *testing.T) {
	t.Setenv("CODEMODE_SANDBOX_MAX_STEPS", "lots")
	if _, err := Load(""); !errors.Is(err, ErrInvalid) {
		t.Errorf("Load() error = %v, want ErrInvalid", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unnamed server", func(c *Config) { c.Servers = []Server{{Command: "x"}} }},
		{"bad server name", func(c *Config) { c.Servers = []Server{{Name: "a:b", Command: "x"}} }},
		{"duplicate server", func(c *Config) {
			c.Servers = []Server{{Name: "a", Command: "x"}, {Name: "a", Command: "y"}}
		}},
		{"no command", func(c *Config) { c.Servers = []Server{{Name: "a"}} }},
		{"store kind", func(c *Config) { c.Registry.Store = "sqlite" }},
		{"store path", func(c *Config) { c.Registry.Path = "" }},
		{"watch bolt", func(c *Config) { c.Registry.Store = StoreBolt; c.Registry.Watch = true }},
		{"profile", func(c *Config) { c.Sandbox.Profile = "root" }},
		{"timeout", func(c *Config) { c.Sandbox.Timeout = 0 }},
		{"memory", func(c *Config) { c.Sandbox.MemoryBytes = -2 }},
		{"tool calls", func(c *Config) { c.Sandbox.MaxToolCalls = -5 }},
		{"session ttl", func(c *Config) { c.HTTP.SessionTTL = 0 }},
		{"max sessions", func(c *Config) { c.HTTP.MaxSessions = -1 }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"log format", func(c *Config) { c.Log.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" , "); len(got) != 0 || got == nil {
		t.Errorf("splitList(blank) = %#v, want empty non-nil", got)
	}
}
