package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CODEMODE_"

type lookupFunc func(key string) (string, bool)

// applyEnv overrides fields from the environment. Invalid values are
// errors rather than ignored.
func (c *Config) applyEnv(lookup lookupFunc) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	parse := func(key string, set func(string) error) {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			return
		}
		if err := set(v); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, key, v, err))
		}
	}

	str("REGISTRY_STORE", &c.Registry.Store)
	str("REGISTRY_PATH", &c.Registry.Path)
	parse("REGISTRY_WATCH", func(v string) (err error) {
		c.Registry.Watch, err = strconv.ParseBool(v)
		return err
	})
	parse("REGISTRY_SERVER_TIMEOUT", func(v string) (err error) {
		c.Registry.ServerTimeout, err = time.ParseDuration(v)
		return err
	})
	str("DISCOVERY_ROOT", &c.Discovery.Root)

	str("SANDBOX_PROFILE", &c.Sandbox.Profile)
	parse("SANDBOX_TIMEOUT", func(v string) (err error) {
		c.Sandbox.Timeout, err = time.ParseDuration(v)
		return err
	})
	parse("SANDBOX_MEMORY_BYTES", func(v string) (err error) {
		c.Sandbox.MemoryBytes, err = strconv.ParseInt(v, 10, 64)
		return err
	})
	parse("SANDBOX_MAX_STEPS", func(v string) (err error) {
		c.Sandbox.MaxSteps, err = strconv.ParseUint(v, 10, 64)
		return err
	})
	parse("SANDBOX_MAX_TOOL_CALLS", func(v string) (err error) {
		c.Sandbox.MaxToolCalls, err = strconv.Atoi(v)
		return err
	})
	parse("SANDBOX_MODULES", func(v string) error {
		c.Sandbox.Modules = splitList(v)
		return nil
	})

	str("HTTP_ADDR", &c.HTTP.Addr)
	parse("HTTP_SESSION_TTL", func(v string) (err error) {
		c.HTTP.SessionTTL, err = time.ParseDuration(v)
		return err
	})
	parse("HTTP_MAX_SESSIONS", func(v string) (err error) {
		c.HTTP.MaxSessions, err = strconv.Atoi(v)
		return err
	})
	parse("HTTP_PERSIST_GLOBALS", func(v string) (err error) {
		c.HTTP.PersistGlobals, err = strconv.ParseBool(v)
		return err
	})
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	return errors.Join(errs...)
}

func splitList(v string) []string {
	out := []string{}
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
