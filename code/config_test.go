package code

import (
	"errors"
	"strings"
	"testing"
)

func TestConfig_ValidateMissingFields(t *testing.T) {
	cfg := Config{}
	err := cfg.Validate()
	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("Validate() error = %v, want ErrConfiguration", err)
	}
	for _, field := range []string{"Tree", "Run", "Engine"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q does not name %s", err, field)
		}
	}
}

func TestConfig_ValidateSearchOptional(t *testing.T) {
	cfg := testConfig(t, &mockRunner{}, &mockEngine{})
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{}
	cfg.applyDefaults()
	if cfg.DefaultLanguage != "starlark" {
		t.Errorf("DefaultLanguage = %q, want starlark", cfg.DefaultLanguage)
	}
	if cfg.DefaultTimeout != DefaultTimeout {
		t.Errorf("DefaultTimeout = %v, want %v", cfg.DefaultTimeout, DefaultTimeout)
	}
	if cfg.MaxToolCalls != 50 {
		t.Errorf("MaxToolCalls = %d, want 50", cfg.MaxToolCalls)
	}
	if cfg.DefaultMemoryLimit != 64<<20 {
		t.Errorf("DefaultMemoryLimit = %d, want 64 MiB", cfg.DefaultMemoryLimit)
	}
	if cfg.DefaultMaxSteps != 10_000_000 {
		t.Errorf("DefaultMaxSteps = %d, want 10M", cfg.DefaultMaxSteps)
	}
}

func TestConfig_NegativeMeansUnlimited(t *testing.T) {
	cfg := Config{MaxToolCalls: -1, DefaultMemoryLimit: -1}
	cfg.applyDefaults()
	if cfg.MaxToolCalls != 0 {
		t.Errorf("MaxToolCalls = %d, want 0", cfg.MaxToolCalls)
	}
	if cfg.DefaultMemoryLimit != 0 {
		t.Errorf("DefaultMemoryLimit = %d, want 0", cfg.DefaultMemoryLimit)
	}
}
