package runtime

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RuntimeConfig configures a DefaultRuntime.
type RuntimeConfig struct {
	// Backends maps each supported profile to the backend that runs it.
	Backends map[SecurityProfile]Backend

	// DefaultProfile is used when a request names none.
	// Defaults to ProfileStandard.
	DefaultProfile SecurityProfile

	// Logger receives execution summaries. Nil means no logging.
	Logger *zap.Logger
}

// DefaultRuntime routes requests to a backend by security profile.
type DefaultRuntime struct {
	backends       map[SecurityProfile]Backend
	defaultProfile SecurityProfile
	logger         *zap.Logger
}

// NewDefaultRuntime creates a runtime from cfg.
func NewDefaultRuntime(cfg RuntimeConfig) *DefaultRuntime {
	profile := cfg.DefaultProfile
	if profile == "" {
		profile = ProfileStandard
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backends := make(map[SecurityProfile]Backend, len(cfg.Backends))
	for p, b := range cfg.Backends {
		backends[p] = b
	}
	return &DefaultRuntime{backends: backends, defaultProfile: profile, logger: logger}
}

// Execute implements Runtime.
func (r *DefaultRuntime) Execute(ctx context.Context, req ExecuteRequest) (ExecuteResult, error) {
	if req.Profile == "" {
		req.Profile = r.defaultProfile
	}
	if err := req.Validate(); err != nil {
		return ExecuteResult{}, err
	}
	backend, ok := r.backends[req.Profile]
	if !ok || backend == nil {
		return ExecuteResult{}, fmt.Errorf("%w: no backend for profile %q", ErrRuntimeUnavailable, req.Profile)
	}

	start := time.Now()
	res, err := backend.Execute(ctx, req)
	if res.Duration == 0 {
		res.Duration = time.Since(start)
	}
	r.logger.Debug("snippet executed",
		zap.String("backend", string(backend.Kind())),
		zap.String("profile", string(req.Profile)),
		zap.Duration("duration", res.Duration),
		zap.Uint64("steps", res.Steps),
		zap.Error(err),
	)
	return res, err
}
