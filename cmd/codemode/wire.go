package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/backend/mcpserver"
	"github.com/jonwraymond/codemode/config"
	"github.com/jonwraymond/codemode/exec"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/runtime"
	"go.uber.org/zap"
)

// app is a configured process: config, logger, store and facade.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	store  registry.Store
	exec   *exec.Exec

	closers []io.Closer
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger := mustBuildLogger(cfg.Log)

	a := &app{cfg: cfg, logger: logger}
	store, err := a.openStore()
	if err != nil {
		return nil, err
	}
	a.store = store

	servers, err := newServers(cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.exec, err = exec.New(exec.Options{
		Servers:         servers,
		Store:           store,
		DiscoveryRoot:   cfg.Discovery.Root,
		ServerTimeout:   cfg.Registry.ServerTimeout,
		SecurityProfile: runtime.SecurityProfile(cfg.Sandbox.Profile),
		Modules:         cfg.Sandbox.Modules,
		DefaultTimeout:  cfg.Sandbox.Timeout,
		MaxToolCalls:    cfg.Sandbox.MaxToolCalls,
		MemoryLimit:     cfg.Sandbox.MemoryBytes,
		MaxSteps:        cfg.Sandbox.MaxSteps,
		Logger:          logger,
	})
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore() (registry.Store, error) {
	switch a.cfg.Registry.Store {
	case config.StoreBolt:
		s, err := registry.OpenBoltStore(a.cfg.Registry.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s)
		return s, nil
	default:
		return registry.NewFileStore(a.cfg.Registry.Path), nil
	}
}

// newServers registers one MCP backend per configured server, disabled
// ones included so they appear as disabled rather than unknown.
func newServers(cfg *config.Config, logger *zap.Logger) (*backend.Registry, error) {
	reg := backend.NewRegistry()
	for _, s := range cfg.Servers {
		b := mcpserver.New(mcpserver.Config{
			Name:     s.Name,
			Command:  s.Command,
			Args:     s.Args,
			Env:      s.Env,
			Disabled: s.Disabled,
			Logger:   logger.Named("mcp"),
		})
		if err := reg.Register(b); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// ensureSnapshot builds a snapshot when none has been persisted yet.
func (a *app) ensureSnapshot(ctx context.Context) error {
	if a.exec.Snapshot() != nil {
		return nil
	}
	a.logger.Info("no persisted registry snapshot, building one")
	snap, err := a.exec.Rebuild(ctx)
	if snap == nil {
		return err
	}
	if err != nil {
		a.logger.Warn("partial registry build", zap.Error(err))
	}
	return nil
}

// Close stops the servers, releases the store and flushes the logger.
func (a *app) Close() error {
	var errs []error
	if a.exec != nil {
		if err := a.exec.Close(); err != nil {
			errs = append(errs, fmt.Errorf("stop servers: %w", err))
		}
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
