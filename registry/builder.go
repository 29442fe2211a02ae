package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/toolfoundation/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultServerTimeout bounds how long one server may take to start and
// list its tools during a build.
const DefaultServerTimeout = 30 * time.Second

// BuilderConfig configures a Builder.
type BuilderConfig struct {
	// Servers is the set of servers to query. Required.
	Servers *backend.Registry

	// ServerTimeout bounds each server's discovery. Defaults to DefaultServerTimeout.
	ServerTimeout time.Duration

	// Concurrency caps parallel server queries. Zero means one goroutine per server.
	Concurrency int

	// Logger receives per-server outcomes. Nil means no logging.
	Logger *zap.Logger

	// Now overrides the clock for build timestamps.
	Now func() time.Time
}

// Builder produces snapshots from the configured servers.
type Builder struct {
	servers       *backend.Registry
	serverTimeout time.Duration
	concurrency   int
	logger        *zap.Logger
	now           func() time.Time
}

// NewBuilder creates a Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Servers == nil {
		return nil, errors.New("registry: BuilderConfig.Servers is required")
	}
	b := &Builder{
		servers:       cfg.Servers,
		serverTimeout: cfg.ServerTimeout,
		concurrency:   cfg.Concurrency,
		logger:        cfg.Logger,
		now:           cfg.Now,
	}
	if b.serverTimeout <= 0 {
		b.serverTimeout = DefaultServerTimeout
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}
	if b.now == nil {
		b.now = time.Now
	}
	return b, nil
}

type discovered struct {
	server Server
	err    error
}

// Build queries every enabled server and returns a snapshot whose version
// follows prev (nil for the first build).
//
// Servers are queried concurrently and committed in registration order.
// A server that cannot be started or listed is skipped: its DiscoveryError
// is logged and joined into the returned error, while the snapshot of the
// healthy servers is still returned. When no server could be queried Build
// returns a nil snapshot and an error matching ErrNoServers.
func (b *Builder) Build(ctx context.Context, prev *Snapshot) (*Snapshot, error) {
	servers := b.servers.ListEnabled()
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: no servers configured", ErrNoServers)
	}

	results := make([]discovered, len(servers))
	var g errgroup.Group
	if b.concurrency > 0 {
		g.SetLimit(b.concurrency)
	}
	for i, srv := range servers {
		g.Go(func() error {
			results[i] = b.discover(ctx, srv)
			return nil
		})
	}
	_ = g.Wait()

	var (
		committed []Server
		failures  []error
	)
	for i, res := range results {
		name := servers[i].Name()
		if res.err != nil {
			derr := &DiscoveryError{Server: name, Err: res.err}
			b.logger.Warn("skipping server", zap.String("server", name), zap.Error(res.err))
			failures = append(failures, derr)
			continue
		}
		b.logger.Info("discovered server tools",
			zap.String("server", name),
			zap.Int("tools", len(res.server.Tools)),
		)
		committed = append(committed, res.server)
	}

	if len(committed) == 0 {
		return nil, errors.Join(append([]error{ErrNoServers}, failures...)...)
	}

	var version uint64 = 1
	if prev != nil {
		version = prev.Version() + 1
	}
	snap, err := NewSnapshot(version, b.now(), committed)
	if err != nil {
		return nil, err
	}
	return snap, errors.Join(failures...)
}

func (b *Builder) discover(ctx context.Context, srv backend.Backend) discovered {
	ctx, cancel := context.WithTimeout(ctx, b.serverTimeout)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return discovered{err: err}
	}
	tools, err := srv.ListTools(ctx)
	if err != nil {
		return discovered{err: err}
	}
	return discovered{server: b.collect(srv, tools)}
}

// collect converts listed tools, dropping duplicates and unusable names.
func (b *Builder) collect(srv backend.Backend, tools []model.Tool) Server {
	out := Server{Name: srv.Name(), Kind: srv.Kind(), Tools: make([]ToolDescriptor, 0, len(tools))}
	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if seen[t.Name] {
			b.logger.Warn("dropping duplicate tool",
				zap.String("server", srv.Name()),
				zap.String("tool", t.Name),
			)
			continue
		}
		d, err := NewDescriptor(srv.Name(), t)
		if err != nil {
			b.logger.Warn("dropping tool", zap.String("server", srv.Name()), zap.Error(err))
			continue
		}
		seen[t.Name] = true
		out.Tools = append(out.Tools, d)
	}
	return out
}

// BuildAndSave builds a snapshot following the store's current one and
// persists it. Partial builds are saved; the discovery error is returned
// alongside the snapshot.
func (b *Builder) BuildAndSave(ctx context.Context, store Store) (*Snapshot, error) {
	prev, err := store.Load(ctx)
	if err != nil && !errors.Is(err, ErrNoSnapshot) {
		b.logger.Warn("ignoring unreadable previous snapshot", zap.Error(err))
	}
	if err != nil {
		prev = nil
	}

	snap, buildErr := b.Build(ctx, prev)
	if snap == nil {
		return nil, buildErr
	}
	if err := store.Save(ctx, snap); err != nil {
		return nil, errors.Join(fmt.Errorf("save snapshot: %w", err), buildErr)
	}
	b.logger.Info("saved registry snapshot",
		zap.Uint64("version", snap.Version()),
		zap.Int("tools", snap.Len()),
		zap.String("digest", snap.Digest()),
	)
	return snap, buildErr
}
