package exec

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonwraymond/codemode/backend"
	"github.com/jonwraymond/codemode/code"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/registry"
	"github.com/jonwraymond/codemode/run"
	"github.com/jonwraymond/codemode/runtime"
	"github.com/jonwraymond/codemode/runtime/backend/starlark"
	"github.com/jonwraymond/codemode/runtime/toolcodeengine"
	"github.com/jonwraymond/codemode/tokens"
	"github.com/jonwraymond/tooldiscovery/index"
	"github.com/jonwraymond/tooldiscovery/tooldoc"
	"go.uber.org/zap"
)

// Exec is the unified facade over servers, snapshot and both tool-access
// modes.
type Exec struct {
	opts       Options
	aggregator *backend.Aggregator
	builder    *registry.Builder
	holder     *registry.Holder
	engine     *toolcodeengine.Engine
	tally      *tokens.Accountant
	logger     *zap.Logger

	mu    sync.Mutex
	state *snapshotState
}

// snapshotState is everything derived from one snapshot.
type snapshotState struct {
	snap       *registry.Snapshot
	tree       *discovery.Tree
	index      *registry.SearchIndex
	dispatcher *run.Dispatcher
	executor   *code.DefaultExecutor
	defs       []run.Definition
	defTokens  int
}

// New creates a new Exec instance with the given options. When a Store is
// configured and the holder is empty, the stored snapshot is loaded; a
// missing snapshot is not an error, so Rebuild can run later.
func New(opts Options) (*Exec, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	opts.applyDefaults()

	builder, err := registry.NewBuilder(registry.BuilderConfig{
		Servers:       opts.Servers,
		ServerTimeout: opts.ServerTimeout,
		Logger:        opts.Logger.Named("registry"),
	})
	if err != nil {
		return nil, err
	}

	rt := opts.Runtime
	if rt == nil {
		rt = defaultRuntime(opts.SecurityProfile, opts.Logger)
	}
	engine, err := toolcodeengine.New(toolcodeengine.Config{
		Runtime: rt,
		Profile: opts.SecurityProfile,
		Modules: opts.Modules,
	})
	if err != nil {
		return nil, err
	}

	e := &Exec{
		opts:       opts,
		aggregator: backend.NewAggregator(opts.Servers),
		builder:    builder,
		holder:     opts.Holder,
		engine:     engine,
		tally:      opts.Accountant,
		logger:     opts.Logger,
	}

	if opts.Store != nil && e.holder.Current() == nil {
		snap, err := opts.Store.Load(context.Background())
		switch {
		case err == nil:
			e.holder.Swap(snap)
		case errors.Is(err, registry.ErrNoSnapshot):
		default:
			e.logger.Warn("ignoring unreadable registry snapshot", zap.Error(err))
		}
	}
	return e, nil
}

func defaultRuntime(profile runtime.SecurityProfile, logger *zap.Logger) runtime.Runtime {
	sandbox := starlark.New(starlark.Config{Logger: logger.Named("sandbox")})
	return runtime.NewDefaultRuntime(runtime.RuntimeConfig{
		Backends: map[runtime.SecurityProfile]runtime.Backend{
			runtime.ProfileDev:      sandbox,
			runtime.ProfileStandard: sandbox,
			runtime.ProfileHardened: sandbox,
		},
		DefaultProfile: profile,
		Logger:         logger.Named("runtime"),
	})
}

// Rebuild queries every enabled server, persists the resulting snapshot,
// materializes the discovery hierarchy when configured and makes the
// snapshot current. It holds the snapshot exclusively while doing so.
//
// A partial build installs the snapshot of the servers that answered and
// returns the discovery error alongside it. Rebuild returns a nil snapshot
// whenever nothing was installed: no server answered, or the new snapshot
// could not be saved or materialized. The previous snapshot then stays
// current.
func (e *Exec) Rebuild(ctx context.Context) (*registry.Snapshot, error) {
	return e.holder.Update(ctx, func(ctx context.Context, current *registry.Snapshot) (*registry.Snapshot, error) {
		next, buildErr := e.builder.Build(ctx, current)
		if next == nil {
			return nil, buildErr
		}
		st, err := e.derive(next)
		if err != nil {
			return nil, errors.Join(err, buildErr)
		}
		if e.opts.Store != nil {
			if err := e.opts.Store.Save(ctx, next); err != nil {
				return nil, errors.Join(fmt.Errorf("save snapshot: %w", err), buildErr)
			}
		}
		if e.opts.DiscoveryRoot != "" {
			if err := discovery.Materialize(st.tree, e.opts.DiscoveryRoot); err != nil {
				return nil, errors.Join(fmt.Errorf("materialize discovery tree: %w", err), buildErr)
			}
		}

		e.mu.Lock()
		e.state = st
		e.mu.Unlock()

		e.logger.Info("registry rebuilt",
			zap.Uint64("version", next.Version()),
			zap.Int("servers", len(next.Servers())),
			zap.Int("tools", next.Len()),
			zap.Int("definitionTokens", st.defTokens),
		)
		return next, buildErr
	})
}

// acquire leases the current snapshot and returns its derived state. The
// caller must call release exactly once and must not acquire again before
// releasing.
func (e *Exec) acquire() (st *snapshotState, release func(), err error) {
	snap, release := e.holder.Acquire()
	if snap == nil {
		release()
		return nil, nil, registry.ErrNoSnapshot
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == nil || e.state.snap != snap {
		st, err := e.derive(snap)
		if err != nil {
			release()
			return nil, nil, err
		}
		e.state = st
	}
	return e.state, release, nil
}

func (e *Exec) derive(snap *registry.Snapshot) (*snapshotState, error) {
	idx, err := snap.Index()
	if err != nil {
		return nil, fmt.Errorf("index snapshot: %w", err)
	}
	if skipped := idx.Skipped(); len(skipped) > 0 {
		e.logger.Warn("tools left out of search", zap.Strings("tools", skipped))
	}
	dispatcher, err := run.NewDispatcher(snap,
		run.WithInvoker(e.aggregator),
		run.WithValidation(!e.opts.DisableValidation),
		run.WithLogger(e.logger.Named("dispatch")),
	)
	if err != nil {
		return nil, err
	}
	tree := discovery.Export(snap)
	executor, err := code.NewDefaultExecutor(code.Config{
		Tree:               tree,
		Run:                dispatcher,
		Search:             idx,
		Engine:             e.engine,
		DefaultTimeout:     e.opts.DefaultTimeout,
		MaxToolCalls:       e.opts.MaxToolCalls,
		DefaultMemoryLimit: e.opts.MemoryLimit,
		DefaultMaxSteps:    e.opts.MaxSteps,
		Logger:             code.ZapLogger(e.logger.Named("code")),
	})
	if err != nil {
		return nil, err
	}
	defs := run.Definitions(snap)
	cost, err := tokens.DefinitionCost(defs)
	if err != nil {
		return nil, err
	}
	return &snapshotState{
		snap:       snap,
		tree:       tree,
		index:      idx,
		dispatcher: dispatcher,
		executor:   executor,
		defs:       defs,
		defTokens:  cost,
	}, nil
}

// Snapshot returns the current snapshot, or nil before the first build.
func (e *Exec) Snapshot() *registry.Snapshot {
	return e.holder.Current()
}

// Holder returns the snapshot holder.
func (e *Exec) Holder() *registry.Holder {
	return e.holder
}

// Servers returns the server registry.
func (e *Exec) Servers() *backend.Registry {
	return e.opts.Servers
}

// Accountant returns the token tally shared by all sessions.
func (e *Exec) Accountant() *tokens.Accountant {
	return e.tally
}

// Tree returns the discovery hierarchy of the current snapshot.
func (e *Exec) Tree() (*discovery.Tree, error) {
	st, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return st.tree, nil
}

// Definitions returns the traditional-mode tool list for the current
// snapshot and its estimated token cost.
func (e *Exec) Definitions() ([]run.Definition, int, error) {
	st, release, err := e.acquire()
	if err != nil {
		return nil, 0, err
	}
	defer release()
	return append([]run.Definition(nil), st.defs...), st.defTokens, nil
}

// SearchTools searches the current snapshot's tool index.
func (e *Exec) SearchTools(ctx context.Context, query string, limit int) ([]index.Summary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	st, release, err := e.acquire()
	if err != nil {
		return nil, err
	}
	defer release()
	return st.index.Search(query, limit)
}

// DescribeTool documents a tool of the current snapshot. An empty level
// means summary.
func (e *Exec) DescribeTool(ctx context.Context, id string, level tooldoc.DetailLevel) (tooldoc.ToolDoc, error) {
	if err := ctx.Err(); err != nil {
		return tooldoc.ToolDoc{}, err
	}
	st, release, err := e.acquire()
	if err != nil {
		return tooldoc.ToolDoc{}, err
	}
	defer release()
	if level == "" {
		level = tooldoc.DetailSummary
	}
	return st.index.Describe(id, level)
}

// Dispatch runs a traditional-mode tool call without recording tokens.
func (e *Exec) Dispatch(ctx context.Context, call run.ToolCall) (run.RunResult, error) {
	st, release, err := e.acquire()
	if err != nil {
		return run.RunResult{}, err
	}
	defer release()
	return st.dispatcher.Dispatch(ctx, call)
}

// ExecuteCode runs a snippet without recording tokens.
func (e *Exec) ExecuteCode(ctx context.Context, params code.ExecuteParams) (code.ExecuteResult, error) {
	st, release, err := e.acquire()
	if err != nil {
		return code.ExecuteResult{}, err
	}
	defer release()
	return st.executor.ExecuteCode(ctx, params)
}

// Close stops every server.
func (e *Exec) Close() error {
	return e.opts.Servers.StopAll()
}
