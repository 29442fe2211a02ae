package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jonwraymond/codemode/compare"
	"github.com/jonwraymond/codemode/discovery"
	"github.com/jonwraymond/codemode/registry"
	transporthttp "github.com/jonwraymond/codemode/transport/http"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func runBuild(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("build", stderr)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	snap, err := a.exec.Rebuild(ctx)
	if snap == nil {
		if err == nil {
			err = errors.New("no snapshot built")
		}
		return err
	}
	if err != nil {
		// Partial build: the snapshot of the healthy servers was saved.
		fmt.Fprintf(stderr, "warning: %v\n", err)
	}
	fmt.Fprintf(stdout, "registry v%d: %d servers, %d tools (digest %s)\n",
		snap.Version(), len(snap.Servers()), snap.Len(), shortDigest(snap.Digest()))
	return nil
}

func runTree(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("tree", stderr)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	root := "/"
	if fs.NArg() > 0 {
		root = fs.Arg(0)
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	tree, err := a.exec.Tree()
	if errors.Is(err, registry.ErrNoSnapshot) {
		return fmt.Errorf("%w (run codemode build first)", err)
	}
	if err != nil {
		return err
	}
	return printTree(stdout, tree, root)
}

// printTree writes the subtree at root, one entry per line, indented by
// depth. Directories end in a slash.
func printTree(w io.Writer, tree *discovery.Tree, root string) error {
	root = discovery.CleanPath(root)
	start, ok := tree.Lookup(root)
	if !ok {
		return fmt.Errorf("%s: no such path", root)
	}
	base := depth(start.Path)
	return tree.Walk(func(n discovery.Node) error {
		if n.Path != root && !strings.HasPrefix(n.Path, strings.TrimSuffix(root, "/")+"/") {
			return nil
		}
		name := n.Name
		if n.Kind.IsDir() && n.Path != "/" {
			name += "/"
		}
		_, err := fmt.Fprintf(w, "%s%s\n", strings.Repeat("  ", depth(n.Path)-base), name)
		return err
	})
}

func depth(p string) int {
	if p == "/" {
		return 0
	}
	return strings.Count(p, "/")
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func runCompare(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("compare", stderr)
	scriptPath := fs.String("script", "", "comparison script (YAML or JSON)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *scriptPath == "" {
		return fmt.Errorf("%w: -script is required", errUsage)
	}
	script, err := compare.LoadScript(*scriptPath)
	if err != nil {
		return err
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.ensureSnapshot(ctx); err != nil {
		return err
	}

	rep, runErr := compare.Run(ctx, a.exec, script)
	if err := rep.WriteTable(stdout); err != nil {
		return err
	}
	return runErr
}

func runServe(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs, configPath := newFlags("serve", stderr)
	addr := fs.String("addr", "", "listen address (overrides http.addr)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	a, err := newApp(*configPath)
	if err != nil {
		return err
	}
	defer a.Close()
	if *addr == "" {
		*addr = a.cfg.HTTP.Addr
	}
	if err := a.ensureSnapshot(ctx); err != nil {
		return err
	}

	srv := transporthttp.NewServer(a.exec, a.logger.Named("http"),
		transporthttp.WithSessionTTL(a.cfg.HTTP.SessionTTL),
		transporthttp.WithMaxSessions(a.cfg.HTTP.MaxSessions),
		transporthttp.WithPersistGlobals(a.cfg.HTTP.PersistGlobals),
	)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, *addr)
	})
	if fstore, ok := a.store.(*registry.FileStore); ok && a.cfg.Registry.Watch {
		w := registry.NewWatcher(fstore, a.exec.Holder(), a.logger.Named("watch"), func(s *registry.Snapshot) {
			a.logger.Info("serving reloaded snapshot", zap.Uint64("version", s.Version()))
		})
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	fmt.Fprintf(stdout, "serving on %s\n", *addr)
	return g.Wait()
}
