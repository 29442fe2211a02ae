package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/jonwraymond/codemode/backend/local"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestBuilder_Build(t *testing.T) {
	snap := testSnapshot(t)

	if snap.Version() != 1 {
		t.Errorf("Version() = %d, want 1", snap.Version())
	}
	if got := snap.Servers(); len(got) != 2 || got[0] != "time" || got[1] != "git" {
		t.Errorf("Servers() = %v, want [time git]", got)
	}
	if snap.Len() != 3 {
		t.Errorf("Len() = %d, want 3", snap.Len())
	}
	if !snap.BuiltAt().Equal(testTime) {
		t.Errorf("BuiltAt() = %v, want %v", snap.BuiltAt(), testTime)
	}
	if kind, _ := snap.ServerKind("time"); kind != "local" {
		t.Errorf("ServerKind(time) = %q, want local", kind)
	}
}

func TestBuilder_BuildIncrementsVersion(t *testing.T) {
	b := newTestBuilder(t, newServers(t, timeServer()))
	first, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	second, err := b.Build(context.Background(), first)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if second.Version() != 2 {
		t.Errorf("Version() = %d, want 2", second.Version())
	}
	if first.Digest() != second.Digest() {
		t.Error("digest changed for unchanged servers")
	}
}

func TestBuilder_PartialBuild(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := newServers(t, timeServer(), &brokenServer{name: "github"}, gitServer())
	b, err := NewBuilder(BuilderConfig{Servers: reg, Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}

	snap, err := b.Build(context.Background(), nil)
	if snap == nil {
		t.Fatal("Build() returned nil snapshot for partial build")
	}
	if !errors.Is(err, ErrDiscovery) {
		t.Fatalf("Build() error = %v, want ErrDiscovery", err)
	}
	var derr *DiscoveryError
	if !errors.As(err, &derr) || derr.Server != "github" {
		t.Errorf("DiscoveryError = %v, want server github", derr)
	}
	if got := snap.Servers(); len(got) != 2 || got[0] != "time" || got[1] != "git" {
		t.Errorf("Servers() = %v, want [time git]", got)
	}
	if logs.FilterMessage("skipping server").Len() != 1 {
		t.Errorf("expected one skipping-server warning, got %d", logs.Len())
	}
}

func TestBuilder_AllServersFail(t *testing.T) {
	b := newTestBuilder(t, newServers(t, &brokenServer{name: "a"}, &brokenServer{name: "b"}))
	snap, err := b.Build(context.Background(), nil)
	if snap != nil {
		t.Error("Build() returned a snapshot when every server failed")
	}
	if !errors.Is(err, ErrNoServers) || !errors.Is(err, ErrDiscovery) {
		t.Errorf("Build() error = %v, want ErrNoServers and ErrDiscovery", err)
	}
}

func TestBuilder_NoServers(t *testing.T) {
	b := newTestBuilder(t, newServers(t))
	if _, err := b.Build(context.Background(), nil); !errors.Is(err, ErrNoServers) {
		t.Errorf("Build() error = %v, want ErrNoServers", err)
	}
}

func TestBuilder_DisabledServerSkipped(t *testing.T) {
	git := gitServer()
	git.SetEnabled(false)
	snap, err := newTestBuilder(t, newServers(t, timeServer(), git)).Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := snap.Servers(); len(got) != 1 || got[0] != "time" {
		t.Errorf("Servers() = %v, want [time]", got)
	}
}

func TestBuilder_DropsBadToolNames(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	srv := local.New("fs")
	srv.RegisterHandler("read_file", local.ToolDef{Handler: noop})
	srv.RegisterHandler("bad/name", local.ToolDef{Handler: noop})

	b, err := NewBuilder(BuilderConfig{Servers: newServers(t, srv), Logger: zap.New(core)})
	if err != nil {
		t.Fatalf("NewBuilder() error = %v", err)
	}
	snap, err := b.Build(context.Background(), nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if snap.Len() != 1 {
		t.Errorf("Len() = %d, want 1", snap.Len())
	}
	if logs.FilterMessage("dropping tool").Len() != 1 {
		t.Error("expected a dropping-tool warning")
	}
}

func TestBuilder_BuildAndSave(t *testing.T) {
	store := NewFileStore(t.TempDir() + "/registry.json")
	b := newTestBuilder(t, newServers(t, timeServer()))

	first, err := b.BuildAndSave(context.Background(), store)
	if err != nil {
		t.Fatalf("BuildAndSave() error = %v", err)
	}
	second, err := b.BuildAndSave(context.Background(), store)
	if err != nil {
		t.Fatalf("BuildAndSave() error = %v", err)
	}
	if first.Version() != 1 || second.Version() != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", first.Version(), second.Version())
	}
	loaded, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.Version() != 2 {
		t.Errorf("loaded Version() = %d, want 2", loaded.Version())
	}
}

func TestNewBuilder_RequiresServers(t *testing.T) {
	if _, err := NewBuilder(BuilderConfig{}); err == nil {
		t.Error("NewBuilder() expected error without servers")
	}
}
