package registry

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcher_ReloadsOnSave(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "registry.json"))
	first := testSnapshot(t)
	if err := store.Save(context.Background(), first); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	h := NewHolder(first)

	reloaded := make(chan *Snapshot, 4)
	w := NewWatcher(store, h, nil, func(s *Snapshot) { reloaded <- s })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	next, err := NewSnapshot(first.Version()+1, testTime, []Server{{Name: "fresh"}})
	if err != nil {
		t.Fatalf("NewSnapshot() error = %v", err)
	}
	if err := store.Save(context.Background(), next); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	select {
	case got := <-reloaded:
		if got.Digest() != next.Digest() {
			t.Errorf("reloaded digest = %s, want %s", got.Digest(), next.Digest())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not reload the snapshot")
	}
	if h.Current().Digest() != next.Digest() {
		t.Error("holder not updated")
	}
}
