package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestHolder_UpdateWaitsForLeases(t *testing.T) {
	first := testSnapshot(t)
	h := NewHolder(first)

	snap, release := h.Acquire()
	if snap != first {
		t.Fatal("Acquire() returned wrong snapshot")
	}

	var updated atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.Update(context.Background(), func(_ context.Context, cur *Snapshot) (*Snapshot, error) {
			updated.Store(true)
			return NewSnapshot(cur.Version()+1, testTime, nil)
		})
	}()

	time.Sleep(20 * time.Millisecond)
	if updated.Load() {
		t.Fatal("Update ran while a lease was held")
	}
	release()
	release() // second call is a no-op
	<-done

	if h.Current().Version() != first.Version()+1 {
		t.Errorf("Current().Version() = %d", h.Current().Version())
	}
}

func TestHolder_UpdateKeepsCurrentOnFailure(t *testing.T) {
	first := testSnapshot(t)
	h := NewHolder(first)
	boom := errors.New("boom")

	got, err := h.Update(context.Background(), func(context.Context, *Snapshot) (*Snapshot, error) {
		return nil, boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Update() error = %v", err)
	}
	if got != nil || h.Current() != first {
		t.Error("failed update replaced the snapshot")
	}
}

func TestHolder_Swap(t *testing.T) {
	h := NewHolder(nil)
	snap := testSnapshot(t)
	if prev := h.Swap(snap); prev != nil {
		t.Errorf("Swap() prev = %v, want nil", prev)
	}
	if h.Current() != snap {
		t.Error("Current() did not return swapped snapshot")
	}
}
