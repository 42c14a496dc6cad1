package genstore

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestLocalSnapshotMissingIsZero(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	g, err := s.Snapshot(ctx, "never")
	if err != nil || g != 0 {
		t.Fatalf("Snapshot: g=%d err=%v", g, err)
	}
	if s.Len() != 0 {
		t.Fatalf("snapshot must not allocate state, Len=%d", s.Len())
	}
}

func TestLocalBumpIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Bump(ctx, "k")
		}()
	}
	wg.Wait()

	g, _ := s.Snapshot(ctx, "k")
	if g != 100 {
		t.Fatalf("expected 100 bumps, got %d", g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if _, err := s.Bump(ctx, "new"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(50 * time.Millisecond)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "new"); g != 1 {
		t.Fatalf("recent generation should survive, got %d", g)
	}
}

func TestLocalCleanupLoop(t *testing.T) {
	ctx := context.Background()
	s := NewLocal(10*time.Millisecond, 20*time.Millisecond)
	_, _ = s.Bump(ctx, "k")

	deadline := time.Now().Add(time.Second)
	for s.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if s.Len() != 0 {
		t.Fatalf("cleanup loop did not prune")
	}
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// second Close is a no-op
	if err := s.Close(ctx); err != nil {
		t.Fatalf("Close twice: %v", err)
	}
}
