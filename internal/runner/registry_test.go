package runner

import (
	"context"
	"testing"
)

func TestRegistryKillRoutesToCorrectRunner(t *testing.T) {
	reg := NewRegistry()
	r1 := &Runner{}
	r2 := &Runner{}
	reg.Register(context.Background(), 1, r1)
	reg.Register(context.Background(), 2, r2)

	if !reg.Kill(context.Background(), 1, true) {
		t.Fatal("expected Kill to find runner 1")
	}
	if !r1.killed.Load() {
		t.Fatal("expected runner 1 to be marked killed")
	}
	if r2.killed.Load() {
		t.Fatal("expected runner 2 to be untouched")
	}
}

func TestRegistryKillMissingReturnsFalse(t *testing.T) {
	reg := NewRegistry()
	if reg.Kill(context.Background(), 99, true) {
		t.Fatal("expected Kill to report not found")
	}
}

func TestRegistryEvictIsIdempotent(t *testing.T) {
	reg := NewRegistry()
	reg.Register(context.Background(), 1, &Runner{})
	if reg.Len() != 1 {
		t.Fatalf("expected len 1, got %d", reg.Len())
	}
	reg.Evict(context.Background(), 1)
	reg.Evict(context.Background(), 1)
	if reg.Len() != 0 {
		t.Fatalf("expected len 0 after evict, got %d", reg.Len())
	}
}
