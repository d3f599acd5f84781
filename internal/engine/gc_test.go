package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
)

func TestGCSchedulerFiresOnInterval(t *testing.T) {
	backend := newFakeBackend()
	gc := NewGCScheduler(backend, metrics.Nop{}, 3, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		gc.Tick(ctx)
	}
	if backend.gcRuns != 0 {
		t.Fatalf("gc ran %d times before interval", backend.gcRuns)
	}

	gc.Tick(ctx)
	if backend.gcRuns != 1 {
		t.Fatalf("gc runs = %d, want 1", backend.gcRuns)
	}

	for i := 0; i < 3; i++ {
		gc.Tick(ctx)
	}
	if backend.gcRuns != 2 {
		t.Fatalf("gc runs = %d, want 2 after second interval", backend.gcRuns)
	}
}

func TestGCSchedulerResetsCounterOnFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.gcErr = errors.New("gc busy")
	gc := NewGCScheduler(backend, metrics.Nop{}, 2, nil)
	ctx := context.Background()

	gc.Tick(ctx)
	gc.Tick(ctx)
	if backend.gcRuns != 1 {
		t.Fatalf("gc runs = %d, want 1", backend.gcRuns)
	}

	// The counter reset despite the failure: the next fire needs a full
	// interval again.
	gc.Tick(ctx)
	if backend.gcRuns != 1 {
		t.Fatalf("gc refired early after failure")
	}
	gc.Tick(ctx)
	if backend.gcRuns != 2 {
		t.Fatalf("gc runs = %d, want 2", backend.gcRuns)
	}
}
