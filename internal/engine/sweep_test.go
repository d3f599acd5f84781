package engine

import (
	"context"
	"testing"

	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

func TestSweepRemovesStrayPins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.backend.pinned["QmStray"] = struct{}{}

	if err := h.sweep.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := h.backend.pinned["QmStray"]; ok {
		t.Fatal("stray pin survived sweep")
	}
	// Best effort only: the store is not touched for stray pins.
	rec, err := h.store.RecordDetails(ctx, "QmStray")
	if err != nil {
		t.Fatalf("RecordDetails: %v", err)
	}
	if rec != nil {
		t.Fatalf("sweep created a record for a stray pin: %+v", rec)
	}
}

func TestSweepProtectsActiveProfile(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The profile document is pinned on the backend but its pin record is
	// gone; the sweep must repair the store, not unpin it.
	if err := h.store.SetActiveProfile(ctx, testProfileCID); err != nil {
		t.Fatalf("SetActiveProfile: %v", err)
	}
	if err := h.store.Remove(ctx, testProfileCID); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	h.backend.pinned[testProfileCID] = struct{}{}

	if err := h.sweep.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := h.backend.pinned[testProfileCID]; !ok {
		t.Fatal("sweep unpinned the active profile document")
	}
	rec, err := h.store.RecordDetails(ctx, testProfileCID)
	if err != nil {
		t.Fatalf("RecordDetails: %v", err)
	}
	if rec == nil || rec.Status != pinstate.StatusPinned {
		t.Fatalf("repaired record = %+v, want pinned", rec)
	}

	// The document is already pinned; repairing the record must not cost a
	// pin attempt on the next cycle.
	if err := h.pins.ProcessPending(ctx); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	for _, cid := range h.backend.pinCalls {
		if cid == testProfileCID {
			t.Fatal("repaired profile record triggered a redundant pin")
		}
	}
}

func TestSweepRestoresMissingPins(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.AddForPinning(ctx, testContentA); err != nil {
		t.Fatalf("AddForPinning: %v", err)
	}
	if err := h.store.SetStatus(ctx, testContentA, pinstate.StatusPinned); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	// The backend lost the pin.

	if err := h.sweep.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := h.backend.pinned[testContentA]; !ok {
		t.Fatal("missing pin not restored")
	}
}

func TestCyclesConvergeWithinRetryBound(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.AddForPinning(ctx, testContentA); err != nil {
		t.Fatalf("AddForPinning: %v", err)
	}
	h.backend.pinFailures[testContentA] = 2 // succeeds on the third attempt

	for cycle := 0; cycle < testMaxRetries; cycle++ {
		if err := h.pins.ProcessPending(ctx); err != nil {
			t.Fatalf("ProcessPending #%d: %v", cycle, err)
		}
		if err := h.pins.ProcessFailed(ctx); err != nil {
			t.Fatalf("ProcessFailed #%d: %v", cycle, err)
		}
		if err := h.sweep.Run(ctx); err != nil {
			t.Fatalf("Run #%d: %v", cycle, err)
		}
	}

	if _, ok := h.backend.pinned[testContentA]; !ok {
		t.Fatal("backend did not converge to the desired set")
	}
	rec, err := h.store.RecordDetails(ctx, testContentA)
	if err != nil {
		t.Fatalf("RecordDetails: %v", err)
	}
	if rec == nil || rec.Status != pinstate.StatusPinned {
		t.Fatalf("record = %+v, want pinned", rec)
	}
}

func TestCyclesDemotePersistentFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if err := h.store.AddForPinning(ctx, testContentA); err != nil {
		t.Fatalf("AddForPinning: %v", err)
	}
	h.backend.pinFailures[testContentA] = -1

	for cycle := 0; cycle < testMaxRetries; cycle++ {
		if err := h.pins.ProcessPending(ctx); err != nil {
			t.Fatalf("ProcessPending #%d: %v", cycle, err)
		}
		if err := h.pins.ProcessFailed(ctx); err != nil {
			t.Fatalf("ProcessFailed #%d: %v", cycle, err)
		}
		if err := h.sweep.Run(ctx); err != nil {
			t.Fatalf("Run #%d: %v", cycle, err)
		}
	}

	rec, err := h.store.RecordDetails(ctx, testContentA)
	if err != nil {
		t.Fatalf("RecordDetails: %v", err)
	}
	if rec != nil {
		t.Fatalf("record survives exhaustion: %+v", rec)
	}
	unpinnables, err := h.store.Unpinnables(ctx)
	if err != nil {
		t.Fatalf("Unpinnables: %v", err)
	}
	if len(unpinnables) != 1 {
		t.Fatalf("unpinnables = %+v, want one entry", unpinnables)
	}
}
