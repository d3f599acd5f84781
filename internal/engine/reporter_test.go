package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func newTestReporter(t *testing.T, h *harness) (*Reporter, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "unpinnable_cids_report.json")
	return NewReporter(h.store, path, nil), path
}

func readReport(t *testing.T, path string) []ReportEntry {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var entries []ReportEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	return entries
}

func TestReporterFlushesUnreported(t *testing.T) {
	h := newHarness(t)
	reporter, path := newTestReporter(t, h)
	ctx := context.Background()

	if err := h.store.AddUnpinnable(ctx, "QmBad", "pin failed after 3 attempts"); err != nil {
		t.Fatalf("AddUnpinnable: %v", err)
	}
	if err := reporter.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries := readReport(t, path)
	if len(entries) != 1 || entries[0].CID != "QmBad" {
		t.Fatalf("report = %+v", entries)
	}
	if entries[0].ReportedAt == 0 {
		t.Fatal("reported_at not set")
	}

	unreported, err := h.store.UnreportedUnpinnables(ctx)
	if err != nil {
		t.Fatalf("UnreportedUnpinnables: %v", err)
	}
	if len(unreported) != 0 {
		t.Fatalf("unreported = %+v after flush", unreported)
	}
}

func TestReporterDedupsByCID(t *testing.T) {
	h := newHarness(t)
	reporter, path := newTestReporter(t, h)
	ctx := context.Background()

	// The same CID flushed across two cycles appends exactly once.
	if err := h.store.AddUnpinnable(ctx, "QmBad", "first failure"); err != nil {
		t.Fatalf("AddUnpinnable: %v", err)
	}
	if err := reporter.Flush(ctx); err != nil {
		t.Fatalf("first Flush: %v", err)
	}

	if err := h.store.AddUnpinnable(ctx, "QmBad", "second failure"); err != nil {
		t.Fatalf("AddUnpinnable again: %v", err)
	}
	if err := reporter.Flush(ctx); err != nil {
		t.Fatalf("second Flush: %v", err)
	}

	entries := readReport(t, path)
	if len(entries) != 1 {
		t.Fatalf("report has %d entries, want 1: %+v", len(entries), entries)
	}

	// The repeat is still marked reported in the store.
	unreported, err := h.store.UnreportedUnpinnables(ctx)
	if err != nil {
		t.Fatalf("UnreportedUnpinnables: %v", err)
	}
	if len(unreported) != 0 {
		t.Fatalf("unreported = %+v", unreported)
	}
}

func TestReporterToleratesCorruptFile(t *testing.T) {
	h := newHarness(t)
	reporter, path := newTestReporter(t, h)
	ctx := context.Background()

	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}
	if err := h.store.AddUnpinnable(ctx, "QmBad", "exhausted"); err != nil {
		t.Fatalf("AddUnpinnable: %v", err)
	}

	if err := reporter.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	entries := readReport(t, path)
	if len(entries) != 1 || entries[0].CID != "QmBad" {
		t.Fatalf("report = %+v", entries)
	}
}

func TestReporterNoopWhenNothingPending(t *testing.T) {
	h := newHarness(t)
	reporter, path := newTestReporter(t, h)

	if err := reporter.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("report file created with nothing to flush: %v", err)
	}
}
