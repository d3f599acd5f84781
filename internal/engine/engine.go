// Package engine implements pin-state reconciliation: it converges the
// local storage daemon's pinned set toward the desired set published on
// the ledger, using the pinstate store as the durable record of intent.
//
// Convergence is eventual, driven by repeated cycles. No multi-statement
// transaction spans a reconciliation pass; a crash mid-pass is repaired by
// the next cycle rather than rolled back.
package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// StorageBackend is the slice of the storage daemon's API the engine
// needs. Implementations must normalize idempotent outcomes: pinning an
// already-pinned CID and unpinning an unpinned CID both succeed.
type StorageBackend interface {
	Pin(ctx context.Context, cid string) error
	Unpin(ctx context.Context, cid string) error
	ListPinned(ctx context.Context) (map[string]struct{}, error)
	FetchJSON(ctx context.Context, cid string, target any) error
	GarbageCollect(ctx context.Context) (int, error)
}

// ChainSource reads the ledger state the agent acts on.
type ChainSource interface {
	NodeIdentity(ctx context.Context) (string, error)
	ProfileCID(ctx context.Context, nodeID string) (string, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// profileEntry is one record of the profile document. Only file_hash is
// consumed; it arrives as integer character codes.
type profileEntry struct {
	FileHash []int `json:"file_hash"`
}

// applyPinFailure applies the bounded-retry policy after a failed pin
// attempt. retryCount is the count after incrementing. At or past the
// limit the record is deleted and replaced by an unpinnable record.
func applyPinFailure(ctx context.Context, store *pinstate.Store, rec metrics.Recorder, log *slog.Logger, cid string, retryCount, maxRetries int) error {
	if retryCount >= maxRetries {
		reason := fmt.Sprintf("pin failed after %d attempts", retryCount)
		if err := store.Remove(ctx, cid); err != nil {
			return fmt.Errorf("remove exhausted record: %w", err)
		}
		if err := store.AddUnpinnable(ctx, cid, reason); err != nil {
			return fmt.Errorf("record unpinnable: %w", err)
		}
		rec.UnpinnableRecorded()
		log.Warn("cid exhausted pin retries", slog.String("cid", cid), slog.Int("attempts", retryCount))
		return nil
	}
	if err := store.SetStatusRetry(ctx, cid, pinstate.StatusFailedPin, retryCount); err != nil {
		return fmt.Errorf("record pin failure: %w", err)
	}
	return nil
}
