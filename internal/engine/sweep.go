package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// Sweep diffs the backend's actual pinned set against the store's intent
// and corrects drift in both directions.
type Sweep struct {
	store      *pinstate.Store
	backend    StorageBackend
	rec        metrics.Recorder
	log        *slog.Logger
	maxRetries int
}

func NewSweep(store *pinstate.Store, backend StorageBackend, rec metrics.Recorder, maxRetries int, logger *slog.Logger) *Sweep {
	return &Sweep{
		store:      store,
		backend:    backend,
		rec:        rec,
		log:        logging.NewComponentLogger(logger, "sweep"),
		maxRetries: maxRetries,
	}
}

// Run performs one reconciliation pass.
func (s *Sweep) Run(ctx context.Context) error {
	actual, err := s.backend.ListPinned(ctx)
	if err != nil {
		return fmt.Errorf("list actual pins: %w", err)
	}

	desiredList, err := s.store.DesiredPinned(ctx)
	if err != nil {
		return fmt.Errorf("read desired pins: %w", err)
	}
	desired := make(map[string]struct{}, len(desiredList))
	for _, cid := range desiredList {
		desired[cid] = struct{}{}
	}

	var activeCID string
	if profile, err := s.store.ActiveProfile(ctx); err != nil {
		return fmt.Errorf("read active profile: %w", err)
	} else if profile != nil {
		activeCID = profile.CID
	}

	// Pinned but not wanted. The active profile document is never swept
	// away; a missing record for it is repaired instead.
	for cid := range actual {
		if _, ok := desired[cid]; ok {
			continue
		}
		if cid == activeCID {
			s.log.Warn("active profile missing from store, repairing",
				logging.String(logging.FieldCID, cid))
			if err := s.store.AddForPinning(ctx, cid); err != nil {
				return fmt.Errorf("repair profile record: %w", err)
			}
			// The backend already holds the pin; record it as such so the
			// next cycle does not pin it again.
			if err := s.store.SetStatus(ctx, cid, pinstate.StatusPinned); err != nil {
				return fmt.Errorf("repair profile record: %w", err)
			}
			continue
		}
		// Best effort: no retry bookkeeping for stray pins.
		if err := s.backend.Unpin(ctx, cid); err != nil {
			s.rec.UnpinAttempt(false)
			s.log.Warn("stray pin removal failed", logging.String(logging.FieldCID, cid), logging.Error(err))
			continue
		}
		s.rec.UnpinAttempt(true)
		s.log.Info("stray pin removed", logging.String(logging.FieldCID, cid))
	}

	// Wanted but not pinned.
	for cid := range desired {
		if _, ok := actual[cid]; ok {
			continue
		}
		if err := s.backend.Pin(ctx, cid); err != nil {
			s.rec.PinAttempt(false)
			s.log.Warn("missing pin restore failed", logging.String(logging.FieldCID, cid), logging.Error(err))
			retryCount := 1
			if rec, detailsErr := s.store.RecordDetails(ctx, cid); detailsErr == nil && rec != nil {
				retryCount = rec.RetryCount + 1
			}
			if err := applyPinFailure(ctx, s.store, s.rec, s.log, cid, retryCount, s.maxRetries); err != nil {
				return err
			}
			continue
		}
		s.rec.PinAttempt(true)
		if err := s.store.SetStatus(ctx, cid, pinstate.StatusPinned); err != nil {
			return fmt.Errorf("mark restored pin: %w", err)
		}
		s.log.Info("missing pin restored", logging.String(logging.FieldCID, cid))
	}

	return nil
}
