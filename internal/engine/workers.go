package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// PinWorker drains pin intents, applying the bounded-retry policy.
type PinWorker struct {
	store      *pinstate.Store
	backend    StorageBackend
	rec        metrics.Recorder
	log        *slog.Logger
	maxRetries int
}

func NewPinWorker(store *pinstate.Store, backend StorageBackend, rec metrics.Recorder, maxRetries int, logger *slog.Logger) *PinWorker {
	return &PinWorker{
		store:      store,
		backend:    backend,
		rec:        rec,
		log:        logging.NewComponentLogger(logger, "pin"),
		maxRetries: maxRetries,
	}
}

// ProcessPending attempts a pin for every pending_pin record.
func (w *PinWorker) ProcessPending(ctx context.Context) error {
	records, err := w.store.RecordsByStatus(ctx, pinstate.StatusPendingPin)
	if err != nil {
		return fmt.Errorf("read pending records: %w", err)
	}

	for _, rec := range records {
		if err := w.attempt(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

// ProcessFailed retries failed_pin records. A record already at the retry
// limit is demoted without another backend call.
func (w *PinWorker) ProcessFailed(ctx context.Context) error {
	records, err := w.store.RecordsByStatus(ctx, pinstate.StatusFailedPin)
	if err != nil {
		return fmt.Errorf("read failed records: %w", err)
	}

	for _, rec := range records {
		if rec.RetryCount >= w.maxRetries {
			if err := applyPinFailure(ctx, w.store, w.rec, w.log, rec.CID, rec.RetryCount, w.maxRetries); err != nil {
				return err
			}
			continue
		}
		if err := w.attempt(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (w *PinWorker) attempt(ctx context.Context, rec pinstate.Record) error {
	if err := w.backend.Pin(ctx, rec.CID); err != nil {
		w.rec.PinAttempt(false)
		w.log.Warn("pin attempt failed",
			logging.String(logging.FieldCID, rec.CID),
			logging.Int("retry_count", rec.RetryCount+1),
			logging.Error(err))
		return applyPinFailure(ctx, w.store, w.rec, w.log, rec.CID, rec.RetryCount+1, w.maxRetries)
	}

	w.rec.PinAttempt(true)
	if err := w.store.SetStatus(ctx, rec.CID, pinstate.StatusPinned); err != nil {
		return fmt.Errorf("mark pinned: %w", err)
	}
	w.log.Info("cid pinned", logging.String(logging.FieldCID, rec.CID))
	return nil
}

// UnpinWorker drains unpin intents.
type UnpinWorker struct {
	store   *pinstate.Store
	backend StorageBackend
	rec     metrics.Recorder
	log     *slog.Logger
}

func NewUnpinWorker(store *pinstate.Store, backend StorageBackend, rec metrics.Recorder, logger *slog.Logger) *UnpinWorker {
	return &UnpinWorker{
		store:   store,
		backend: backend,
		rec:     rec,
		log:     logging.NewComponentLogger(logger, "unpin"),
	}
}

// ProcessUnpinRequests unpins every unpin_requested record, deleting the
// record on success. A failed unpin falls back to failed_pin so the next
// cycles keep the CID visible for retry accounting.
func (w *UnpinWorker) ProcessUnpinRequests(ctx context.Context) error {
	records, err := w.store.RecordsByStatus(ctx, pinstate.StatusUnpinRequested)
	if err != nil {
		return fmt.Errorf("read unpin requests: %w", err)
	}

	for _, rec := range records {
		if err := w.backend.Unpin(ctx, rec.CID); err != nil {
			w.rec.UnpinAttempt(false)
			w.log.Warn("unpin attempt failed",
				logging.String(logging.FieldCID, rec.CID),
				logging.Error(err))
			if err := w.store.SetStatus(ctx, rec.CID, pinstate.StatusFailedPin); err != nil {
				return fmt.Errorf("record unpin failure: %w", err)
			}
			continue
		}
		w.rec.UnpinAttempt(true)
		if err := w.store.Remove(ctx, rec.CID); err != nil {
			return fmt.Errorf("remove unpinned record: %w", err)
		}
		w.log.Info("cid unpinned", logging.String(logging.FieldCID, rec.CID))
	}
	return nil
}
