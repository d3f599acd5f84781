package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/thenervelab/miner-ipfs-service/internal/chain"
	"github.com/thenervelab/miner-ipfs-service/internal/cidcodec"
	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// Orchestrator sequences the engine components once per poll interval and
// owns startup bootstrap.
type Orchestrator struct {
	store   *pinstate.Store
	backend StorageBackend
	source  ChainSource
	decoder *cidcodec.Decoder
	rec     metrics.Recorder
	log     *slog.Logger

	synchronizer *Synchronizer
	pinWorker    *PinWorker
	unpinWorker  *UnpinWorker
	sweep        *Sweep
	reporter     *Reporter
	gc           *GCScheduler

	pollInterval time.Duration
}

// NewOrchestrator wires all engine components from configuration.
func NewOrchestrator(cfg *config.Config, store *pinstate.Store, backend StorageBackend, source ChainSource, rec metrics.Recorder, logger *slog.Logger) *Orchestrator {
	decoder := cidcodec.New(logger)
	return &Orchestrator{
		store:        store,
		backend:      backend,
		source:       source,
		decoder:      decoder,
		rec:          rec,
		log:          logging.NewComponentLogger(logger, "orchestrator"),
		synchronizer: NewSynchronizer(store, backend, source, decoder, rec, logger),
		pinWorker:    NewPinWorker(store, backend, rec, cfg.Service.MaxPinRetries, logger),
		unpinWorker:  NewUnpinWorker(store, backend, rec, logger),
		sweep:        NewSweep(store, backend, rec, cfg.Service.MaxPinRetries, logger),
		reporter:     NewReporter(store, cfg.Paths.ReportFile, logger),
		gc:           NewGCScheduler(backend, rec, cfg.Service.GCTriggerIntervalLoops, logger),
		pollInterval: time.Duration(cfg.Service.PollingIntervalSeconds) * time.Second,
	}
}

// Bootstrap prepares the agent before the reconciliation loop starts:
// resolve identity (fatal on failure), aggressively remove pins the chain
// no longer wants, populate the store with a startup sync, and run one
// garbage collection.
func (o *Orchestrator) Bootstrap(ctx context.Context) error {
	if _, err := o.synchronizer.NodeID(ctx); err != nil {
		return fmt.Errorf("resolve node identity: %w", err)
	}

	if err := o.aggressiveCleanup(ctx); err != nil {
		o.log.Warn("startup cleanup incomplete", logging.Error(err))
	}

	if err := o.synchronizer.Sync(ctx, true); err != nil {
		return fmt.Errorf("startup sync: %w", err)
	}

	o.gc.RunOnce(ctx)
	return nil
}

// aggressiveCleanup unpins everything the daemon holds that the chain
// does not currently want, bypassing the store. The probe reads the chain
// and profile content inline; if the profile document cannot be read its
// own CID is still protected.
func (o *Orchestrator) aggressiveCleanup(ctx context.Context) error {
	actual, err := o.backend.ListPinned(ctx)
	if err != nil {
		return fmt.Errorf("list pins: %w", err)
	}
	if len(actual) == 0 {
		return nil
	}

	desired, err := o.probeDesired(ctx)
	if err != nil {
		return fmt.Errorf("probe desired set: %w", err)
	}

	removed := 0
	for cid := range actual {
		if _, ok := desired[cid]; ok {
			continue
		}
		if err := o.backend.Unpin(ctx, cid); err != nil {
			o.rec.UnpinAttempt(false)
			o.log.Warn("startup unpin failed", logging.String(logging.FieldCID, cid), logging.Error(err))
			continue
		}
		o.rec.UnpinAttempt(true)
		removed++
	}
	o.log.Info("startup cleanup done",
		logging.Int("held", len(actual)),
		logging.Int("wanted", len(desired)),
		logging.Int("removed", removed))
	return nil
}

func (o *Orchestrator) probeDesired(ctx context.Context) (map[string]struct{}, error) {
	nodeID, err := o.synchronizer.NodeID(ctx)
	if err != nil {
		return nil, err
	}

	rawValue, err := o.source.ProfileCID(ctx, nodeID)
	if errors.Is(err, chain.ErrNoProfile) {
		return map[string]struct{}{}, nil
	}
	if err != nil {
		return nil, err
	}
	profileCID, err := o.decoder.ChainValue(rawValue)
	if err != nil {
		return nil, err
	}

	desired := map[string]struct{}{profileCID: {}}
	content, err := o.synchronizer.desiredContent(ctx, profileCID)
	if err != nil {
		o.log.Warn("profile content unreadable during cleanup, keeping profile only",
			logging.String(logging.FieldCID, profileCID), logging.Error(err))
		return desired, nil
	}
	for cid := range content {
		desired[cid] = struct{}{}
	}
	return desired, nil
}

// RunCycle executes one full reconciliation cycle. Step failures are
// logged and do not abort the remaining steps.
func (o *Orchestrator) RunCycle(ctx context.Context) {
	started := time.Now()

	if height, err := o.source.BlockNumber(ctx); err != nil {
		o.log.Warn("chain height unavailable", logging.Error(err))
	} else {
		o.log.Info("cycle started", logging.Int64(logging.FieldBlock, int64(height)))
	}

	steps := []struct {
		name string
		run  func(context.Context) error
	}{
		{"profile sync", func(ctx context.Context) error { return o.synchronizer.Sync(ctx, false) }},
		{"pin pending", o.pinWorker.ProcessPending},
		{"pin retries", o.pinWorker.ProcessFailed},
		{"unpin requests", o.unpinWorker.ProcessUnpinRequests},
		{"reconciliation sweep", o.sweep.Run},
		{"unpinnable report", o.reporter.Flush},
	}
	for _, step := range steps {
		if ctx.Err() != nil {
			return
		}
		if err := step.run(ctx); err != nil {
			o.log.Error("cycle step failed", logging.String("step", step.name), logging.Error(err))
		}
	}

	o.gc.Tick(ctx)
	o.publishGauges(ctx)
	o.rec.CycleCompleted(time.Since(started))
}

func (o *Orchestrator) publishGauges(ctx context.Context) {
	stats, err := o.store.Stats(ctx)
	if err != nil {
		o.log.Warn("stats unavailable", logging.Error(err))
		return
	}
	o.rec.SetRecordCounts(
		stats.ByStatus[pinstate.StatusPendingPin],
		stats.ByStatus[pinstate.StatusPinned],
		stats.ByStatus[pinstate.StatusFailedPin],
		stats.ByStatus[pinstate.StatusUnpinRequested],
	)
}

// Run executes cycles until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		o.RunCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
