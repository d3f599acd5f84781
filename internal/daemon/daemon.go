// Package daemon wires the service together: single-instance locking,
// storage and ledger clients, the reconciliation engine, and the optional
// peer connector and metrics listener.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/thenervelab/miner-ipfs-service/internal/chain"
	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/engine"
	"github.com/thenervelab/miner-ipfs-service/internal/ipfs"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/peers"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// Daemon owns the lifetime of all service components.
type Daemon struct {
	cfg *config.Config
	log *slog.Logger

	lock      *flock.Flock
	sessionID string
}

// New creates a daemon. Nothing is started until Run.
func New(cfg *config.Config, logger *slog.Logger) *Daemon {
	return &Daemon{
		cfg:       cfg,
		log:       logging.NewComponentLogger(logger, "daemon"),
		sessionID: uuid.NewString(),
	}
}

// Run starts the service and blocks until the context is canceled or a
// fatal startup error occurs.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}
	if err := d.acquireLock(); err != nil {
		return err
	}
	defer d.releaseLock()

	d.log.Info("service starting",
		logging.String("session", d.sessionID),
		logging.String("data_dir", d.cfg.Paths.DataDir))

	store, err := pinstate.Open(d.cfg)
	if err != nil {
		return fmt.Errorf("open pin-state store: %w", err)
	}
	defer store.Close()

	backend := ipfs.NewClient(d.cfg, d.log)

	source := chain.NewClient(d.cfg, d.log)
	if err := source.Dial(ctx); err != nil {
		return fmt.Errorf("connect to ledger: %w", err)
	}
	defer source.Close()

	recorder, stopMetrics := d.startMetrics(ctx)
	defer stopMetrics()

	orch := engine.NewOrchestrator(d.cfg, store, backend, source, recorder, d.log)
	if err := orch.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	var wg sync.WaitGroup
	if d.cfg.Peers.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.runPeerConnector(ctx, backend, source, recorder)
		}()
	}

	err = orch.Run(ctx)
	wg.Wait()

	if errors.Is(err, context.Canceled) {
		d.log.Info("service stopped")
		return nil
	}
	return err
}

func (d *Daemon) acquireLock() error {
	lockPath := filepath.Join(d.cfg.Paths.DataDir, "miner-ipfs-service.lock")
	d.lock = flock.New(lockPath)
	held, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !held {
		return fmt.Errorf("another instance already holds %s", lockPath)
	}
	return nil
}

func (d *Daemon) releaseLock() {
	if d.lock != nil {
		_ = d.lock.Unlock()
	}
}

func (d *Daemon) startMetrics(ctx context.Context) (metrics.Recorder, func()) {
	if !d.cfg.Metrics.Enabled {
		return metrics.Nop{}, func() {}
	}

	recorder := metrics.NewPrometheus()
	metricsCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := recorder.Serve(metricsCtx, d.cfg.Metrics.Bind, d.log); err != nil {
			d.log.Warn("metrics listener failed", logging.Error(err))
		}
	}()
	return recorder, func() {
		cancel()
		<-done
	}
}

// runPeerConnector resolves the storage daemon's own peer id so the
// connector never dials itself, then runs until shutdown. Peer
// connectivity is best effort and never blocks the engine.
func (d *Daemon) runPeerConnector(ctx context.Context, backend *ipfs.Client, source *chain.Client, recorder metrics.Recorder) {
	selfID, err := backend.NodeID(ctx)
	if err != nil {
		d.log.Warn("storage peer id unavailable, peer connector may dial itself", logging.Error(err))
	}
	connector := peers.NewConnector(d.cfg, backend, source, recorder, selfID, d.log)
	if err := connector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		d.log.Warn("peer connector stopped", logging.Error(err))
	}
}
