package engine

import (
	"context"
	"log/slog"

	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
)

// GCScheduler triggers backend garbage collection every N cycles. The
// counter lives in memory only; a restart simply starts the cadence over.
type GCScheduler struct {
	backend  StorageBackend
	rec      metrics.Recorder
	log      *slog.Logger
	interval int
	counter  int
}

func NewGCScheduler(backend StorageBackend, rec metrics.Recorder, interval int, logger *slog.Logger) *GCScheduler {
	return &GCScheduler{
		backend:  backend,
		rec:      rec,
		log:      logging.NewComponentLogger(logger, "gc"),
		interval: interval,
	}
}

// Tick advances the cycle counter and runs GC when it reaches the
// interval. The counter resets whether or not GC succeeds.
func (g *GCScheduler) Tick(ctx context.Context) {
	g.counter++
	if g.counter < g.interval {
		return
	}
	g.counter = 0
	g.RunOnce(ctx)
}

// RunOnce fires one garbage collection, logging rather than propagating
// failure.
func (g *GCScheduler) RunOnce(ctx context.Context) {
	removed, err := g.backend.GarbageCollect(ctx)
	if err != nil {
		g.log.Warn("garbage collection failed", logging.Error(err))
		return
	}
	g.rec.GCCompleted(removed)
	g.log.Info("garbage collection completed", logging.Int("objects_removed", removed))
}
