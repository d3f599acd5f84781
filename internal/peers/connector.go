// Package peers keeps the storage daemon's swarm connected to the other
// registered nodes. Every few blocks it reads the registration set from
// the ledger and dials each peer in batches.
package peers

import (
	"context"
	"log/slog"
	"time"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
)

// Swarm is the slice of the storage daemon API the connector uses.
type Swarm interface {
	SwarmConnect(ctx context.Context, addr string) error
}

// Registry reads peer registrations from the ledger.
type Registry interface {
	BlockNumber(ctx context.Context) (uint64, error)
	BlockHash(ctx context.Context, number uint64) (string, error)
	RegisteredPeers(ctx context.Context, blockHash string) ([]string, error)
}

// Connector polls the chain height and processes one registration
// snapshot every blockInterval blocks.
type Connector struct {
	swarm    Swarm
	registry Registry
	rec      metrics.Recorder
	log      *slog.Logger

	selfID        string
	blockInterval uint64
	batchSize     int
	batchInterval time.Duration
	pollInterval  time.Duration

	lastProcessed uint64
	primed        bool
}

// NewConnector builds a connector. selfID is the agent's own storage peer
// id, which is never dialed.
func NewConnector(cfg *config.Config, swarm Swarm, registry Registry, rec metrics.Recorder, selfID string, logger *slog.Logger) *Connector {
	return &Connector{
		swarm:         swarm,
		registry:      registry,
		rec:           rec,
		log:           logging.NewComponentLogger(logger, "peers"),
		selfID:        selfID,
		blockInterval: uint64(cfg.Peers.BlockInterval),
		batchSize:     cfg.Peers.BatchSize,
		batchInterval: time.Duration(cfg.Peers.BatchInterval) * time.Second,
		pollInterval:  time.Duration(cfg.Peers.PollSeconds) * time.Second,
	}
}

// Run polls until the context is canceled.
func (c *Connector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		if err := c.poll(ctx); err != nil {
			c.log.Warn("peer poll failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// poll checks the chain height and processes the next interval block if
// one has been produced.
func (c *Connector) poll(ctx context.Context) error {
	height, err := c.registry.BlockNumber(ctx)
	if err != nil {
		return err
	}

	// Align the starting point to the interval grid on first sight of the
	// chain.
	if !c.primed {
		c.lastProcessed = height - (height % c.blockInterval)
		c.primed = true
	}

	if height < c.lastProcessed+c.blockInterval {
		return nil
	}

	target := c.lastProcessed + c.blockInterval
	hash, err := c.registry.BlockHash(ctx, target)
	if err != nil {
		return err
	}

	if err := c.processBlock(ctx, target, hash); err != nil {
		return err
	}
	c.lastProcessed = target
	return nil
}

func (c *Connector) processBlock(ctx context.Context, number uint64, hash string) error {
	peers, err := c.registry.RegisteredPeers(ctx, hash)
	if err != nil {
		return err
	}

	dialable := peers[:0:0]
	for _, peer := range peers {
		if peer == c.selfID {
			continue
		}
		dialable = append(dialable, peer)
	}

	c.log.Info("processing registration snapshot",
		logging.Int64(logging.FieldBlock, int64(number)),
		logging.Int(logging.FieldCount, len(dialable)))
	c.connectBatches(ctx, dialable)
	return nil
}

// connectBatches dials peers in fixed-size batches with a pause between
// batches. Individual failures are logged and skipped.
func (c *Connector) connectBatches(ctx context.Context, peerIDs []string) {
	for i := 0; i < len(peerIDs); i += c.batchSize {
		end := i + c.batchSize
		if end > len(peerIDs) {
			end = len(peerIDs)
		}

		for _, peer := range peerIDs[i:end] {
			if ctx.Err() != nil {
				return
			}
			if err := c.swarm.SwarmConnect(ctx, "/p2p/"+peer); err != nil {
				c.rec.PeerConnectAttempt(false)
				c.log.Warn("peer connect failed", logging.String("peer", peer), logging.Error(err))
				continue
			}
			c.rec.PeerConnectAttempt(true)
			c.log.Debug("peer connected", logging.String("peer", peer))
		}

		if end < len(peerIDs) {
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.batchInterval):
			}
		}
	}
}
