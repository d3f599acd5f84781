package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/thenervelab/miner-ipfs-service/internal/chain"
	"github.com/thenervelab/miner-ipfs-service/internal/cidcodec"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// Synchronizer aligns the store's intent with the profile published on
// the ledger.
type Synchronizer struct {
	store   *pinstate.Store
	backend StorageBackend
	source  ChainSource
	decoder *cidcodec.Decoder
	rec     metrics.Recorder
	log     *slog.Logger

	nodeID string
}

func NewSynchronizer(store *pinstate.Store, backend StorageBackend, source ChainSource, decoder *cidcodec.Decoder, rec metrics.Recorder, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		store:   store,
		backend: backend,
		source:  source,
		decoder: decoder,
		rec:     rec,
		log:     logging.NewComponentLogger(logger, "sync"),
	}
}

// NodeID resolves and caches the agent's own network identity.
func (s *Synchronizer) NodeID(ctx context.Context) (string, error) {
	if s.nodeID != "" {
		return s.nodeID, nil
	}
	id, err := s.source.NodeIdentity(ctx)
	if err != nil {
		return "", err
	}
	s.nodeID = id
	s.log.Info("resolved node identity", logging.String("node_id", id))
	return id, nil
}

// Sync runs one profile synchronization pass. On startup the profile
// content is always re-diffed; otherwise an unchanged profile takes a fast
// path that only repairs its local pin.
func (s *Synchronizer) Sync(ctx context.Context, isStartup bool) error {
	nodeID, err := s.NodeID(ctx)
	if err != nil {
		return fmt.Errorf("resolve node identity: %w", err)
	}

	current, err := s.store.ActiveProfile(ctx)
	if err != nil {
		return fmt.Errorf("read active profile: %w", err)
	}

	rawValue, err := s.source.ProfileCID(ctx, nodeID)
	if errors.Is(err, chain.ErrNoProfile) {
		return s.teardown(ctx, current)
	}
	if err != nil {
		return fmt.Errorf("query on-chain profile: %w", err)
	}

	onChainCID, err := s.decoder.ChainValue(rawValue)
	if err != nil {
		return fmt.Errorf("decode on-chain profile value %q: %w", rawValue, err)
	}

	s.rec.SetProfileActive(true)

	if current != nil && current.CID == onChainCID && !isStartup {
		return s.repairProfilePin(ctx, current)
	}

	return s.adoptProfile(ctx, current, onChainCID)
}

// teardown handles the chain reporting no profile: everything managed is
// scheduled for unpin and the active profile is cleared.
func (s *Synchronizer) teardown(ctx context.Context, current *pinstate.Profile) error {
	s.rec.SetProfileActive(false)
	if current == nil {
		s.log.Debug("no profile on chain and none active locally")
		return nil
	}

	s.log.Warn("on-chain profile disappeared, tearing down managed set",
		logging.String("profile_cid", current.CID))

	if err := s.store.DeactivateProfile(ctx); err != nil {
		return fmt.Errorf("deactivate profile: %w", err)
	}
	affected, err := s.store.MarkAllForUnpin(ctx)
	if err != nil {
		return fmt.Errorf("schedule teardown unpins: %w", err)
	}
	s.log.Info("teardown scheduled", logging.Int64("cids", affected))
	return nil
}

// repairProfilePin is the unchanged-profile fast path: content is not
// re-diffed, only the profile document's own pin is verified.
func (s *Synchronizer) repairProfilePin(ctx context.Context, current *pinstate.Profile) error {
	if current.PinnedLocally {
		return nil
	}
	if err := s.backend.Pin(ctx, current.CID); err != nil {
		s.rec.PinAttempt(false)
		s.log.Warn("profile repin failed", logging.String(logging.FieldCID, current.CID), logging.Error(err))
		return nil
	}
	s.rec.PinAttempt(true)
	if err := s.store.SetProfilePinned(ctx, current.CID, true); err != nil {
		return fmt.Errorf("mark profile pinned: %w", err)
	}
	if err := s.store.SetStatus(ctx, current.CID, pinstate.StatusPinned); err != nil {
		return fmt.Errorf("mark profile record pinned: %w", err)
	}
	return nil
}

// adoptProfile activates a new or changed profile and diffs its content
// against the managed set.
func (s *Synchronizer) adoptProfile(ctx context.Context, prior *pinstate.Profile, profileCID string) error {
	if err := s.store.SetActiveProfile(ctx, profileCID); err != nil {
		return fmt.Errorf("activate profile: %w", err)
	}
	s.log.Info("active profile set", logging.String("profile_cid", profileCID))

	if err := s.backend.Pin(ctx, profileCID); err != nil {
		// Content is not trusted until the profile document itself is
		// locally available.
		s.rec.PinAttempt(false)
		s.log.Warn("profile pin failed, content deferred to next cycle",
			logging.String(logging.FieldCID, profileCID), logging.Error(err))
		if err := s.store.SetProfilePinned(ctx, profileCID, false); err != nil {
			return fmt.Errorf("mark profile unpinned: %w", err)
		}
		if err := s.store.SetStatusRetry(ctx, profileCID, pinstate.StatusFailedPin, 1); err != nil {
			return fmt.Errorf("record profile pin failure: %w", err)
		}
		return nil
	}
	s.rec.PinAttempt(true)

	if err := s.store.SetProfilePinned(ctx, profileCID, true); err != nil {
		return fmt.Errorf("mark profile pinned: %w", err)
	}
	if err := s.store.SetStatus(ctx, profileCID, pinstate.StatusPinned); err != nil {
		return fmt.Errorf("mark profile record pinned: %w", err)
	}

	desired, err := s.desiredContent(ctx, profileCID)
	if err != nil {
		s.log.Warn("profile content unavailable, content deferred to next cycle",
			logging.String(logging.FieldCID, profileCID), logging.Error(err))
		return nil
	}

	return s.diffContent(ctx, prior, profileCID, desired)
}

// desiredContent fetches and decodes the profile document into the set of
// content CIDs it names.
func (s *Synchronizer) desiredContent(ctx context.Context, profileCID string) (map[string]struct{}, error) {
	var entries []profileEntry
	if err := s.backend.FetchJSON(ctx, profileCID, &entries); err != nil {
		return nil, err
	}

	desired := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		if len(entry.FileHash) == 0 {
			continue
		}
		cid, err := s.decoder.FileHash(entry.FileHash)
		if err != nil {
			s.log.Warn("undecodable file_hash in profile, skipped", logging.Error(err))
			continue
		}
		desired[cid] = struct{}{}
	}
	return desired, nil
}

// diffContent schedules the pin/unpin intents that move the managed set
// toward the profile's content. The profile documents themselves are
// never part of the content diff.
func (s *Synchronizer) diffContent(ctx context.Context, prior *pinstate.Profile, profileCID string, desired map[string]struct{}) error {
	managed, err := s.store.ManagedCIDs(ctx)
	if err != nil {
		return fmt.Errorf("read managed set: %w", err)
	}

	managedSet := make(map[string]struct{}, len(managed))
	for _, rec := range managed {
		if rec.CID == profileCID {
			continue
		}
		if prior != nil && rec.CID == prior.CID {
			continue
		}
		managedSet[rec.CID] = struct{}{}
	}

	added, removed := 0, 0
	for cid := range desired {
		if _, ok := managedSet[cid]; ok {
			continue
		}
		if err := s.store.AddForPinning(ctx, cid); err != nil {
			return fmt.Errorf("schedule pin for %s: %w", cid, err)
		}
		added++
	}
	for cid := range managedSet {
		if _, ok := desired[cid]; ok {
			continue
		}
		if err := s.store.SetStatus(ctx, cid, pinstate.StatusUnpinRequested); err != nil {
			return fmt.Errorf("schedule unpin for %s: %w", cid, err)
		}
		removed++
	}

	s.log.Info("profile content diffed",
		logging.Int("desired", len(desired)),
		logging.Int("scheduled_pins", added),
		logging.Int("scheduled_unpins", removed))
	return nil
}
