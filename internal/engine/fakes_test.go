package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/thenervelab/miner-ipfs-service/internal/chain"
	"github.com/thenervelab/miner-ipfs-service/internal/cidcodec"
	"github.com/thenervelab/miner-ipfs-service/internal/metrics"
	"github.com/thenervelab/miner-ipfs-service/internal/pinstate"
)

// fakeBackend is a scriptable in-memory storage daemon.
type fakeBackend struct {
	pinned      map[string]struct{}
	pinFailures map[string]int // remaining failures before a pin succeeds
	unpinError  map[string]error
	content     map[string]any
	gcErr       error
	gcRemoved   int
	gcRuns      int
	pinCalls    []string
	unpinCalls  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		pinned:      map[string]struct{}{},
		pinFailures: map[string]int{},
		unpinError:  map[string]error{},
		content:     map[string]any{},
	}
}

func (b *fakeBackend) Pin(_ context.Context, cid string) error {
	b.pinCalls = append(b.pinCalls, cid)
	if remaining := b.pinFailures[cid]; remaining != 0 {
		if remaining > 0 {
			b.pinFailures[cid] = remaining - 1
		}
		return fmt.Errorf("pin %s: daemon unreachable", cid)
	}
	b.pinned[cid] = struct{}{}
	return nil
}

func (b *fakeBackend) Unpin(_ context.Context, cid string) error {
	b.unpinCalls = append(b.unpinCalls, cid)
	if err := b.unpinError[cid]; err != nil {
		return err
	}
	delete(b.pinned, cid)
	return nil
}

func (b *fakeBackend) ListPinned(context.Context) (map[string]struct{}, error) {
	out := make(map[string]struct{}, len(b.pinned))
	for cid := range b.pinned {
		out[cid] = struct{}{}
	}
	return out, nil
}

func (b *fakeBackend) FetchJSON(_ context.Context, cid string, target any) error {
	payload, ok := b.content[cid]
	if !ok {
		return fmt.Errorf("fetch %s: not found", cid)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, target)
}

func (b *fakeBackend) GarbageCollect(context.Context) (int, error) {
	b.gcRuns++
	if b.gcErr != nil {
		return 0, b.gcErr
	}
	return b.gcRemoved, nil
}

// fakeChain serves a fixed identity and a settable profile value.
type fakeChain struct {
	nodeID     string
	profile    string // raw chain value; empty means no profile
	profileErr error
	block      uint64
}

func (c *fakeChain) NodeIdentity(context.Context) (string, error) {
	if c.nodeID == "" {
		return "", errors.New("identity unavailable")
	}
	return c.nodeID, nil
}

func (c *fakeChain) ProfileCID(context.Context, string) (string, error) {
	if c.profileErr != nil {
		return "", c.profileErr
	}
	if c.profile == "" {
		return "", chain.ErrNoProfile
	}
	return c.profile, nil
}

func (c *fakeChain) BlockNumber(context.Context) (uint64, error) {
	return c.block, nil
}

// profileDoc builds the JSON document shape the profile CID resolves to.
func profileDoc(cids ...string) []map[string]any {
	doc := make([]map[string]any, 0, len(cids))
	for _, cid := range cids {
		codes := make([]int, 0, len(cid))
		for _, r := range cid {
			codes = append(codes, int(r))
		}
		doc = append(doc, map[string]any{"file_hash": codes})
	}
	return doc
}

type harness struct {
	store   *pinstate.Store
	backend *fakeBackend
	source  *fakeChain
	sync    *Synchronizer
	pins    *PinWorker
	unpins  *UnpinWorker
	sweep   *Sweep
}

const (
	testMaxRetries = 3
	testProfileCID = "QmUhD7qR71CoRi5ms4xP1E6mD1kYw2ycnXoMv2sT8q9NCM"
	testContentA   = "QmXgZAUc4pB89nNjV8x7h6X1YsvCnKqjGscHpYPSUxQUY4"
	testContentB   = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
)

func newHarness(t *testing.T) *harness {
	t.Helper()
	store, err := pinstate.OpenPath(filepath.Join(t.TempDir(), "miner_data.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	backend := newFakeBackend()
	source := &fakeChain{nodeID: "12D3KooWTest", block: 100}
	decoder := cidcodec.New(nil)
	rec := metrics.Nop{}

	return &harness{
		store:   store,
		backend: backend,
		source:  source,
		sync:    NewSynchronizer(store, backend, source, decoder, rec, nil),
		pins:    NewPinWorker(store, backend, rec, testMaxRetries, nil),
		unpins:  NewUnpinWorker(store, backend, rec, nil),
		sweep:   NewSweep(store, backend, rec, testMaxRetries, nil),
	}
}

// publishProfile points the fake chain at a profile document listing the
// given content CIDs.
func (h *harness) publishProfile(contentCIDs ...string) {
	h.source.profile = testProfileCID
	h.backend.content[testProfileCID] = profileDoc(contentCIDs...)
}
