package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
)

// rpcHandler maps method names to canned result payloads.
type rpcHandler map[string]func(params []json.RawMessage) (any, *rpcError)

func newTestNode(t *testing.T, handlers rpcHandler) *Client {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req struct {
				ID     uint64            `json:"id"`
				Method string            `json:"method"`
				Params []json.RawMessage `json:"params"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
			if handler, ok := handlers[req.Method]; ok {
				result, rpcErr := handler(req.Params)
				if rpcErr != nil {
					resp["error"] = map[string]any{"code": rpcErr.Code, "message": rpcErr.Message}
				} else {
					resp["result"] = result
				}
			} else {
				resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Chain.RPCURL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Chain.DialRetrySeconds = 1
	client := NewClient(&cfg, nil)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func headHandler(number string) func([]json.RawMessage) (any, *rpcError) {
	return func([]json.RawMessage) (any, *rpcError) {
		return map[string]string{"number": number, "parentHash": "0xabc"}, nil
	}
}

func TestDialVerifiesChainHead(t *testing.T) {
	client := newTestNode(t, rpcHandler{
		"chain_getHeader": headHandler("0x2a"),
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	number, err := client.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("BlockNumber: %v", err)
	}
	if number != 42 {
		t.Fatalf("number = %d, want 42", number)
	}
}

func TestDialGivesUpOnContextCancel(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.RPCURL = "ws://127.0.0.1:1" // nothing listens here
	cfg.Chain.DialRetrySeconds = 1
	client := NewClient(&cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	if err := client.Dial(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNodeIdentity(t *testing.T) {
	client := newTestNode(t, rpcHandler{
		"chain_getHeader":    headHandler("0x1"),
		"system_localPeerId": func([]json.RawMessage) (any, *rpcError) { return "12D3KooWLedger", nil },
	})

	ctx := context.Background()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	id, err := client.NodeIdentity(ctx)
	if err != nil {
		t.Fatalf("NodeIdentity: %v", err)
	}
	if id != "12D3KooWLedger" {
		t.Fatalf("id = %q", id)
	}
}

func TestProfileCID(t *testing.T) {
	client := newTestNode(t, rpcHandler{
		"chain_getHeader": headHandler("0x1"),
		"ipfs_minerProfile": func(params []json.RawMessage) (any, *rpcError) {
			var nodeID string
			if len(params) > 0 {
				_ = json.Unmarshal(params[0], &nodeID)
			}
			if nodeID != "12D3KooWTest" {
				return nil, nil
			}
			return "0x516d", nil
		},
	})

	ctx := context.Background()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	value, err := client.ProfileCID(ctx, "12D3KooWTest")
	if err != nil {
		t.Fatalf("ProfileCID: %v", err)
	}
	if value != "0x516d" {
		t.Fatalf("value = %q", value)
	}

	if _, err := client.ProfileCID(ctx, "12D3KooWOther"); !errors.Is(err, ErrNoProfile) {
		t.Fatalf("expected ErrNoProfile, got %v", err)
	}
}

func TestRegisteredPeersDeduplicates(t *testing.T) {
	client := newTestNode(t, rpcHandler{
		"chain_getHeader": headHandler("0x1"),
		"chain_getBlockHash": func([]json.RawMessage) (any, *rpcError) {
			return "0xblockhash", nil
		},
		"registration_registeredNodes": func([]json.RawMessage) (any, *rpcError) {
			return []map[string]string{
				{"ipfs_node_id": "12D3KooWA"},
				{"ipfs_node_id": "12D3KooWB"},
				{"ipfs_node_id": "12D3KooWA"},
				{"ipfs_node_id": ""},
			}, nil
		},
	})

	ctx := context.Background()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}

	hash, err := client.BlockHash(ctx, 1)
	if err != nil {
		t.Fatalf("BlockHash: %v", err)
	}
	peers, err := client.RegisteredPeers(ctx, hash)
	if err != nil {
		t.Fatalf("RegisteredPeers: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("peers = %v, want 2 unique ids", peers)
	}
}

func TestCallWithoutReachableNode(t *testing.T) {
	cfg := config.Default()
	cfg.Chain.RPCURL = "ws://127.0.0.1:1"
	client := NewClient(&cfg, nil)

	if _, err := client.NodeIdentity(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestCallReconnectsAfterConnectionDrop(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var connCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// The first connection dies after two responses; later ones behave.
		dropAfter := -1
		if connCount.Add(1) == 1 {
			dropAfter = 2
		}

		served := 0
		for {
			var req struct {
				ID     uint64 `json:"id"`
				Method string `json:"method"`
			}
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			if served == dropAfter {
				return
			}
			resp := map[string]any{
				"jsonrpc": "2.0",
				"id":      req.ID,
				"result":  map[string]string{"number": "0x10", "parentHash": "0xabc"},
			}
			if err := conn.WriteJSON(resp); err != nil {
				return
			}
			served++
		}
	}))
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Chain.RPCURL = "ws" + strings.TrimPrefix(server.URL, "http")
	cfg.Chain.DialRetrySeconds = 1
	client := NewClient(&cfg, nil)
	t.Cleanup(func() { _ = client.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Dial(ctx); err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		t.Fatalf("BlockNumber before drop: %v", err)
	}

	// This call rides the dying connection and fails.
	if _, err := client.BlockNumber(ctx); err == nil {
		t.Fatal("expected the call on the dropped connection to fail")
	}

	// The next call must reconnect on its own; connectivity loss may not
	// require a process restart.
	number, err := client.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("BlockNumber after drop: %v", err)
	}
	if number != 0x10 {
		t.Fatalf("number = %d, want %d", number, 0x10)
	}
	if connCount.Load() < 2 {
		t.Fatalf("expected a second connection, got %d", connCount.Load())
	}
}
