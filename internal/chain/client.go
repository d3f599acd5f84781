// Package chain is a JSON-RPC client for the ledger node's websocket
// endpoint. The agent only reads from the chain: its own profile CID, the
// chain head, and the registered-node set. RPC method names are
// configurable so the agent can follow ledger-side renames without a
// rebuild.
package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
)

var (
	// ErrNoProfile indicates the chain has no profile recorded for this
	// node.
	ErrNoProfile = errors.New("chain: no profile on chain for this node")
	// ErrNotConnected indicates no connection could be established for a
	// call, including the call's own reconnect attempt.
	ErrNotConnected = errors.New("chain: not connected")
)

// Client is a websocket JSON-RPC client. Calls are serialized over a
// single connection.
type Client struct {
	url              string
	log              *slog.Logger
	dialRetry        time.Duration
	callTimeout      time.Duration
	handshakeTimeout time.Duration

	identityMethod   string
	profileMethod    string
	headerMethod     string
	blockHashMethod  string
	registeredMethod string

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// NewClient builds a client from configuration. It does not connect;
// call Dial.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		url:              cfg.Chain.RPCURL,
		log:              logging.NewComponentLogger(logger, "chain"),
		dialRetry:        time.Duration(cfg.Chain.DialRetrySeconds) * time.Second,
		callTimeout:      time.Duration(cfg.Chain.CallTimeout) * time.Second,
		handshakeTimeout: time.Duration(cfg.Chain.HandshakeTimeoutMS) * time.Millisecond,
		identityMethod:   cfg.Chain.IdentityMethod,
		profileMethod:    cfg.Chain.ProfileMethod,
		headerMethod:     cfg.Chain.HeaderMethod,
		blockHashMethod:  cfg.Chain.BlockHashMethod,
		registeredMethod: cfg.Chain.RegisteredMethod,
	}
}

// Dial connects to the ledger node, retrying at a fixed interval until a
// connection is established and verified with a chain-head query, or the
// context is canceled. A node that accepts the websocket but cannot answer
// the head query is treated as unavailable.
func (c *Client) Dial(ctx context.Context) error {
	attempt := 1
	for {
		err := c.dialOnce(ctx)
		if err == nil {
			c.log.Info("connected to ledger node", logging.String("url", c.url))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Error("ledger connection attempt failed",
			logging.Int("attempt", attempt),
			logging.String("url", c.url),
			logging.Error(err))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.dialRetry):
		}
		attempt++
	}
}

func (c *Client) dialOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.conn = conn
	c.mu.Unlock()

	// Verify the node actually answers before trusting the connection.
	if _, err := c.BlockNumber(ctx); err != nil {
		c.closeConn()
		return fmt.Errorf("verify chain head: %w", err)
	}
	return nil
}

// Close tears down the connection.
func (c *Client) Close() error {
	c.closeConn()
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// NodeIdentity returns the ledger node's local peer id, which keys the
// profile storage for this agent.
func (c *Client) NodeIdentity(ctx context.Context) (string, error) {
	var id string
	if err := c.call(ctx, c.identityMethod, nil, &id); err != nil {
		return "", fmt.Errorf("query node identity: %w", err)
	}
	if id == "" {
		return "", errors.New("query node identity: empty result")
	}
	return id, nil
}

// ProfileCID returns the raw on-chain profile value for a node, typically
// the hex encoding of a CID string. ErrNoProfile is returned when the
// chain holds nothing for the node.
func (c *Client) ProfileCID(ctx context.Context, nodeID string) (string, error) {
	var raw json.RawMessage
	if err := c.call(ctx, c.profileMethod, []any{nodeID}, &raw); err != nil {
		return "", fmt.Errorf("query profile: %w", err)
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", ErrNoProfile
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("query profile: decode result: %w", err)
	}
	if strings.TrimSpace(value) == "" {
		return "", ErrNoProfile
	}
	return value, nil
}

// BlockNumber returns the current chain-head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var header struct {
		Number string `json:"number"`
	}
	if err := c.call(ctx, c.headerMethod, nil, &header); err != nil {
		return 0, fmt.Errorf("query chain head: %w", err)
	}
	number, err := parseBlockNumber(header.Number)
	if err != nil {
		return 0, fmt.Errorf("query chain head: %w", err)
	}
	return number, nil
}

// BlockHash returns the hash of a block by number.
func (c *Client) BlockHash(ctx context.Context, number uint64) (string, error) {
	var hash string
	if err := c.call(ctx, c.blockHashMethod, []any{number}, &hash); err != nil {
		return "", fmt.Errorf("query block hash: %w", err)
	}
	if hash == "" {
		return "", fmt.Errorf("query block hash: no hash for block %d", number)
	}
	return hash, nil
}

// RegisteredPeers returns the deduplicated storage-peer ids registered on
// chain as of a block.
func (c *Client) RegisteredPeers(ctx context.Context, blockHash string) ([]string, error) {
	var nodes []struct {
		IPFSNodeID string `json:"ipfs_node_id"`
	}
	if err := c.call(ctx, c.registeredMethod, []any{blockHash}, &nodes); err != nil {
		return nil, fmt.Errorf("query registered nodes: %w", err)
	}

	seen := make(map[string]struct{}, len(nodes))
	var peers []string
	for _, node := range nodes {
		id := strings.TrimSpace(node.IPFSNodeID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		peers = append(peers, id)
	}
	return peers, nil
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// call performs one request/response exchange. A transport failure drops
// the connection and the failing call returns an error; the next call
// makes one fresh dial attempt, so connectivity loss heals on its own
// once the node is reachable again.
func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		if err := c.redialLocked(ctx); err != nil {
			return fmt.Errorf("%s: %w: %v", method, ErrNotConnected, err)
		}
	}
	if params == nil {
		params = []any{}
	}

	c.nextID++
	req := rpcRequest{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}

	deadline := time.Now().Add(c.callTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}
	_ = c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteJSON(req); err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: write: %w", method, err)
	}

	_ = c.conn.SetReadDeadline(deadline)
	for {
		var resp rpcResponse
		if err := c.conn.ReadJSON(&resp); err != nil {
			c.dropLocked()
			return fmt.Errorf("%s: read: %w", method, err)
		}
		if resp.ID != req.ID {
			// Subscription pushes and stale replies are skipped.
			continue
		}
		if resp.Error != nil {
			return fmt.Errorf("%s: %w", method, resp.Error)
		}
		if result == nil || len(resp.Result) == 0 {
			return nil
		}
		if raw, ok := result.(*json.RawMessage); ok {
			*raw = resp.Result
			return nil
		}
		if err := json.Unmarshal(resp.Result, result); err != nil {
			return fmt.Errorf("%s: decode result: %w", method, err)
		}
		return nil
	}
}

// redialLocked makes a single dial attempt while holding the mutex. The
// exchange that follows verifies the connection; a separate head query
// here would deadlock on the lock.
func (c *Client) redialLocked(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("redial: %w", err)
	}
	c.conn = conn
	c.log.Info("reconnected to ledger node", logging.String("url", c.url))
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

func parseBlockNumber(v string) (uint64, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, errors.New("empty block number")
	}
	if strings.HasPrefix(v, "0x") || strings.HasPrefix(v, "0X") {
		return strconv.ParseUint(v[2:], 16, 64)
	}
	return strconv.ParseUint(v, 10, 64)
}
