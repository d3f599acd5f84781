// Package ipfs is a thin HTTP client for the kubo RPC API (/api/v0).
// Outcomes the reconciliation engine treats as success, such as pinning a
// CID that is already pinned, are normalized here rather than in callers.
package ipfs

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
	"github.com/thenervelab/miner-ipfs-service/internal/logging"
)

// ErrContentTooLarge reports a fetch that exceeded the configured size cap.
var ErrContentTooLarge = errors.New("ipfs: content exceeds size limit")

// Client talks to a single kubo daemon.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	log           *slog.Logger
	pinTimeout    time.Duration
	unpinTimeout  time.Duration
	listTimeout   time.Duration
	fetchTimeout  time.Duration
	gcTimeout     time.Duration
	swarmTimeout  time.Duration
	maxFetchBytes int64
}

// NewClient builds a client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.IPFS.APIURL, "/") + "/api/v0",
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: seconds(cfg.IPFS.ConnectTimeout)}).DialContext,
			},
		},
		log:           logging.NewComponentLogger(logger, "ipfs"),
		pinTimeout:    seconds(cfg.IPFS.PinTimeout),
		unpinTimeout:  seconds(cfg.IPFS.UnpinTimeout),
		listTimeout:   seconds(cfg.IPFS.ListTimeout),
		fetchTimeout:  seconds(cfg.IPFS.FetchTimeout),
		gcTimeout:     seconds(cfg.IPFS.GCTimeout),
		swarmTimeout:  seconds(cfg.IPFS.SwarmConnTimeout),
		maxFetchBytes: cfg.IPFS.MaxFetchBytes,
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

type apiError struct {
	Message string `json:"Message"`
	Code    int    `json:"Code"`
}

// NodeID returns the daemon's peer identity.
func (c *Client) NodeID(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var out struct {
		ID string `json:"ID"`
	}
	if err := c.postJSON(ctx, "/id", nil, &out); err != nil {
		return "", fmt.Errorf("query node id: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("query node id: empty ID in response")
	}
	return out.ID, nil
}

// Pin pins a CID recursively. Pinning an already-pinned CID succeeds.
func (c *Client) Pin(ctx context.Context, cid string) error {
	ctx, cancel := context.WithTimeout(ctx, c.pinTimeout)
	defer cancel()

	params := url.Values{"arg": {cid}, "recursive": {"true"}, "progress": {"false"}}
	resp, err := c.post(ctx, "/pin/add", params)
	if err != nil {
		return fmt.Errorf("pin %s: %w", cid, err)
	}
	defer drainClose(resp)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if msg, ok := readAPIError(resp); ok && strings.Contains(strings.ToLower(msg), "already pinned") {
		c.log.Debug("cid already pinned", logging.String(logging.FieldCID, cid))
		return nil
	} else if ok {
		return fmt.Errorf("pin %s: daemon error: %s", cid, msg)
	}
	return fmt.Errorf("pin %s: unexpected status %d", cid, resp.StatusCode)
}

// Unpin removes a recursive pin. Unpinning a CID that is not pinned
// succeeds.
func (c *Client) Unpin(ctx context.Context, cid string) error {
	ctx, cancel := context.WithTimeout(ctx, c.unpinTimeout)
	defer cancel()

	params := url.Values{"arg": {cid}, "recursive": {"true"}}
	resp, err := c.post(ctx, "/pin/rm", params)
	if err != nil {
		return fmt.Errorf("unpin %s: %w", cid, err)
	}
	defer drainClose(resp)

	if resp.StatusCode == http.StatusOK {
		return nil
	}
	if msg, ok := readAPIError(resp); ok && strings.Contains(strings.ToLower(msg), "not pinned") {
		c.log.Debug("cid was not pinned", logging.String(logging.FieldCID, cid))
		return nil
	} else if ok {
		return fmt.Errorf("unpin %s: daemon error: %s", cid, msg)
	}
	return fmt.Errorf("unpin %s: unexpected status %d", cid, resp.StatusCode)
}

// ListPinned returns the set of recursively pinned CIDs.
func (c *Client) ListPinned(ctx context.Context) (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.listTimeout)
	defer cancel()

	var out struct {
		Keys map[string]struct {
			Type string `json:"Type"`
		} `json:"Keys"`
	}
	params := url.Values{"type": {"recursive"}}
	if err := c.postJSON(ctx, "/pin/ls", params, &out); err != nil {
		return nil, fmt.Errorf("list pins: %w", err)
	}

	pinned := make(map[string]struct{}, len(out.Keys))
	for cid := range out.Keys {
		pinned[cid] = struct{}{}
	}
	return pinned, nil
}

// FetchJSON retrieves a CID's content and decodes it as JSON into target.
// Content larger than the configured cap aborts with ErrContentTooLarge.
func (c *Client) FetchJSON(ctx context.Context, cid string, target any) error {
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	params := url.Values{"arg": {cid}}
	resp, err := c.post(ctx, "/cat", params)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", cid, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		if msg, ok := readAPIError(resp); ok {
			return fmt.Errorf("fetch %s: daemon error: %s", cid, msg)
		}
		return fmt.Errorf("fetch %s: unexpected status %d", cid, resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, c.maxFetchBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("fetch %s: read body: %w", cid, err)
	}
	if int64(len(body)) > c.maxFetchBytes {
		return fmt.Errorf("fetch %s: %w (limit %d bytes)", cid, ErrContentTooLarge, c.maxFetchBytes)
	}
	if len(body) == 0 {
		return fmt.Errorf("fetch %s: empty content", cid)
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("fetch %s: decode json: %w", cid, err)
	}
	return nil
}

// GarbageCollect triggers a repo GC run. The endpoint streams one JSON
// object per removed block; the count of removed keys is returned.
func (c *Client) GarbageCollect(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.gcTimeout)
	defer cancel()

	resp, err := c.post(ctx, "/repo/gc", nil)
	if err != nil {
		return 0, fmt.Errorf("repo gc: %w", err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		if msg, ok := readAPIError(resp); ok {
			return 0, fmt.Errorf("repo gc: daemon error: %s", msg)
		}
		return 0, fmt.Errorf("repo gc: unexpected status %d", resp.StatusCode)
	}

	removed := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var event struct {
			Key   map[string]string `json:"Key"`
			Error string            `json:"Error"`
		}
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			c.log.Warn("unparseable gc event", logging.String("line", line))
			continue
		}
		if event.Error != "" {
			c.log.Warn("gc reported error", logging.String("error", event.Error))
			continue
		}
		if len(event.Key) > 0 {
			removed++
		}
	}
	if err := scanner.Err(); err != nil {
		return removed, fmt.Errorf("repo gc: read stream: %w", err)
	}
	return removed, nil
}

// SwarmConnect dials a peer multiaddress.
func (c *Client) SwarmConnect(ctx context.Context, addr string) error {
	ctx, cancel := context.WithTimeout(ctx, c.swarmTimeout)
	defer cancel()

	params := url.Values{"arg": {addr}}
	resp, err := c.post(ctx, "/swarm/connect", params)
	if err != nil {
		return fmt.Errorf("swarm connect %s: %w", addr, err)
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		if msg, ok := readAPIError(resp); ok {
			return fmt.Errorf("swarm connect %s: daemon error: %s", addr, msg)
		}
		return fmt.Errorf("swarm connect %s: unexpected status %d", addr, resp.StatusCode)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, params url.Values, target any) error {
	resp, err := c.post(ctx, path, params)
	if err != nil {
		return err
	}
	defer drainClose(resp)

	if resp.StatusCode != http.StatusOK {
		if msg, ok := readAPIError(resp); ok {
			return fmt.Errorf("daemon error: %s", msg)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFetchBytes))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// readAPIError attempts to parse the daemon's JSON error envelope.
func readAPIError(resp *http.Response) (string, bool) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return "", false
	}
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err != nil || apiErr.Message == "" {
		return "", false
	}
	return apiErr.Message, true
}

func drainClose(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
}
