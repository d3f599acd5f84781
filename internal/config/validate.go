package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateIPFS(); err != nil {
		return err
	}
	if err := c.validateChain(); err != nil {
		return err
	}
	if err := c.validateService(); err != nil {
		return err
	}
	if err := c.validatePeers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		return errors.New("paths.database_path must be set")
	}
	if strings.TrimSpace(c.Paths.ReportFile) == "" {
		return errors.New("paths.report_file must be set")
	}
	return nil
}

func (c *Config) validateIPFS() error {
	if c.IPFS.APIURL == "" {
		return errors.New("ipfs.api_url must be set")
	}
	if !strings.HasPrefix(c.IPFS.APIURL, "http://") && !strings.HasPrefix(c.IPFS.APIURL, "https://") {
		return fmt.Errorf("ipfs.api_url %q must be an http(s) URL", c.IPFS.APIURL)
	}
	for name, value := range map[string]int{
		"ipfs.pin_timeout":     c.IPFS.PinTimeout,
		"ipfs.unpin_timeout":   c.IPFS.UnpinTimeout,
		"ipfs.list_timeout":    c.IPFS.ListTimeout,
		"ipfs.fetch_timeout":   c.IPFS.FetchTimeout,
		"ipfs.gc_timeout":      c.IPFS.GCTimeout,
		"ipfs.connect_timeout": c.IPFS.ConnectTimeout,
	} {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.IPFS.MaxFetchBytes <= 0 {
		return errors.New("ipfs.max_fetch_bytes must be positive")
	}
	return nil
}

func (c *Config) validateChain() error {
	if c.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url must be set")
	}
	if !strings.HasPrefix(c.Chain.RPCURL, "ws://") && !strings.HasPrefix(c.Chain.RPCURL, "wss://") {
		return fmt.Errorf("chain.rpc_url %q must be a ws(s) URL", c.Chain.RPCURL)
	}
	if c.Chain.DialRetrySeconds <= 0 {
		return errors.New("chain.dial_retry_seconds must be positive")
	}
	if c.Chain.CallTimeout <= 0 {
		return errors.New("chain.call_timeout must be positive")
	}
	if c.Chain.HandshakeTimeoutMS <= 0 {
		return errors.New("chain.handshake_timeout_ms must be positive")
	}
	for name, value := range map[string]string{
		"chain.identity_method":         c.Chain.IdentityMethod,
		"chain.header_method":           c.Chain.HeaderMethod,
		"chain.block_hash_method":       c.Chain.BlockHashMethod,
		"chain.profile_method":          c.Chain.ProfileMethod,
		"chain.registered_nodes_method": c.Chain.RegisteredMethod,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", name)
		}
	}
	return nil
}

func (c *Config) validateService() error {
	if c.Service.PollingIntervalSeconds <= 0 {
		return errors.New("service.polling_interval_seconds must be positive")
	}
	if c.Service.MaxPinRetries <= 0 {
		return errors.New("service.max_pin_retries must be positive")
	}
	if c.Service.GCTriggerIntervalLoops <= 0 {
		return errors.New("service.gc_trigger_interval_loops must be positive")
	}
	return nil
}

func (c *Config) validatePeers() error {
	if !c.Peers.Enabled {
		return nil
	}
	if c.Peers.BlockInterval <= 0 {
		return errors.New("peers.block_interval must be positive")
	}
	if c.Peers.BatchSize <= 0 {
		return errors.New("peers.batch_size must be positive")
	}
	if c.Peers.PollSeconds <= 0 {
		return errors.New("peers.poll_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format %q must be console or json", c.Logging.Format)
	}
	return nil
}
