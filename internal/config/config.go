package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and file location configuration.
type Paths struct {
	DataDir      string `toml:"data_dir"`
	LogDir       string `toml:"log_dir"`
	DatabasePath string `toml:"database_path"`
	ReportFile   string `toml:"report_file"`
}

// IPFS contains configuration for the local storage daemon's HTTP RPC API.
type IPFS struct {
	APIURL           string `toml:"api_url"`
	PinTimeout       int    `toml:"pin_timeout"`
	UnpinTimeout     int    `toml:"unpin_timeout"`
	ListTimeout      int    `toml:"list_timeout"`
	FetchTimeout     int    `toml:"fetch_timeout"`
	GCTimeout        int    `toml:"gc_timeout"`
	MaxFetchBytes    int64  `toml:"max_fetch_bytes"`
	ConnectTimeout   int    `toml:"connect_timeout"`
	SwarmConnTimeout int    `toml:"swarm_connect_timeout"`
}

// Chain contains configuration for the ledger node's websocket RPC endpoint.
type Chain struct {
	RPCURL             string `toml:"rpc_url"`
	DialRetrySeconds   int    `toml:"dial_retry_seconds"`
	CallTimeout        int    `toml:"call_timeout"`
	ProfileMethod      string `toml:"profile_method"`
	RegisteredMethod   string `toml:"registered_nodes_method"`
	IdentityMethod     string `toml:"identity_method"`
	HeaderMethod       string `toml:"header_method"`
	BlockHashMethod    string `toml:"block_hash_method"`
	HandshakeTimeoutMS int    `toml:"handshake_timeout_ms"`
}

// Service contains the reconciliation engine's timing and retry knobs.
type Service struct {
	PollingIntervalSeconds int `toml:"polling_interval_seconds"`
	MaxPinRetries          int `toml:"max_pin_retries"`
	GCTriggerIntervalLoops int `toml:"gc_trigger_interval_loops"`
}

// Peers contains configuration for the peer-swarm connector.
type Peers struct {
	Enabled       bool `toml:"enabled"`
	BlockInterval int  `toml:"block_interval"`
	BatchSize     int  `toml:"batch_size"`
	BatchInterval int  `toml:"batch_interval"`
	PollSeconds   int  `toml:"poll_seconds"`
}

// Metrics contains configuration for the optional Prometheus listener.
type Metrics struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the miner service.
//
// Sections by subsystem:
//   - Paths: data directory, database file, unpinnable report file
//   - IPFS: storage daemon API endpoint and per-call timeouts
//   - Chain: ledger RPC endpoint, dial retry cadence, method names
//   - Service: polling interval, retry bound, GC cadence
//   - Peers: peer-swarm connector scheduling
//   - Metrics: Prometheus listener
//   - Logging: log format and level
type Config struct {
	Paths   Paths   `toml:"paths"`
	IPFS    IPFS    `toml:"ipfs"`
	Chain   Chain   `toml:"chain"`
	Service Service `toml:"service"`
	Peers   Peers   `toml:"peers"`
	Metrics Metrics `toml:"metrics"`
	Logging Logging `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/miner-ipfs-service/config.toml")
}

// SampleConfig returns the annotated sample configuration document.
func SampleConfig() string {
	return sampleConfig
}

// Load locates, parses, and validates a configuration file. Environment
// variables override file values, which override defaults. The returned
// config has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("miner-ipfs-service.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = filepath.Join(c.Paths.DataDir, "logs")
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.DatabasePath) == "" {
		c.Paths.DatabasePath = filepath.Join(c.Paths.DataDir, "miner_data.db")
	}
	if c.Paths.DatabasePath, err = expandPath(c.Paths.DatabasePath); err != nil {
		return fmt.Errorf("paths.database_path: %w", err)
	}
	if strings.TrimSpace(c.Paths.ReportFile) == "" {
		c.Paths.ReportFile = filepath.Join(c.Paths.DataDir, "unpinnable_cids_report.json")
	}
	if c.Paths.ReportFile, err = expandPath(c.Paths.ReportFile); err != nil {
		return fmt.Errorf("paths.report_file: %w", err)
	}

	c.IPFS.APIURL = strings.TrimRight(strings.TrimSpace(c.IPFS.APIURL), "/")
	c.Chain.RPCURL = strings.TrimSpace(c.Chain.RPCURL)

	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	if dir := filepath.Dir(c.Paths.ReportFile); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}
