package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// applyEnvOverrides applies environment variables on top of file/default
// values. Env vars win so that per-host deployments can override a shared
// config file without editing it.
func (c *Config) applyEnvOverrides() error {
	if err := overrideInt("POLLING_INTERVAL_SECONDS", &c.Service.PollingIntervalSeconds); err != nil {
		return err
	}
	if err := overrideInt("MAX_PIN_RETRIES", &c.Service.MaxPinRetries); err != nil {
		return err
	}
	if err := overrideInt("GC_TRIGGER_INTERVAL_LOOPS", &c.Service.GCTriggerIntervalLoops); err != nil {
		return err
	}
	overrideString("UNPINNABLE_CIDS_REPORT_FILE", &c.Paths.ReportFile)
	overrideString("DATABASE_PATH", &c.Paths.DatabasePath)
	overrideString("DATA_DIR", &c.Paths.DataDir)
	overrideString("IPFS_API_URL", &c.IPFS.APIURL)
	overrideString("CHAIN_RPC_URL", &c.Chain.RPCURL)
	overrideString("LOG_LEVEL", &c.Logging.Level)
	overrideString("LOG_FORMAT", &c.Logging.Format)
	overrideString("METRICS_BIND", &c.Metrics.Bind)
	if err := overrideBool("METRICS_ENABLED", &c.Metrics.Enabled); err != nil {
		return err
	}
	if err := overrideBool("PEERS_ENABLED", &c.Peers.Enabled); err != nil {
		return err
	}
	return nil
}

func overrideString(name string, target *string) {
	if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideInt(name string, target *int) error {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("env %s: %q is not an integer", name, value)
	}
	*target = parsed
	return nil
}

func overrideBool(name string, target *bool) error {
	value, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "t", "y", "yes":
		*target = true
	case "false", "0", "f", "n", "no":
		*target = false
	default:
		return fmt.Errorf("env %s: %q is not a boolean", name, value)
	}
	return nil
}
