package daemon

import (
	"path/filepath"
	"testing"

	"github.com/thenervelab/miner-ipfs-service/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Paths.DataDir = t.TempDir()
	cfg.Paths.LogDir = filepath.Join(cfg.Paths.DataDir, "logs")
	cfg.Paths.DatabasePath = filepath.Join(cfg.Paths.DataDir, "miner_data.db")
	cfg.Paths.ReportFile = filepath.Join(cfg.Paths.DataDir, "unpinnable_cids_report.json")
	return &cfg
}

func TestInstanceLockIsExclusive(t *testing.T) {
	cfg := testConfig(t)

	first := New(cfg, nil)
	if err := first.acquireLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	defer first.releaseLock()

	second := New(cfg, nil)
	if err := second.acquireLock(); err == nil {
		second.releaseLock()
		t.Fatal("second instance acquired the lock")
	}
}

func TestLockReleasedOnShutdown(t *testing.T) {
	cfg := testConfig(t)

	first := New(cfg, nil)
	if err := first.acquireLock(); err != nil {
		t.Fatalf("first lock: %v", err)
	}
	first.releaseLock()

	second := New(cfg, nil)
	if err := second.acquireLock(); err != nil {
		t.Fatalf("relock after release: %v", err)
	}
	second.releaseLock()
}

func TestSessionIDsAreUnique(t *testing.T) {
	cfg := testConfig(t)
	if New(cfg, nil).sessionID == New(cfg, nil).sessionID {
		t.Fatal("two daemons share a session id")
	}
}
