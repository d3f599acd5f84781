package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "pinagent") {
		t.Fatalf("output = %q", out)
	}
}

func TestConfigShowWithFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := "[paths]\ndata_dir = \"" + dir + "\"\n\n[service]\nmax_pin_retries = 9\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runCommand(t, "--config", cfgPath, "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "max_pin_retries = 9") {
		t.Fatalf("output missing override:\n%s", out)
	}
	if !strings.Contains(out, "# loaded from") {
		t.Fatalf("output missing source header:\n%s", out)
	}
}

func TestStatusAgainstEmptyStore(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.toml")
	content := "[paths]\ndata_dir = \"" + dir + "\"\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	out, err := runCommand(t, "--config", cfgPath, "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Active profile: none") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "pending_pin") {
		t.Fatalf("output missing status table:\n%s", out)
	}
}
