package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestDefaultDataDir(t *testing.T) {
	dataDir := DefaultDataDir()
	if !strings.HasSuffix(dataDir, ".nodewire") {
		t.Errorf("DefaultDataDir() should end with .nodewire, got: %s", dataDir)
	}
	if !filepath.IsAbs(dataDir) {
		t.Errorf("DefaultDataDir() should return absolute path, got: %s", dataDir)
	}
}

func TestLoadDefaults(t *testing.T) {
	v := viper.New()
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatalf("Load with no config file should not error, got: %v", err)
	}

	if cfg.Endpoint != "ws://localhost:9944" {
		t.Errorf("Endpoint = %s", cfg.Endpoint)
	}
	if !cfg.AutoReconnect {
		t.Error("AutoReconnect should default to true")
	}
	if cfg.Session.QueueSize != 100 {
		t.Errorf("QueueSize = %d", cfg.Session.QueueSize)
	}
	if cfg.Session.IdleDelay != time.Second || cfg.Session.BusyDelay != 100*time.Millisecond {
		t.Errorf("delays = %v / %v", cfg.Session.IdleDelay, cfg.Session.BusyDelay)
	}
	if cfg.Retry.MaxRetries != 5 {
		t.Errorf("MaxRetries = %d", cfg.Retry.MaxRetries)
	}
	if cfg.Retry.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v", cfg.Retry.Multiplier)
	}
	if cfg.Spill.Backend != "fs" {
		t.Errorf("Spill.Backend = %s", cfg.Spill.Backend)
	}
	if len(cfg.Probe.Endpoints) == 0 {
		t.Error("probe endpoints default missing")
	}
	if cfg.Observability.LogLevel != "info" || cfg.Observability.LogFormat != "text" {
		t.Errorf("observability defaults = %+v", cfg.Observability)
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nodewire.yaml")
	content := `
endpoint: wss://rpc.example.org
auto_reconnect: false
session:
  queue_size: 7
retry:
  max_retries: 2
spill:
  backend: badger
  config:
    path: /tmp/spill
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	v := viper.New()
	cfg, err := Load(v, path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Endpoint != "wss://rpc.example.org" {
		t.Errorf("Endpoint = %s", cfg.Endpoint)
	}
	if cfg.AutoReconnect {
		t.Error("AutoReconnect should be false")
	}
	if cfg.Session.QueueSize != 7 {
		t.Errorf("QueueSize = %d", cfg.Session.QueueSize)
	}
	if cfg.Retry.MaxRetries != 2 {
		t.Errorf("MaxRetries = %d", cfg.Retry.MaxRetries)
	}
	if cfg.Spill.Backend != "badger" || cfg.Spill.Config["path"] != "/tmp/spill" {
		t.Errorf("Spill = %+v", cfg.Spill)
	}
	// Untouched keys keep their defaults.
	if cfg.Session.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.Session.RequestTimeout)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	v := viper.New()
	if _, err := Load(v, "/nonexistent/nodewire.yaml"); err == nil {
		t.Error("explicitly named missing config file should error")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("NODEWIRE_ENDPOINT", "ws://env.example:9944")
	t.Setenv("NODEWIRE_SESSION_QUEUE_SIZE", "42")

	v := viper.New()
	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "ws://env.example:9944" {
		t.Errorf("Endpoint = %s", cfg.Endpoint)
	}
	if cfg.Session.QueueSize != 42 {
		t.Errorf("QueueSize = %d", cfg.Session.QueueSize)
	}
}

func TestFlagBinding(t *testing.T) {
	cmd := &cobra.Command{Use: "test"}
	v := viper.New()
	AddCommonFlags(cmd)
	BindCommonFlags(cmd, v)

	if err := cmd.ParseFlags([]string{
		"--endpoint", "ws://flag.example:9944",
		"--spill-backend", "redis",
		"--no-reconnect",
		"--log-level", "debug",
	}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(v, "")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Endpoint != "ws://flag.example:9944" {
		t.Errorf("Endpoint = %s", cfg.Endpoint)
	}
	if cfg.Spill.Backend != "redis" {
		t.Errorf("Spill.Backend = %s", cfg.Spill.Backend)
	}
	if cfg.AutoReconnect {
		t.Error("--no-reconnect should disable AutoReconnect")
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("LogLevel = %s", cfg.Observability.LogLevel)
	}
}
