package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	_, err := Load("/nonexistent/path/polyfit.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent path")
	}
	// Load with empty path uses default search (may use defaults if no config file)
	cfg, _ := Load("")
	if cfg.Server.Addr != ":8080" {
		t.Errorf("default addr: got %s", cfg.Server.Addr)
	}
	if cfg.Server.TCPAddr != ":9090" {
		t.Errorf("default tcp_addr: got %s", cfg.Server.TCPAddr)
	}
	if cfg.Storage.CheckpointIntervalMs != 500 {
		t.Errorf("default checkpoint_interval_ms: got %d", cfg.Storage.CheckpointIntervalMs)
	}
	if cfg.Limits.MaxPoints != 64 {
		t.Errorf("default max_points: got %d", cfg.Limits.MaxPoints)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("default log: got %+v", cfg.Log)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	content := `
server:
  addr: ":9000"
  tcp_addr: ":9001"
storage:
  path: "test_data"
  checkpoint_interval_ms: 50
  batch_size: 8
log:
  level: debug
  format: json
limits:
  max_points: 12
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9000" {
		t.Errorf("addr: got %s", cfg.Server.Addr)
	}
	if cfg.Storage.Path != "test_data" {
		t.Errorf("path: got %s", cfg.Storage.Path)
	}
	if cfg.Storage.CheckpointIntervalMs != 50 {
		t.Errorf("checkpoint_interval_ms: got %d", cfg.Storage.CheckpointIntervalMs)
	}
	if cfg.Storage.BatchSize != 8 {
		t.Errorf("batch_size: got %d", cfg.Storage.BatchSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log: got %+v", cfg.Log)
	}
	if cfg.Limits.MaxPoints != 12 {
		t.Errorf("max_points: got %d", cfg.Limits.MaxPoints)
	}
}

func TestLoadFixesInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	content := `
storage:
  path: ""
  batch_size: -1
log:
  level: loud
  format: xml
limits:
  max_points: 1
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Path != "polyfit_data" || cfg.Storage.BatchSize != 64 {
		t.Errorf("storage defaults not applied: %+v", cfg.Storage)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "text" {
		t.Errorf("log defaults not applied: %+v", cfg.Log)
	}
	if cfg.Limits.MaxPoints != 64 {
		t.Errorf("max_points: got %d", cfg.Limits.MaxPoints)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected yaml error")
	}
}
