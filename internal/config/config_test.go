package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Valid(t *testing.T) {
	path := writeConfig(t, `
version: 1
workspace: /srv/checkout
agent:
  cmd: claude
  args: ["--print"]
  timeout_sec: 120
detector:
  poll_interval_sec: 5
  stale_timeout_sec: 60
tracker:
  base_url: https://tracker.example.com/api/v2
  api_key_env: TRACKER_TOKEN
tests:
  cmd: go
  args: ["test", "./..."]
publish:
  remote: upstream
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Workspace != "/srv/checkout" {
		t.Errorf("expected workspace /srv/checkout, got %q", cfg.Workspace)
	}
	if cfg.Agent.Cmd != "claude" {
		t.Errorf("expected agent cmd claude, got %q", cfg.Agent.Cmd)
	}
	if cfg.Agent.DefaultTimeout() != 120 {
		t.Errorf("expected timeout 120, got %d", cfg.Agent.DefaultTimeout())
	}
	if cfg.Detector.PollInterval() != 5*time.Second {
		t.Errorf("expected poll interval 5s, got %v", cfg.Detector.PollInterval())
	}
	if cfg.Detector.StaleTimeout() != 60*time.Second {
		t.Errorf("expected stale timeout 60s, got %v", cfg.Detector.StaleTimeout())
	}
	if cfg.Publish.RemoteName() != "upstream" {
		t.Errorf("expected remote upstream, got %q", cfg.Publish.RemoteName())
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, `
version: 1
workspace: .
agent:
  cmd: claude
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Agent.DefaultTimeout() != 1800 {
		t.Errorf("expected default agent timeout 1800, got %d", cfg.Agent.DefaultTimeout())
	}
	if cfg.Detector.PollInterval() != 10*time.Second {
		t.Errorf("expected default poll interval 10s, got %v", cfg.Detector.PollInterval())
	}
	if cfg.Detector.StaleTimeout() != 15*time.Minute {
		t.Errorf("expected default stale timeout 15m, got %v", cfg.Detector.StaleTimeout())
	}
	if cfg.Tests.DefaultTimeout() != 600 {
		t.Errorf("expected default test timeout 600, got %d", cfg.Tests.DefaultTimeout())
	}
	if cfg.Publish.RemoteName() != "origin" {
		t.Errorf("expected default remote origin, got %q", cfg.Publish.RemoteName())
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"missing workspace", "version: 1\nagent:\n  cmd: claude\n"},
		{"missing agent cmd", "version: 1\nworkspace: .\n"},
		{"negative poll interval", "version: 1\nworkspace: .\nagent:\n  cmd: claude\ndetector:\n  poll_interval_sec: -1\n"},
		{"stale shorter than poll", "version: 1\nworkspace: .\nagent:\n  cmd: claude\ndetector:\n  poll_interval_sec: 30\n  stale_timeout_sec: 10\n"},
		{"tracker key without url", "version: 1\nworkspace: .\nagent:\n  cmd: claude\ntracker:\n  api_key_env: TOKEN\n"},
		{"bad yaml", "version: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Workspace = "/tmp/ws"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save: %v", err)
	}
	if got.Workspace != "/tmp/ws" {
		t.Errorf("expected workspace /tmp/ws, got %q", got.Workspace)
	}
	if got.Detector.PollIntervalSec != 10 {
		t.Errorf("expected poll interval 10, got %d", got.Detector.PollIntervalSec)
	}
}
