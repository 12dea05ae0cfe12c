package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/micro-ha/transmission-sync/internal/model"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Helper()

	t.Setenv("TXSYNC_CONFIG", "")
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.BaseURL() != "http://localhost:5000" {
		t.Fatalf("unexpected server url %q", cfg.Server.BaseURL())
	}
	if cfg.UpdatesPollInterval != 5*time.Second || cfg.StatePollInterval != 5*time.Second {
		t.Fatalf("unexpected poll intervals %s/%s", cfg.UpdatesPollInterval, cfg.StatePollInterval)
	}
	if cfg.ReconnectMaxAttempts != 5 || cfg.RequestMaxAttempts != 3 {
		t.Fatalf("unexpected attempt limits %d/%d", cfg.ReconnectMaxAttempts, cfg.RequestMaxAttempts)
	}
	if cfg.DBPath != filepath.Join("/data", "transmission_sync.db") {
		t.Fatalf("unexpected db path %q", cfg.DBPath)
	}
	if cfg.ForcePolling() {
		t.Fatalf("expected live transport by default")
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Helper()

	dataDir := t.TempDir()
	path := writeConfig(t, `
devices = ["42", "43"]
connection_id = "7"
log_level = "debug"
data_dir = "`+dataDir+`"

[server]
url = "https://tx.example.com/api"
token = "from-file"

[transport]
mode = "polling"
poll_interval = "10s"

[requests]
max_attempts = 4
`)
	t.Setenv("TXSYNC_TOKEN", "from-env")
	t.Setenv("TXSYNC_POLL_INTERVAL", "2s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Token != "from-env" {
		t.Fatalf("expected env token to win, got %q", cfg.Server.Token)
	}
	if cfg.Server.BaseURL() != "https://tx.example.com" {
		t.Fatalf("unexpected base url %q", cfg.Server.BaseURL())
	}
	if cfg.UpdatesPollInterval != 2*time.Second {
		t.Fatalf("expected env poll interval, got %s", cfg.UpdatesPollInterval)
	}
	if !cfg.ForcePolling() {
		t.Fatalf("expected polling transport from file")
	}
	if cfg.RequestMaxAttempts != 4 {
		t.Fatalf("expected 4 request attempts, got %d", cfg.RequestMaxAttempts)
	}
	if len(cfg.Devices) != 2 || cfg.Devices[1] != model.DeviceID("43") {
		t.Fatalf("unexpected devices %v", cfg.Devices)
	}
	if cfg.ConnectionID != "7" {
		t.Fatalf("unexpected connection id %q", cfg.ConnectionID)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level %v", cfg.LogLevel)
	}
	if cfg.ExportDir != filepath.Join(dataDir, "exports") {
		t.Fatalf("unexpected export dir %q", cfg.ExportDir)
	}
}

func TestLoadExplicitMissingFileFails(t *testing.T) {
	t.Helper()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected missing explicit config to fail")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Helper()

	tests := []struct {
		name     string
		contents string
	}{
		{name: "unknown transport", contents: "[transport]\nmode = \"carrier-pigeon\"\n"},
		{name: "bad device id", contents: "devices = [\"4/2\"]\n"},
		{name: "malformed toml", contents: "devices = [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.contents)); err == nil {
				t.Fatalf("expected %s to fail", tc.name)
			}
		})
	}
}
