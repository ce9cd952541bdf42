package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != "127.0.0.1:7420" {
		t.Errorf("listen: %q", cfg.Server.Listen)
	}
	if cfg.Agent.Command != "claude" {
		t.Errorf("command: %q", cfg.Agent.Command)
	}
	if len(cfg.Agent.Paths) == 0 {
		t.Error("no default paths")
	}
	if cfg.Agent.DefaultPermissionMode != "default" {
		t.Errorf("permission mode: %q", cfg.Agent.DefaultPermissionMode)
	}
	if cfg.Agent.PtyCols != 120 || cfg.Agent.PtyRows != 30 {
		t.Errorf("pty size: %dx%d", cfg.Agent.PtyCols, cfg.Agent.PtyRows)
	}
	if cfg.Storage.StateDir == "" {
		t.Error("no state dir")
	}
}

func TestLoadConfigFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  listen: "0.0.0.0:9000"
agent:
  command: my-agent
  default_model: claude-opus-4
  pty_cols: 200
storage:
  state_dir: /tmp/applaude-test
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("listen: %q", cfg.Server.Listen)
	}
	if cfg.Agent.Command != "my-agent" || cfg.Agent.DefaultModel != "claude-opus-4" {
		t.Errorf("agent: %+v", cfg.Agent)
	}
	if cfg.Agent.PtyCols != 200 {
		t.Errorf("pty cols: %d", cfg.Agent.PtyCols)
	}
	// Unset fields still get defaults.
	if cfg.Agent.PtyRows != 30 || cfg.Agent.DefaultPermissionMode != "default" {
		t.Errorf("defaults not filled: %+v", cfg.Agent)
	}
	if cfg.Storage.StateDir != "/tmp/applaude-test" {
		t.Errorf("state dir: %q", cfg.Storage.StateDir)
	}
}

func TestLoadConfigEnvListenOverride(t *testing.T) {
	t.Setenv("APPLAUDE_LISTEN", "127.0.0.1:1234")
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Listen != "127.0.0.1:1234" {
		t.Errorf("listen: %q", cfg.Server.Listen)
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not: valid"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected error")
	}
}
