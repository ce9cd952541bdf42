package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Agent   AgentConfig   `yaml:"agent"`
	Storage StorageConfig `yaml:"storage"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
}

type AgentConfig struct {
	// Command is the bare executable name used as the last resolution
	// fallback and for the login-shell lookup.
	Command string `yaml:"command"`
	// Paths are fixed install locations probed before any shell lookup.
	Paths                 []string `yaml:"paths"`
	DefaultModel          string   `yaml:"default_model"`
	DefaultPermissionMode string   `yaml:"default_permission_mode"`
	DefaultCwd            string   `yaml:"default_cwd"`
	PtyCols               uint16   `yaml:"pty_cols"`
	PtyRows               uint16   `yaml:"pty_rows"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

func LoadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		// Missing config file is fine; everything has a default.
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	home, _ := os.UserHomeDir()

	// Set defaults
	if cfg.Server.Listen == "" {
		cfg.Server.Listen = "127.0.0.1:7420"
	}
	if cfg.Agent.Command == "" {
		cfg.Agent.Command = "claude"
	}
	if len(cfg.Agent.Paths) == 0 && home != "" {
		cfg.Agent.Paths = []string{
			filepath.Join(home, ".local", "bin", "claude"),
			"/usr/local/bin/claude",
			"/opt/homebrew/bin/claude",
		}
	}
	if cfg.Agent.DefaultPermissionMode == "" {
		cfg.Agent.DefaultPermissionMode = "default"
	}
	if cfg.Agent.DefaultCwd == "" {
		if home != "" {
			cfg.Agent.DefaultCwd = home
		} else {
			cfg.Agent.DefaultCwd, _ = os.Getwd()
		}
	}
	if cfg.Agent.PtyCols == 0 {
		cfg.Agent.PtyCols = 120
	}
	if cfg.Agent.PtyRows == 0 {
		cfg.Agent.PtyRows = 30
	}
	if cfg.Storage.StateDir == "" {
		if home != "" {
			cfg.Storage.StateDir = filepath.Join(home, ".applaude")
		} else {
			cfg.Storage.StateDir = "/var/lib/applaude"
		}
	}

	// Optional environment override for the listen address.
	if envListen := os.Getenv("APPLAUDE_LISTEN"); envListen != "" {
		cfg.Server.Listen = envListen
	}

	return &cfg, nil
}
