// Package config loads the orchestrator's own configuration file, in the
// teacher's style: a plain yaml.v3-tagged struct, a DefaultConfig
// constructor, and a LoadConfig(path) that overlays a YAML file on top of
// the defaults instead of failing when the file is absent.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"
)

// CapacityConfig controls the Capacity Broker's admission limits (spec.md §4.8).
type CapacityConfig struct {
	// GlobalCap is the fallback concurrency ceiling used when a Plan's
	// maxParallel is 0. Defaults to runtime.NumCPU().
	GlobalCap int `yaml:"global_cap"`
}

// GitConfig controls gitops.Repo's per-command timeout.
type GitConfig struct {
	// CommandTimeoutSeconds bounds every individual git invocation.
	CommandTimeoutSeconds int `yaml:"command_timeout_seconds"`
}

// AgentConfig configures the default external agent CLI adapter.
type AgentConfig struct {
	// Binary is the agent CLI executable name. It is loaded from the file
	// but not passed to the work executor: agent work always runs
	// workexec.DefaultAgentBinary.
	Binary string `yaml:"binary"`
	// DefaultModel is loaded from the file but not applied: an agent
	// WorkSpec without its own model runs without a --model flag.
	DefaultModel string `yaml:"default_model"`
}

// LedgerConfig controls the supplementary SQLite attempt history store.
type LedgerConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// ConsoleConfig controls the ambient console logger.
type ConsoleConfig struct {
	EnableColor bool   `yaml:"enable_color"`
	LogLevel    string `yaml:"log_level"`
}

// Config is the top-level orchestrator configuration.
type Config struct {
	WorkspaceRoot string         `yaml:"workspace_root"`
	Capacity      CapacityConfig `yaml:"capacity"`
	Git           GitConfig      `yaml:"git"`
	Agent         AgentConfig    `yaml:"agent"`
	Ledger        LedgerConfig   `yaml:"ledger"`
	Console       ConsoleConfig  `yaml:"console"`
}

// DefaultConfig returns a Config with sensible default values, the way the
// teacher's config.DefaultConfig seeds every section before a file is
// overlaid on top.
func DefaultConfig() *Config {
	return &Config{
		Capacity: CapacityConfig{GlobalCap: runtime.NumCPU()},
		Git:      GitConfig{CommandTimeoutSeconds: 120},
		Agent:    AgentConfig{},
		Ledger:   LedgerConfig{Enabled: true, DBPath: ".orc/ledger.db"},
		Console:  ConsoleConfig{EnableColor: true, LogLevel: "info"},
	}
}

// LoadConfig reads path (typically "orc.yaml" at the repo root) and
// overlays it onto DefaultConfig. A missing file is not an error — the
// defaults are returned unchanged, matching the teacher's "config file is
// optional" posture.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if cfg.Capacity.GlobalCap <= 0 {
		cfg.Capacity.GlobalCap = runtime.NumCPU()
	}
	return cfg, nil
}
