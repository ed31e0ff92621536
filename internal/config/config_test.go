package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, runtime.NumCPU(), cfg.Capacity.GlobalCap)
	assert.Equal(t, 120, cfg.Git.CommandTimeoutSeconds)
	assert.True(t, cfg.Ledger.Enabled)
	assert.Equal(t, ".orc/ledger.db", cfg.Ledger.DBPath)
	assert.Equal(t, "info", cfg.Console.LogLevel)
}

func TestLoadConfigMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigOverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orc.yaml")
	yaml := []byte("workspace_root: /tmp/ws\ncapacity:\n  global_cap: 3\nagent:\n  binary: my-agent\n")
	require.NoError(t, os.WriteFile(path, yaml, 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/ws", cfg.WorkspaceRoot)
	assert.Equal(t, 3, cfg.Capacity.GlobalCap)
	assert.Equal(t, "my-agent", cfg.Agent.Binary)
	// fields absent from the file keep their defaults.
	assert.Equal(t, 120, cfg.Git.CommandTimeoutSeconds)
}

func TestLoadConfigRestoresNonPositiveGlobalCap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity:\n  global_cap: 0\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, runtime.NumCPU(), cfg.Capacity.GlobalCap)
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "orc.yaml")
	require.NoError(t, os.WriteFile(path, []byte("capacity: [this is not a mapping\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}
