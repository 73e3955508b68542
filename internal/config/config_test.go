package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejectsEmptyFallbackChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.FallbackChain = nil
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.Port = 0
	require.Error(t, cfg.Validate())
}

func TestAddressFormatsHostPort(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Service.Host = "0.0.0.0"
	cfg.Service.Port = 9000
	require.Equal(t, "0.0.0.0:9000", cfg.Address())
}

func TestEnsureDirectoriesCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Service.DataDir = dir
	cfg.Analysis.WorkDirRoot = filepath.Join(dir, "workspaces")

	require.NoError(t, cfg.EnsureDirectories())
	require.DirExists(t, cfg.Analysis.WorkDirRoot)
	require.DirExists(t, filepath.Join(dir, "logs"))
}

func TestLoadFromStringMergesWithDefaults(t *testing.T) {
	cfg, err := LoadFromString(`
[service]
port = 9999
`)
	require.NoError(t, err)
	require.Equal(t, 9999, cfg.Service.Port)
	require.NotEmpty(t, cfg.LLM.FallbackChain)
}

func TestWriteExampleConfigFailsIfFileExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, WriteExampleConfig(path))
	require.Error(t, WriteExampleConfig(path))
}
