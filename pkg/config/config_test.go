package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := Default()
	cfg.Node.ID = "node-a"
	cfg.Node.BindAddr = "10.0.0.1:9000"
	cfg.Node.AdminAddr = "10.0.0.1:9001"
	require.NoError(t, cfg.SaveToFile(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node-a", loaded.Node.ID)
	require.Equal(t, "10.0.0.1:9000", loaded.Node.BindAddr)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TABLESTORE_NODE_ID", "env-node")
	t.Setenv("TABLESTORE_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-node", cfg.Node.ID)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestValidateRejectsSameAddrs(t *testing.T) {
	cfg := Default()
	cfg.Node.AdminAddr = cfg.Node.BindAddr
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Log.Level = "verbose"
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresNameResolveAddr(t *testing.T) {
	cfg := Default()
	cfg.NameResolve.Enabled = true
	cfg.NameResolve.Addr = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRequiresCertDirWhenTLSEnabled(t *testing.T) {
	cfg := Default()
	cfg.Security.TLSEnabled = true
	cfg.Security.CertDir = ""
	require.Error(t, cfg.Validate())
}
