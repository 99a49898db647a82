package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LumeraProtocol/notary/notary/anchor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	base := t.TempDir()
	cfg := CreateDefaultConfig(base)
	cfg.API.Port = 9999
	cfg.Ingest.SizeLimitBytes = 1024
	cfg.Ingest.LedgerTimeout = 90 * time.Second
	cfg.Ledger.Tag = "AUDIT"
	cfg.ContentStore.Backend = ContentBackendIPFS

	path := filepath.Join(base, DefaultConfigFile)
	require.NoError(t, SaveConfig(cfg, path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "ledger_timeout: 1m30s")
	assert.Contains(t, string(raw), "min_weight_magnitude:")

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, got)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeFile(t, "api:\n  port: 7000\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.API.Port)
	assert.Equal(t, DefaultAPIHost, cfg.API.Host)
	assert.Equal(t, anchor.DefaultConfig(), cfg.Ingest)
	assert.Equal(t, LedgerBackendSimnet, cfg.Ledger.Backend)
	assert.Equal(t, DefaultLedgerTag, cfg.Ledger.Tag)
	assert.Equal(t, filepath.Join(filepath.Dir(path), DefaultDataDir), cfg.GetDataDir())
	assert.Equal(t, filepath.Join(cfg.GetDataDir(), StateDBFile), cfg.StateDBPath())

	ac := cfg.AnchorConfig()
	assert.Equal(t, DefaultLedgerDepth, ac.Network.Depth)
	assert.Equal(t, DefaultLedgerTag, ac.Network.Tag)
}

func TestEnvOverrides(t *testing.T) {
	path := writeFile(t, "log_level: debug\n")
	t.Setenv("NOTARY_API_PORT", "8123")
	t.Setenv("NOTARY_INGEST_SIZE_LIMIT_BYTES", "2048")
	t.Setenv("NOTARY_CONTENT_STORE_BACKEND", "ipfs")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8123, cfg.API.Port)
	assert.Equal(t, int64(2048), cfg.Ingest.SizeLimitBytes)
	assert.Equal(t, ContentBackendIPFS, cfg.ContentStore.Backend)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"ledger backend":  "ledger:\n  backend: mainnet\n",
		"content backend": "content_store:\n  backend: s3\n",
		"api port":        "api:\n  port: 70000\n",
		"cache size":      "cache:\n  max_items: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeFile(t, content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestAbsoluteDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := CreateDefaultConfig("/elsewhere")
	cfg.DataDir = dir
	assert.Equal(t, dir, cfg.GetDataDir())
	require.NoError(t, cfg.EnsureDirs())
}
