package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	t.Setenv(EnvConfigPath, filepath.Join(t.TempDir(), "config.json"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultServerURL, cfg.ServerURL)
}

func TestSaveAndLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	t.Setenv(EnvConfigPath, path)

	cfg := &Config{ServerURL: "https://uplink.example.com"}
	require.NoError(t, cfg.Save())

	loaded, err := Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, loaded.ServerURL)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestValidateServerURL(t *testing.T) {
	assert.NoError(t, ValidateServerURL("http://localhost:9000"))
	assert.NoError(t, ValidateServerURL("https://uplink.example.com"))
	assert.Error(t, ValidateServerURL("ftp://example.com"))
	assert.Error(t, ValidateServerURL("http://"))
	assert.Error(t, ValidateServerURL("not a url"))
}

func TestLoadRejectsBadStoredURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	t.Setenv(EnvConfigPath, path)
	require.NoError(t, os.WriteFile(path, []byte(`{"server_url":"ftp://x"}`), 0600))

	_, err := Load()
	assert.Error(t, err)
}
