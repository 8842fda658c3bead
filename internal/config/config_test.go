package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "snapvault", cfg.Name)
	assert.Equal(t, ".snapvault", cfg.Vault.Dir)
	assert.Equal(t, int64(256<<20), cfg.Vault.MaxBytes)
	assert.Equal(t, 200000, cfg.Vault.KDFIterations)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
}

func TestLoadAndSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapvault.yaml")

	cfg := DefaultConfig()
	cfg.Vault.Dir = "/data/vault"
	cfg.Server.Addr = "0.0.0.0:9000"
	cfg.Maintenance.Interval = "1h"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/vault", loaded.Vault.Dir)
	assert.Equal(t, "0.0.0.0:9000", loaded.Server.Addr)
	assert.Equal(t, time.Hour, loaded.GetMaintenanceInterval())
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "snapvault.yaml")
	require.NoError(t, os.WriteFile(path, []byte("vault:\n  dir: /custom\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom", cfg.Vault.Dir)
	// Untouched sections keep defaults
	assert.Equal(t, DefaultConfig().Server.Addr, cfg.Server.Addr)
	assert.Equal(t, DefaultConfig().Vault.CompressThreshold, cfg.Vault.CompressThreshold)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SNAPVAULT_DIR", "/env/vault")
	t.Setenv("SNAPVAULT_ADDR", "127.0.0.1:9999")
	t.Setenv("SNAPVAULT_API_KEY", "secret")
	t.Setenv("SNAPVAULT_MAX_BYTES", "1024")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "/env/vault", cfg.Vault.Dir)
	assert.Equal(t, "127.0.0.1:9999", cfg.Server.Addr)
	assert.Equal(t, "secret", cfg.Server.APIKey)
	assert.Equal(t, int64(1024), cfg.Vault.MaxBytes)
}

func TestEnvOverrideBadMaxBytesIgnored(t *testing.T) {
	t.Setenv("SNAPVAULT_MAX_BYTES", "not-a-number")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()
	assert.Equal(t, DefaultConfig().Vault.MaxBytes, cfg.Vault.MaxBytes)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults valid", func(c *Config) {}, false},
		{"empty dir", func(c *Config) { c.Vault.Dir = "" }, true},
		{"negative max bytes", func(c *Config) { c.Vault.MaxBytes = -1 }, true},
		{"weak kdf", func(c *Config) { c.Vault.KDFIterations = 1000 }, true},
		{"zero kdf means default", func(c *Config) { c.Vault.KDFIterations = 0 }, false},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"zero body limit", func(c *Config) { c.Server.MaxBodyBytes = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPassphrase(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		cfg := DefaultConfig()
		pass, err := cfg.Passphrase()
		require.NoError(t, err)
		assert.Empty(t, pass)
	})

	t.Run("from file with trailing newline", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pass")
		require.NoError(t, os.WriteFile(path, []byte("hunter2\n"), 0600))

		cfg := DefaultConfig()
		cfg.Vault.PassphraseFile = path
		pass, err := cfg.Passphrase()
		require.NoError(t, err)
		assert.Equal(t, "hunter2", pass)
	})

	t.Run("empty file rejected", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "pass")
		require.NoError(t, os.WriteFile(path, []byte("\n"), 0600))

		cfg := DefaultConfig()
		cfg.Vault.PassphraseFile = path
		_, err := cfg.Passphrase()
		assert.Error(t, err)
	})

	t.Run("env wins over file", func(t *testing.T) {
		t.Setenv("SNAPVAULT_PASSPHRASE", "env-pass")
		cfg := DefaultConfig()
		cfg.Vault.PassphraseFile = "/does/not/exist"
		pass, err := cfg.Passphrase()
		require.NoError(t, err)
		assert.Equal(t, "env-pass", pass)
	})
}
