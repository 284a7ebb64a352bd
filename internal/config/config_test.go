package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "memory", cfg.Ledger.Backend)
	assert.Equal(t, 24*time.Hour, cfg.Ledger.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, "json", cfg.Cache.Codec)
	assert.Equal(t, 3, cfg.Reconciler.MaxConflictRetries)
	assert.Equal(t, 500, cfg.Pull.DefaultLimit)
	assert.False(t, cfg.UsesRedis())
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func loadDefaults(t *testing.T) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))
	return Load(path)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
store:
  backend: postgres
database:
  host: db.internal
ledger:
  backend: redis
  ttl: 12h
cache:
  backend: redis
  codec: cbor
reconciler:
  max_conflict_retries: 5
`), 0o600))

	t.Setenv("SYNC_SERVER_PORT", "9100")
	t.Setenv("SYNC_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Store.Backend)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 12*time.Hour, cfg.Ledger.TTL)
	assert.Equal(t, "cbor", cfg.Cache.Codec)
	assert.Equal(t, 5, cfg.Reconciler.MaxConflictRetries)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.UsesRedis())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := loadDefaults(t)
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown store", func(c *Config) { c.Store.Backend = "mysql" }},
		{"postgres without host", func(c *Config) { c.Store.Backend = "postgres"; c.Database.Host = "" }},
		{"unknown ledger", func(c *Config) { c.Ledger.Backend = "etcd" }},
		{"zero ledger ttl", func(c *Config) { c.Ledger.TTL = 0 }},
		{"unknown codec", func(c *Config) { c.Cache.Codec = "gob" }},
		{"zero cache size", func(c *Config) { c.Cache.MaxSize = 0 }},
		{"negative retries", func(c *Config) { c.Reconciler.MaxConflictRetries = -1 }},
		{"default above max", func(c *Config) { c.Pull.DefaultLimit = c.Pull.MaxLimit + 1 }},
		{"zero rate", func(c *Config) { c.RateLimiter.RequestsPerSecond = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
