package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 100000, cfg.Indexer.RTISize)
	assert.Equal(t, "zstd", cfg.Indexer.Compression)
	assert.Equal(t, "file", cfg.Checkpoint.Backend)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, []string{"title", "body"}, cfg.Search.DefaultFields)
}

func TestLoadDevelopmentConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "development.yaml"))
	require.NoError(t, err)
	assert.Equal(t, []string{"lang", "category"}, cfg.Indexer.KeywordFields)
	assert.Equal(t, 60*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, "memory", cfg.Boosts.Backend)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
indexer:
  dataDir: /var/lib/rtsearch
  rtiSize: 500
  dumpPollInterval: 250ms
  compression: none
  keywordFields: [category]
search:
  timeout: 3s
`), 0644))
	t.Setenv("SP_INDEXER_RTI_SIZE", "64")
	t.Setenv("SP_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("SP_BOOSTS_BACKEND", "redis")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/rtsearch", cfg.Indexer.DataDir)
	assert.Equal(t, 64, cfg.Indexer.RTISize)
	assert.Equal(t, 250*time.Millisecond, cfg.Indexer.DumpPollInterval)
	assert.Equal(t, 5*time.Second, cfg.Indexer.DumpRetryDelay, "unset keys keep defaults")
	assert.Equal(t, "none", cfg.Indexer.Compression)
	assert.Equal(t, []string{"category"}, cfg.Indexer.KeywordFields)
	assert.Equal(t, 3*time.Second, cfg.Search.Timeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "redis", cfg.Boosts.Backend)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rti size", func(c *Config) { c.Indexer.RTISize = 0 }},
		{"negative rti size", func(c *Config) { c.Indexer.RTISize = -1 }},
		{"zero poll interval", func(c *Config) { c.Indexer.DumpPollInterval = 0 }},
		{"bad compression", func(c *Config) { c.Indexer.Compression = "lz4" }},
		{"bad checkpoint backend", func(c *Config) { c.Checkpoint.Backend = "s3" }},
		{"bad boosts backend", func(c *Config) { c.Boosts.Backend = "etcd" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, defaultConfig().Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
