package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "https://api.siliconflow.cn/v1", cfg.Pipeline.ServerURL)
	assert.Equal(t, "PaddlePaddle/PaddleOCR-VL-1.5", cfg.Pipeline.ModelName)
	assert.Equal(t, 8, cfg.Pipeline.CPUThreads)
	assert.Equal(t, int64(50<<20), cfg.Ingestion.MaxUploadBytes)
	assert.Equal(t, 1<<20, cfg.Ingestion.ChunkSize)
	assert.Equal(t, "MinerU-RunPod/1.0", cfg.Ingestion.UserAgent)
	assert.Equal(t, "none", cfg.Cache.Driver)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
  max_connections: 16
pipeline:
  model_name: from-file
  cpu_threads: 2
cache:
  driver: memory
  ttl: 1m
`), 0o644))

	t.Setenv("VL_REC_API_MODEL_NAME", "from-env")
	t.Setenv("ENABLE_HPI", "false")
	t.Setenv("MAX_UPLOAD_SIZE_MB", "5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 16, cfg.Server.MaxConnections)
	assert.Equal(t, "from-env", cfg.Pipeline.ModelName)
	assert.Equal(t, 2, cfg.Pipeline.CPUThreads)
	assert.False(t, cfg.Pipeline.EnableHPI)
	assert.True(t, cfg.Pipeline.EnableMKLDNN)
	assert.Equal(t, int64(5<<20), cfg.Ingestion.MaxUploadBytes)
	assert.Equal(t, "memory", cfg.Cache.Driver)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Observability.LogLevel)
}

func TestRedisURLSelectsRedis(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Cache.Driver)
	assert.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
}

func TestRedisURLCredentialsAndDB(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://:s3cret@cache.internal:6380/2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", cfg.Cache.Redis.Addr)
	assert.Equal(t, "s3cret", cfg.Cache.Redis.Password)
	assert.Equal(t, 2, cfg.Cache.Redis.DB)
}

func TestRedisURLRejectsMalformed(t *testing.T) {
	t.Setenv("REDIS_URL", "http://cache:6379")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_URL")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"threads", func(c *Config) { c.Pipeline.CPUThreads = 0 }},
		{"upload limit", func(c *Config) { c.Ingestion.MaxUploadBytes = 0 }},
		{"cache driver", func(c *Config) { c.Cache.Driver = "memcached" }},
		{"server url", func(c *Config) { c.Pipeline.ServerURL = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pipeline.APIKey = "secret"
	red := cfg.Redacted()
	assert.Equal(t, "***", red.Pipeline.APIKey)
	assert.Equal(t, "secret", cfg.Pipeline.APIKey)
}
