package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("BRIDGE_DATA_DIR", t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.CacheBackend)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, "Asia/Kolkata", cfg.MarketTimezone)
	assert.Equal(t, "03:00:00", cfg.ForceLogoutTime)
	assert.Equal(t, 10, cfg.AlertWorkerPoolSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("BRIDGE_DATA_DIR", t.TempDir())
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("ALERT_WORKER_POOL_SIZE", "25")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.HTTPPort)
	assert.Equal(t, 25, cfg.AlertWorkerPoolSize)
	assert.True(t, cfg.DevMode)
}

func TestValidate_S3BackendRequiresEndpointAndBucket(t *testing.T) {
	cfg := &Config{CacheBackend: "s3"}
	assert.Error(t, cfg.Validate())

	cfg.S3Endpoint = "https://example.r2.cloudflarestorage.com"
	cfg.S3Bucket = "openalgo-cache"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MemoryBackendNeedsNoS3Fields(t *testing.T) {
	cfg := &Config{CacheBackend: "memory"}
	assert.NoError(t, cfg.Validate())
}
