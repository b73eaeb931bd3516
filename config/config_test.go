package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/krisalay/tiercache/config"
	"github.com/krisalay/tiercache/types"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()
	assert.Equal(t, config.BackendSQLite, cfg.Backend)
	assert.Equal(t, int64(50*1024*1024), cfg.QuotaBytes)
	assert.InDelta(t, 0.80, cfg.WarningThreshold, 1e-9)
	assert.InDelta(t, 0.95, cfg.CriticalThreshold, 1e-9)
	assert.InDelta(t, 0.20, cfg.FreeFraction, 1e-9)
	assert.Equal(t, 50, cfg.GCBatchSize)
	assert.Equal(t, 1024, cfg.CompressionThreshold)
	assert.Equal(t, config.MirrorSync, cfg.MirrorMode)
	assert.Equal(t, uint(3), cfg.RevalidateMaxTries)
	assert.Equal(t, 30*time.Second, cfg.Breaker.Timeout)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestEnvironmentOverrides(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"TIERCACHE_BACKEND":            "memory",
		"TIERCACHE_QUOTA_BYTES":        "1000",
		"TIERCACHE_MIRROR_MODE":        "async",
		"TIERCACHE_REVALIDATE_TIMEOUT": "5s",
		"TIERCACHE_BREAKER_FAILURES":   "7",
		"TIERCACHE_LOG_LEVEL":          "debug",
	})
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, cfg.Backend)
	assert.Equal(t, int64(1000), cfg.QuotaBytes)
	assert.Equal(t, config.MirrorAsync, cfg.MirrorMode)
	assert.Equal(t, 5*time.Second, cfg.RevalidateTimeout)
	assert.Equal(t, uint32(7), cfg.Breaker.ConsecutiveFailures)
}

func TestValidationRejectsBadValues(t *testing.T) {
	for name, environ := range map[string]map[string]string{
		"backend":      {"TIERCACHE_BACKEND": "redis"},
		"thresholds":   {"TIERCACHE_QUOTA_WARNING": "0.99", "TIERCACHE_QUOTA_CRITICAL": "0.9"},
		"log level":    {"TIERCACHE_LOG_LEVEL": "verbose"},
		"mirror mode":  {"TIERCACHE_MIRROR_MODE": "eventually"},
		"not a number": {"TIERCACHE_GC_BATCH_SIZE": "many"},
		"zero workers": {"TIERCACHE_REVALIDATE_WORKERS": "0"},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := config.LoadFrom(environ)
			assert.Error(t, err)
		})
	}
}

func TestPolicyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
policies:
  content:
    ttl: 12h
    priority: medium
    compress: false
  search:
    strategy: cache-first
`), 0o600))

	cfg, err := config.LoadFrom(map[string]string{"TIERCACHE_POLICY_FILE": path})
	require.NoError(t, err)

	overrides := cfg.Overrides()
	require.Contains(t, overrides, types.ContentTypeContent)
	content := overrides[types.ContentTypeContent]
	assert.Equal(t, 12*time.Hour, content.TTL)
	assert.Equal(t, types.PriorityMedium, content.Priority)
	require.NotNil(t, content.Compress)
	assert.False(t, *content.Compress)
	assert.Equal(t, types.StrategyCacheFirst, overrides[types.ContentTypeSearch].Strategy)

	assert.Equal(t, map[types.ContentType]time.Duration{types.ContentTypeContent: 12 * time.Hour}, cfg.TTLOverrides())
}

func TestPolicyFileValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	require.NoError(t, os.WriteFile(path, []byte("policies:\n  api:\n    strategy: sometimes\n"), 0o600))
	_, err := config.LoadFrom(map[string]string{"TIERCACHE_POLICY_FILE": path})
	assert.Error(t, err)

	_, err = config.LoadFrom(map[string]string{"TIERCACHE_POLICY_FILE": filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := config.NewLogger("warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(-1))

	_, err = config.NewLogger("loud")
	assert.Error(t, err)
}
