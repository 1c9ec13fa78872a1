package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hivecore/internal/types"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 25, cfg.MaxConcurrentDispatches)
	assert.Equal(t, 300000, cfg.DefaultTimeoutMs)
	assert.Equal(t, 3, cfg.CircuitBreakerThreshold)
	assert.Equal(t, 60000, cfg.CircuitCooldownMs)
	assert.Equal(t, 3, cfg.AuditRetryBudgetPerStage)
	assert.Equal(t, 0.7, cfg.QualityThreshold)
	assert.Equal(t, 2, cfg.MaxTierDepth)

	assert.Equal(t, 5*time.Minute, cfg.DefaultTimeout())
	assert.Equal(t, time.Minute, cfg.CircuitCooldown())
}

func TestContextCapacity_TierRatios(t *testing.T) {
	cfg := DefaultConfig()

	top := cfg.ContextCapacity(types.TierTop)
	mid := cfg.ContextCapacity(types.TierIntermediate)
	worker := cfg.ContextCapacity(types.TierWorker)

	assert.Equal(t, mid*5, top)
	assert.Equal(t, worker*5, mid)
	// Unknown tiers fall back to the worker capacity.
	assert.Equal(t, worker, cfg.ContextCapacity(types.Tier("/mystery")))
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxConcurrentDispatches, cfg.MaxConcurrentDispatches)
}

func TestLoad_YAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hivecore.yaml")
	data := `
max_concurrent_dispatches: 4
default_timeout_ms: 1500
quality_threshold: 0.9
workers:
  - id: api-worker
    category: /worker
    keywords: [api, endpoint]
    task_types: [implement-api]
default_worker_by_tier:
  /worker: api-worker
store:
  path: ":memory:"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.MaxConcurrentDispatches)
	assert.Equal(t, 1500, cfg.DefaultTimeoutMs)
	assert.Equal(t, 0.9, cfg.QualityThreshold)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 3, cfg.CircuitBreakerThreshold)

	descs := cfg.Descriptors()
	require.Len(t, descs, 1)
	assert.Equal(t, "api-worker", descs[0].ID)
	assert.Equal(t, types.TierWorker, descs[0].Category)
	assert.Equal(t, "api-worker", cfg.DefaultWorkerByTier[string(types.TierWorker)])
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_concurrent_dispatches: [not a number"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HIVECORE_MAX_CONCURRENT_DISPATCHES", "7")
	t.Setenv("HIVECORE_CIRCUIT_COOLDOWN_MS", "250")
	t.Setenv("HIVECORE_MAX_TIER_DEPTH", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.MaxConcurrentDispatches)
	assert.Equal(t, 250, cfg.CircuitCooldownMs)
	assert.Equal(t, 1, cfg.MaxTierDepth)
}

func TestLoad_EnvOverrideIgnoresGarbage(t *testing.T) {
	t.Setenv("HIVECORE_DEFAULT_TIMEOUT_MS", "soon")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 300000, cfg.DefaultTimeoutMs)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero dispatches", func(c *Config) { c.MaxConcurrentDispatches = 0 }},
		{"zero timeout", func(c *Config) { c.DefaultTimeoutMs = 0 }},
		{"zero threshold", func(c *Config) { c.CircuitBreakerThreshold = 0 }},
		{"zero budget", func(c *Config) { c.AuditRetryBudgetPerStage = 0 }},
		{"depth too large", func(c *Config) { c.MaxTierDepth = 3 }},
		{"depth too small", func(c *Config) { c.MaxTierDepth = 0 }},
		{"bad capacity", func(c *Config) { c.ContextCapacityByTier["/worker"] = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
