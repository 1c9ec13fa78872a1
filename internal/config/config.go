// Package config holds all hivecore configuration: dispatch limits,
// circuit breaker tuning, audit retry budgets, per-tier context
// capacities, the worker roster, and logging/store settings.
// Configuration is YAML with environment overrides for the
// operationally interesting knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"hivecore/internal/types"
)

// Config holds all hivecore configuration.
type Config struct {
	// Dispatch limits
	MaxConcurrentDispatches int `yaml:"max_concurrent_dispatches" json:"max_concurrent_dispatches"`
	DefaultTimeoutMs        int `yaml:"default_timeout_ms" json:"default_timeout_ms"`

	// Circuit breaker
	CircuitBreakerThreshold int `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	CircuitCooldownMs       int `yaml:"circuit_cooldown_ms" json:"circuit_cooldown_ms"`

	// Audit pipeline
	AuditRetryBudgetPerStage int     `yaml:"audit_retry_budget_per_stage" json:"audit_retry_budget_per_stage"`
	QualityThreshold         float64 `yaml:"quality_threshold" json:"quality_threshold"`

	// Tiering
	ContextCapacityByTier map[string]int `yaml:"context_capacity_by_tier" json:"context_capacity_by_tier"`
	MaxTierDepth          int            `yaml:"max_tier_depth" json:"max_tier_depth"`

	// Event bus
	SlowConsumerTimeoutMs int `yaml:"slow_consumer_timeout_ms" json:"slow_consumer_timeout_ms"`

	// Worker roster loaded into the capability registry at boot.
	Workers []WorkerSpec `yaml:"workers" json:"workers"`

	// Default worker per tier, returned when nothing scores.
	DefaultWorkerByTier map[string]string `yaml:"default_worker_by_tier" json:"default_worker_by_tier"`

	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Store   StoreConfig   `yaml:"store" json:"store"`
}

// WorkerSpec is one roster entry.
type WorkerSpec struct {
	ID        string   `yaml:"id" json:"id"`
	Category  string   `yaml:"category" json:"category"` // /top, /intermediate, /worker
	Keywords  []string `yaml:"keywords" json:"keywords"`
	TaskTypes []string `yaml:"task_types" json:"task_types"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Debug bool `yaml:"debug" json:"debug"`
}

// StoreConfig controls the durable record store.
type StoreConfig struct {
	Path string `yaml:"path" json:"path"` // SQLite path; ":memory:" for ephemeral
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrentDispatches:  25,
		DefaultTimeoutMs:         300000,
		CircuitBreakerThreshold:  3,
		CircuitCooldownMs:        60000,
		AuditRetryBudgetPerStage: 3,
		QualityThreshold:         0.7,
		// Top tier 5x intermediate, intermediate 5x worker.
		ContextCapacityByTier: map[string]int{
			string(types.TierTop):          400 * 1024,
			string(types.TierIntermediate): 80 * 1024,
			string(types.TierWorker):       16 * 1024,
		},
		MaxTierDepth:          2,
		SlowConsumerTimeoutMs: 5000,
		DefaultWorkerByTier:   map[string]string{},
		Store:                 StoreConfig{Path: ":memory:"},
	}
}

// Load reads config from a YAML file, falling back to defaults when
// the file does not exist. Environment overrides apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults only.
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides lets HIVECORE_* variables override the numeric
// knobs without touching the config file.
func (c *Config) applyEnvOverrides() {
	overrideInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	overrideInt("HIVECORE_MAX_CONCURRENT_DISPATCHES", &c.MaxConcurrentDispatches)
	overrideInt("HIVECORE_DEFAULT_TIMEOUT_MS", &c.DefaultTimeoutMs)
	overrideInt("HIVECORE_CIRCUIT_BREAKER_THRESHOLD", &c.CircuitBreakerThreshold)
	overrideInt("HIVECORE_CIRCUIT_COOLDOWN_MS", &c.CircuitCooldownMs)
	overrideInt("HIVECORE_AUDIT_RETRY_BUDGET", &c.AuditRetryBudgetPerStage)
	overrideInt("HIVECORE_MAX_TIER_DEPTH", &c.MaxTierDepth)
}

// Validate checks that limits are within acceptable ranges.
func (c *Config) Validate() error {
	if c.MaxConcurrentDispatches < 1 {
		return fmt.Errorf("max_concurrent_dispatches must be >= 1")
	}
	if c.DefaultTimeoutMs < 1 {
		return fmt.Errorf("default_timeout_ms must be >= 1")
	}
	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("circuit_breaker_threshold must be >= 1")
	}
	if c.AuditRetryBudgetPerStage < 1 {
		return fmt.Errorf("audit_retry_budget_per_stage must be >= 1")
	}
	if c.MaxTierDepth < 1 || c.MaxTierDepth > 2 {
		return fmt.Errorf("max_tier_depth must be 1 or 2")
	}
	for tier, capacity := range c.ContextCapacityByTier {
		if capacity < 1 {
			return fmt.Errorf("context capacity for tier %s must be >= 1", tier)
		}
	}
	return nil
}

// DefaultTimeout returns the default dispatch timeout as a Duration.
func (c *Config) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// CircuitCooldown returns the circuit breaker cooldown as a Duration.
func (c *Config) CircuitCooldown() time.Duration {
	return time.Duration(c.CircuitCooldownMs) * time.Millisecond
}

// SlowConsumerTimeout returns the bus slow-consumer bound as a Duration.
func (c *Config) SlowConsumerTimeout() time.Duration {
	return time.Duration(c.SlowConsumerTimeoutMs) * time.Millisecond
}

// ContextCapacity returns the context window capacity for a tier,
// defaulting to the worker tier capacity for unknown tiers.
func (c *Config) ContextCapacity(tier types.Tier) int {
	if capacity, ok := c.ContextCapacityByTier[string(tier)]; ok {
		return capacity
	}
	return c.ContextCapacityByTier[string(types.TierWorker)]
}

// Descriptors converts the roster into registry descriptors.
func (c *Config) Descriptors() []types.WorkerDescriptor {
	out := make([]types.WorkerDescriptor, 0, len(c.Workers))
	for _, w := range c.Workers {
		out = append(out, types.WorkerDescriptor{
			ID:        w.ID,
			Category:  types.Tier(w.Category),
			Keywords:  w.Keywords,
			TaskTypes: w.TaskTypes,
		})
	}
	return out
}
