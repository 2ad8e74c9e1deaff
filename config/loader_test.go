package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, "weighted", cfg.Retrieval.Strategy)
	require.Equal(t, 30*time.Minute, cfg.Scheduler.ConsolidationInterval)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := NewLoader().WithConfigPath("/does/not/exist.yaml").Load()
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Memory.WorkingTTL, cfg.Memory.WorkingTTL)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "memflow.yaml")
	data := []byte(`
memory:
  working_ttl: 10m
  working_max_items: 50
retrieval:
  strategy: rank_fusion
scheduler:
  max_processing_time: 5s
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, cfg.Memory.WorkingTTL)
	require.Equal(t, 50, cfg.Memory.WorkingMaxItems)
	require.Equal(t, "rank_fusion", cfg.Retrieval.Strategy)
	require.Equal(t, 5*time.Second, cfg.Scheduler.MaxProcessingTime)
	// Untouched sections keep their defaults.
	require.Equal(t, DefaultConfig().Embedding.CacheSize, cfg.Embedding.CacheSize)
}

func TestLoader_EnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  strategy: weighted\n"), 0o600))

	t.Setenv("MEMFLOW_RETRIEVAL_STRATEGY", "best_of_both")
	t.Setenv("MEMFLOW_EMBEDDING_CACHE_SIZE", "128")
	t.Setenv("MEMFLOW_LOG_ENABLE_CALLER", "true")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	require.Equal(t, "best_of_both", cfg.Retrieval.Strategy)
	require.Equal(t, 128, cfg.Embedding.CacheSize)
	require.True(t, cfg.Log.EnableCaller)
}

func TestLoader_InvalidConfigIsRejected(t *testing.T) {
	t.Setenv("MEMFLOW_RETRIEVAL_STRATEGY", "nonsense")

	_, err := NewLoader().Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "retrieval.strategy")
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Memory.WorkingTTL = 0
	cfg.Retrieval.Strategy = "nope"
	cfg.Persistence.Backend = "tape"

	err := cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "working_ttl")
	require.Contains(t, err.Error(), "retrieval.strategy")
	require.Contains(t, err.Error(), "persistence.backend")
}

func TestLoader_CustomValidator(t *testing.T) {
	t.Parallel()

	_, err := NewLoader().WithValidator(func(c *Config) error {
		if c.Scheduler.TaskRetentionDays < 30 {
			return os.ErrInvalid
		}
		return nil
	}).Load()
	require.Error(t, err)
}
