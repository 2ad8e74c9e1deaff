// Package config loads MemFlow configuration with the precedence
// defaults -> YAML file -> environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("memflow.yaml").
//	    WithEnvPrefix("MEMFLOW").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete MemFlow configuration.
type Config struct {
	// Memory configures the four typed stores.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Embedding configures the deterministic embedding generator.
	Embedding EmbeddingConfig `yaml:"embedding" env:"EMBEDDING"`

	// Retrieval configures hybrid search.
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Consolidation configures the consolidation engine.
	Consolidation ConsolidationConfig `yaml:"consolidation" env:"CONSOLIDATION"`

	// Scheduler configures background maintenance.
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`

	// Persistence configures the optional durable side channel.
	Persistence PersistenceConfig `yaml:"persistence" env:"PERSISTENCE"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" env:"LOG"`
}

// MemoryConfig configures store capacities and lifetimes.
type MemoryConfig struct {
	// WorkingTTL is the default lifetime of working memory items.
	WorkingTTL time.Duration `yaml:"working_ttl" env:"WORKING_TTL"`
	// WorkingMaxItems caps the working store; lowest priority is evicted.
	WorkingMaxItems int `yaml:"working_max_items" env:"WORKING_MAX_ITEMS"`
	// EpisodicMaxItems caps the episodic store; oldest events are evicted.
	EpisodicMaxItems int `yaml:"episodic_max_items" env:"EPISODIC_MAX_ITEMS"`
	// SemanticMinConfidence rejects knowledge below this confidence.
	SemanticMinConfidence float64 `yaml:"semantic_min_confidence" env:"SEMANTIC_MIN_CONFIDENCE"`
	// SemanticValidationInterval marks knowledge stale after this long.
	SemanticValidationInterval time.Duration `yaml:"semantic_validation_interval" env:"SEMANTIC_VALIDATION_INTERVAL"`
}

// EmbeddingConfig configures the embedding generator.
type EmbeddingConfig struct {
	// Model names the default embedding model tag.
	Model string `yaml:"model" env:"MODEL"`
	// CacheSize is the LRU embedding cache capacity.
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
}

// RetrievalConfig configures hybrid search.
type RetrievalConfig struct {
	// Strategy is one of weighted, rank_fusion, best_of_both.
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// TraditionalWeight weighs lexical scores in weighted fusion.
	TraditionalWeight float64 `yaml:"traditional_weight" env:"TRADITIONAL_WEIGHT"`
	// VectorWeight weighs vector scores in weighted fusion.
	VectorWeight float64 `yaml:"vector_weight" env:"VECTOR_WEIGHT"`
	// VectorThreshold filters vector matches below this similarity.
	VectorThreshold float64 `yaml:"vector_threshold" env:"VECTOR_THRESHOLD"`
	// MaxResults caps the fused result list.
	MaxResults int `yaml:"max_results" env:"MAX_RESULTS"`
}

// ConsolidationConfig configures the consolidation engine.
type ConsolidationConfig struct {
	// Strategy fixes one clustering strategy; empty means auto-select.
	Strategy string `yaml:"strategy" env:"STRATEGY"`
	// SimilarityThreshold is the minimum similarity for semantic clusters.
	SimilarityThreshold float64 `yaml:"similarity_threshold" env:"SIMILARITY_THRESHOLD"`
	// MinCoherence drops clusters at or below this coherence.
	MinCoherence float64 `yaml:"min_coherence" env:"MIN_COHERENCE"`
	// SampleSize bounds how many items one pass examines.
	SampleSize int `yaml:"sample_size" env:"SAMPLE_SIZE"`
	// MaxClusters caps merges per pass.
	MaxClusters int `yaml:"max_clusters" env:"MAX_CLUSTERS"`
}

// SchedulerConfig configures background maintenance.
type SchedulerConfig struct {
	// ConsolidationInterval is the period between scheduling passes.
	ConsolidationInterval time.Duration `yaml:"consolidation_interval" env:"CONSOLIDATION_INTERVAL"`
	// MaxProcessingTime is the wall-clock budget of one pass.
	MaxProcessingTime time.Duration `yaml:"max_processing_time" env:"MAX_PROCESSING_TIME"`
	// TaskRetentionDays is how long terminal tasks are kept.
	TaskRetentionDays int `yaml:"task_retention_days" env:"TASK_RETENTION_DAYS"`
}

// PersistenceConfig configures the durable side channel.
type PersistenceConfig struct {
	// Backend is one of none, sqlite, redis.
	Backend string `yaml:"backend" env:"BACKEND"`
	// DSN is the SQLite path (":memory:" for ephemeral).
	DSN string `yaml:"dsn" env:"DSN"`
	// RedisAddr is the Redis host:port.
	RedisAddr string `yaml:"redis_addr" env:"REDIS_ADDR"`
	// RedisPassword is optional.
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	// RedisDB selects the logical database.
	RedisDB int `yaml:"redis_db" env:"REDIS_DB"`
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() *Config {
	return &Config{
		Memory: MemoryConfig{
			WorkingTTL:                 30 * time.Minute,
			WorkingMaxItems:            200,
			EpisodicMaxItems:           5000,
			SemanticMinConfidence:      0.3,
			SemanticValidationInterval: 7 * 24 * time.Hour,
		},
		Embedding: EmbeddingConfig{
			Model:     "bag-of-terms-v1",
			CacheSize: 4096,
		},
		Retrieval: RetrievalConfig{
			Strategy:          "weighted",
			TraditionalWeight: 0.5,
			VectorWeight:      0.5,
			VectorThreshold:   0.1,
			MaxResults:        10,
		},
		Consolidation: ConsolidationConfig{
			SimilarityThreshold: 0.7,
			MinCoherence:        0.5,
			SampleSize:          500,
			MaxClusters:         50,
		},
		Scheduler: SchedulerConfig{
			ConsolidationInterval: 30 * time.Minute,
			MaxProcessingTime:     30 * time.Second,
			TaskRetentionDays:     7,
		},
		Persistence: PersistenceConfig{
			Backend: "none",
			DSN:     "memflow.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks cross-field consistency. It collects every problem
// instead of stopping at the first one.
func (c *Config) Validate() error {
	var errs []string

	if c.Memory.WorkingTTL <= 0 {
		errs = append(errs, "memory.working_ttl must be positive")
	}
	if c.Memory.SemanticMinConfidence < 0 || c.Memory.SemanticMinConfidence > 1 {
		errs = append(errs, "memory.semantic_min_confidence must be in [0,1]")
	}
	if c.Embedding.CacheSize <= 0 {
		errs = append(errs, "embedding.cache_size must be positive")
	}
	switch c.Retrieval.Strategy {
	case "weighted", "rank_fusion", "best_of_both":
	default:
		errs = append(errs, fmt.Sprintf("retrieval.strategy %q is not one of weighted, rank_fusion, best_of_both", c.Retrieval.Strategy))
	}
	if c.Retrieval.TraditionalWeight < 0 || c.Retrieval.VectorWeight < 0 {
		errs = append(errs, "retrieval weights must be non-negative")
	}
	switch c.Consolidation.Strategy {
	case "", "semantic", "temporal", "usage", "pattern":
	default:
		errs = append(errs, fmt.Sprintf("consolidation.strategy %q is not one of semantic, temporal, usage, pattern", c.Consolidation.Strategy))
	}
	if c.Consolidation.MinCoherence < 0 || c.Consolidation.MinCoherence > 1 {
		errs = append(errs, "consolidation.min_coherence must be in [0,1]")
	}
	if c.Scheduler.ConsolidationInterval <= 0 {
		errs = append(errs, "scheduler.consolidation_interval must be positive")
	}
	if c.Scheduler.MaxProcessingTime <= 0 {
		errs = append(errs, "scheduler.max_processing_time must be positive")
	}
	switch c.Persistence.Backend {
	case "", "none", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Sprintf("persistence.backend %q is not one of none, sqlite, redis", c.Persistence.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
