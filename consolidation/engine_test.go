package consolidation

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

func newTestEngine(t *testing.T, now *time.Time) (*Engine, Stores) {
	t.Helper()

	clock := func() time.Time { return *now }
	stores := Stores{
		Working: memory.NewWorkingStore(memory.WorkingStoreConfig{
			DefaultTTL: time.Hour,
			Now:        clock,
		}, zap.NewNop()),
		Episodic: memory.NewEpisodicStore(memory.EpisodicStoreConfig{Now: clock}, zap.NewNop()),
		Semantic: memory.NewSemanticStore(memory.SemanticStoreConfig{
			MinConfidence:      0.1,
			ValidationInterval: 24 * time.Hour,
			Now:                clock,
		}, zap.NewNop()),
		Procedural: memory.NewProceduralStore(memory.ProceduralStoreConfig{Now: clock}, zap.NewNop()),
	}

	cfg := DefaultEngineConfig()
	cfg.Strategy.SimilarityThreshold = 0.8
	cfg.MinCoherence = 0.5
	cfg.Now = clock

	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	return NewEngine(cfg, stores, gen, zap.NewNop()), stores
}

func TestEngine_ConsolidatesNearDuplicateKnowledge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	engine, stores := newTestEngine(t, &now)

	mctx := types.MemoryContext{Timestamp: now}
	id1, err := stores.Semantic.Store(ctx, "the build fails when the cache is stale", mctx, memory.SemanticOptions{
		Confidence: 0.8,
		Sources:    []string{"ci-run-1"},
	})
	require.NoError(t, err)
	id2, err := stores.Semantic.Store(ctx, "the build fails when the cache is stale again", mctx, memory.SemanticOptions{
		Confidence: 0.6,
		Sources:    []string{"ci-run-2"},
	})
	require.NoError(t, err)

	result, err := engine.Consolidate(ctx, mctx, Options{
		Strategies: []StrategyName{StrategySemantic},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.ClustersFormed)
	require.Equal(t, 2, result.MemoriesConsolidated)
	require.Equal(t, 1, result.ItemsCreated)
	require.Empty(t, result.StrategyFailures)
	require.InDelta(t, 0.5, result.EfficiencyGain, 1e-9) // 2 -> 1

	// The sources are gone, replaced by one merged item.
	_, ok := stores.Semantic.Retrieve(ctx, id1)
	require.False(t, ok)
	_, ok = stores.Semantic.Retrieve(ctx, id2)
	require.False(t, ok)
	require.Equal(t, 1, stores.Semantic.Count())

	merged := stores.Semantic.Items(ctx)[0]
	require.Contains(t, merged.Content, "the build fails when the cache is stale")
	require.Contains(t, merged.Content, contentSeparator)
	// Mean confidence discounted by the merge penalty: (0.8+0.6)/2*0.95.
	require.InDelta(t, 0.665, merged.Confidence, 1e-9)
	require.ElementsMatch(t, []string{"ci-run-1", "ci-run-2"}, merged.Sources)
}

func TestEngine_RepeatedConsolidationConverges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	engine, stores := newTestEngine(t, &now)

	mctx := types.MemoryContext{Timestamp: now}
	for _, content := range []string{
		"retry the request after a timeout",
		"retry the request after a timeout occurs",
	} {
		_, err := stores.Semantic.Store(ctx, content, mctx, memory.SemanticOptions{Confidence: 0.8})
		require.NoError(t, err)
	}

	first, err := engine.Consolidate(ctx, mctx, Options{Strategies: []StrategyName{StrategySemantic}})
	require.NoError(t, err)
	require.Equal(t, 1, first.ItemsCreated)
	require.Equal(t, 1, stores.Semantic.Count())

	// A second pass over the already-merged store is a no-op.
	second, err := engine.Consolidate(ctx, mctx, Options{Strategies: []StrategyName{StrategySemantic}})
	require.NoError(t, err)
	require.Zero(t, second.ClustersFormed)
	require.Zero(t, second.MemoriesConsolidated)
	require.Equal(t, 1, stores.Semantic.Count())
}

func TestEngine_CrossTypeMergeProducesSemanticItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	engine, stores := newTestEngine(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}
	wID, err := stores.Working.Store(ctx, "the deploy failed with a timeout error", mctx, memory.WorkingOptions{Priority: 2})
	require.NoError(t, err)
	eID, err := stores.Episodic.Store(ctx, "the deploy failed with a timeout error", mctx, memory.EpisodicOptions{
		Context: memory.EpisodeContext{Outcome: types.OutcomeFailed},
	})
	require.NoError(t, err)

	result, err := engine.Consolidate(ctx, mctx, Options{Strategies: []StrategyName{StrategySemantic}})
	require.NoError(t, err)
	require.Equal(t, 1, result.ItemsCreated)

	// Sources removed from their stores.
	_, ok := stores.Working.Retrieve(ctx, wID)
	require.False(t, ok)
	_, ok = stores.Episodic.Retrieve(ctx, eID)
	require.False(t, ok)

	// One semantic item carries the merged content, tagging each
	// contributor's original type.
	require.Equal(t, 1, stores.Semantic.Count())
	merged := stores.Semantic.Items(ctx)[0]
	require.Equal(t, types.SemanticConcept, merged.SemanticCategory)
	require.Equal(t, "consolidated", merged.Domain)
	require.GreaterOrEqual(t, merged.Confidence, 0.5)
	require.Len(t, merged.Sources, 2)
	for _, src := range merged.Sources {
		require.True(t, strings.HasPrefix(src, "consolidated:"))
	}
}

func TestEngine_LandscapeAndStrategyFeedback(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	engine, stores := newTestEngine(t, &now)

	mctx := types.MemoryContext{Timestamp: now}
	for _, content := range []string{
		"watch the error budget dashboard",
		"watch the error budget dashboard daily",
	} {
		_, err := stores.Semantic.Store(ctx, content, mctx, memory.SemanticOptions{Confidence: 0.9})
		require.NoError(t, err)
	}

	result, err := engine.Consolidate(ctx, mctx, Options{Strategies: []StrategyName{StrategySemantic}})
	require.NoError(t, err)
	require.Equal(t, 2, result.Landscape.Total)
	require.Equal(t, 2, result.Landscape.Counts[types.MemorySemantic])

	// Coherent clustering raises the strategy's weight above the seed.
	perf := engine.Performance()
	require.Equal(t, 1, perf[StrategySemantic].UsageCount)
	require.Greater(t, perf[StrategySemantic].Effectiveness, 0.0)
}

func TestEngine_MemoryTypeFilterLimitsSample(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 5, 3, 9, 0, 0, 0, time.UTC)
	engine, stores := newTestEngine(t, &now)

	mctx := types.MemoryContext{Timestamp: now}
	_, err := stores.Working.Store(ctx, "identical transient note", mctx, memory.WorkingOptions{Priority: 3})
	require.NoError(t, err)
	_, err = stores.Working.Store(ctx, "identical transient note", mctx, memory.WorkingOptions{Priority: 3})
	require.NoError(t, err)

	// Only the semantic store is sampled, so the duplicate working items
	// survive untouched.
	result, err := engine.Consolidate(ctx, mctx, Options{
		Strategies:  []StrategyName{StrategySemantic},
		MemoryTypes: []types.MemoryCategory{types.MemorySemantic},
	})
	require.NoError(t, err)
	require.Zero(t, result.MemoriesConsolidated)
	require.Equal(t, 2, stores.Working.Count())
}
