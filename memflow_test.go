package memflow

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/consolidation"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/persistence"
	"github.com/BaSui01/memflow/scheduler"
	"github.com/BaSui01/memflow/types"
)

func newTestSystem(t *testing.T, now *time.Time) *System {
	t.Helper()

	store, err := persistence.NewSQLiteStore(":memory:", zap.NewNop())
	require.NoError(t, err)

	sys, err := New(nil,
		WithClock(func() time.Time { return *now }),
		WithPersister(store),
		WithMetrics(metrics.NewCollector("memflow_test", prometheus.NewRegistry(), zap.NewNop())),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Stop() })
	return sys
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.DefaultConfig()
	cfg.Retrieval.Strategy = "nonsense"
	_, err := New(cfg)
	require.Error(t, err)
}

func TestSystem_StoreRetrieveDeleteAcrossStores(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}

	wID, err := sys.StoreWorking(ctx, "draft reply to the incident thread", mctx, memory.WorkingOptions{Priority: 2})
	require.NoError(t, err)
	eID, err := sys.StoreEpisodic(ctx, "user asked about retry policies", mctx, memory.EpisodicOptions{
		Context: memory.EpisodeContext{Outcome: types.OutcomeSuccessful},
	})
	require.NoError(t, err)
	sID, err := sys.StoreSemantic(ctx, "exponential backoff reduces thundering herds", mctx, memory.SemanticOptions{Confidence: 0.9})
	require.NoError(t, err)
	pID, err := sys.StoreProcedural(ctx, "wrap the call in a retry loop with jitter", mctx, memory.ProceduralOptions{
		SkillName:     "retry-with-jitter",
		Effectiveness: 0.7,
	})
	require.NoError(t, err)

	for _, id := range []string{wID, eID, sID, pID} {
		item, ok := sys.Retrieve(ctx, id)
		require.True(t, ok)
		require.Equal(t, id, item.Base().ID)
	}
	_, ok := sys.Retrieve(ctx, "no-such-id")
	require.False(t, ok)

	require.True(t, sys.Delete(ctx, wID))
	require.False(t, sys.Delete(ctx, wID))
	_, ok = sys.Retrieve(ctx, wID)
	require.False(t, ok)
}

func TestSystem_SearchSpansStoresAndHonorsCategoryFilter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}
	_, err := sys.StoreSemantic(ctx, "exponential backoff reduces thundering herds", mctx, memory.SemanticOptions{Confidence: 0.9})
	require.NoError(t, err)
	_, err = sys.StoreWorking(ctx, "exponential backoff notes for the runbook", mctx, memory.WorkingOptions{Priority: 3})
	require.NoError(t, err)

	resp, err := sys.Search(ctx, "exponential backoff", nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	resp, err = sys.Search(ctx, "exponential backoff", []types.MemoryCategory{types.MemorySemantic})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, types.MemorySemantic, resp.Results[0].Item.Category())
}

func TestSystem_MemoryStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}
	_, err := sys.StoreWorking(ctx, "first note", mctx, memory.WorkingOptions{Priority: 3})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	_, err = sys.StoreSemantic(ctx, "a later fact", mctx, memory.SemanticOptions{Confidence: 0.8})
	require.NoError(t, err)

	stats := sys.GetMemoryStats(ctx)
	require.Equal(t, 2, stats.TotalItems)
	require.Equal(t, 1, stats.ByCategory[types.MemoryWorking])
	require.Equal(t, 1, stats.ByCategory[types.MemorySemantic])
	require.Equal(t, now.Add(-time.Hour), stats.OldestItem)
	require.Equal(t, now, stats.NewestItem)
}

func TestSystem_ForceConsolidationExecutesInline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}
	_, err := sys.StoreSemantic(ctx, "the cache must be warmed before traffic shifts", mctx, memory.SemanticOptions{Confidence: 0.8})
	require.NoError(t, err)
	_, err = sys.StoreSemantic(ctx, "the cache must be warmed before traffic shifts over", mctx, memory.SemanticOptions{Confidence: 0.8})
	require.NoError(t, err)

	task, err := sys.ForceConsolidation(ctx)
	require.NoError(t, err)
	require.Equal(t, scheduler.StatusCompleted, task.Status)

	result, ok := task.Result.(*consolidation.Result)
	require.True(t, ok)
	require.Equal(t, 1, result.ItemsCreated)
	require.Equal(t, 1, sys.Semantic().Count())
}

func TestSystem_ScheduledCleanupTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	mctx := types.MemoryContext{SessionID: "s1", Timestamp: now}
	_, err := sys.StoreWorking(ctx, "short lived note", mctx, memory.WorkingOptions{
		Priority: 3,
		TTL:      time.Minute,
	})
	require.NoError(t, err)

	now = now.Add(time.Hour)
	task, err := sys.ScheduleTask(ctx, scheduler.TaskCleanup, scheduler.PriorityCritical, time.Time{})
	require.NoError(t, err)
	require.Equal(t, scheduler.StatusCompleted, task.Status)

	counts, ok := task.Result.(map[string]int)
	require.True(t, ok)
	require.Equal(t, 1, counts["expired_items"])
	require.Zero(t, sys.Working().Count())

	got, ok := sys.GetTaskStatus(task.ID)
	require.True(t, ok)
	require.Equal(t, scheduler.StatusCompleted, got.Status)
	require.NotEmpty(t, sys.GetAllTasks())
}

func TestSystem_StartStop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	sys := newTestSystem(t, &now)

	require.NoError(t, sys.Start(ctx))
	stats := sys.GetProcessingStats()
	require.Equal(t, 1, stats.Pending)
	require.NoError(t, sys.Stop())
}
