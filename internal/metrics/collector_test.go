package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCollector_RecordsAllSeries(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := NewCollector("memflow_test", reg, zap.NewNop())

	c.RecordStoreOp("working", "store", "ok")
	c.SetItemCount("working", 3)
	c.RecordSearch("weighted", 5*time.Millisecond)
	c.RecordCacheHit("embedding")
	c.RecordCacheMiss("embedding")
	c.RecordCacheMiss("embedding")
	c.RecordConsolidation("ok", 2, 4, 100*time.Millisecond)
	c.RecordTask("cleanup", "completed")
	c.RecordTask("validation", "failed")
	c.RecordPass(50 * time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(c.storeOpsTotal.WithLabelValues("working", "store", "ok")))
	require.Equal(t, 3.0, testutil.ToFloat64(c.itemCount.WithLabelValues("working")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.searchesTotal.WithLabelValues("weighted")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.cacheHits.WithLabelValues("embedding")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.cacheMisses.WithLabelValues("embedding")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.consolidationsTotal.WithLabelValues("ok")))
	require.Equal(t, 2.0, testutil.ToFloat64(c.clustersFormed))
	require.Equal(t, 4.0, testutil.ToFloat64(c.memoriesConsolidated))
	require.Equal(t, 1.0, testutil.ToFloat64(c.tasksTotal.WithLabelValues("cleanup", "completed")))
	require.Equal(t, 1.0, testutil.ToFloat64(c.tasksTotal.WithLabelValues("validation", "failed")))

	// Histograms expose one series each once observed.
	require.Equal(t, 1, testutil.CollectAndCount(c.passDuration))
	require.Equal(t, 1, testutil.CollectAndCount(c.consolidationDuration))
	require.Equal(t, 1, testutil.CollectAndCount(c.searchDuration))
}

func TestCollector_IsolatedRegistries(t *testing.T) {
	t.Parallel()

	// Two collectors on separate registries must not collide.
	a := NewCollector("memflow_test", prometheus.NewRegistry(), zap.NewNop())
	b := NewCollector("memflow_test", prometheus.NewRegistry(), zap.NewNop())

	a.RecordTask("cleanup", "completed")
	require.Equal(t, 1.0, testutil.ToFloat64(a.tasksTotal.WithLabelValues("cleanup", "completed")))
	require.Equal(t, 0.0, testutil.ToFloat64(b.tasksTotal.WithLabelValues("cleanup", "completed")))
}
