package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestScheduler(now *time.Time) *Scheduler {
	return New(Config{
		ConsolidationInterval: 30 * time.Minute,
		MaxProcessingTime:     30 * time.Second,
		Now:                   func() time.Time { return *now },
	}, zap.NewNop())
}

func TestScheduler_ScheduleValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	_, err := s.Schedule(ctx, TaskType("bogus"), PriorityLow, time.Time{})
	require.Error(t, err)

	_, err = s.Schedule(ctx, TaskConsolidation, Priority("bogus"), time.Time{})
	require.Error(t, err)

	// Empty priority defaults to medium; zero time schedules immediately.
	task, err := s.Schedule(ctx, TaskConsolidation, "", time.Time{})
	require.NoError(t, err)
	require.Equal(t, PriorityMedium, task.Priority)
	require.Equal(t, now, task.ScheduledAt)
	require.Equal(t, StatusPending, task.Status)
}

func TestScheduler_CriticalTasksExecuteInline(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	ran := false
	s.RegisterHandler(TaskOptimization, func(ctx context.Context, task *Task) (any, error) {
		ran = true
		return "done", nil
	})

	task, err := s.Schedule(ctx, TaskOptimization, PriorityCritical, time.Time{})
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, StatusCompleted, task.Status)
	require.NotNil(t, task.ExecutedAt)
	require.Equal(t, "done", task.Result)
}

func TestScheduler_UnregisteredTypeFailsTask(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	task, err := s.Schedule(ctx, TaskCleanup, PriorityHigh, time.Time{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, task.Status)
	require.Contains(t, task.Err, "no handler registered")
}

func TestScheduler_HandlerPanicIsContained(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	s.RegisterHandler(TaskValidation, func(ctx context.Context, task *Task) (any, error) {
		panic("boom")
	})

	task, err := s.Schedule(ctx, TaskValidation, PriorityCritical, time.Time{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, task.Status)
	require.Contains(t, task.Err, "panicked")
}

func TestScheduler_RunPassExecutesInPriorityOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	var order []Priority
	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		order = append(order, task.Priority)
		return nil, nil
	})

	_, err := s.Schedule(ctx, TaskCleanup, PriorityLow, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, TaskCleanup, PriorityMedium, now.Add(-time.Minute))
	require.NoError(t, err)
	// Not yet due, must be skipped.
	future, err := s.Schedule(ctx, TaskCleanup, PriorityMedium, now.Add(time.Hour))
	require.NoError(t, err)

	s.RunPass(ctx)
	require.Equal(t, []Priority{PriorityMedium, PriorityLow}, order)

	got, ok := s.GetTask(future.ID)
	require.True(t, ok)
	require.Equal(t, StatusPending, got.Status)
}

func TestScheduler_RunPassReenqueuesConsolidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	s.RunPass(ctx)

	tasks := s.AllTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskConsolidation, tasks[0].Type)
	require.Equal(t, PriorityLow, tasks[0].Priority)
	require.Equal(t, now.Add(30*time.Minute), tasks[0].ScheduledAt)

	stats := s.Stats()
	require.Equal(t, 1, stats.PassCount)
	require.False(t, stats.IsProcessing)
	require.Equal(t, now, stats.LastPass)
}

func TestScheduler_BudgetDefersTasksNeverDrops(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	executed := 0
	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		executed++
		// Each task burns more than the whole budget.
		now = now.Add(time.Minute)
		return nil, nil
	})

	first, err := s.Schedule(ctx, TaskCleanup, PriorityMedium, now.Add(-time.Minute))
	require.NoError(t, err)
	second, err := s.Schedule(ctx, TaskCleanup, PriorityLow, now.Add(-time.Minute))
	require.NoError(t, err)

	s.RunPass(ctx)

	// The first task started inside the budget; the second was deferred.
	require.Equal(t, 1, executed)
	got, ok := s.GetTask(first.ID)
	require.True(t, ok)
	require.Equal(t, StatusCompleted, got.Status)

	got, ok = s.GetTask(second.ID)
	require.True(t, ok)
	require.Equal(t, StatusPending, got.Status)

	// The deferred task runs on the next pass.
	s.RunPass(ctx)
	require.Equal(t, 2, executed)
}

func TestScheduler_CleanupNeverTouchesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		return nil, nil
	})

	done, err := s.Schedule(ctx, TaskCleanup, PriorityHigh, time.Time{})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, done.Status)

	pending, err := s.Schedule(ctx, TaskCleanup, PriorityLow, now.Add(time.Hour))
	require.NoError(t, err)

	now = now.Add(10 * 24 * time.Hour)
	removed := s.CleanupTasks(7)
	require.Equal(t, 1, removed)

	_, ok := s.GetTask(done.ID)
	require.False(t, ok)
	_, ok = s.GetTask(pending.ID)
	require.True(t, ok)
}

func TestScheduler_StartStopLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	require.NoError(t, s.Start(ctx))
	require.Error(t, s.Start(ctx)) // double start

	// Start seeds the self-perpetuating consolidation task.
	tasks := s.AllTasks()
	require.Len(t, tasks, 1)
	require.Equal(t, TaskConsolidation, tasks[0].Type)

	s.Stop()
	s.Stop() // idempotent
}

func TestScheduler_ConcurrentPassIsNoOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	var executions atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		executions.Add(1)
		started <- struct{}{}
		<-release
		return nil, nil
	})

	_, err := s.Schedule(ctx, TaskCleanup, PriorityMedium, now.Add(-time.Minute))
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.RunPass(ctx)
	}()
	<-started

	// A pass started while the first one is mid-task must not execute
	// anything.
	s.RunPass(ctx)
	require.Equal(t, int32(1), executions.Load())

	close(release)
	wg.Wait()
	require.Equal(t, int32(1), executions.Load())
	require.Equal(t, 1, s.Stats().PassCount)
}

type recordingMetrics struct {
	mu     sync.Mutex
	tasks  []string
	passes int
}

func (m *recordingMetrics) RecordTask(taskType, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, taskType+":"+status)
}

func (m *recordingMetrics) RecordPass(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes++
}

func TestScheduler_ReportsTasksAndPasses(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	rec := &recordingMetrics{}
	s := New(Config{
		ConsolidationInterval: 30 * time.Minute,
		MaxProcessingTime:     30 * time.Second,
		Now:                   func() time.Time { return now },
		Metrics:               rec,
	}, zap.NewNop())

	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		return nil, nil
	})
	s.RegisterHandler(TaskValidation, func(ctx context.Context, task *Task) (any, error) {
		return nil, errors.New("stale index")
	})

	_, err := s.Schedule(ctx, TaskCleanup, PriorityMedium, now.Add(-time.Minute))
	require.NoError(t, err)
	_, err = s.Schedule(ctx, TaskValidation, PriorityMedium, now.Add(-time.Minute))
	require.NoError(t, err)

	s.RunPass(ctx)

	require.ElementsMatch(t, []string{"cleanup:completed", "validation:failed"}, rec.tasks)
	require.Equal(t, 1, rec.passes)
}

func TestScheduler_FailedTaskRecordsError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	s := newTestScheduler(&now)

	s.RegisterHandler(TaskCleanup, func(ctx context.Context, task *Task) (any, error) {
		return nil, errors.New("disk full")
	})

	task, err := s.Schedule(ctx, TaskCleanup, PriorityHigh, time.Time{})
	require.NoError(t, err)
	require.Equal(t, StatusFailed, task.Status)
	require.Equal(t, "disk full", task.Err)

	stats := s.Stats()
	require.Equal(t, 1, stats.Failed)
}
