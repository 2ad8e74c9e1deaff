package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Runner executes one task of a registered type.
type Runner func(ctx context.Context, task *Task) (any, error)

// Metrics receives task and pass observations. The internal metrics
// collector satisfies it; nil disables recording.
type Metrics interface {
	RecordTask(taskType, status string)
	RecordPass(duration time.Duration)
}

// Config configures the background scheduler.
type Config struct {
	// ConsolidationInterval is the period between scheduling passes and
	// the delay of the self-perpetuating consolidation task.
	ConsolidationInterval time.Duration `json:"consolidation_interval"`

	// MaxProcessingTime is the wall-clock budget of one pass. Tasks not
	// started when the budget runs out are deferred, never dropped.
	MaxProcessingTime time.Duration `json:"max_processing_time"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`

	// Metrics is notified of every executed task and completed pass.
	// Optional.
	Metrics Metrics `json:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ConsolidationInterval: 30 * time.Minute,
		MaxProcessingTime:     30 * time.Second,
	}
}

// ProcessingStats is the scheduler's observable state.
type ProcessingStats struct {
	IsProcessing     bool          `json:"is_processing"`
	TotalTasks       int           `json:"total_tasks"`
	Pending          int           `json:"pending"`
	Running          int           `json:"running"`
	Completed        int           `json:"completed"`
	Failed           int           `json:"failed"`
	LastPass         time.Time     `json:"last_pass,omitempty"`
	LastPassDuration time.Duration `json:"last_pass_duration,omitempty"`
	PassCount        int           `json:"pass_count"`
}

// Scheduler owns the background task table and the periodic pass that
// drains it. At most one pass runs at a time: the guard is a real mutex
// acquired with TryLock, so a tick landing during a pass is a no-op.
type Scheduler struct {
	config   Config
	handlers map[TaskType]Runner

	mu    sync.RWMutex // guards tasks and stats
	tasks map[string]*Task
	stats ProcessingStats

	passMu  sync.Mutex // at-most-one-concurrent-pass guard
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool

	now    func() time.Time
	logger *zap.Logger
}

// New creates a scheduler. Handlers for task types are registered
// separately before Start.
func New(config Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.ConsolidationInterval <= 0 {
		config.ConsolidationInterval = DefaultConfig().ConsolidationInterval
	}
	if config.MaxProcessingTime <= 0 {
		config.MaxProcessingTime = DefaultConfig().MaxProcessingTime
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		config:   config,
		handlers: make(map[TaskType]Runner),
		tasks:    make(map[string]*Task),
		stopCh:   make(chan struct{}),
		now:      now,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// RegisterHandler binds a runner to a task type. Tasks of unregistered
// types fail at execution time.
func (s *Scheduler) RegisterHandler(taskType TaskType, runner Runner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[taskType] = runner
}

// Start launches the periodic pass loop and seeds the self-perpetuating
// consolidation task.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if _, err := s.Schedule(ctx, TaskConsolidation, PriorityLow, s.now().Add(s.config.ConsolidationInterval)); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.config.ConsolidationInterval),
		zap.Duration("budget", s.config.MaxProcessingTime))
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.ConsolidationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.RunPass(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the loop and waits for any in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	// Drain a pass that raced with the stop signal.
	s.passMu.Lock()
	s.passMu.Unlock()
	s.logger.Info("scheduler stopped")
}

// Schedule creates a pending task. A nil-equivalent zero time schedules
// it immediately. High and critical priority tasks are executed inline
// before Schedule returns.
func (s *Scheduler) Schedule(ctx context.Context, taskType TaskType, priority Priority, when time.Time) (*Task, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("unknown task type %q", taskType)
	}
	if priority == "" {
		priority = PriorityMedium
	}
	if !priority.Valid() {
		return nil, fmt.Errorf("unknown priority %q", priority)
	}

	now := s.now()
	if when.IsZero() {
		when = now
	}
	task := &Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		Priority:    priority,
		CreatedAt:   now,
		ScheduledAt: when,
		Status:      StatusPending,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.logger.Debug("task scheduled",
		zap.String("id", task.ID),
		zap.String("type", string(taskType)),
		zap.String("priority", string(priority)),
		zap.Time("when", when))

	if priority == PriorityHigh || priority == PriorityCritical {
		// Inline execution still serializes with a running pass.
		s.passMu.Lock()
		s.execute(ctx, task)
		s.passMu.Unlock()
	}
	return task.clone(), nil
}

// RunPass executes one scheduling pass. If another pass is already
// running the call is a no-op.
func (s *Scheduler) RunPass(ctx context.Context) {
	if !s.passMu.TryLock() {
		s.logger.Debug("pass already running, skipping tick")
		return
	}
	defer s.passMu.Unlock()

	start := s.now()
	s.setProcessing(true)
	defer func() {
		took := s.now().Sub(start)
		s.mu.Lock()
		s.stats.IsProcessing = false
		s.stats.LastPass = start
		s.stats.LastPassDuration = took
		s.stats.PassCount++
		s.mu.Unlock()
		if s.config.Metrics != nil {
			s.config.Metrics.RecordPass(took)
		}
	}()

	due := s.dueTasks(start)
	executed, deferred := 0, 0
	for _, task := range due {
		// Budget check happens before each task: running work is never
		// preempted, only not-yet-started tasks are deferred.
		if s.now().Sub(start) > s.config.MaxProcessingTime {
			deferred = len(due) - executed
			s.logger.Warn("processing budget exhausted, deferring remaining tasks",
				zap.Int("deferred", deferred))
			break
		}
		s.execute(ctx, task)
		executed++
	}

	// Keep the schedule self-perpetuating.
	next := s.now().Add(s.config.ConsolidationInterval)
	nextTask := &Task{
		ID:          uuid.NewString(),
		Type:        TaskConsolidation,
		Priority:    PriorityLow,
		CreatedAt:   s.now(),
		ScheduledAt: next,
		Status:      StatusPending,
	}
	s.mu.Lock()
	s.tasks[nextTask.ID] = nextTask
	s.mu.Unlock()

	s.logger.Debug("pass completed",
		zap.Int("executed", executed),
		zap.Int("deferred", deferred),
		zap.Duration("took", s.now().Sub(start)))
}

// dueTasks snapshots pending tasks whose scheduled time has arrived,
// ordered by priority then scheduled time.
func (s *Scheduler) dueTasks(now time.Time) []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Task
	for _, task := range s.tasks {
		if task.Status == StatusPending && !task.ScheduledAt.After(now) {
			due = append(due, task)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		if due[i].Priority.rank() != due[j].Priority.rank() {
			return due[i].Priority.rank() > due[j].Priority.rank()
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due
}

// execute drives one task through running to a terminal state. A handler
// failure is recorded on the task and never stops the caller.
func (s *Scheduler) execute(ctx context.Context, task *Task) {
	s.mu.Lock()
	if task.Status != StatusPending {
		s.mu.Unlock()
		return
	}
	task.Status = StatusRunning
	handler := s.handlers[task.Type]
	s.mu.Unlock()

	result, err := s.invoke(ctx, handler, task)

	now := s.now()
	s.mu.Lock()
	task.ExecutedAt = &now
	if err != nil {
		task.Status = StatusFailed
		task.Err = err.Error()
	} else {
		task.Status = StatusCompleted
		task.Result = result
	}
	status := task.Status
	s.mu.Unlock()

	if s.config.Metrics != nil {
		s.config.Metrics.RecordTask(string(task.Type), string(status))
	}

	if err != nil {
		s.logger.Warn("task failed",
			zap.String("id", task.ID),
			zap.String("type", string(task.Type)),
			zap.Error(err))
		return
	}
	s.logger.Debug("task completed",
		zap.String("id", task.ID),
		zap.String("type", string(task.Type)))
}

func (s *Scheduler) invoke(ctx context.Context, handler Runner, task *Task) (result any, err error) {
	if handler == nil {
		return nil, fmt.Errorf("no handler registered for task type %q", task.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return handler(ctx, task.clone())
}

// GetTask returns a copy of the task with the given id.
func (s *Scheduler) GetTask(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, false
	}
	return task.clone(), true
}

// AllTasks returns copies of every retained task, newest first.
func (s *Scheduler) AllTasks() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task.clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Stats returns the current processing statistics.
func (s *Scheduler) Stats() ProcessingStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := s.stats
	stats.TotalTasks = len(s.tasks)
	for _, task := range s.tasks {
		switch task.Status {
		case StatusPending:
			stats.Pending++
		case StatusRunning:
			stats.Running++
		case StatusCompleted:
			stats.Completed++
		case StatusFailed:
			stats.Failed++
		}
	}
	return stats
}

// CleanupTasks purges completed and failed tasks older than the given
// number of days. Pending and running tasks are never touched.
func (s *Scheduler) CleanupTasks(olderThanDays int) int {
	if olderThanDays < 0 {
		olderThanDays = 0
	}
	cutoff := s.now().Add(-time.Duration(olderThanDays) * 24 * time.Hour)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, task := range s.tasks {
		if !task.Status.Terminal() {
			continue
		}
		reference := task.CreatedAt
		if task.ExecutedAt != nil {
			reference = *task.ExecutedAt
		}
		if reference.Before(cutoff) {
			delete(s.tasks, id)
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("old tasks purged", zap.Int("count", removed))
	}
	return removed
}

func (s *Scheduler) setProcessing(v bool) {
	s.mu.Lock()
	s.stats.IsProcessing = v
	s.mu.Unlock()
}
