// Package memflow provides a top-level convenience entry point wiring the
// typed memory stores, hybrid search, consolidation, and the background
// scheduler into one system.
//
// Usage:
//
//	import "github.com/BaSui01/memflow"
//
//	sys, err := memflow.New(config.DefaultConfig())
//	id, err := sys.StoreSemantic(ctx, "Go maps are not safe for concurrent writes", mctx, opts)
//	resp, err := sys.Search(ctx, "concurrent map writes", nil)
package memflow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/consolidation"
	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/persistence"
	"github.com/BaSui01/memflow/retrieval"
	"github.com/BaSui01/memflow/scheduler"
	"github.com/BaSui01/memflow/types"
)

// Option configures the system created by [New].
type Option func(*System)

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *System) { s.logger = logger }
}

// WithPersister attaches a durable side channel. Persistence is best
// effort: failures are logged and never surface as store errors.
func WithPersister(p persistence.Persister) Option {
	return func(s *System) { s.persister = p }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *System) { s.metrics = c }
}

// WithClock overrides the system clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(s *System) { s.now = now }
}

// System owns the four typed stores and the machinery around them.
type System struct {
	cfg    *config.Config
	logger *zap.Logger
	now    func() time.Time

	working    *memory.WorkingStore
	episodic   *memory.EpisodicStore
	semantic   *memory.SemanticStore
	procedural *memory.ProceduralStore

	generator *embedding.Generator
	searcher  *retrieval.Searcher
	engine    *consolidation.Engine
	sched     *scheduler.Scheduler

	persister persistence.Persister
	metrics   *metrics.Collector
}

// New wires a system from configuration. The scheduler is created but
// not started; call [System.Start] to begin background maintenance.
func New(cfg *config.Config, opts ...Option) (*System, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}

	s.working = memory.NewWorkingStore(memory.WorkingStoreConfig{
		DefaultTTL: cfg.Memory.WorkingTTL,
		MaxItems:   cfg.Memory.WorkingMaxItems,
		Now:        s.now,
	}, s.logger)
	s.episodic = memory.NewEpisodicStore(memory.EpisodicStoreConfig{
		MaxItems: cfg.Memory.EpisodicMaxItems,
		Now:      s.now,
	}, s.logger)
	s.semantic = memory.NewSemanticStore(memory.SemanticStoreConfig{
		MinConfidence:      cfg.Memory.SemanticMinConfidence,
		ValidationInterval: cfg.Memory.SemanticValidationInterval,
		Now:                s.now,
	}, s.logger)
	s.procedural = memory.NewProceduralStore(memory.ProceduralStoreConfig{
		Now: s.now,
	}, s.logger)

	genCfg := embedding.GeneratorConfig{
		Model:     cfg.Embedding.Model,
		CacheSize: cfg.Embedding.CacheSize,
	}
	if s.metrics != nil {
		genCfg.Observer = s.metrics
	}
	s.generator = embedding.NewGenerator(genCfg, s.logger)

	searchCfg := retrieval.DefaultSearcherConfig()
	searchCfg.Strategy = retrieval.Strategy(cfg.Retrieval.Strategy)
	searchCfg.TraditionalWeight = cfg.Retrieval.TraditionalWeight
	searchCfg.VectorWeight = cfg.Retrieval.VectorWeight
	searchCfg.VectorThreshold = cfg.Retrieval.VectorThreshold
	searchCfg.MaxResults = cfg.Retrieval.MaxResults
	searchCfg.Model = cfg.Embedding.Model
	s.searcher = retrieval.NewSearcher(searchCfg, s.generator, s.logger)

	engineCfg := consolidation.DefaultEngineConfig()
	engineCfg.Strategy.SimilarityThreshold = cfg.Consolidation.SimilarityThreshold
	engineCfg.MinCoherence = cfg.Consolidation.MinCoherence
	engineCfg.SampleSize = cfg.Consolidation.SampleSize
	engineCfg.MaxClusters = cfg.Consolidation.MaxClusters
	engineCfg.Now = s.now
	s.engine = consolidation.NewEngine(engineCfg, consolidation.Stores{
		Working:    s.working,
		Episodic:   s.episodic,
		Semantic:   s.semantic,
		Procedural: s.procedural,
	}, s.generator, s.logger)

	schedCfg := scheduler.Config{
		ConsolidationInterval: cfg.Scheduler.ConsolidationInterval,
		MaxProcessingTime:     cfg.Scheduler.MaxProcessingTime,
		Now:                   s.now,
	}
	if s.metrics != nil {
		schedCfg.Metrics = s.metrics
	}
	s.sched = scheduler.New(schedCfg, s.logger)
	s.registerHandlers()

	s.logger.Info("memflow system wired",
		zap.String("retrieval_strategy", cfg.Retrieval.Strategy),
		zap.Duration("consolidation_interval", cfg.Scheduler.ConsolidationInterval))
	return s, nil
}

// consolidationOptions builds run options from configuration; a pinned
// strategy restricts every scheduled run to that strategy.
func (s *System) consolidationOptions(aggressive bool) consolidation.Options {
	opts := consolidation.Options{Aggressive: aggressive}
	if s.cfg.Consolidation.Strategy != "" {
		opts.Strategies = []consolidation.StrategyName{consolidation.StrategyName(s.cfg.Consolidation.Strategy)}
	}
	return opts
}

func (s *System) registerHandlers() {
	s.sched.RegisterHandler(scheduler.TaskConsolidation, func(ctx context.Context, task *scheduler.Task) (any, error) {
		result, err := s.engine.Consolidate(ctx, types.MemoryContext{Timestamp: s.now()}, s.consolidationOptions(false))
		s.recordConsolidation(result, err)
		return result, err
	})
	s.sched.RegisterHandler(scheduler.TaskCleanup, func(ctx context.Context, task *scheduler.Task) (any, error) {
		expired := s.working.Cleanup(ctx)
		purged := s.sched.CleanupTasks(s.cfg.Scheduler.TaskRetentionDays)
		return map[string]int{"expired_items": expired, "purged_tasks": purged}, nil
	})
	s.sched.RegisterHandler(scheduler.TaskOptimization, func(ctx context.Context, task *scheduler.Task) (any, error) {
		result, err := s.engine.Consolidate(ctx, types.MemoryContext{Timestamp: s.now()}, s.consolidationOptions(true))
		s.recordConsolidation(result, err)
		return result, err
	})
	s.sched.RegisterHandler(scheduler.TaskValidation, func(ctx context.Context, task *scheduler.Task) (any, error) {
		return map[string]int{"stale_semantic": s.semantic.StaleCount()}, nil
	})
}

// Start launches background maintenance.
func (s *System) Start(ctx context.Context) error {
	return s.sched.Start(ctx)
}

// Stop halts background maintenance and closes the persister, if any.
func (s *System) Stop() error {
	s.sched.Stop()
	if s.persister != nil {
		if err := s.persister.Close(); err != nil {
			return fmt.Errorf("close persister: %w", err)
		}
	}
	return nil
}

// StoreWorking stores transient session context.
func (s *System) StoreWorking(ctx context.Context, content string, mctx types.MemoryContext, opts memory.WorkingOptions) (string, error) {
	id, err := s.working.Store(ctx, content, mctx, opts)
	s.afterStore(ctx, types.MemoryWorking, id, err)
	return id, err
}

// StoreEpisodic records an experienced event.
func (s *System) StoreEpisodic(ctx context.Context, content string, mctx types.MemoryContext, opts memory.EpisodicOptions) (string, error) {
	id, err := s.episodic.Store(ctx, content, mctx, opts)
	s.afterStore(ctx, types.MemoryEpisodic, id, err)
	return id, err
}

// StoreSemantic records validated knowledge.
func (s *System) StoreSemantic(ctx context.Context, content string, mctx types.MemoryContext, opts memory.SemanticOptions) (string, error) {
	id, err := s.semantic.Store(ctx, content, mctx, opts)
	s.afterStore(ctx, types.MemorySemantic, id, err)
	return id, err
}

// StoreProcedural records a how-to skill.
func (s *System) StoreProcedural(ctx context.Context, content string, mctx types.MemoryContext, opts memory.ProceduralOptions) (string, error) {
	id, err := s.procedural.Store(ctx, content, mctx, opts)
	s.afterStore(ctx, types.MemoryProcedural, id, err)
	return id, err
}

// Retrieve finds an item by id across all stores.
func (s *System) Retrieve(ctx context.Context, id string) (memory.Item, bool) {
	if item, ok := s.working.Retrieve(ctx, id); ok {
		return item, true
	}
	if item, ok := s.episodic.Retrieve(ctx, id); ok {
		return item, true
	}
	if item, ok := s.semantic.Retrieve(ctx, id); ok {
		return item, true
	}
	if item, ok := s.procedural.Retrieve(ctx, id); ok {
		return item, true
	}
	return nil, false
}

// Delete removes an item by id from whichever store holds it.
func (s *System) Delete(ctx context.Context, id string) bool {
	deleted := s.working.Delete(ctx, id) ||
		s.episodic.Delete(ctx, id) ||
		s.semantic.Delete(ctx, id) ||
		s.procedural.Delete(ctx, id)
	if deleted && s.persister != nil {
		if err := s.persister.DeleteItem(ctx, id); err != nil {
			s.logger.Warn("persist delete failed", zap.String("id", id), zap.Error(err))
		}
	}
	return deleted
}

// Search runs a hybrid search over all stores, or over the given memory
// categories when the slice is non-empty.
func (s *System) Search(ctx context.Context, query string, categories []types.MemoryCategory) (*retrieval.Response, error) {
	start := s.now()
	resp, err := s.searcher.Search(ctx, query, s.allItems(ctx, categories))
	if err == nil && s.metrics != nil {
		s.metrics.RecordSearch(string(resp.Strategy), s.now().Sub(start))
	}
	return resp, err
}

// ConsolidateMemories runs one consolidation pass immediately.
func (s *System) ConsolidateMemories(ctx context.Context, opts consolidation.Options) (*consolidation.Result, error) {
	result, err := s.engine.Consolidate(ctx, types.MemoryContext{Timestamp: s.now()}, opts)
	s.recordConsolidation(result, err)
	return result, err
}

// ForceConsolidation schedules an aggressive consolidation as a critical
// task, which executes inline before returning.
func (s *System) ForceConsolidation(ctx context.Context) (*scheduler.Task, error) {
	return s.sched.Schedule(ctx, scheduler.TaskOptimization, scheduler.PriorityCritical, time.Time{})
}

// ScheduleTask enqueues a background task.
func (s *System) ScheduleTask(ctx context.Context, taskType scheduler.TaskType, priority scheduler.Priority, when time.Time) (*scheduler.Task, error) {
	return s.sched.Schedule(ctx, taskType, priority, when)
}

// GetTaskStatus returns a copy of the task with the given id.
func (s *System) GetTaskStatus(id string) (*scheduler.Task, bool) {
	return s.sched.GetTask(id)
}

// GetAllTasks returns copies of every retained task, newest first.
func (s *System) GetAllTasks() []*scheduler.Task {
	return s.sched.AllTasks()
}

// GetProcessingStats returns the scheduler's observable state.
func (s *System) GetProcessingStats() scheduler.ProcessingStats {
	return s.sched.Stats()
}

// GetMemoryStats summarizes the current memory population.
func (s *System) GetMemoryStats(ctx context.Context) types.MemoryStats {
	stats := types.MemoryStats{
		ByCategory: map[types.MemoryCategory]int{
			types.MemoryWorking:    s.working.Count(),
			types.MemoryEpisodic:   s.episodic.Count(),
			types.MemorySemantic:   s.semantic.Count(),
			types.MemoryProcedural: s.procedural.Count(),
		},
	}
	for cat, n := range stats.ByCategory {
		stats.TotalItems += n
		if s.metrics != nil {
			s.metrics.SetItemCount(string(cat), n)
		}
	}
	for _, item := range s.allItems(ctx, nil) {
		created := item.Base().CreatedAt
		if stats.OldestItem.IsZero() || created.Before(stats.OldestItem) {
			stats.OldestItem = created
		}
		if created.After(stats.NewestItem) {
			stats.NewestItem = created
		}
	}
	return stats
}

// Working exposes the working store for direct use.
func (s *System) Working() *memory.WorkingStore { return s.working }

// Episodic exposes the episodic store for direct use.
func (s *System) Episodic() *memory.EpisodicStore { return s.episodic }

// Semantic exposes the semantic store for direct use.
func (s *System) Semantic() *memory.SemanticStore { return s.semantic }

// Procedural exposes the procedural store for direct use.
func (s *System) Procedural() *memory.ProceduralStore { return s.procedural }

func (s *System) allItems(ctx context.Context, categories []types.MemoryCategory) []memory.Item {
	want := func(cat types.MemoryCategory) bool {
		if len(categories) == 0 {
			return true
		}
		for _, c := range categories {
			if c == cat {
				return true
			}
		}
		return false
	}

	var items []memory.Item
	if want(types.MemoryWorking) {
		for _, it := range s.working.Items(ctx) {
			items = append(items, it)
		}
	}
	if want(types.MemoryEpisodic) {
		for _, it := range s.episodic.Items(ctx) {
			items = append(items, it)
		}
	}
	if want(types.MemorySemantic) {
		for _, it := range s.semantic.Items(ctx) {
			items = append(items, it)
		}
	}
	if want(types.MemoryProcedural) {
		for _, it := range s.procedural.Items(ctx) {
			items = append(items, it)
		}
	}
	return items
}

// afterStore records metrics and persists the stored item.
func (s *System) afterStore(ctx context.Context, cat types.MemoryCategory, id string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	if s.metrics != nil {
		s.metrics.RecordStoreOp(string(cat), "store", status)
	}
	if err != nil || s.persister == nil {
		return
	}
	item, ok := s.Retrieve(ctx, id)
	if !ok {
		return
	}
	payload, merr := json.Marshal(item)
	if merr != nil {
		s.logger.Warn("persist marshal failed", zap.String("id", id), zap.Error(merr))
		return
	}
	rec := persistence.Record{
		ID:        id,
		Category:  string(cat),
		Content:   item.Base().Content,
		Payload:   payload,
		UpdatedAt: item.Base().UpdatedAt,
	}
	if perr := s.persister.SaveItem(ctx, rec); perr != nil {
		s.logger.Warn("persist save failed", zap.String("id", id), zap.Error(perr))
	}
}

func (s *System) recordConsolidation(result *consolidation.Result, err error) {
	if s.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	if result == nil {
		s.metrics.RecordConsolidation(status, 0, 0, 0)
		return
	}
	s.metrics.RecordConsolidation(status, result.ClustersFormed, result.MemoriesConsolidated, result.Duration)
}
