package consolidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

// Stores bundles the typed stores the engine reads from and writes merged
// items back into.
type Stores struct {
	Working    *memory.WorkingStore
	Episodic   *memory.EpisodicStore
	Semantic   *memory.SemanticStore
	Procedural *memory.ProceduralStore
}

// EngineConfig configures the consolidation engine.
type EngineConfig struct {
	Strategy StrategyConfig `json:"strategy"`

	// SampleSize bounds how many items one run examines;
	// AggressiveSampleSize applies in aggressive mode.
	SampleSize           int `json:"sample_size"`
	AggressiveSampleSize int `json:"aggressive_sample_size"`

	// MinCoherence drops clusters at or below this score after weight
	// scaling.
	MinCoherence float64 `json:"min_coherence"`

	// MaxClusters caps how many clusters one run merges.
	MaxClusters int `json:"max_clusters"`

	// InitialStrategyWeight seeds the adaptive performance table.
	InitialStrategyWeight float64 `json:"initial_strategy_weight"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultEngineConfig returns sensible defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Strategy:              DefaultStrategyConfig(),
		SampleSize:            500,
		AggressiveSampleSize:  1000,
		MinCoherence:          0.5,
		MaxClusters:           50,
		InitialStrategyWeight: 0.8,
	}
}

// Options tunes a single consolidation run.
type Options struct {
	// Aggressive widens the sample bound.
	Aggressive bool `json:"aggressive"`

	// Strategies restricts the run to the named strategies; empty runs
	// all of them.
	Strategies []StrategyName `json:"strategies,omitempty"`

	// MemoryTypes restricts sampling to the named categories; empty
	// samples all four stores.
	MemoryTypes []types.MemoryCategory `json:"memory_types,omitempty"`
}

// Landscape is the pre-run snapshot of the memory population.
type Landscape struct {
	Counts          map[types.MemoryCategory]int `json:"counts"`
	Total           int                          `json:"total"`
	RedundancyRatio float64                      `json:"redundancy_ratio"`
}

// StrategyFailure records a strategy that errored and was skipped.
type StrategyFailure struct {
	Strategy StrategyName `json:"strategy"`
	Err      string       `json:"error"`
}

// Result reports one consolidation run.
type Result struct {
	Landscape            Landscape         `json:"landscape"`
	ClustersFormed       int               `json:"clusters_formed"`
	MemoriesConsolidated int               `json:"memories_consolidated"`
	ItemsCreated         int               `json:"items_created"`
	EfficiencyGain       float64           `json:"efficiency_gain"`
	QualityScore         float64           `json:"quality_score"`
	StrategyFailures     []StrategyFailure `json:"strategy_failures,omitempty"`
	Duration             time.Duration     `json:"duration"`
}

// Engine runs pluggable clustering strategies over samples of the typed
// stores, merges coherent clusters into consolidated items, and adapts
// per-strategy weights from observed coherence.
type Engine struct {
	config     EngineConfig
	stores     Stores
	strategies []Strategy
	perf       *PerformanceTracker
	now        func() time.Time
	logger     *zap.Logger
}

// NewEngine creates a consolidation engine with the four built-in
// strategies.
func NewEngine(config EngineConfig, stores Stores, gen *embedding.Generator, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.SampleSize <= 0 {
		config.SampleSize = 500
	}
	if config.AggressiveSampleSize <= 0 {
		config.AggressiveSampleSize = 2 * config.SampleSize
	}
	if config.MaxClusters <= 0 {
		config.MaxClusters = 50
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	sc := config.Strategy
	sc.Now = now
	return &Engine{
		config: config,
		stores: stores,
		strategies: []Strategy{
			NewSemanticStrategy(sc, gen),
			NewTemporalStrategy(sc),
			NewUsageStrategy(sc),
			NewPatternStrategy(sc),
		},
		perf:   NewPerformanceTracker(config.InitialStrategyWeight, now),
		now:    now,
		logger: logger.With(zap.String("component", "consolidation_engine")),
	}
}

// Performance exposes the adaptive strategy performance table.
func (e *Engine) Performance() map[StrategyName]StrategyPerformance {
	return e.perf.Snapshot()
}

// Consolidate runs one full consolidation pass: analyze, cluster, select,
// merge, and update strategy performance.
func (e *Engine) Consolidate(ctx context.Context, mctx types.MemoryContext, opts Options) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := e.now()
	result := &Result{Landscape: e.analyzeLandscape()}

	sample := e.sample(ctx, opts)
	itemsBefore := result.Landscape.Total

	// Cluster with every enabled strategy. A failing strategy is
	// logged and skipped; the run continues with partial results.
	byCoherence := make(map[StrategyName][]float64)
	var clusters []*Cluster
	for _, strat := range e.strategies {
		if !strategyEnabled(strat.Name(), opts.Strategies) {
			continue
		}
		proposed, err := e.runStrategy(ctx, strat, sample)
		if err != nil {
			e.logger.Warn("clustering strategy failed, skipping",
				zap.String("strategy", string(strat.Name())),
				zap.Error(err))
			result.StrategyFailures = append(result.StrategyFailures, StrategyFailure{
				Strategy: strat.Name(),
				Err:      err.Error(),
			})
			continue
		}

		weight := e.perf.Weight(strat.Name())
		for _, c := range proposed {
			c.Coherence *= weight
			c.Metadata.Confidence *= weight
			byCoherence[strat.Name()] = append(byCoherence[strat.Name()], c.Coherence)
		}
		clusters = append(clusters, proposed...)
	}

	selected := e.selectClusters(clusters)
	result.ClustersFormed = len(selected)

	var coherenceSum float64
	for _, cluster := range selected {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		merged, err := e.mergeCluster(ctx, mctx, cluster, sample)
		if err != nil {
			e.logger.Warn("cluster merge failed",
				zap.String("cluster_id", cluster.ID),
				zap.String("strategy", string(cluster.Strategy)),
				zap.Error(err))
			continue
		}
		cluster.ConsolidatedID = merged
		result.ItemsCreated++
		result.MemoriesConsolidated += len(cluster.MemberIDs)
		coherenceSum += cluster.Coherence
	}

	// Strategy feedback from the clusters each strategy produced.
	for name, coherences := range byCoherence {
		e.perf.Record(name, meanOf(coherences))
	}

	if result.ItemsCreated > 0 {
		result.QualityScore = coherenceSum / float64(result.ItemsCreated)
	}
	itemsAfter := e.totalCount()
	if itemsBefore > 0 {
		result.EfficiencyGain = float64(itemsBefore-itemsAfter) / float64(itemsBefore)
	}
	result.Duration = e.now().Sub(start)

	e.logger.Info("consolidation run completed",
		zap.Int("clusters", result.ClustersFormed),
		zap.Int("consolidated", result.MemoriesConsolidated),
		zap.Int("created", result.ItemsCreated),
		zap.Float64("efficiency_gain", result.EfficiencyGain),
		zap.Float64("quality", result.QualityScore),
		zap.Duration("took", result.Duration))
	return result, nil
}

// runStrategy executes one strategy with panic containment.
func (e *Engine) runStrategy(ctx context.Context, strat Strategy, sample []memory.Item) (clusters []*Cluster, err error) {
	defer func() {
		if r := recover(); r != nil {
			clusters = nil
			err = fmt.Errorf("strategy %s panicked: %v", strat.Name(), r)
		}
	}()
	return strat.Cluster(ctx, sample)
}

func (e *Engine) analyzeLandscape() Landscape {
	counts := map[types.MemoryCategory]int{
		types.MemoryWorking:    e.stores.Working.Count(),
		types.MemoryEpisodic:   e.stores.Episodic.Count(),
		types.MemorySemantic:   e.stores.Semantic.Count(),
		types.MemoryProcedural: e.stores.Procedural.Count(),
	}
	total := 0
	for _, n := range counts {
		total += n
	}
	redundancy := 0.0
	if total > 0 {
		redundancy = float64(e.stores.Semantic.StaleCount()) / float64(total)
	}
	return Landscape{Counts: counts, Total: total, RedundancyRatio: redundancy}
}

// sample draws a bounded, deterministic cross-type sample.
func (e *Engine) sample(ctx context.Context, opts Options) []memory.Item {
	bound := e.config.SampleSize
	if opts.Aggressive {
		bound = e.config.AggressiveSampleSize
	}

	var sample []memory.Item
	add := func(items []memory.Item) {
		for _, it := range items {
			if len(sample) >= bound {
				return
			}
			sample = append(sample, it)
		}
	}

	if categoryEnabled(types.MemoryWorking, opts.MemoryTypes) {
		add(asItems(e.stores.Working.Items(ctx)))
	}
	if categoryEnabled(types.MemoryEpisodic, opts.MemoryTypes) {
		add(asItems(e.stores.Episodic.Items(ctx)))
	}
	if categoryEnabled(types.MemorySemantic, opts.MemoryTypes) {
		add(asItems(e.stores.Semantic.Items(ctx)))
	}
	if categoryEnabled(types.MemoryProcedural, opts.MemoryTypes) {
		add(asItems(e.stores.Procedural.Items(ctx)))
	}
	return sample
}

// selectClusters deduplicates by member set, drops low-coherence
// clusters, and caps the total to bound merge cost.
func (e *Engine) selectClusters(clusters []*Cluster) []*Cluster {
	bySignature := make(map[string]*Cluster)
	for _, c := range clusters {
		if c.Coherence <= e.config.MinCoherence {
			continue
		}
		sig := c.signature()
		if prev, ok := bySignature[sig]; !ok || c.Coherence > prev.Coherence {
			bySignature[sig] = c
		}
	}

	selected := make([]*Cluster, 0, len(bySignature))
	for _, c := range bySignature {
		selected = append(selected, c)
	}
	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Coherence != selected[j].Coherence {
			return selected[i].Coherence > selected[j].Coherence
		}
		return selected[i].ID < selected[j].ID
	})
	if len(selected) > e.config.MaxClusters {
		selected = selected[:e.config.MaxClusters]
	}

	// Merging is destructive, so an item may belong to one surviving
	// cluster only.
	claimed := make(map[string]bool)
	out := selected[:0]
	for _, c := range selected {
		overlap := false
		for _, id := range c.MemberIDs {
			if claimed[id] {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		for _, id := range c.MemberIDs {
			claimed[id] = true
		}
		out = append(out, c)
	}
	return out
}

// mergeCluster replaces a cluster's members with one consolidated item
// and returns the new item's id. Same-type clusters merge within their
// store; cross-type clusters always produce a semantic item tagging each
// contributor's original type.
func (e *Engine) mergeCluster(ctx context.Context, mctx types.MemoryContext, cluster *Cluster, sample []memory.Item) (string, error) {
	members := make([]memory.Item, 0, len(cluster.MemberIDs))
	index := make(map[string]memory.Item, len(sample))
	for _, it := range sample {
		index[it.Base().ID] = it
	}
	for _, id := range cluster.MemberIDs {
		if it, ok := index[id]; ok {
			members = append(members, it)
		}
	}
	if len(members) < 2 {
		return "", fmt.Errorf("cluster %s has too few resolvable members", cluster.ID)
	}

	sameType := true
	for _, m := range members[1:] {
		if m.Category() != members[0].Category() {
			sameType = false
			break
		}
	}

	var newID string
	var err error
	if sameType {
		newID, err = e.mergeSameType(ctx, mctx, cluster, members)
	} else {
		newID, err = e.mergeCrossType(ctx, mctx, cluster, members)
	}
	if err != nil {
		return "", err
	}

	// The consolidated item replaces its sources; removal is what makes
	// repeated consolidation converge instead of growing forever.
	for _, m := range members {
		e.deleteItem(ctx, m)
	}
	return newID, nil
}

const contentSeparator = " | "

func (e *Engine) mergeSameType(ctx context.Context, mctx types.MemoryContext, cluster *Cluster, members []memory.Item) (string, error) {
	contents := make([]string, len(members))
	for i, m := range members {
		contents[i] = m.Base().Content
	}
	content := strings.Join(contents, contentSeparator)

	switch first := members[0].(type) {
	case *memory.WorkingItem:
		priority := first.Priority
		var related []string
		for _, m := range members {
			w := m.(*memory.WorkingItem)
			if w.Priority < priority {
				priority = w.Priority
			}
			related = append(related, w.RelatedIDs...)
		}
		return e.stores.Working.Store(ctx, content, mctx, memory.WorkingOptions{
			Priority:    priority,
			ContextType: first.ContextType,
			ExpiresAt:   latestExpiry(members),
			RelatedIDs:  related,
		})

	case *memory.EpisodicItem:
		var takeaways, tags []string
		for _, m := range members {
			ep := m.(*memory.EpisodicItem)
			takeaways = append(takeaways, ep.Takeaways...)
			tags = append(tags, ep.Tags...)
		}
		return e.stores.Episodic.Store(ctx, content, mctx, memory.EpisodicOptions{
			EpisodeID: first.EpisodeID,
			EventTime: first.EventTime,
			Context:   first.Context,
			Takeaways: dedupe(takeaways),
			Emotion:   first.Emotion,
			Tags:      dedupe(tags),
		})

	case *memory.SemanticItem:
		var confidenceSum float64
		var sources []string
		relations := memory.ConceptRelations{}
		for _, m := range members {
			sem := m.(*memory.SemanticItem)
			confidenceSum += sem.Confidence
			sources = append(sources, sem.Sources...)
			relations.Parents = append(relations.Parents, sem.Relations.Parents...)
			relations.Children = append(relations.Children, sem.Relations.Children...)
			relations.Related = append(relations.Related, sem.Relations.Related...)
		}
		// Merged knowledge is slightly less trusted than its inputs.
		confidence := (confidenceSum / float64(len(members))) * 0.95
		return e.stores.Semantic.Store(ctx, content, mctx, memory.SemanticOptions{
			Category:   first.SemanticCategory,
			Domain:     first.Domain,
			Confidence: confidence,
			Sources:    dedupe(sources),
			Relations: memory.ConceptRelations{
				Parents:  dedupe(relations.Parents),
				Children: dedupe(relations.Children),
				Related:  dedupe(relations.Related),
			},
		})

	case *memory.ProceduralItem:
		var variations []string
		var effectivenessSum float64
		for _, m := range members {
			p := m.(*memory.ProceduralItem)
			effectivenessSum += p.Effectiveness
			variations = append(variations, p.Variations...)
			if p != first {
				variations = append(variations, p.Content)
			}
		}
		return e.stores.Procedural.Store(ctx, content, mctx, memory.ProceduralOptions{
			SkillName:     first.SkillName,
			Procedure:     first.Procedure,
			Effectiveness: effectivenessSum / float64(len(members)),
			Variations:    dedupe(variations),
			Prerequisites: first.Prerequisites,
		})

	default:
		return "", fmt.Errorf("unknown member type %T", members[0])
	}
}

// mergeCrossType folds members of mixed categories into one semantic
// item; each contributor's original type is kept as a source tag.
func (e *Engine) mergeCrossType(ctx context.Context, mctx types.MemoryContext, cluster *Cluster, members []memory.Item) (string, error) {
	contents := make([]string, len(members))
	sources := make([]string, len(members))
	for i, m := range members {
		contents[i] = m.Base().Content
		sources[i] = fmt.Sprintf("consolidated:%s:%s", m.Category(), m.Base().ID)
	}
	confidence := cluster.Coherence
	if confidence < 0.5 {
		confidence = 0.5
	}
	return e.stores.Semantic.Store(ctx, strings.Join(contents, contentSeparator), mctx, memory.SemanticOptions{
		Category:   types.SemanticConcept,
		Domain:     "consolidated",
		Confidence: confidence,
		Sources:    sources,
	})
}

func (e *Engine) deleteItem(ctx context.Context, item memory.Item) {
	switch item.Category() {
	case types.MemoryWorking:
		e.stores.Working.Delete(ctx, item.Base().ID)
	case types.MemoryEpisodic:
		e.stores.Episodic.Delete(ctx, item.Base().ID)
	case types.MemorySemantic:
		e.stores.Semantic.Delete(ctx, item.Base().ID)
	case types.MemoryProcedural:
		e.stores.Procedural.Delete(ctx, item.Base().ID)
	}
}

func (e *Engine) totalCount() int {
	return e.stores.Working.Count() +
		e.stores.Episodic.Count() +
		e.stores.Semantic.Count() +
		e.stores.Procedural.Count()
}

func strategyEnabled(name StrategyName, filter []StrategyName) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == name {
			return true
		}
	}
	return false
}

func categoryEnabled(cat types.MemoryCategory, filter []types.MemoryCategory) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == cat {
			return true
		}
	}
	return false
}

func asItems[T memory.Item](items []T) []memory.Item {
	out := make([]memory.Item, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

func latestExpiry(members []memory.Item) time.Time {
	var latest time.Time
	for _, m := range members {
		if w, ok := m.(*memory.WorkingItem); ok && w.ExpiresAt.After(latest) {
			latest = w.ExpiresAt
		}
	}
	return latest
}
