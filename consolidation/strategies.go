package consolidation

import (
	"context"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
)

// consolidationModel is the embedding model tag used for clustering. It
// shares the projection algorithm with retrieval but keys a separate
// cache space, so clustering churn never evicts search embeddings.
const consolidationModel = "consolidation-v1"

// Strategy proposes clusters over a sample of memory items. A strategy
// that fails is skipped for the run; it never aborts consolidation.
type Strategy interface {
	Name() StrategyName
	Cluster(ctx context.Context, items []memory.Item) ([]*Cluster, error)
}

// StrategyConfig carries the tunables shared by the built-in strategies.
type StrategyConfig struct {
	// SimilarityThreshold is the minimum cosine similarity for the
	// semantic strategy to group two items.
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// MinClusterSize / MaxClusterSize bound cluster membership.
	MinClusterSize int `json:"min_cluster_size"`
	MaxClusterSize int `json:"max_cluster_size"`

	// TemporalWindow is the fixed bucket width of the temporal strategy.
	TemporalWindow time.Duration `json:"temporal_window"`

	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time `json:"-"`
}

// DefaultStrategyConfig returns sensible defaults.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		SimilarityThreshold: 0.7,
		MinClusterSize:      2,
		MaxClusterSize:      10,
		TemporalWindow:      time.Hour,
	}
}

func (c StrategyConfig) normalized() StrategyConfig {
	if c.MinClusterSize < 2 {
		c.MinClusterSize = 2
	}
	if c.MaxClusterSize < c.MinClusterSize {
		c.MaxClusterSize = c.MinClusterSize
	}
	if c.TemporalWindow <= 0 {
		c.TemporalWindow = time.Hour
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// SemanticStrategy groups items by embedding similarity: each unvisited
// item seeds a cluster of every other item whose cosine similarity to it
// reaches the threshold.
type SemanticStrategy struct {
	config StrategyConfig
	gen    *embedding.Generator
}

// NewSemanticStrategy creates the similarity-based strategy.
func NewSemanticStrategy(config StrategyConfig, gen *embedding.Generator) *SemanticStrategy {
	return &SemanticStrategy{config: config.normalized(), gen: gen}
}

// Name implements Strategy.
func (s *SemanticStrategy) Name() StrategyName { return StrategySemantic }

// Cluster implements Strategy.
func (s *SemanticStrategy) Cluster(ctx context.Context, items []memory.Item) ([]*Cluster, error) {
	vectors := make([][]float64, len(items))
	for i, item := range items {
		vec, err := s.gen.Embed(ctx, item.SearchText(), consolidationModel)
		if err != nil {
			return nil, err
		}
		vectors[i] = vec
	}

	visited := make([]bool, len(items))
	var clusters []*Cluster

	for i := range items {
		if visited[i] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		members := []int{i}
		var sims []float64
		for j := range items {
			if j == i || visited[j] {
				continue
			}
			sim, err := embedding.Cosine(vectors[i], vectors[j])
			if err != nil {
				continue
			}
			if sim >= s.config.SimilarityThreshold {
				members = append(members, j)
				sims = append(sims, sim)
				if len(members) >= s.config.MaxClusterSize {
					break
				}
			}
		}
		if len(members) < s.config.MinClusterSize {
			continue
		}

		for _, idx := range members {
			visited[idx] = true
		}
		clusters = append(clusters, &Cluster{
			ID:        uuid.NewString(),
			Strategy:  StrategySemantic,
			MemberIDs: idsOf(items, members),
			Centroid:  meanVector(vectors, members),
			Coherence: meanOf(sims),
			Metadata: ClusterMetadata{
				Confidence: meanOf(sims),
				CreatedAt:  s.config.Now(),
				Strategy:   StrategySemantic,
			},
		})
	}
	return clusters, nil
}

// TemporalStrategy buckets items into fixed-width creation-time windows.
type TemporalStrategy struct {
	config StrategyConfig
}

// NewTemporalStrategy creates the time-window strategy.
func NewTemporalStrategy(config StrategyConfig) *TemporalStrategy {
	return &TemporalStrategy{config: config.normalized()}
}

// Name implements Strategy.
func (s *TemporalStrategy) Name() StrategyName { return StrategyTemporal }

// Cluster implements Strategy.
func (s *TemporalStrategy) Cluster(ctx context.Context, items []memory.Item) ([]*Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	window := s.config.TemporalWindow
	buckets := make(map[int64][]int)
	for i, item := range items {
		bucket := item.Base().CreatedAt.UnixMilli() / window.Milliseconds()
		buckets[bucket] = append(buckets[bucket], i)
	}

	keys := make([]int64, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var clusters []*Cluster
	for _, key := range keys {
		members := buckets[key]
		if len(members) < s.config.MinClusterSize {
			continue
		}
		if len(members) > s.config.MaxClusterSize {
			members = members[:s.config.MaxClusterSize]
		}

		// Coherence: how tightly the bucket's members pack inside the
		// window. A zero spread is perfect coherence.
		earliest, latest := timeSpan(items, members)
		spread := latest.Sub(earliest)
		coherence := 1 - float64(spread)/float64(window)
		if coherence < 0 {
			coherence = 0
		}

		clusters = append(clusters, &Cluster{
			ID:        uuid.NewString(),
			Strategy:  StrategyTemporal,
			MemberIDs: idsOf(items, members),
			Coherence: coherence,
			Metadata: ClusterMetadata{
				Confidence: coherence,
				CreatedAt:  s.config.Now(),
				Strategy:   StrategyTemporal,
			},
		})
	}
	return clusters, nil
}

// UsageStrategy buckets items into coarse access-frequency tiers.
type UsageStrategy struct {
	config StrategyConfig
}

// NewUsageStrategy creates the access-frequency strategy.
func NewUsageStrategy(config StrategyConfig) *UsageStrategy {
	return &UsageStrategy{config: config.normalized()}
}

// Name implements Strategy.
func (s *UsageStrategy) Name() StrategyName { return StrategyUsage }

// usageTier maps an access count onto a coarse tier.
func usageTier(accessCount int) string {
	switch {
	case accessCount >= 10:
		return "high"
	case accessCount >= 3:
		return "medium"
	default:
		return "low"
	}
}

// Cluster implements Strategy.
func (s *UsageStrategy) Cluster(ctx context.Context, items []memory.Item) ([]*Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tiers := map[string][]int{}
	for i, item := range items {
		tier := usageTier(item.Base().AccessCount)
		tiers[tier] = append(tiers[tier], i)
	}

	var clusters []*Cluster
	for _, tier := range []string{"low", "medium", "high"} {
		members := tiers[tier]
		if len(members) < s.config.MinClusterSize {
			continue
		}
		if len(members) > s.config.MaxClusterSize {
			members = members[:s.config.MaxClusterSize]
		}

		// Coherence: closeness of access counts within the tier.
		minC, maxC := accessSpan(items, members)
		coherence := 1 - float64(maxC-minC)/float64(maxC+1)

		clusters = append(clusters, &Cluster{
			ID:        uuid.NewString(),
			Strategy:  StrategyUsage,
			MemberIDs: idsOf(items, members),
			Coherence: coherence,
			Metadata: ClusterMetadata{
				Confidence: coherence,
				CreatedAt:  s.config.Now(),
				Strategy:   StrategyUsage,
			},
		})
	}
	return clusters, nil
}

// PatternStrategy groups items sharing common content tokens. A token is
// a pattern when it appears in at least MinClusterSize items of the
// sample; each pattern's matching items form one candidate cluster.
type PatternStrategy struct {
	config StrategyConfig
}

// NewPatternStrategy creates the common-pattern strategy.
func NewPatternStrategy(config StrategyConfig) *PatternStrategy {
	return &PatternStrategy{config: config.normalized()}
}

// Name implements Strategy.
func (s *PatternStrategy) Name() StrategyName { return StrategyPattern }

// Cluster implements Strategy.
func (s *PatternStrategy) Cluster(ctx context.Context, items []memory.Item) ([]*Cluster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tokenSets := make([]map[string]bool, len(items))
	df := make(map[string]int)
	for i, item := range items {
		set := tokenSet(item.SearchText())
		tokenSets[i] = set
		for tok := range set {
			df[tok]++
		}
	}

	// Common patterns: tokens carried by enough items, most common first.
	var patterns []string
	for tok, n := range df {
		if n >= s.config.MinClusterSize {
			patterns = append(patterns, tok)
		}
	}
	sort.Slice(patterns, func(i, j int) bool {
		if df[patterns[i]] != df[patterns[j]] {
			return df[patterns[i]] > df[patterns[j]]
		}
		return patterns[i] < patterns[j]
	})
	patternSet := make(map[string]bool, len(patterns))
	for _, p := range patterns {
		patternSet[p] = true
	}

	visited := make([]bool, len(items))
	var clusters []*Cluster
	for _, pattern := range patterns {
		var members []int
		for i, set := range tokenSets {
			if !visited[i] && set[pattern] {
				members = append(members, i)
				if len(members) >= s.config.MaxClusterSize {
					break
				}
			}
		}
		if len(members) < s.config.MinClusterSize {
			continue
		}
		for _, idx := range members {
			visited[idx] = true
		}

		// Coherence: how much of each member's vocabulary is made of
		// recognized patterns.
		var ratioSum float64
		for _, idx := range members {
			total := len(tokenSets[idx])
			if total == 0 {
				continue
			}
			matched := 0
			for tok := range tokenSets[idx] {
				if patternSet[tok] {
					matched++
				}
			}
			ratioSum += float64(matched) / float64(total)
		}
		coherence := ratioSum / float64(len(members))

		clusters = append(clusters, &Cluster{
			ID:        uuid.NewString(),
			Strategy:  StrategyPattern,
			MemberIDs: idsOf(items, members),
			Coherence: coherence,
			Metadata: ClusterMetadata{
				Confidence: coherence,
				CreatedAt:  s.config.Now(),
				Strategy:   StrategyPattern,
			},
		})
	}
	return clusters, nil
}

func idsOf(items []memory.Item, indices []int) []string {
	out := make([]string, len(indices))
	for i, idx := range indices {
		out[i] = items[idx].Base().ID
	}
	return out
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 1
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func meanVector(vectors [][]float64, indices []int) []float64 {
	if len(indices) == 0 {
		return nil
	}
	dim := len(vectors[indices[0]])
	out := make([]float64, dim)
	for _, idx := range indices {
		for d, v := range vectors[idx] {
			out[d] += v
		}
	}
	for d := range out {
		out[d] /= float64(len(indices))
	}
	return out
}

func timeSpan(items []memory.Item, indices []int) (earliest, latest time.Time) {
	for i, idx := range indices {
		t := items[idx].Base().CreatedAt
		if i == 0 {
			earliest, latest = t, t
			continue
		}
		if t.Before(earliest) {
			earliest = t
		}
		if t.After(latest) {
			latest = t
		}
	}
	return earliest, latest
}

func accessSpan(items []memory.Item, indices []int) (min, max int) {
	for i, idx := range indices {
		c := items[idx].Base().AccessCount
		if i == 0 {
			min, max = c, c
			continue
		}
		if c < min {
			min = c
		}
		if c > max {
			max = c
		}
	}
	return min, max
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) >= 4 { // skip short function words
			set[tok] = true
		}
	}
	return set
}
