package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
	"github.com/BaSui01/memflow/types"
)

// seedItems stores a few semantic facts and returns them as the generic
// candidate set hybrid search operates on.
func seedItems(t *testing.T, contents map[string]string) ([]memory.Item, map[string]string) {
	t.Helper()

	ctx := context.Background()
	now := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	store := memory.NewSemanticStore(memory.SemanticStoreConfig{
		MinConfidence:      0.1,
		ValidationInterval: time.Hour,
		Now:                func() time.Time { return now },
	}, zap.NewNop())

	names := make(map[string]string) // logical name -> id
	for name, content := range contents {
		id, err := store.Store(ctx, content, types.MemoryContext{}, memory.SemanticOptions{Confidence: 0.8})
		require.NoError(t, err)
		names[name] = id
	}

	items := store.Items(ctx)
	out := make([]memory.Item, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, names
}

func newSearcher(strategy Strategy) *Searcher {
	cfg := DefaultSearcherConfig()
	cfg.Strategy = strategy
	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	return NewSearcher(cfg, gen, zap.NewNop())
}

func TestSearcher_BothDisabledYieldsEmptyWithoutError(t *testing.T) {
	t.Parallel()

	items, _ := seedItems(t, map[string]string{"a": "some stored fact"})

	cfg := DefaultSearcherConfig()
	cfg.EnableTraditional = false
	cfg.EnableVector = false
	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	searcher := NewSearcher(cfg, gen, zap.NewNop())

	resp, err := searcher.Search(context.Background(), "fact", items)
	require.NoError(t, err)
	require.Empty(t, resp.Results)
	require.Equal(t, 0, resp.Breakdown.LexicalCount)
	require.Equal(t, 0, resp.Breakdown.VectorCount)
}

func TestSearcher_WeightedRanksExactMatchFirst(t *testing.T) {
	t.Parallel()

	items, names := seedItems(t, map[string]string{
		"exact":   "user session memory and context data",
		"partial": "session notes",
		"off":     "completely unrelated topic about birds",
	})

	searcher := newSearcher(StrategyWeighted)
	resp, err := searcher.Search(context.Background(), "user session memory", items)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	require.Equal(t, StrategyWeighted, resp.Strategy)
	require.Equal(t, names["exact"], resp.Results[0].Item.Base().ID)

	// Scores decrease monotonically and carry both components.
	for i := 1; i < len(resp.Results); i++ {
		require.LessOrEqual(t, resp.Results[i].Combined, resp.Results[i-1].Combined)
	}
	top := resp.Results[0]
	require.Greater(t, top.LexicalScore, 0.0)
	require.Greater(t, top.VectorScore, 0.0)
	require.InDelta(t, 0.5*top.LexicalScore+0.5*top.VectorScore, top.Combined, 1e-9)
}

func TestSearcher_RankFusionScores(t *testing.T) {
	t.Parallel()

	items, names := seedItems(t, map[string]string{
		"both": "error handling pattern in the system",
		"none": "gardening tips for spring",
	})

	searcher := newSearcher(StrategyRankFusion)
	resp, err := searcher.Search(context.Background(), "error handling pattern", items)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	// The item present in both rankings at rank 1 scores 2/(k+1).
	top := resp.Results[0]
	require.Equal(t, names["both"], top.Item.Base().ID)
	require.InDelta(t, 2.0/61.0, top.Combined, 1e-9)

	for _, r := range resp.Results {
		require.NotEqual(t, names["none"], r.Item.Base().ID)
	}
}

func TestSearcher_BestOfBothKeepsBestIndividualScore(t *testing.T) {
	t.Parallel()

	items, _ := seedItems(t, map[string]string{
		"a": "query processing pipeline",
		"b": "pipeline for data",
	})

	searcher := newSearcher(StrategyBestOfBoth)
	resp, err := searcher.Search(context.Background(), "query processing pipeline", items)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	for _, r := range resp.Results {
		best := r.LexicalScore
		if r.VectorScore > best {
			best = r.VectorScore
		}
		require.InDelta(t, best, r.Combined, 1e-9)
	}
}

func TestSearcher_MaxResultsTruncates(t *testing.T) {
	t.Parallel()

	items, _ := seedItems(t, map[string]string{
		"a": "memory one",
		"b": "memory two",
		"c": "memory three",
	})

	cfg := DefaultSearcherConfig()
	cfg.MaxResults = 2
	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	searcher := NewSearcher(cfg, gen, zap.NewNop())

	resp, err := searcher.Search(context.Background(), "memory", items)
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
}

func TestSearcher_LexicalOnly(t *testing.T) {
	t.Parallel()

	items, names := seedItems(t, map[string]string{
		"hit":  "retry with exponential backoff",
		"miss": "unrelated",
	})

	cfg := DefaultSearcherConfig()
	cfg.EnableVector = false
	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	searcher := NewSearcher(cfg, gen, zap.NewNop())

	resp, err := searcher.Search(context.Background(), "exponential backoff", items)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	require.Equal(t, names["hit"], resp.Results[0].Item.Base().ID)
	require.Zero(t, resp.Results[0].VectorScore)
	require.Equal(t, 0, resp.Breakdown.VectorCount)
}

func TestSearcher_RankFusionMatchesReciprocalRankSum(t *testing.T) {
	t.Parallel()

	words := []string{"memory", "search", "pattern", "error", "system", "garden", "bird", "quartz"}

	cfg := DefaultSearcherConfig()
	cfg.Strategy = StrategyRankFusion
	cfg.MaxResults = 0
	gen := embedding.NewGenerator(embedding.DefaultGeneratorConfig(), zap.NewNop())
	searcher := NewSearcher(cfg, gen, zap.NewNop())

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 10).Draw(t, "items")
		items := make([]memory.Item, n)
		for i := 0; i < n; i++ {
			wc := rapid.IntRange(1, 6).Draw(t, "words")
			parts := make([]string, wc)
			for j := range parts {
				parts[j] = rapid.SampledFrom(words).Draw(t, "word")
			}
			items[i] = &memory.SemanticItem{BaseItem: memory.BaseItem{
				ID:      fmt.Sprintf("item-%02d", i),
				Content: strings.Join(parts, " "),
			}}
		}
		qn := rapid.IntRange(1, 3).Draw(t, "queryWords")
		qparts := make([]string, qn)
		for j := range qparts {
			qparts[j] = rapid.SampledFrom(words).Draw(t, "qword")
		}
		query := strings.Join(qparts, " ")

		resp, err := searcher.Search(context.Background(), query, items)
		require.NoError(t, err)

		// Each sub-search's ranking can be recovered from the reported
		// per-result scores: a zero score means the item was absent from
		// that ranking.
		lexRank := rankByScore(resp.Results, func(r Result) float64 { return r.LexicalScore })
		vecRank := rankByScore(resp.Results, func(r Result) float64 { return r.VectorScore })

		for i, r := range resp.Results {
			id := r.Item.Base().ID
			want := 0.0
			if rank, ok := lexRank[id]; ok {
				want += 1.0 / (60 + float64(rank))
			}
			if rank, ok := vecRank[id]; ok {
				want += 1.0 / (60 + float64(rank))
			}
			require.InDelta(t, want, r.Combined, 1e-9)
			require.Greater(t, r.Combined, 0.0)
			if i > 0 {
				require.LessOrEqual(t, r.Combined, resp.Results[i-1].Combined)
			}
		}
	})
}

// rankByScore assigns 1-based ranks by descending score with id-ordered
// tie-breaking, skipping items the sub-search did not score.
func rankByScore(results []Result, score func(Result) float64) map[string]int {
	type entry struct {
		id    string
		score float64
	}
	var entries []entry
	for _, r := range results {
		if s := score(r); s > 0 {
			entries = append(entries, entry{r.Item.Base().ID, s})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].score != entries[j].score {
			return entries[i].score > entries[j].score
		}
		return entries[i].id < entries[j].id
	})
	out := make(map[string]int, len(entries))
	for i, e := range entries {
		out[e.id] = i + 1
	}
	return out
}
