package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/embedding"
	"github.com/BaSui01/memflow/memory"
)

// Strategy selects how lexical and vector scores are fused.
type Strategy string

const (
	// StrategyWeighted combines both scores linearly with configurable
	// weights.
	StrategyWeighted Strategy = "weighted"

	// StrategyRankFusion applies reciprocal rank fusion over the two
	// independent rankings.
	StrategyRankFusion Strategy = "rank_fusion"

	// StrategyBestOfBoth unions the top results of each sub-search,
	// keeping each candidate's best individual score.
	StrategyBestOfBoth Strategy = "best_of_both"
)

// SearcherConfig configures hybrid search.
type SearcherConfig struct {
	Strategy Strategy `json:"strategy"`

	// EnableTraditional / EnableVector toggle the two sub-searches.
	// Disabling both yields an empty result set without error.
	EnableTraditional bool `json:"enable_traditional"`
	EnableVector      bool `json:"enable_vector"`

	// Weights for StrategyWeighted. They need not sum to 1.
	TraditionalWeight float64 `json:"traditional_weight"`
	VectorWeight      float64 `json:"vector_weight"`

	// RRFConstant is the k of 1/(k+rank) in StrategyRankFusion.
	RRFConstant int `json:"rrf_constant"`

	// TopN bounds each sub-search's contribution in StrategyBestOfBoth.
	TopN int `json:"top_n"`

	// VectorThreshold is the minimum similarity a candidate needs to
	// appear in the vector sub-search.
	VectorThreshold float64 `json:"vector_threshold"`

	// MaxResults truncates the fused result list; 0 means unbounded.
	MaxResults int `json:"max_results"`

	// Model selects the embedding model tag.
	Model string `json:"model,omitempty"`
}

// DefaultSearcherConfig returns sensible defaults.
func DefaultSearcherConfig() SearcherConfig {
	return SearcherConfig{
		Strategy:          StrategyWeighted,
		EnableTraditional: true,
		EnableVector:      true,
		TraditionalWeight: 0.5,
		VectorWeight:      0.5,
		RRFConstant:       60,
		TopN:              10,
		VectorThreshold:   0.1,
		MaxResults:        10,
	}
}

// Result is one fused search hit with its score breakdown.
type Result struct {
	Item         memory.Item `json:"item"`
	LexicalScore float64     `json:"lexical_score"`
	VectorScore  float64     `json:"vector_score"`
	Combined     float64     `json:"combined"`
}

// Breakdown reports how many candidates each sub-search contributed.
type Breakdown struct {
	LexicalCount int `json:"lexical_count"`
	VectorCount  int `json:"vector_count"`
}

// Response is the full hybrid search output.
type Response struct {
	Results       []Result      `json:"results"`
	Strategy      Strategy      `json:"strategy"`
	Breakdown     Breakdown     `json:"breakdown"`
	ExecutionTime time.Duration `json:"execution_time"`
}

// Searcher fuses a lexical keyword sub-search with a vector similarity
// sub-search over an arbitrary candidate set.
type Searcher struct {
	config SearcherConfig
	gen    *embedding.Generator
	logger *zap.Logger
}

// NewSearcher creates a hybrid searcher.
func NewSearcher(config SearcherConfig, gen *embedding.Generator, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RRFConstant <= 0 {
		config.RRFConstant = 60
	}
	if config.TopN <= 0 {
		config.TopN = 10
	}
	return &Searcher{
		config: config,
		gen:    gen,
		logger: logger.With(zap.String("component", "hybrid_search")),
	}
}

// Search runs both enabled sub-searches over candidates and fuses the
// scores under the configured strategy.
func (s *Searcher) Search(ctx context.Context, query string, candidates []memory.Item) (*Response, error) {
	start := time.Now()
	resp := &Response{Strategy: s.config.Strategy}

	if !s.config.EnableTraditional && !s.config.EnableVector {
		resp.Results = []Result{}
		resp.ExecutionTime = time.Since(start)
		return resp, nil
	}

	byID := make(map[string]memory.Item, len(candidates))
	for _, item := range candidates {
		byID[item.Base().ID] = item
	}

	var lexical map[string]float64
	if s.config.EnableTraditional {
		lexical = s.lexicalScores(query, candidates)
		resp.Breakdown.LexicalCount = len(lexical)
	}

	var vector map[string]float64
	if s.config.EnableVector {
		v, err := s.vectorScores(ctx, query, candidates)
		if err != nil {
			return nil, err
		}
		vector = v
		resp.Breakdown.VectorCount = len(vector)
	}

	var results []Result
	switch s.config.Strategy {
	case StrategyRankFusion:
		results = s.fuseByRank(lexical, vector, byID)
	case StrategyBestOfBoth:
		results = s.fuseBestOfBoth(lexical, vector, byID)
	default:
		results = s.fuseWeighted(lexical, vector, byID)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Combined > results[j].Combined
	})
	if s.config.MaxResults > 0 && len(results) > s.config.MaxResults {
		results = results[:s.config.MaxResults]
	}

	resp.Results = results
	resp.ExecutionTime = time.Since(start)
	s.logger.Debug("hybrid search completed",
		zap.String("strategy", string(resp.Strategy)),
		zap.Int("lexical", resp.Breakdown.LexicalCount),
		zap.Int("vector", resp.Breakdown.VectorCount),
		zap.Int("results", len(results)),
		zap.Duration("took", resp.ExecutionTime))
	return resp, nil
}

// lexicalScores scores candidates by keyword overlap between the query
// terms and the item's search text (content, labels, tags).
func (s *Searcher) lexicalScores(query string, candidates []memory.Item) map[string]float64 {
	terms := strings.Fields(strings.ToLower(query))
	scores := make(map[string]float64)
	if len(terms) == 0 {
		return scores
	}
	whole := strings.ToLower(strings.TrimSpace(query))

	for _, item := range candidates {
		text := strings.ToLower(item.SearchText())
		matched := 0
		for _, term := range terms {
			if strings.Contains(text, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		score := float64(matched) / float64(len(terms))
		if whole != "" && strings.Contains(text, whole) {
			score += 0.5
		}
		if score > 1 {
			score = 1
		}
		scores[item.Base().ID] = score
	}
	return scores
}

func (s *Searcher) vectorScores(ctx context.Context, query string, candidates []memory.Item) (map[string]float64, error) {
	cands := make([]embedding.Candidate, len(candidates))
	for i, item := range candidates {
		cands[i] = embedding.Candidate{ID: item.Base().ID, Text: item.SearchText()}
	}
	matches, err := s.gen.SemanticSearch(ctx, query, cands, embedding.SearchOptions{
		Threshold: s.config.VectorThreshold,
		Model:     s.config.Model,
	})
	if err != nil {
		return nil, err
	}
	scores := make(map[string]float64, len(matches))
	for _, m := range matches {
		scores[m.ID] = m.Similarity
	}
	return scores, nil
}

func (s *Searcher) fuseWeighted(lexical, vector map[string]float64, byID map[string]memory.Item) []Result {
	var results []Result
	for id, item := range byID {
		lex, hasLex := lexical[id]
		vec, hasVec := vector[id]
		if !hasLex && !hasVec {
			continue
		}
		results = append(results, Result{
			Item:         item,
			LexicalScore: lex,
			VectorScore:  vec,
			Combined:     s.config.TraditionalWeight*lex + s.config.VectorWeight*vec,
		})
	}
	return results
}

// fuseByRank implements reciprocal rank fusion: each candidate scores
// 1/(k+rank) per ranking it appears in, absent rankings contribute 0.
func (s *Searcher) fuseByRank(lexical, vector map[string]float64, byID map[string]memory.Item) []Result {
	k := float64(s.config.RRFConstant)
	lexRank := ranks(lexical)
	vecRank := ranks(vector)

	var results []Result
	for id, item := range byID {
		_, hasLex := lexRank[id]
		_, hasVec := vecRank[id]
		if !hasLex && !hasVec {
			continue
		}
		combined := 0.0
		if hasLex {
			combined += 1 / (k + float64(lexRank[id]))
		}
		if hasVec {
			combined += 1 / (k + float64(vecRank[id]))
		}
		results = append(results, Result{
			Item:         item,
			LexicalScore: lexical[id],
			VectorScore:  vector[id],
			Combined:     combined,
		})
	}
	return results
}

func (s *Searcher) fuseBestOfBoth(lexical, vector map[string]float64, byID map[string]memory.Item) []Result {
	topLex := topIDs(lexical, s.config.TopN)
	topVec := topIDs(vector, s.config.TopN)

	picked := make(map[string]bool)
	var results []Result
	for _, id := range append(topLex, topVec...) {
		if picked[id] {
			continue
		}
		picked[id] = true
		item, ok := byID[id]
		if !ok {
			continue
		}
		lex := lexical[id]
		vec := vector[id]
		best := lex
		if vec > best {
			best = vec
		}
		results = append(results, Result{
			Item:         item,
			LexicalScore: lex,
			VectorScore:  vec,
			Combined:     best,
		})
	}
	return results
}

// ranks assigns 1-based ranks by descending score with deterministic
// id-ordered tie-breaking.
func ranks(scores map[string]float64) map[string]int {
	ids := sortedIDs(scores)
	out := make(map[string]int, len(ids))
	for i, id := range ids {
		out[id] = i + 1
	}
	return out
}

func topIDs(scores map[string]float64, n int) []string {
	ids := sortedIDs(scores)
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

func sortedIDs(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}
