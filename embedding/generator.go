package embedding

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// defaultVocabulary is the fixed bag-of-terms vocabulary. Each term owns
// one vector dimension; five structural features follow. The projection is
// deterministic and reproducible, not a trained model.
var defaultVocabulary = []string{
	"agent", "action", "analysis", "answer", "api", "apply", "build",
	"code", "concept", "context", "conversation", "data", "define",
	"design", "error", "event", "example", "fact", "fail", "feature",
	"file", "function", "goal", "help", "idea", "information", "input",
	"knowledge", "language", "learn", "logic", "memory", "model", "need",
	"network", "note", "output", "pattern", "plan", "problem", "process",
	"program", "query", "question", "recognition", "request", "response",
	"result", "rule", "search", "session", "skill", "step", "store",
	"success", "system", "task", "test", "text", "time", "tool", "user",
	"value", "work",
}

// structuralFeatures is the number of features appended after the
// vocabulary dimensions.
const structuralFeatures = 5

// CacheObserver receives embedding cache events. The internal metrics
// collector satisfies it; a nil observer disables reporting.
type CacheObserver interface {
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
}

// GeneratorConfig configures the deterministic embedding generator.
type GeneratorConfig struct {
	// Model is the default model tag used in cache keys when the caller
	// passes none.
	Model string `json:"model"`

	// CacheSize bounds the (model, text) embedding cache.
	CacheSize int `json:"cache_size"`

	// Vocabulary overrides the built-in term list. Must be non-empty
	// when set.
	Vocabulary []string `json:"-"`

	// Observer is notified of cache hits and misses. Optional.
	Observer CacheObserver `json:"-"`
}

// DefaultGeneratorConfig returns sensible defaults.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Model:     "bag-of-terms-v1",
		CacheSize: 4096,
	}
}

// Generator maps text to a deterministic vector: log-scaled term
// frequencies over a fixed vocabulary plus five structural features,
// L2-normalized. Results are cached by (model, text); concurrent misses
// for the same key are collapsed into a single computation.
type Generator struct {
	config GeneratorConfig
	vocab  []string
	index  map[string]int

	cache  *lru.Cache[string, []float64]
	flight singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64

	logger *zap.Logger
}

// NewGenerator creates an embedding generator.
func NewGenerator(config GeneratorConfig, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Model == "" {
		config.Model = DefaultGeneratorConfig().Model
	}
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultGeneratorConfig().CacheSize
	}
	vocab := config.Vocabulary
	if len(vocab) == 0 {
		vocab = defaultVocabulary
	}
	index := make(map[string]int, len(vocab))
	for i, term := range vocab {
		index[term] = i
	}
	cache, _ := lru.New[string, []float64](config.CacheSize)
	return &Generator{
		config: config,
		vocab:  vocab,
		index:  index,
		cache:  cache,
		logger: logger.With(zap.String("component", "embedding_generator")),
	}
}

// Dimension returns the length of generated vectors.
func (g *Generator) Dimension() int {
	return len(g.vocab) + structuralFeatures
}

// Model returns the default model tag.
func (g *Generator) Model() string {
	return g.config.Model
}

// Embed returns the vector for text under the given model tag. An empty
// model falls back to the configured default.
func (g *Generator) Embed(ctx context.Context, text, model string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if model == "" {
		model = g.config.Model
	}
	key := model + "\x00" + text

	if vec, ok := g.cache.Get(key); ok {
		g.hits.Add(1)
		if g.config.Observer != nil {
			g.config.Observer.RecordCacheHit("embedding")
		}
		return append([]float64(nil), vec...), nil
	}
	g.misses.Add(1)
	if g.config.Observer != nil {
		g.config.Observer.RecordCacheMiss("embedding")
	}

	v, err, _ := g.flight.Do(key, func() (any, error) {
		vec := g.project(text)
		g.cache.Add(key, vec)
		return vec, nil
	})
	if err != nil {
		return nil, err
	}
	vec := v.([]float64)
	return append([]float64(nil), vec...), nil
}

// project computes the raw deterministic vector for text.
func (g *Generator) project(text string) []float64 {
	vec := make([]float64, g.Dimension())

	words := tokenize(text)
	wordCount := len(words)

	if wordCount > 0 {
		freq := make(map[int]int)
		for _, w := range words {
			if i, ok := g.index[w]; ok {
				freq[i]++
			}
		}
		denom := math.Log(float64(wordCount) + 1)
		for i, f := range freq {
			vec[i] = math.Log(1+float64(f)) / denom
		}
	}

	// Structural features, scaled into [0,1] before normalization.
	base := len(g.vocab)
	vec[base] = math.Min(float64(len(text))/500, 1)
	vec[base+1] = math.Min(float64(wordCount)/100, 1)
	vec[base+2], vec[base+3], vec[base+4] = characterRatios(text)

	return l2Normalize(vec)
}

// CacheStats reports cache hit/miss counters since creation.
func (g *Generator) CacheStats() (hits, misses int64) {
	return g.hits.Load(), g.misses.Load()
}

// CacheLen returns the number of cached embeddings.
func (g *Generator) CacheLen() int {
	return g.cache.Len()
}

// ClearCache drops every cached embedding. Clearing is always safe: the
// projection is deterministic, so the only cost is recomputation.
func (g *Generator) ClearCache() {
	g.cache.Purge()
	g.logger.Debug("embedding cache cleared")
}

func tokenize(text string) []string {
	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func characterRatios(text string) (upper, digit, punct float64) {
	if len(text) == 0 {
		return 0, 0, 0
	}
	var nUpper, nDigit, nPunct int
	for _, r := range text {
		switch {
		case unicode.IsUpper(r):
			nUpper++
		case unicode.IsDigit(r):
			nDigit++
		case unicode.IsPunct(r):
			nPunct++
		}
	}
	n := float64(len([]rune(text)))
	return float64(nUpper) / n, float64(nDigit) / n, float64(nPunct) / n
}

func l2Normalize(vec []float64) []float64 {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return vec
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
