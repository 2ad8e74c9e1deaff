package embedding

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// Candidate is a piece of text eligible for semantic search.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Match pairs a candidate id with its similarity to the query.
type Match struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// SearchOptions tunes a semantic search.
type SearchOptions struct {
	// Threshold is the minimum similarity a candidate must reach.
	Threshold float64 `json:"threshold"`

	// MaxResults truncates the result list; 0 means unbounded.
	MaxResults int `json:"max_results"`

	// Model selects the embedding model tag; empty uses the generator
	// default.
	Model string `json:"model,omitempty"`
}

// SemanticSearch embeds the query, lazily embeds every candidate (cache
// hits are free), keeps candidates whose cosine similarity reaches the
// threshold, and returns them sorted by similarity descending.
func (g *Generator) SemanticSearch(ctx context.Context, query string, candidates []Candidate, opts SearchOptions) ([]Match, error) {
	queryVec, err := g.Embed(ctx, query, opts.Model)
	if err != nil {
		return nil, err
	}
	return g.searchByVector(ctx, queryVec, "", candidates, opts)
}

// FindSimilar runs a semantic search using the target's own text as the
// query, excluding the target itself from the candidate set.
func (g *Generator) FindSimilar(ctx context.Context, target Candidate, candidates []Candidate, opts SearchOptions) ([]Match, error) {
	targetVec, err := g.Embed(ctx, target.Text, opts.Model)
	if err != nil {
		return nil, err
	}
	return g.searchByVector(ctx, targetVec, target.ID, candidates, opts)
}

func (g *Generator) searchByVector(ctx context.Context, queryVec []float64, excludeID string, candidates []Candidate, opts SearchOptions) ([]Match, error) {
	matches := make([]Match, 0, len(candidates))
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if excludeID != "" && cand.ID == excludeID {
			continue
		}
		vec, err := g.Embed(ctx, cand.Text, opts.Model)
		if err != nil {
			return nil, err
		}
		sim, err := Cosine(queryVec, vec)
		if err != nil {
			// Mismatched vectors kill only this comparison.
			g.logger.Warn("skipping candidate", zap.String("id", cand.ID), zap.Error(err))
			continue
		}
		if sim >= opts.Threshold {
			matches = append(matches, Match{ID: cand.ID, Similarity: sim})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if opts.MaxResults > 0 && len(matches) > opts.MaxResults {
		matches = matches[:opts.MaxResults]
	}
	return matches, nil
}
