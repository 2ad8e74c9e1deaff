// Package embedding provides the deterministic text-to-vector projection
// used by semantic retrieval and consolidation.
//
// The projection is a reproducible bag-of-terms mapping, not a trained
// model: log-scaled term frequencies over a fixed vocabulary plus five
// structural features, L2-normalized. Embeddings are cached per
// (model, text) pair in a bounded LRU; clearing the cache is always safe
// because recomputation yields identical vectors.
package embedding
