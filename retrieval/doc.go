// Package retrieval fuses a lexical keyword sub-search with a vector
// similarity sub-search over memory items.
//
// Three fusion strategies are available: weighted linear combination,
// reciprocal rank fusion, and best-of-both union. Either sub-search can
// be disabled; disabling both yields an empty result set without error.
// Every response reports the chosen strategy and the per-sub-search
// contribution counts for observability.
package retrieval
