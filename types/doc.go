/*
Package types provides the shared type contracts for the MemFlow memory
engine.

types is the lowest-level common package. It depends on nothing inside
the module and gives memory, retrieval, consolidation and scheduler a
single vocabulary: [MemoryCategory] names the four cognitive memory
kinds (working, episodic, semantic, procedural), [MemoryContext] is the
caller-supplied context record echoed through store and search results,
[ContextType], [Outcome] and [SemanticCategory] are the closed
enumerations used by the typed item variants, and [MemoryStats] holds
per-category item accounting.

All enumerations are closed sets: Valid() predicates reject unknown
values at the API boundary instead of letting them leak into the stores.
*/
package types
