/*
Package memory provides the typed memory stores at the heart of MemFlow.

Four cognitively-distinct memory kinds are modeled as a closed set of
item variants sharing the [BaseItem] identity and access-tracking
contract: [WorkingItem] holds transient session context with priority
and expiry, [EpisodicItem] records past interactions with outcomes and
takeaways, [SemanticItem] carries factual knowledge with confidence and
a concept graph, and [ProceduralItem] captures learned skills with an
effectiveness track record. Each variant lives in its own homogeneous
store ([WorkingStore], [EpisodicStore], [SemanticStore],
[ProceduralStore]); cross-type code uses the thin [Item] interface
instead of the concrete variants.

Every store exposes Store, Retrieve, Search, Update and Delete plus
snapshot accessors for the consolidation engine. Retrieve increments the
access count and refreshes the last-accessed timestamp. Constraint
violations are rejected before any mutation with a [ValidationError];
unknown ids are reported as explicit absence, never as a panic.

A working item whose expiry has passed is never returned by any read
path, even while still physically present; Cleanup removes it. Semantic
confidence is always observed in [0,1], and creation below the
configured minimum fails without leaving a trace in any index. Relation
sets between items are weak identifier references, so lookups tolerate
dangling entries.
*/
package memory
