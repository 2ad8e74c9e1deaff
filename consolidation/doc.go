/*
Package consolidation merges clusters of similar or related memory items
into representative consolidated items.

A run samples items across the typed stores, lets each enabled strategy
(semantic, temporal, usage, pattern) propose clusters, keeps the most
coherent proposals, and merges each surviving cluster into one new item
that replaces its members. Observed cluster coherence feeds back into a
per-strategy weight as a moving average, so strategies earn or lose
influence run over run.

Strategies have partial-failure semantics: one erroring or panicking
strategy is logged and skipped, never aborting the whole run.
*/
package consolidation
