/*
Package scheduler drives periodic background maintenance: a task table, a
timer-driven scheduling pass with a wall-clock processing budget, and an
at-most-one-concurrent-pass guarantee.

High and critical priority tasks run inline when scheduled; everything
else waits for the next pass. A pass executes due tasks in priority
order until the budget runs out, defers the rest, and always re-enqueues
the next low-priority consolidation task, keeping the schedule
self-perpetuating. Task failures are recorded on the task and never
abort a pass.
*/
package scheduler
