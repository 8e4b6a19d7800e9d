// Package schedule runs groups of independent collection tasks on a timer.
//
// A Family is a named group of tasks sharing one trigger cadence, one permit
// pool and one overlap latch. Each trigger:
//
//  1. Sets the latch, or returns ErrRunInProgress if a run is active.
//  2. Dispatches every registered task in declared order. Each dispatch first
//     acquires a permit, so at most MaxParallel tasks are in flight.
//  3. Runs each task as retry(deadline(task)); a failing task never stops
//     its siblings.
//  4. Builds a domain.BatchSummary and hands it to every Sink.
//  5. Clears the latch, also when the run panics.
//
// Families are independent: two families may run at the same time, but a
// family never overlaps itself.
//
// Scheduler wires families to cron expressions.
package schedule
