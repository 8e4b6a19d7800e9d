// Package reconcile converts cumulative counters into discrete events.
//
// Some sources only report "total clicks so far today" per entity. Engine
// keeps one snapshot per (source, entity, source-local day) holding the last
// total it turned into events. Each run materializes the difference as
// synthetic events with distinct timestamps, so the number of stored events
// for an entity and day always equals its snapshot total.
//
// # Ordering
//
// Events are inserted before the snapshot advances. If a run dies between
// the two writes, the snapshot is stale and the next run recomputes the same
// or a larger delta; duplicate inserts are skipped on the natural key.
//
// # Bootstrap
//
// A missing snapshot counts as a zero baseline: the first observation of a
// day writes its whole total as events. A first observation of zero seeds
// the snapshot without events. Totals at or below the stored value produce
// nothing and leave the snapshot as is.
//
// # Snapshot States
//
//	NONE ──first observation──▶ BOOTSTRAPPED ──higher total──▶ ADVANCING ─┐
//	                                                               ▲       │
//	                                                               └───────┘
//
// The day is part of the key, so rollover starts again at NONE.
package reconcile
