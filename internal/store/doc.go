// Package store provides SQLite-backed durable storage for ingestion data.
//
// Tables:
//   - click_events / action_events: event logs, discrete and synthetic
//   - daily_click_snapshots: last known cumulative counter per entity per day
//   - referrer_links: resolved attribution identifiers
//   - campaigns / adgroups / ads: master data, children reference parent ids
//   - batch_runs: one summary row per scheduler run
//
// # Write Semantics
//
// Event inserts use ON CONFLICT DO NOTHING on the natural key
// (source, entity_id, occurred_at); duplicates are skipped and the number of
// rows actually inserted is returned.
//
// Snapshot upserts never lower a stored total.
//
// Referrer and master-data creates surface UNIQUE violations as
// domain.ErrConflict so resolve-or-create callers can re-read.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Timestamps are stored as INTEGER unix nanoseconds in UTC.
package store
