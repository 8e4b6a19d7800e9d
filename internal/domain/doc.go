// Package domain holds the record types shared by the scheduler, the
// reconciliation engine, the master-data sync and the storage backends.
//
// The types here carry no behavior beyond small helpers. Storage backends
// (internal/store, internal/pgstore) persist them; the engines produce and
// consume them.
//
// # Natural Keys
//
//   - Snapshot: (Source, EntityID, Day)
//   - Event: (Source, EntityID, OccurredAt), per event kind table
//   - ReferrerLink: Value
//   - Campaign / Adgroup / Ad: ExternalID
//
// Writes keyed on these are idempotent: duplicates are skipped, never errors.
package domain
