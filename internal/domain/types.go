package domain

import (
	"errors"
	"time"
)

// ErrConflict is returned by stores when a create violates a uniqueness
// constraint. Callers that resolve-or-create treat it as "someone else won"
// and re-read.
var ErrConflict = errors.New("unique constraint conflict")

// ErrRunNotFound is returned when a run id is not in the run log.
var ErrRunNotFound = errors.New("run not found")

// DayLayout is the calendar-day format used in snapshot keys.
const DayLayout = "2006-01-02"

// EventKind selects the event log an Event belongs to.
type EventKind string

const (
	// KindClick is the click-event log.
	KindClick EventKind = "click"
	// KindAction is the action (conversion) event log.
	KindAction EventKind = "action"
)

// Valid reports whether k names a known event log.
func (k EventKind) Valid() bool {
	return k == KindClick || k == KindAction
}

// Snapshot is the last known cumulative counter for one entity on one
// calendar day. Total never decreases within a day.
type Snapshot struct {
	Source    string
	EntityID  string
	Day       string // DayLayout, source-local
	Total     int64
	UpdatedAt time.Time
}

// SnapshotKey identifies a snapshot row.
type SnapshotKey struct {
	Source   string
	EntityID string
	Day      string
}

// Key returns the snapshot's natural key.
func (s Snapshot) Key() SnapshotKey {
	return SnapshotKey{Source: s.Source, EntityID: s.EntityID, Day: s.Day}
}

// Event is a point-in-time record in the click or action log.
//
// Synthetic events are materialized from counter deltas; non-synthetic
// events were reported individually by the source.
type Event struct {
	Kind        EventKind
	Source      string
	EntityID    string
	OccurredAt  time.Time
	ReferrerID  *int64
	ReferrerURL string
	Reward      *int64 // action events only
	Synthetic   bool
}

// ReferrerLink is a resolved attribution identifier.
type ReferrerLink struct {
	ID    int64
	Value string
}

// Outcome is the normalized result of a task run.
type Outcome struct {
	Count int
}
