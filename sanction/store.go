/*
store.go - Collaborator interfaces consumed by the engine

PURPOSE:
  Defines the boundary between the sanction engine and persistence.
  Registries for events, members and attendance are owned by other parts
  of the application; the engine only reads them. The Ledger is the
  engine's output store.

KEY INTERFACES:
  EventRegistry:   Events and their lifecycle status
  MemberRegistry:  Membership roster
  AttendanceStore: Per (event, member) check-in/check-out records
  Ledger:          Sanction rows (dedup-checked insert, bulk delete)
  Store:           All of the above, as implemented by sqlite.Store and store.Memory
  RunLog:          Audit trail of evaluation runs

DEDUP CONTRACT:
  Ledger.Insert MUST return ErrDuplicateSanction when a row already exists
  for the same (member, event, reason). This is the storage-level safety
  net behind the engine's Exists check, so two concurrent evaluations can
  never produce two rows for one outcome.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - sanction/store/memory.go: In-memory for testing
*/
package sanction

import (
	"context"
	"time"
)

// EventRegistry reads and updates events.
type EventRegistry interface {
	// GetEvent returns ErrEventNotFound when id is unknown.
	GetEvent(ctx context.Context, id EventID) (Event, error)

	// ListEventsOnDate returns every event scheduled on date's calendar day.
	ListEventsOnDate(ctx context.Context, date time.Time) ([]Event, error)

	SaveEvent(ctx context.Context, e Event) error

	// SetEventStatus returns ErrEventNotFound when id is unknown.
	SetEventStatus(ctx context.Context, id EventID, status EventStatus) error
}

// MemberRegistry reads the membership roster.
type MemberRegistry interface {
	ListActiveMembers(ctx context.Context) ([]Member, error)
	GetMember(ctx context.Context, id MemberID) (Member, error)
	SaveMember(ctx context.Context, m Member) error
}

// AttendanceStore holds at most one record per (event, member).
type AttendanceStore interface {
	// GetRecord returns (nil, nil) when no record exists.
	GetRecord(ctx context.Context, eventID EventID, memberID MemberID) (*AttendanceRecord, error)

	// SaveRecord upserts the record for (rec.EventID, rec.MemberID).
	SaveRecord(ctx context.Context, rec AttendanceRecord) error
}

// Ledger persists sanctions.
type Ledger interface {
	Exists(ctx context.Context, key Key) (bool, error)

	// Insert stores s. Returns ErrDuplicateSanction if s.Key() already exists.
	Insert(ctx context.Context, s Sanction) error

	// DeleteAllForEvent removes every sanction for the event, paid or not.
	DeleteAllForEvent(ctx context.Context, eventID EventID) (int, error)

	SumUnpaidForMember(ctx context.Context, memberID MemberID) (Amount, error)

	// SetPaid returns ErrSanctionNotFound when id is unknown.
	SetPaid(ctx context.Context, id SanctionID, at time.Time) error

	GetSanction(ctx context.Context, id SanctionID) (Sanction, error)
	ListByEvent(ctx context.Context, eventID EventID) ([]Sanction, error)
	ListByMember(ctx context.Context, memberID MemberID) ([]Sanction, error)
}

// Store is everything the engine needs.
type Store interface {
	EventRegistry
	MemberRegistry
	AttendanceStore
	Ledger
}

// RunLog stores evaluation runs. Optional.
type RunLog interface {
	SaveRun(ctx context.Context, run EvaluationRun) error
	ListRuns(ctx context.Context, eventID EventID) ([]EvaluationRun, error)
}
