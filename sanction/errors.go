/*
errors.go - Centralized error types for the sanction engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Store implementations return these sentinels so the engine and the
  HTTP layer can branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Not found - Referenced event, member or sanction does not exist
  2. Persistence - Underlying store operation failed
  3. Validation - Invalid status strings, events still referenced

SEE ALSO:
  - engine.go: Wraps store failures in PersistenceError
  - api/handlers.go: Maps errors to HTTP status codes
*/
package sanction

import (
	"errors"
	"fmt"

	"github.com/warp/sanction-engine/lock"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrEventNotFound is returned when a referenced event doesn't exist.
	ErrEventNotFound = errors.New("event not found")

	// ErrMemberNotFound is returned when a referenced member doesn't exist.
	ErrMemberNotFound = errors.New("member not found")

	// ErrSanctionNotFound is returned when a referenced sanction doesn't exist.
	ErrSanctionNotFound = errors.New("sanction not found")

	// ErrDuplicateSanction is returned by Ledger.Insert when a sanction already
	// exists for the same (member, event, reason). The engine treats it as a no-op.
	ErrDuplicateSanction = errors.New("duplicate sanction")

	// ErrStoreBusy is returned when the store is temporarily locked. Retryable.
	ErrStoreBusy = errors.New("store busy")

	// ErrInvalidStatus is returned when a status or reason string is not recognized.
	ErrInvalidStatus = errors.New("invalid status")

	// ErrEventInUse is returned when deleting an event that sanctions still reference.
	ErrEventInUse = errors.New("event is referenced by sanctions")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PersistenceError wraps a store failure with the operation and the
// identifiers needed for manual reconciliation.
type PersistenceError struct {
	Op       string
	EventID  EventID
	MemberID MemberID
	Err      error
}

func (e *PersistenceError) Error() string {
	if e.MemberID != "" {
		return fmt.Sprintf("%s (event %s, member %s): %v", e.Op, e.EventID, e.MemberID, e.Err)
	}
	return fmt.Sprintf("%s (event %s): %v", e.Op, e.EventID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// MemberFailure records a per-member failure that was skipped during evaluation.
type MemberFailure struct {
	MemberID MemberID
	Reason   Reason
	Err      error
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreBusy) || errors.Is(err, lock.ErrTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrEventInUse)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrSanctionNotFound)
}
