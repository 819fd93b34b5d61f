/*
errors.go - Centralized error types for the leave engine

PURPOSE:
  All shared error values in one place. Other packages wrap these with
  additional context via fmt.Errorf("...: %w", err) and callers match
  with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Business rejections - insufficient balance, timeout. These end a
     saga in REJECTED and are NOT surfaced as errors from Run.
  2. Precondition violations - missing user/manager/approver id. Fatal
     to a saga instance; it aborts without a terminal status update.
  3. Invariant violations - ledger commit/rollback below the reserved
     amount. Must never happen if sequencing is correct; fatal.

SEE ALSO:
  - ledger.go: Uses ErrLedgerInvariant
  - saga: returns ErrUserNotFound / ErrManagerNotFound / ErrPermissionDenied
*/
package leave

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when a directory lookup misses.
	ErrUserNotFound = errors.New("user not found")

	// ErrManagerNotFound is returned when a requester has no manager to
	// route the approval to.
	ErrManagerNotFound = errors.New("manager not found")

	// ErrRequestNotFound is returned when a request id or saga instance
	// id resolves to nothing.
	ErrRequestNotFound = errors.New("leave request not found")

	// ErrInstanceNotFound is returned by the signal channel when no saga
	// instance with the given id is currently waiting for a decision.
	// Covers: already decided, already timed out, or never existed.
	ErrInstanceNotFound = errors.New("no saga instance waiting for decision")

	// ErrPermissionDenied is returned when a latched decision came from
	// an approver without authority over the requester. Unlike ordinary
	// business rejections this is surfaced as a hard failure, since it
	// indicates misuse rather than a routine outcome.
	ErrPermissionDenied = errors.New("approver does not have permission")

	// ErrMissingApprover is returned when a latched decision carries no
	// approver id. Fatal to the saga instance.
	ErrMissingApprover = errors.New("approver id is required")

	// ErrLedgerInvariant is returned when a commit or rollback would
	// drive a balance counter below zero. This is a programming error in
	// saga sequencing, never a retryable condition.
	ErrLedgerInvariant = errors.New("ledger invariant violation")

	// ErrRequestFinalized is returned when a status update targets a
	// request that already reached a terminal status.
	ErrRequestFinalized = errors.New("leave request already finalized")

	// ErrInvalidPeriod is returned when a request window is malformed
	// (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// LedgerInvariantError reports the counters at the moment an impossible
// commit or rollback was attempted.
type LedgerInvariantError struct {
	Op        string // "commit" or "rollback"
	UserID    string
	LeaveType LeaveType
	Days      int
	Reserved  int
}

func (e *LedgerInvariantError) Error() string {
	return fmt.Sprintf("ledger invariant violation: %s of %d days with only %d reserved for %s/%s",
		e.Op, e.Days, e.Reserved, e.UserID, e.LeaveType)
}

func (e *LedgerInvariantError) Unwrap() error { return ErrLedgerInvariant }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether err indicates a missing record or instance.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrManagerNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrInstanceNotFound)
}

// IsFatal reports whether err must terminate a saga instance without
// retry: precondition and invariant violations.
func IsFatal(err error) bool {
	return errors.Is(err, ErrLedgerInvariant) ||
		errors.Is(err, ErrMissingApprover) ||
		errors.Is(err, ErrPermissionDenied)
}
