/*
ledger.go - Balance ledger contract (reserve / commit / rollback)

PURPOSE:
  The ledger is the only shared mutable resource in the system. Every
  operation is keyed by (user, leave type) and must be race-free under
  concurrent requests for the same key: the read-then-write inside
  Reserve is never visible as two separable steps to another caller.

RESERVATION DISCIPLINE:
  Reserve   - atomic check-and-hold. Returns false (not an error) when
              available < days. This is a normal business outcome.
  Commit    - converts a prior reservation into consumption.
  Rollback  - releases a prior reservation (compensation).

  Commit and Rollback trust the saga's sequencing: the caller must have
  a successful Reserve of at least the same amount outstanding.
  Implementations still assert reserved >= days defensively and return
  a LedgerInvariantError on violation - that error is fatal, never
  retried, never clamped silently.

LAZY CREATION:
  A balance row is created on first reference with DefaultEntitlement
  as total. Rows are never deleted.

IMPLEMENTATIONS:
  - store.MemoryLedger: single-process, mutex-serialized (tests/dev)
  - store/sqlite.Store: SQL-transaction-serialized (production)
*/
package leave

import "context"

// Ledger mutates per-(user, leave type) balance counters under the
// reserve/commit/rollback discipline.
type Ledger interface {
	// Reserve atomically checks available balance and, if available >=
	// days, increments the reserved counter. Returns false with no
	// change when the balance is insufficient.
	Reserve(ctx context.Context, userID string, leaveType LeaveType, days int) (bool, error)

	// Commit moves days from reserved to used. Requires an outstanding
	// reservation of at least days; violation is a fatal invariant
	// breach reported as LedgerInvariantError.
	Commit(ctx context.Context, userID string, leaveType LeaveType, days int) error

	// Rollback releases days from reserved. Same precondition and
	// failure semantics as Commit.
	Rollback(ctx context.Context, userID string, leaveType LeaveType, days int) error

	// Balance returns the current counters, creating the row lazily with
	// the default entitlement when it does not exist yet.
	Balance(ctx context.Context, userID string, leaveType LeaveType) (LeaveBalance, error)
}
