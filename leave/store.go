/*
store.go - Request persistence and audit trail contracts

PURPOSE:
  The RequestStore owns LeaveRequest rows; the saga holds only the
  request id plus the fields it needs to act. Status transitions go
  through UpdateStatus, which enforces that a terminal status is set
  exactly once.

AUDIT TRAIL:
  The AuditLog is an append-only observability side-channel. Every
  saga activity writes an entry (action, actor, request, payload), but
  audit failures never abort the saga - it is decoupled from the
  control flow and is never a dependency of correctness.

IMPLEMENTATIONS:
  - store.MemoryRequests / audit.Memory: in-memory (tests/dev)
  - store/sqlite.Store: SQLite-backed (production)
  - audit.FileSink: JSON-lines append-only file
*/
package leave

import (
	"context"
	"time"
)

// =============================================================================
// REQUEST STORE
// =============================================================================

// RequestStore persists leave requests and their status transitions.
type RequestStore interface {
	// Create persists a new request and returns the stored copy with its
	// id and timestamps filled in. The request id is minted here when
	// empty; Status must be PENDING_APPROVAL.
	Create(ctx context.Context, req LeaveRequest) (LeaveRequest, error)

	// UpdateStatus records a status transition. approverID may be empty
	// when the transition carries no deciding actor (insufficient
	// balance, timeout, permission denial). Re-applying the terminal
	// status a request already has is a no-op, so an interrupted
	// transition can safely run again; any other transition on a
	// terminal request returns ErrRequestFinalized.
	UpdateStatus(ctx context.Context, id string, status LeaveStatus, approverID string) error

	// GetByID returns the request with the given id, or ErrRequestNotFound.
	GetByID(ctx context.Context, id string) (LeaveRequest, error)

	// GetByInstanceID returns the request created by the given saga
	// instance, or ErrRequestNotFound.
	GetByInstanceID(ctx context.Context, instanceID string) (LeaveRequest, error)

	// List returns all requests, most recent first.
	List(ctx context.Context) ([]LeaveRequest, error)
}

// =============================================================================
// AUDIT LOG - Append-only, queryable by request
// =============================================================================

// AuditEntry records who did what when, with an action-specific payload.
type AuditEntry struct {
	Timestamp time.Time
	Action    string
	ActorID   string // empty for system-initiated actions
	RequestID string // empty when no request is involved yet
	Details   map[string]any
}

// AuditLog stores audit entries. Append-only; no update, no delete.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error

	// ByRequest returns entries for a request in append order. An empty
	// requestID returns everything.
	ByRequest(ctx context.Context, requestID string) ([]AuditEntry, error)
}
