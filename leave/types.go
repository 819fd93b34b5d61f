/*
Package leave defines the core domain model for the leave approval engine.

PURPOSE:
  This package contains the types and contracts shared by every other
  package: leave requests and their status lifecycle, per-(user, type)
  balances, the directory of users and managers, and the collaborator
  interfaces the approval saga orchestrates.

KEY CONCEPTS IN THIS FILE (types.go):
  - LeaveType/LeaveStatus/Role/Decision: Closed enumerations
  - User: Directory record with an optional single-hop manager link
  - LeaveRequest: The request entity owned by the RequestStore
  - LeaveBalance: total/used/reserved counters per (user, leave type)
  - DaysInclusive: The one true day-count rule (end - start + 1)

DESIGN PRINCIPLES:
  1. Ownership: LeaveRequest rows are owned by the RequestStore; the
     saga holds identifiers, never a second mutable copy.
  2. Integral days: Day counts are whole days. Partial-day leave is
     out of scope, so the arithmetic stays in int.
  3. Type Safety: Enumerations are distinct string types so a status
     can never be assigned where a decision is expected.

SEE ALSO:
  - ledger.go: Balance reserve/commit/rollback contract
  - directory.go: User lookup and approver permission rule
  - store.go: Request persistence and audit trail contracts
  - errors.go: Sentinel errors shared across packages
*/
package leave

import (
	"fmt"
	"time"
)

// =============================================================================
// ENUMERATIONS
// =============================================================================

// LeaveType is the category a request draws its balance from.
type LeaveType string

const (
	LeaveCasual   LeaveType = "CASUAL"
	LeaveSick     LeaveType = "SICK"
	LeaveEarned   LeaveType = "EARNED"
	LeaveWellness LeaveType = "WELLNESS"
)

// LeaveTypes lists every valid leave type.
var LeaveTypes = []LeaveType{LeaveCasual, LeaveSick, LeaveEarned, LeaveWellness}

// Valid reports whether t is one of the known leave types.
func (t LeaveType) Valid() bool {
	switch t {
	case LeaveCasual, LeaveSick, LeaveEarned, LeaveWellness:
		return true
	}
	return false
}

// LeaveStatus is the request lifecycle state.
//
// PENDING_APPROVAL is the initial state, set at creation. APPROVED and
// REJECTED are terminal and set exactly once by the saga. CANCELLED
// exists for external administrative cancellation; no saga transition
// produces it.
type LeaveStatus string

const (
	StatusPendingApproval LeaveStatus = "PENDING_APPROVAL"
	StatusApproved        LeaveStatus = "APPROVED"
	StatusRejected        LeaveStatus = "REJECTED"
	StatusCancelled       LeaveStatus = "CANCELLED"
)

// Terminal reports whether s is a final state.
func (s LeaveStatus) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Role is a directory role.
type Role string

const (
	RoleEmployee Role = "EMPLOYEE"
	RoleManager  Role = "MANAGER"
	RoleHR       Role = "HR"
	RoleAdmin    Role = "ADMIN"
)

// Decision is an approval verdict carried by a signal.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Valid reports whether d is APPROVE or REJECT.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// =============================================================================
// USER - Directory record
// =============================================================================

// User is a directory entry. ManagerID links one hop up the reporting
// tree; the tree is assumed acyclic and lookups never walk more than a
// single hop.
type User struct {
	ID        string
	Name      string
	Email     string
	Role      Role
	ManagerID string // empty = no manager
}

// =============================================================================
// LEAVE REQUEST - Owned by the RequestStore
// =============================================================================

// LeaveRequest is a persisted leave application. ApproverID is set only
// when a decision is recorded; InstanceID is the saga instance handle,
// set once at creation.
type LeaveRequest struct {
	ID         string
	UserID     string
	LeaveType  LeaveType
	StartDate  time.Time
	EndDate    time.Time
	Reason     string
	Status     LeaveStatus
	ApproverID string // empty until a decision is recorded
	InstanceID string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Days returns the inclusive day count of the request window.
func (r LeaveRequest) Days() int {
	return DaysInclusive(r.StartDate, r.EndDate)
}

// DaysInclusive counts calendar days from start to end, both ends
// included. Callers must have validated end >= start.
func DaysInclusive(start, end time.Time) int {
	s := truncateDay(start)
	e := truncateDay(end)
	return int(e.Sub(s).Hours()/24) + 1
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a calendar date in ISO form (2006-01-02).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return t, nil
}

// FormatDate renders a calendar date in ISO form.
func FormatDate(t time.Time) string { return t.Format("2006-01-02") }

// =============================================================================
// LEAVE BALANCE - Per (user, leave type) counters
// =============================================================================

// DefaultEntitlement is the total granted when a balance row is created
// lazily on first reference.
const DefaultEntitlement = 10

// LeaveBalance tracks a single (user, leave type) counter set.
//
// INVARIANT, always:
//
//	Reserved >= 0 && Used >= 0 && Total-Used-Reserved >= 0
type LeaveBalance struct {
	UserID    string
	LeaveType LeaveType
	Total     int
	Used      int
	Reserved  int
}

// Available returns what can still be requested.
func (b LeaveBalance) Available() int { return b.Total - b.Used - b.Reserved }
