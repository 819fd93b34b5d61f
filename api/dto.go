/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types
  decouple the internal domain model from the external contract:
  calendar dates cross the wire as ISO strings, enumerations as their
  canonical uppercase names.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data
  carriers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// ApplyLeaveRequest submits a new leave application.
type ApplyLeaveRequest struct {
	UserID    string `json:"userId"`
	LeaveType string `json:"leaveType"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Reason    string `json:"reason"`
}

// DecideLeaveRequest delivers an approve/reject decision.
type DecideLeaveRequest struct {
	ApproverID string `json:"approverId"`
	Decision   string `json:"decision"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// ApplyLeaveResponse acknowledges a submitted application. The request
// record materializes asynchronously; poll by instance id.
type ApplyLeaveResponse struct {
	Message    string `json:"message"`
	InstanceID string `json:"instanceId"`
}

// LeaveRequestDTO is a leave request in API responses.
type LeaveRequestDTO struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	LeaveType  string `json:"leaveType"`
	StartDate  string `json:"startDate"`
	EndDate    string `json:"endDate"`
	Days       int    `json:"days"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	ApproverID string `json:"approverId,omitempty"`
	InstanceID string `json:"instanceId,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func toLeaveRequestDTO(req leave.LeaveRequest) LeaveRequestDTO {
	return LeaveRequestDTO{
		ID:         req.ID,
		UserID:     req.UserID,
		LeaveType:  string(req.LeaveType),
		StartDate:  leave.FormatDate(req.StartDate),
		EndDate:    leave.FormatDate(req.EndDate),
		Days:       req.Days(),
		Reason:     req.Reason,
		Status:     string(req.Status),
		ApproverID: req.ApproverID,
		InstanceID: req.InstanceID,
		CreatedAt:  req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  req.UpdatedAt.Format(time.RFC3339),
	}
}

// BalanceDTO is a per-(user, leave type) balance summary.
type BalanceDTO struct {
	UserID    string `json:"userId"`
	LeaveType string `json:"leaveType"`
	Total     int    `json:"total"`
	Used      int    `json:"used"`
	Reserved  int    `json:"reserved"`
	Available int    `json:"available"`
}

func toBalanceDTO(b leave.LeaveBalance) BalanceDTO {
	return BalanceDTO{
		UserID:    b.UserID,
		LeaveType: string(b.LeaveType),
		Total:     b.Total,
		Used:      b.Used,
		Reserved:  b.Reserved,
		Available: b.Available(),
	}
}

// AuditEntryDTO is one audit trail line.
type AuditEntryDTO struct {
	Timestamp string         `json:"timestamp"`
	Action    string         `json:"action"`
	ActorID   string         `json:"actorId,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

func toAuditEntryDTO(e leave.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		Timestamp: e.Timestamp.Format(time.RFC3339Nano),
		Action:    e.Action,
		ActorID:   e.ActorID,
		RequestID: e.RequestID,
		Details:   e.Details,
	}
}

// ErrorResponse carries a client-facing error message.
type ErrorResponse struct {
	Error string `json:"error"`
}
