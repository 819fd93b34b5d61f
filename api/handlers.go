/*
handlers.go - HTTP API handlers for the leave approval engine

PURPOSE:
  Exposes the engine via REST. Handles HTTP request/response, JSON
  serialization, and delegates to the saga runner, signal registry and
  stores.

ENDPOINTS:
  Leaves:
    POST   /api/leaves                      Apply for leave (starts a saga)
    GET    /api/leaves                      List requests (?instanceId= filters)
    GET    /api/leaves/{requestId}          Get one request
    POST   /api/leaves/{requestId}/approve  Deliver an approve/reject decision
    GET    /api/leaves/{requestId}/audit    Audit trail for a request

  Users:
    GET    /api/users/{id}/balance/{leaveType}  Balance counters

  Health:
    GET    /health

REQUEST FLOW (apply):
  1. Validate the body and resolve the requester.
  2. Start the saga in the background; respond 202 with the instance
     id. The request record appears once the saga persists it - poll
     GET /api/leaves?instanceId=... for status.

REQUEST FLOW (approve):
  1. Resolve the request, reject decisions on non-pending requests.
  2. Signal the waiting saga instance. A missing instance means the
     wait already ended (decided or timed out) - reported as 404.

ERROR HANDLING:
  - 400: Validation errors, decisions on settled requests
  - 404: Unknown user/request, no waiting saga instance
  - 500: Internal errors

SECURITY NOTE:
  No authentication; approverId is taken from the body. The permission
  check inside the saga is the only guard, which is fine for a demo
  surface but NOT for production.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
	"github.com/warp/leave-engine/saga"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Runner    *saga.Runner
	Signals   *saga.Registry
	Requests  leave.RequestStore
	Ledger    leave.Ledger
	Directory leave.Directory
	Audit     leave.AuditLog
	Logger    *zap.Logger
}

func (h *Handler) logger() *zap.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return zap.NewNop()
}

// =============================================================================
// LEAVES
// =============================================================================

// ApplyLeave starts a new leave application saga.
func (h *Handler) ApplyLeave(w http.ResponseWriter, r *http.Request) {
	var req ApplyLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	in, err := validateApply(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.Directory.GetUser(r.Context(), req.UserID); err != nil {
		if errors.Is(err, leave.ErrUserNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, "lookup user", err)
		return
	}

	instanceID := h.Runner.Start(in)
	writeJSON(w, http.StatusAccepted, ApplyLeaveResponse{
		Message:    "leave request submitted",
		InstanceID: instanceID,
	})
}

func validateApply(req ApplyLeaveRequest) (saga.Input, error) {
	if req.UserID == "" || req.LeaveType == "" || req.StartDate == "" || req.EndDate == "" || req.Reason == "" {
		return saga.Input{}, errors.New("missing required fields")
	}
	leaveType := leave.LeaveType(req.LeaveType)
	if !leaveType.Valid() {
		return saga.Input{}, fmt.Errorf("unknown leave type %q", req.LeaveType)
	}
	start, err := leave.ParseDate(req.StartDate)
	if err != nil {
		return saga.Input{}, err
	}
	end, err := leave.ParseDate(req.EndDate)
	if err != nil {
		return saga.Input{}, err
	}
	if end.Before(start) {
		return saga.Input{}, errors.New("endDate must not be before startDate")
	}
	return saga.Input{
		RequesterID: req.UserID,
		LeaveType:   leaveType,
		StartDate:   start,
		EndDate:     end,
		Reason:      req.Reason,
	}, nil
}

// DecideLeave signals an approve/reject decision into the waiting saga.
func (h *Handler) DecideLeave(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	var req DecideLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ApproverID == "" {
		writeError(w, http.StatusBadRequest, "approverId is required")
		return
	}
	decision := leave.Decision(req.Decision)
	if !decision.Valid() {
		writeError(w, http.StatusBadRequest, "decision must be APPROVE or REJECT")
		return
	}

	record, err := h.Requests.GetByID(r.Context(), requestID)
	if errors.Is(err, leave.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "leave request not found")
		return
	}
	if err != nil {
		h.internalError(w, "lookup request", err)
		return
	}
	if record.Status != leave.StatusPendingApproval {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("request is already %s", record.Status))
		return
	}
	if record.InstanceID == "" {
		writeError(w, http.StatusBadRequest, "request has no saga instance")
		return
	}

	err = h.Signals.SignalDecision(record.InstanceID, saga.DecisionSignal{
		Decision:   decision,
		ApproverID: req.ApproverID,
	})
	if errors.Is(err, leave.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, "no waiting saga instance; the request may have timed out")
		return
	}
	if err != nil {
		h.internalError(w, "signal decision", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"message":   fmt.Sprintf("decision %s delivered", decision),
		"requestId": requestID,
	})
}

// GetLeave returns one leave request by id.
func (h *Handler) GetLeave(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	record, err := h.Requests.GetByID(r.Context(), requestID)
	if errors.Is(err, leave.ErrRequestNotFound) {
		writeError(w, http.StatusNotFound, "leave request not found")
		return
	}
	if err != nil {
		h.internalError(w, "lookup request", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeaveRequestDTO(record))
}

// ListLeaves returns all requests, or the one created by ?instanceId=.
func (h *Handler) ListLeaves(w http.ResponseWriter, r *http.Request) {
	if instanceID := r.URL.Query().Get("instanceId"); instanceID != "" {
		record, err := h.Requests.GetByInstanceID(r.Context(), instanceID)
		if errors.Is(err, leave.ErrRequestNotFound) {
			writeError(w, http.StatusNotFound, "leave request not found for this instance")
			return
		}
		if err != nil {
			h.internalError(w, "lookup request by instance", err)
			return
		}
		writeJSON(w, http.StatusOK, toLeaveRequestDTO(record))
		return
	}

	records, err := h.Requests.List(r.Context())
	if err != nil {
		h.internalError(w, "list requests", err)
		return
	}
	dtos := make([]LeaveRequestDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toLeaveRequestDTO(rec))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAudit returns the audit trail for a request.
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "requestId")

	entries, err := h.Audit.ByRequest(r.Context(), requestID)
	if err != nil {
		h.internalError(w, "load audit trail", err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// USERS
// =============================================================================

// GetBalance returns the balance counters for a user and leave type.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	leaveType := leave.LeaveType(chi.URLParam(r, "leaveType"))
	if !leaveType.Valid() {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown leave type %q", leaveType))
		return
	}

	b, err := h.Ledger.Balance(r.Context(), userID, leaveType)
	if err != nil {
		h.internalError(w, "load balance", err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(b))
}

// =============================================================================
// HEALTH & HELPERS
// =============================================================================

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger().Error(msg, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
