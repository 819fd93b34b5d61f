/*
approval.go - The leave approval orchestration

STATE MACHINE (initial -> terminal):

  STARTED ──▶ resolve requester + manager ──▶ FAILED (missing either)
     │
     ▼
  RECORD_CREATED (request persisted PENDING_APPROVAL)
     │
     ▼
  reserve balance ──▶ insufficient ──▶ mark REJECTED (terminal)
     │
     ▼
  NOTIFIED (manager asked) ──▶ wait for decision, ceiling = Timeout
     │                              │
     │ decision latched             │ timer wins
     ▼                              ▼
  validate approver permission   rollback + mark REJECTED + notify
     │
     ├─ denied ──▶ rollback + mark REJECTED + hard error (FAILED)
     ├─ APPROVE ──▶ commit + mark APPROVED + notify (terminal)
     └─ REJECT  ──▶ rollback + mark REJECTED + notify (terminal)

ORDERING RATIONALE:
  Balance is reserved BEFORE the manager is notified, so a manager is
  never asked to approve a request that cannot be honored. Permission
  is validated AFTER the decision is latched, because the approving
  identity is only known once the signal arrives: any signal is
  accepted provisionally and acted on only once authorized, so an
  unauthorized signal never mutates ledger state. The permission check
  re-reads the live directory at decision time, honoring manager
  reassignment between submission and decision.

ERROR TAXONOMY:
  Business rejections (insufficient balance, timeout, explicit REJECT)
  end in REJECTED with a nil error. Permission denial also compensates
  and marks REJECTED but additionally surfaces ErrPermissionDenied,
  since it indicates misuse rather than a routine outcome. Missing
  requester/manager/approver id abort the instance without a terminal
  status update. Ledger invariant breaches propagate as fatal.
*/
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// DefaultApprovalTimeout is the decision wait ceiling when Saga.Timeout
// is left zero. Seven days, matching the manager notification SLA.
const DefaultApprovalTimeout = 7 * 24 * time.Hour

// instanceIDPrefix prefixes every saga instance id.
const instanceIDPrefix = "leave"

// NewInstanceID derives a stable saga instance id from the requester
// and the creation time. Collision avoidance is advisory.
func NewInstanceID(requesterID string) string {
	return fmt.Sprintf("%s-%s-%d", instanceIDPrefix, requesterID, time.Now().UnixMilli())
}

// Input starts one leave application.
type Input struct {
	RequesterID string
	LeaveType   leave.LeaveType
	StartDate   time.Time
	EndDate     time.Time
	Reason      string
}

// Result is the terminal outcome of a completed saga.
type Result struct {
	Status    leave.LeaveStatus
	RequestID string
}

// Saga wires the approval orchestration to its collaborators. All
// fields except Timeout, Audit and Logger are required.
type Saga struct {
	Ledger    leave.Ledger
	Directory leave.Directory
	Requests  leave.RequestStore
	Notifier  leave.Notifier
	Audit     leave.AuditLog
	History   HistoryStore
	Signals   *Registry

	// Timeout is the decision wait ceiling. Zero means
	// DefaultApprovalTimeout.
	Timeout time.Duration

	Logger *zap.Logger
}

// Step result records. Everything a branch decision depends on is
// captured here, so replay re-derives the same control flow.
type userStepResult struct {
	Found bool
	User  leave.User
}

type createStepResult struct {
	Request leave.LeaveRequest
}

type reserveStepResult struct {
	Reserved bool
	Days     int
}

type waitStepResult struct {
	Received   bool
	Decision   leave.Decision
	ApproverID string
}

// Run executes one leave application to a terminal outcome. instanceID
// must be stable across retries of the same application: a rerun with
// the same id resumes from recorded history instead of repeating
// completed side effects.
func (s *Saga) Run(ctx context.Context, instanceID string, in Input) (Result, error) {
	if !in.LeaveType.Valid() {
		return Result{}, fmt.Errorf("unknown leave type %q", in.LeaveType)
	}
	if in.EndDate.Before(in.StartDate) {
		return Result{}, leave.ErrInvalidPeriod
	}

	log := s.logger().With(zap.String("instance", instanceID))
	exec, err := NewExecution(ctx, s.History, instanceID, log)
	if err != nil {
		return Result{}, err
	}

	days := leave.DaysInclusive(in.StartDate, in.EndDate)

	// Resolve the requester and their approval-chain manager (one hop).
	requester, err := Step(ctx, exec, "get-user", func(ctx context.Context) (userStepResult, error) {
		s.audit(ctx, "getUserById", "", "", map[string]any{"userId": in.RequesterID})
		u, err := s.Directory.GetUser(ctx, in.RequesterID)
		if errors.Is(err, leave.ErrUserNotFound) {
			return userStepResult{}, nil
		}
		if err != nil {
			return userStepResult{}, err
		}
		return userStepResult{Found: true, User: u}, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !requester.Found {
		return Result{}, fmt.Errorf("requester %s: %w", in.RequesterID, leave.ErrUserNotFound)
	}

	manager, err := Step(ctx, exec, "get-manager", func(ctx context.Context) (userStepResult, error) {
		s.audit(ctx, "getManagerForUser", "", "", map[string]any{"userId": in.RequesterID})
		m, err := s.Directory.GetManager(ctx, in.RequesterID)
		if errors.Is(err, leave.ErrManagerNotFound) {
			return userStepResult{}, nil
		}
		if err != nil {
			return userStepResult{}, err
		}
		return userStepResult{Found: true, User: m}, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !manager.Found {
		return Result{}, fmt.Errorf("requester %s: %w", in.RequesterID, leave.ErrManagerNotFound)
	}

	// Persist the request in its initial state.
	created, err := Step(ctx, exec, "create-request", func(ctx context.Context) (createStepResult, error) {
		req, err := s.Requests.Create(ctx, leave.LeaveRequest{
			UserID:     in.RequesterID,
			LeaveType:  in.LeaveType,
			StartDate:  in.StartDate,
			EndDate:    in.EndDate,
			Reason:     in.Reason,
			Status:     leave.StatusPendingApproval,
			InstanceID: instanceID,
		})
		if err != nil {
			return createStepResult{}, err
		}
		s.audit(ctx, "createLeaveRequestRecord", in.RequesterID, req.ID, map[string]any{
			"userId":     in.RequesterID,
			"leaveType":  string(in.LeaveType),
			"instanceId": instanceID,
		})
		return createStepResult{Request: req}, nil
	})
	if err != nil {
		return Result{}, err
	}
	requestID := created.Request.ID
	log = log.With(zap.String("request", requestID))

	// Hold the balance before asking anyone to approve.
	reserve, err := Step(ctx, exec, "reserve-balance", func(ctx context.Context) (reserveStepResult, error) {
		ok, err := s.Ledger.Reserve(ctx, in.RequesterID, in.LeaveType, days)
		if err != nil {
			return reserveStepResult{}, err
		}
		s.audit(ctx, "checkAndReserveLeaveBalance", in.RequesterID, requestID, map[string]any{
			"leaveType": string(in.LeaveType),
			"days":      days,
			"reserved":  ok,
		})
		return reserveStepResult{Reserved: ok, Days: days}, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !reserve.Reserved {
		if err := s.markStatus(ctx, exec, "mark-rejected-insufficient", requestID, leave.StatusRejected, ""); err != nil {
			return Result{}, err
		}
		log.Info("leave request rejected: insufficient balance",
			zap.String("user", in.RequesterID),
			zap.Int("days", days))
		return Result{Status: leave.StatusRejected, RequestID: requestID}, nil
	}

	// Fire-and-forget from the saga's perspective: delivery failures are
	// the notifier's problem, not a saga failure.
	if _, err := Step(ctx, exec, "notify-manager", func(ctx context.Context) (bool, error) {
		n := leave.ManagerNotification{
			ManagerEmail:  manager.User.Email,
			RequesterName: requester.User.Name,
			LeaveType:     in.LeaveType,
			StartDate:     in.StartDate,
			EndDate:       in.EndDate,
			Reason:        in.Reason,
			RequestID:     requestID,
		}
		if err := s.Notifier.NotifyManager(ctx, n); err != nil {
			log.Warn("manager notification failed", zap.Error(err))
			return false, nil
		}
		s.audit(ctx, "sendEmailToManager", "", requestID, map[string]any{
			"managerEmail": manager.User.Email,
		})
		return true, nil
	}); err != nil {
		return Result{}, err
	}

	// Suspend until a decision is latched or the ceiling elapses.
	wait, err := Step(ctx, exec, "await-decision", func(ctx context.Context) (waitStepResult, error) {
		sig, received, err := s.Signals.await(ctx, instanceID, s.timeout())
		if err != nil {
			return waitStepResult{}, err
		}
		return waitStepResult{Received: received, Decision: sig.Decision, ApproverID: sig.ApproverID}, nil
	})
	if err != nil {
		return Result{}, err
	}

	if !wait.Received {
		if err := s.rollback(ctx, exec, "rollback-on-timeout", in, requestID, days); err != nil {
			return Result{}, err
		}
		if err := s.markStatus(ctx, exec, "mark-rejected-timeout", requestID, leave.StatusRejected, ""); err != nil {
			return Result{}, err
		}
		if err := s.notifyRequester(ctx, exec, "notify-requester-timeout", requester.User, in, leave.OutcomeTimedOut); err != nil {
			return Result{}, err
		}
		log.Info("leave request rejected: approval timed out")
		return Result{Status: leave.StatusRejected, RequestID: requestID}, nil
	}

	if wait.ApproverID == "" {
		return Result{}, fmt.Errorf("instance %s: %w", instanceID, leave.ErrMissingApprover)
	}

	// Authorization is checked against live directory state, only now
	// that the approving identity is known.
	permitted, err := Step(ctx, exec, "validate-permission", func(ctx context.Context) (bool, error) {
		ok, err := leave.ValidateApproverPermission(ctx, s.Directory, wait.ApproverID, in.RequesterID)
		if err != nil {
			return false, err
		}
		s.audit(ctx, "validateApproverPermission", wait.ApproverID, requestID, map[string]any{
			"approverId": wait.ApproverID,
			"employeeId": in.RequesterID,
			"permitted":  ok,
		})
		return ok, nil
	})
	if err != nil {
		return Result{}, err
	}
	if !permitted {
		if err := s.rollback(ctx, exec, "rollback-on-denial", in, requestID, days); err != nil {
			return Result{}, err
		}
		if err := s.markStatus(ctx, exec, "mark-rejected-denied", requestID, leave.StatusRejected, ""); err != nil {
			return Result{}, err
		}
		log.Warn("decision from unauthorized approver",
			zap.String("approver", wait.ApproverID))
		return Result{}, fmt.Errorf("approver %s for requester %s: %w",
			wait.ApproverID, in.RequesterID, leave.ErrPermissionDenied)
	}

	var status leave.LeaveStatus
	var outcome leave.Outcome
	if wait.Decision == leave.DecisionApprove {
		if _, err := Step(ctx, exec, "commit-deduction", func(ctx context.Context) (bool, error) {
			if err := s.Ledger.Commit(ctx, in.RequesterID, in.LeaveType, days); err != nil {
				return false, err
			}
			s.audit(ctx, "commitLeaveDeduction", wait.ApproverID, requestID, map[string]any{
				"leaveType": string(in.LeaveType),
				"days":      days,
			})
			return true, nil
		}); err != nil {
			return Result{}, err
		}
		if err := s.markStatus(ctx, exec, "mark-approved", requestID, leave.StatusApproved, wait.ApproverID); err != nil {
			return Result{}, err
		}
		status = leave.StatusApproved
		outcome = leave.OutcomeApproved
	} else {
		if err := s.rollback(ctx, exec, "rollback-on-reject", in, requestID, days); err != nil {
			return Result{}, err
		}
		if err := s.markStatus(ctx, exec, "mark-rejected", requestID, leave.StatusRejected, wait.ApproverID); err != nil {
			return Result{}, err
		}
		status = leave.StatusRejected
		outcome = leave.OutcomeRejected
	}

	if err := s.notifyRequester(ctx, exec, "notify-requester", requester.User, in, outcome); err != nil {
		return Result{}, err
	}

	log.Info("leave application decided",
		zap.String("status", string(status)),
		zap.String("approver", wait.ApproverID))
	return Result{Status: status, RequestID: requestID}, nil
}

// =============================================================================
// STEP HELPERS
// =============================================================================

func (s *Saga) rollback(ctx context.Context, exec *Execution, step string, in Input, requestID string, days int) error {
	_, err := Step(ctx, exec, step, func(ctx context.Context) (bool, error) {
		if err := s.Ledger.Rollback(ctx, in.RequesterID, in.LeaveType, days); err != nil {
			return false, err
		}
		s.audit(ctx, "rollbackLeaveReservation", "", requestID, map[string]any{
			"leaveType": string(in.LeaveType),
			"days":      days,
		})
		return true, nil
	})
	return err
}

func (s *Saga) markStatus(ctx context.Context, exec *Execution, step, requestID string, status leave.LeaveStatus, approverID string) error {
	_, err := Step(ctx, exec, step, func(ctx context.Context) (bool, error) {
		if err := s.Requests.UpdateStatus(ctx, requestID, status, approverID); err != nil {
			return false, err
		}
		s.audit(ctx, "updateLeaveRequestStatus", approverID, requestID, map[string]any{
			"status":     string(status),
			"approverId": approverID,
		})
		return true, nil
	})
	return err
}

func (s *Saga) notifyRequester(ctx context.Context, exec *Execution, step string, requester leave.User, in Input, outcome leave.Outcome) error {
	_, err := Step(ctx, exec, step, func(ctx context.Context) (bool, error) {
		n := leave.RequesterNotification{
			RequesterEmail: requester.Email,
			Outcome:        outcome,
			LeaveType:      in.LeaveType,
			StartDate:      in.StartDate,
			EndDate:        in.EndDate,
		}
		if err := s.Notifier.NotifyRequester(ctx, n); err != nil {
			s.logger().Warn("requester notification failed",
				zap.String("instance", exec.InstanceID()),
				zap.Error(err))
			return false, nil
		}
		s.audit(ctx, "sendEmailToEmployee", "", "", map[string]any{
			"employeeEmail": requester.Email,
			"outcome":       string(outcome),
		})
		return true, nil
	})
	return err
}

// audit appends to the observability side-channel. Failures are logged
// and swallowed: the audit trail is never a dependency of correctness.
func (s *Saga) audit(ctx context.Context, action, actorID, requestID string, details map[string]any) {
	if s.Audit == nil {
		return
	}
	entry := leave.AuditEntry{
		Timestamp: time.Now().UTC(),
		Action:    action,
		ActorID:   actorID,
		RequestID: requestID,
		Details:   details,
	}
	if err := s.Audit.Append(ctx, entry); err != nil {
		s.logger().Warn("audit append failed",
			zap.String("action", action),
			zap.Error(err))
	}
}

func (s *Saga) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultApprovalTimeout
}

func (s *Saga) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
