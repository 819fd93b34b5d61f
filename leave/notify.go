/*
notify.go - Notification sender contract

PURPOSE:
  Notifications are fire-and-forget from the saga's control-flow
  perspective: a delivery failure is logged and the saga proceeds.
  Durability is the sender's own problem - implementations retry with
  backoff until delivered or permanently failed (see notify.Retry).

TIMEOUT NOTIFICATION:
  Outcome carries TIMED_OUT in addition to APPROVED/REJECTED: the
  requester is told when their request expires undecided, not just
  when someone acts on it.
*/
package leave

import (
	"context"
	"time"
)

// Outcome is what the requester is told about their request. It is a
// superset of Decision: a timeout produces a notification without a
// deciding actor.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomeTimedOut Outcome = "TIMED_OUT"
)

// ManagerNotification asks a manager to decide a pending request.
type ManagerNotification struct {
	ManagerEmail  string
	RequesterName string
	LeaveType     LeaveType
	StartDate     time.Time
	EndDate       time.Time
	Reason        string
	RequestID     string
}

// RequesterNotification tells a requester how their request ended.
type RequesterNotification struct {
	RequesterEmail string
	Outcome        Outcome
	LeaveType      LeaveType
	StartDate      time.Time
	EndDate        time.Time
}

// Notifier delivers manager and requester notifications.
type Notifier interface {
	NotifyManager(ctx context.Context, n ManagerNotification) error
	NotifyRequester(ctx context.Context, n RequesterNotification) error
}
