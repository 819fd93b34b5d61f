/*
Package notify implements the notification senders.

PURPOSE:
  The saga treats notification as fire-and-forget: a failed delivery
  is logged and the application proceeds. Durability lives here
  instead - Retry wraps any sender with bounded backoff and logs a
  permanent failure loudly rather than escalating it.

SENDERS:
  LogSender: renders the notification as structured log fields. This
             is the default delivery in development; a real SMTP or
             provider-backed sender implements the same interface.
  Retry:     decorator adding attempts with doubling backoff.
*/
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// =============================================================================
// LOG SENDER
// =============================================================================

// LogSender delivers notifications to the log stream.
type LogSender struct {
	Logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{Logger: logger}
}

func (s *LogSender) NotifyManager(_ context.Context, n leave.ManagerNotification) error {
	s.Logger.Info("notify manager: approval required",
		zap.String("to", n.ManagerEmail),
		zap.String("requester", n.RequesterName),
		zap.String("leaveType", string(n.LeaveType)),
		zap.String("start", leave.FormatDate(n.StartDate)),
		zap.String("end", leave.FormatDate(n.EndDate)),
		zap.String("reason", n.Reason),
		zap.String("request", n.RequestID))
	return nil
}

func (s *LogSender) NotifyRequester(_ context.Context, n leave.RequesterNotification) error {
	s.Logger.Info("notify requester: request decided",
		zap.String("to", n.RequesterEmail),
		zap.String("outcome", string(n.Outcome)),
		zap.String("leaveType", string(n.LeaveType)),
		zap.String("start", leave.FormatDate(n.StartDate)),
		zap.String("end", leave.FormatDate(n.EndDate)))
	return nil
}

// =============================================================================
// RETRY DECORATOR
// =============================================================================

// Retry wraps a sender with bounded retry and doubling backoff. A
// permanently failed delivery is logged, and the last error returned,
// for the caller to log in turn - never escalated into the saga.
type Retry struct {
	Next     leave.Notifier
	Attempts int           // total tries; 0 means 3
	Backoff  time.Duration // initial delay; 0 means 500ms
	Logger   *zap.Logger
}

func (r *Retry) attempts() int {
	if r.Attempts > 0 {
		return r.Attempts
	}
	return 3
}

func (r *Retry) backoff() time.Duration {
	if r.Backoff > 0 {
		return r.Backoff
	}
	return 500 * time.Millisecond
}

func (r *Retry) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

func (r *Retry) NotifyManager(ctx context.Context, n leave.ManagerNotification) error {
	return r.deliver(ctx, "manager", n.ManagerEmail, func() error {
		return r.Next.NotifyManager(ctx, n)
	})
}

func (r *Retry) NotifyRequester(ctx context.Context, n leave.RequesterNotification) error {
	return r.deliver(ctx, "requester", n.RequesterEmail, func() error {
		return r.Next.NotifyRequester(ctx, n)
	})
}

func (r *Retry) deliver(ctx context.Context, kind, to string, send func() error) error {
	delay := r.backoff()
	var lastErr error

	for attempt := 1; attempt <= r.attempts(); attempt++ {
		lastErr = send()
		if lastErr == nil {
			return nil
		}
		r.logger().Warn("notification delivery failed",
			zap.String("kind", kind),
			zap.String("to", to),
			zap.Int("attempt", attempt),
			zap.Error(lastErr))

		if attempt == r.attempts() {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay *= 2
	}

	r.logger().Error("notification permanently failed",
		zap.String("kind", kind),
		zap.String("to", to),
		zap.Int("attempts", r.attempts()),
		zap.Error(lastErr))
	return lastErr
}
