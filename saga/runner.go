/*
runner.go - Background execution of saga instances

PURPOSE:
  Each leave application runs as its own goroutine, detached from the
  HTTP request that started it: the submitter gets the instance id
  back immediately and polls the request store for the outcome, while
  the saga keeps waiting for the manager's decision.

  Runs use the runner's base context, not the caller's, so a closed
  HTTP connection never cancels an in-flight application. Shutdown
  cancels the base context and waits for every instance to unwind.
*/
package saga

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// Runner starts and tracks saga instances.
type Runner struct {
	saga   *Saga
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner whose instances live until Shutdown.
func NewRunner(s *Saga, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{saga: s, logger: logger, ctx: ctx, cancel: cancel}
}

// Start launches one leave application and returns its instance id.
func (r *Runner) Start(in Input) string {
	instanceID := NewInstanceID(in.RequesterID)
	r.launch(instanceID, in)
	return instanceID
}

// ResumeInterrupted re-runs every request a previous process left in
// PENDING_APPROVAL: those instances replay their recorded history and
// carry on from the step that was interrupted, waiting out a fresh
// decision ceiling. Returns how many instances were resumed.
//
// A run interrupted before its request row was recorded leaves nothing
// to resume - and nothing to compensate, since the balance reservation
// comes after that step.
func (r *Runner) ResumeInterrupted(ctx context.Context) (int, error) {
	requests, err := r.saga.Requests.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list requests for resume: %w", err)
	}

	resumed := 0
	for _, req := range requests {
		if req.Status != leave.StatusPendingApproval || req.InstanceID == "" {
			continue
		}
		r.logger.Info("resuming interrupted saga",
			zap.String("instance", req.InstanceID),
			zap.String("request", req.ID))
		r.launch(req.InstanceID, Input{
			RequesterID: req.UserID,
			LeaveType:   req.LeaveType,
			StartDate:   req.StartDate,
			EndDate:     req.EndDate,
			Reason:      req.Reason,
		})
		resumed++
	}
	return resumed, nil
}

func (r *Runner) launch(instanceID string, in Input) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		res, err := r.saga.Run(r.ctx, instanceID, in)
		switch {
		case errors.Is(err, context.Canceled):
			r.logger.Info("saga interrupted by shutdown", zap.String("instance", instanceID))
		case err != nil:
			r.logger.Error("saga failed",
				zap.String("instance", instanceID),
				zap.Error(err))
		default:
			r.logger.Info("saga completed",
				zap.String("instance", instanceID),
				zap.String("request", res.RequestID),
				zap.String("status", string(res.Status)))
		}
	}()
}

// Shutdown cancels all in-flight instances and waits for them to stop.
// Instances interrupted mid-wait resume from history on restart.
func (r *Runner) Shutdown() {
	r.cancel()
	r.wg.Wait()
}

// Wait blocks until every started instance has finished, without
// cancelling them. Useful in tests and batch tooling.
func (r *Runner) Wait() {
	r.wg.Wait()
}
