/*
signal.go - Decision delivery into a waiting saga instance

PURPOSE:
  Models the approval signal as a single-slot mailbox per saga
  instance plus a cancellable timer: the waiting saga blocks on
  "first of {decision, timer}" rather than polling.

SEMANTICS:
  - SignalDecision fails with ErrInstanceNotFound when no instance
    with that id is currently waiting (already decided, already timed
    out, or never existed).
  - The first decision observed by the waiting saga is latched. Later
    decisions for a still-registered instance are accepted without
    error and have no effect.
  - A decision and the timeout firing at the same instant resolve to
    decision-wins: the mailbox is polled once more after timer expiry
    before the timeout is declared.
*/
package saga

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/leave-engine/leave"
)

// DecisionSignal is the transient approve/reject message delivered to
// one saga instance.
type DecisionSignal struct {
	Decision   leave.Decision
	ApproverID string
}

type mailbox struct {
	ch chan DecisionSignal // capacity 1: the latch
}

// Registry routes decision signals to waiting saga instances by their
// stable instance id.
type Registry struct {
	mu      sync.Mutex
	waiting map[string]*mailbox
	logger  *zap.Logger
}

// NewRegistry creates an empty signal registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{waiting: make(map[string]*mailbox), logger: logger}
}

// SignalDecision delivers a decision to the instance, or returns
// leave.ErrInstanceNotFound when nothing with that id is waiting.
// A second decision for a waiting instance is accepted and dropped.
//
// A nil return means the decision was handed to a registered mailbox,
// not that the saga observed it: the wait can be timing out or
// shutting down concurrently, in which case the decision is dropped
// after acceptance. Callers needing certainty read the request's
// terminal status.
func (r *Registry) SignalDecision(instanceID string, sig DecisionSignal) error {
	r.mu.Lock()
	mb, ok := r.waiting[instanceID]
	r.mu.Unlock()
	if !ok {
		return leave.ErrInstanceNotFound
	}

	select {
	case mb.ch <- sig:
		r.logger.Info("decision signal delivered",
			zap.String("instance", instanceID),
			zap.String("decision", string(sig.Decision)),
			zap.String("approver", sig.ApproverID))
	default:
		// Already latched. Accepted, no effect.
		r.logger.Info("decision signal ignored, already latched",
			zap.String("instance", instanceID),
			zap.String("approver", sig.ApproverID))
	}
	return nil
}

// Waiting reports whether the instance is currently registered.
func (r *Registry) Waiting(instanceID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.waiting[instanceID]
	return ok
}

func (r *Registry) register(instanceID string) *mailbox {
	r.mu.Lock()
	defer r.mu.Unlock()
	mb := &mailbox{ch: make(chan DecisionSignal, 1)}
	r.waiting[instanceID] = mb
	return mb
}

func (r *Registry) deregister(instanceID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.waiting, instanceID)
}

// await blocks until a decision is latched or the timeout elapses,
// whichever happens first. The instance is registered only for the
// duration of the wait.
func (r *Registry) await(ctx context.Context, instanceID string, timeout time.Duration) (DecisionSignal, bool, error) {
	mb := r.register(instanceID)
	defer r.deregister(instanceID)
	return waitOn(ctx, mb, timeout)
}

func waitOn(ctx context.Context, mb *mailbox, timeout time.Duration) (DecisionSignal, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case sig := <-mb.ch:
		return sig, true, nil
	case <-timer.C:
		// Decision-wins when both became ready together.
		select {
		case sig := <-mb.ch:
			return sig, true, nil
		default:
			return DecisionSignal{}, false, nil
		}
	case <-ctx.Done():
		return DecisionSignal{}, false, ctx.Err()
	}
}
