package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/leave-engine/leave"
)

// Internal tests: exercise the mailbox/timer race directly.

func TestSignal_NoWaitingInstance_NotFound(t *testing.T) {
	r := NewRegistry(nil)

	err := r.SignalDecision("ghost", DecisionSignal{Decision: leave.DecisionApprove, ApproverID: "u2"})
	assert.ErrorIs(t, err, leave.ErrInstanceNotFound)
}

func TestSignal_FirstDecisionLatched_LaterOnesIgnored(t *testing.T) {
	// GIVEN: A registered instance
	// WHEN: Two decisions arrive before the saga observes any
	// THEN: Both are accepted; only the first is latched

	r := NewRegistry(nil)
	mb := r.register("inst-1")
	defer r.deregister("inst-1")

	require.NoError(t, r.SignalDecision("inst-1", DecisionSignal{Decision: leave.DecisionApprove, ApproverID: "u2"}))
	require.NoError(t, r.SignalDecision("inst-1", DecisionSignal{Decision: leave.DecisionReject, ApproverID: "u3"}))

	sig := <-mb.ch
	assert.Equal(t, leave.DecisionApprove, sig.Decision)
	assert.Equal(t, "u2", sig.ApproverID)

	select {
	case extra := <-mb.ch:
		t.Fatalf("second decision should have been dropped, got %+v", extra)
	default:
	}
}

func TestAwait_DecisionBeforeTimeout(t *testing.T) {
	r := NewRegistry(nil)

	done := make(chan struct{})
	var sig DecisionSignal
	var received bool
	go func() {
		defer close(done)
		sig, received, _ = r.await(context.Background(), "inst-1", time.Minute)
	}()

	require.Eventually(t, func() bool { return r.Waiting("inst-1") },
		time.Second, time.Millisecond)
	require.NoError(t, r.SignalDecision("inst-1", DecisionSignal{Decision: leave.DecisionReject, ApproverID: "u2"}))

	<-done
	assert.True(t, received)
	assert.Equal(t, leave.DecisionReject, sig.Decision)
	assert.False(t, r.Waiting("inst-1"), "instance deregisters when the wait ends")
}

func TestAwait_TimeoutWithoutDecision(t *testing.T) {
	r := NewRegistry(nil)

	_, received, err := r.await(context.Background(), "inst-1", 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, received)
	assert.False(t, r.Waiting("inst-1"))
}

func TestAwait_DecisionWinsAtExpiry(t *testing.T) {
	// GIVEN: A zero timeout (the timer is already expired) and a
	//        decision sitting in the mailbox
	// THEN: The decision wins - the mailbox is polled before the
	//       timeout is declared

	mb := &mailbox{ch: make(chan DecisionSignal, 1)}
	mb.ch <- DecisionSignal{Decision: leave.DecisionApprove, ApproverID: "u2"}

	sig, received, err := waitOn(context.Background(), mb, 0)
	require.NoError(t, err)
	assert.True(t, received)
	assert.Equal(t, leave.DecisionApprove, sig.Decision)
}

func TestAwait_ContextCancellation(t *testing.T) {
	r := NewRegistry(nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := r.await(ctx, "inst-1", time.Minute)
		done <- err
	}()

	require.Eventually(t, func() bool { return r.Waiting("inst-1") },
		time.Second, time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-done, context.Canceled)
}
