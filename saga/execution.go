/*
Package saga implements the durable leave approval saga.

PURPOSE:
  The saga sequences the approval steps (directory lookup, request
  creation, balance reservation, manager notification, decision wait,
  permission validation, commit or compensation) as one logically
  single-threaded state machine per leave application. Many instances
  run concurrently; the balance ledger is the only shared resource.

DURABILITY MODEL (this file, execution.go):
  Every step that performs an external side effect runs through an
  Execution, which appends the step's outcome to an append-only
  history keyed by the saga instance id. When a Run is started again
  for the same instance - after a crash or a transient step failure -
  recorded steps return their recorded results WITHOUT re-invoking
  their effects, so the control flow re-derives identical decisions
  from identical recorded outcomes.

  Replay rules:
  1. Steps are matched strictly in order and by name. A mismatch means
     the orchestration code branched differently than the recorded
     run - that is a bug, reported as ErrHistoryMismatch.
  2. Only completed outcomes are recorded. A step that fails is
     re-executed on the next Run, which is what gives each step
     at-least-once semantics.
  3. Non-deterministic values (ids, timestamps, the decision signal)
     are captured inside a step, never read directly by decision
     logic.

SEE ALSO:
  - approval.go: The orchestration itself
  - signal.go: Decision delivery into a waiting instance
*/
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// =============================================================================
// STEP HISTORY
// =============================================================================

// ErrHistoryMismatch is returned when a replayed execution requests a
// step that differs from the recorded one. Indicates non-deterministic
// orchestration code, never a transient condition.
var ErrHistoryMismatch = errors.New("recorded history does not match execution")

// StepOutcome is one completed step of a saga instance.
type StepOutcome struct {
	InstanceID string
	Seq        int
	Step       string
	Result     json.RawMessage
	RecordedAt time.Time
}

// HistoryStore persists step outcomes. Append-only per instance;
// outcomes load back in Seq order.
type HistoryStore interface {
	Append(ctx context.Context, outcome StepOutcome) error
	Load(ctx context.Context, instanceID string) ([]StepOutcome, error)
}

// =============================================================================
// EXECUTION - Record-or-replay step runner
// =============================================================================

// Execution runs one saga instance's steps against its history.
type Execution struct {
	instanceID string
	history    HistoryStore
	recorded   []StepOutcome
	cursor     int
	logger     *zap.Logger
}

// NewExecution loads any prior history for the instance. A fresh
// instance starts with an empty history and records as it goes.
func NewExecution(ctx context.Context, history HistoryStore, instanceID string, logger *zap.Logger) (*Execution, error) {
	recorded, err := history.Load(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", instanceID, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Execution{
		instanceID: instanceID,
		history:    history,
		recorded:   recorded,
		logger:     logger,
	}, nil
}

// InstanceID returns the saga instance this execution belongs to.
func (e *Execution) InstanceID() string { return e.instanceID }

// Replaying reports whether the next step would come from history.
func (e *Execution) Replaying() bool { return e.cursor < len(e.recorded) }

// Step runs fn exactly once per instance: if the step at the current
// position is already recorded, its result is returned without calling
// fn. Otherwise fn runs, and on success its result is appended to the
// history before being returned. fn's error aborts the Run without
// recording, so the next Run resumes at this step.
func Step[T any](ctx context.Context, e *Execution, name string, fn func(context.Context) (T, error)) (T, error) {
	var zero T

	if e.cursor < len(e.recorded) {
		rec := e.recorded[e.cursor]
		if rec.Step != name {
			return zero, fmt.Errorf("step %d: recorded %q, executing %q: %w",
				e.cursor, rec.Step, name, ErrHistoryMismatch)
		}
		var v T
		if err := json.Unmarshal(rec.Result, &v); err != nil {
			return zero, fmt.Errorf("replay step %q: %w", name, err)
		}
		e.cursor++
		e.logger.Debug("replayed step",
			zap.String("instance", e.instanceID),
			zap.String("step", name),
			zap.Int("seq", rec.Seq))
		return v, nil
	}

	v, err := fn(ctx)
	if err != nil {
		return zero, fmt.Errorf("step %q: %w", name, err)
	}

	raw, err := json.Marshal(v)
	if err != nil {
		return zero, fmt.Errorf("record step %q: %w", name, err)
	}
	outcome := StepOutcome{
		InstanceID: e.instanceID,
		Seq:        e.cursor,
		Step:       name,
		Result:     raw,
		RecordedAt: time.Now().UTC(),
	}
	if err := e.history.Append(ctx, outcome); err != nil {
		// The effect already ran; the next Run will execute it again.
		// For a non-idempotent step (reserve-balance) that means a
		// duplicate hold with no compensating release - flag it for an
		// operator.
		e.logger.Error("step completed but its outcome could not be recorded; a rerun will re-execute the effect",
			zap.String("instance", e.instanceID),
			zap.String("step", name),
			zap.Error(err))
		return zero, fmt.Errorf("record step %q: %w", name, err)
	}
	e.recorded = append(e.recorded, outcome)
	e.cursor++
	return v, nil
}
