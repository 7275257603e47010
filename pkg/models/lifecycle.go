package models

import (
	"context"
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"
)

// WorkflowTrigger drives a workflow instance from one state to the next.
type WorkflowTrigger string

const (
	TriggerStart   WorkflowTrigger = "start"
	TriggerPause   WorkflowTrigger = "pause"
	TriggerResume  WorkflowTrigger = "resume"
	TriggerSucceed WorkflowTrigger = "succeed"
	TriggerFailing WorkflowTrigger = "failing"
	TriggerFail    WorkflowTrigger = "fail"
	TriggerStop    WorkflowTrigger = "stop"
)

// ErrIllegalTransition is returned when a trigger is not permitted in the current state.
var ErrIllegalTransition = errors.New("illegal workflow state transition")

// Fire applies trigger to the instance state. Triggers that are ignored in the
// current state leave it untouched and return nil.
func (w *WorkflowInstance) Fire(ctx context.Context, trigger WorkflowTrigger) error {
	machine := newLifecycle(w)

	err := machine.FireCtx(ctx, trigger)
	if err != nil {
		return fmt.Errorf("%w: %s on %s workflow %s: %w", ErrIllegalTransition, trigger, w.State, w.ID, err)
	}

	if w.State.IsTerminated() && w.DateCompleted == nil {
		now := Now()
		w.DateCompleted = &now
	}

	return nil
}

// CanFire reports whether trigger is permitted or ignored in the current state.
func (w *WorkflowInstance) CanFire(ctx context.Context, trigger WorkflowTrigger) bool {
	candidate := &WorkflowInstance{State: w.State}

	return newLifecycle(candidate).FireCtx(ctx, trigger) == nil
}

func newLifecycle(w *WorkflowInstance) *stateless.StateMachine {
	machine := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return w.State, nil
		},
		func(_ context.Context, state stateless.State) error {
			next, ok := state.(WorkflowState)
			if !ok {
				return fmt.Errorf("unexpected state type %T", state)
			}

			w.State = next

			return nil
		},
		stateless.FiringImmediate,
	)

	machine.Configure(WorkflowStateInstantiated).
		Permit(TriggerStart, WorkflowStateRunning).
		Permit(TriggerPause, WorkflowStatePaused).
		Permit(TriggerFail, WorkflowStateFailed).
		Permit(TriggerStop, WorkflowStateStopped)

	machine.Configure(WorkflowStateRunning).
		Permit(TriggerPause, WorkflowStatePaused).
		Permit(TriggerSucceed, WorkflowStateSucceeded).
		Permit(TriggerFailing, WorkflowStateFailing).
		Permit(TriggerFail, WorkflowStateFailed).
		Permit(TriggerStop, WorkflowStateStopped).
		Ignore(TriggerStart).
		Ignore(TriggerResume)

	machine.Configure(WorkflowStateFailing).
		Permit(TriggerPause, WorkflowStatePaused).
		Permit(TriggerFail, WorkflowStateFailed).
		Permit(TriggerStop, WorkflowStateStopped).
		Ignore(TriggerFailing).
		Ignore(TriggerResume)

	machine.Configure(WorkflowStatePaused).
		Permit(TriggerResume, WorkflowStateRunning).
		Permit(TriggerFail, WorkflowStateFailed).
		Permit(TriggerStop, WorkflowStateStopped).
		Ignore(TriggerPause)

	machine.Configure(WorkflowStateStopped).
		Ignore(TriggerStop)

	machine.Configure(WorkflowStateSucceeded).
		Ignore(TriggerStop)

	machine.Configure(WorkflowStateFailed).
		Ignore(TriggerStop).
		Ignore(TriggerFail)

	return machine
}
