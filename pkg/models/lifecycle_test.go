package models

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowInstance_Fire(t *testing.T) {
	tests := []struct {
		name    string
		from    WorkflowState
		trigger WorkflowTrigger
		want    WorkflowState
		wantErr bool
	}{
		{name: "start", from: WorkflowStateInstantiated, trigger: TriggerStart, want: WorkflowStateRunning},
		{name: "pause running", from: WorkflowStateRunning, trigger: TriggerPause, want: WorkflowStatePaused},
		{name: "pause failing", from: WorkflowStateFailing, trigger: TriggerPause, want: WorkflowStatePaused},
		{name: "resume", from: WorkflowStatePaused, trigger: TriggerResume, want: WorkflowStateRunning},
		{name: "succeed", from: WorkflowStateRunning, trigger: TriggerSucceed, want: WorkflowStateSucceeded},
		{name: "failing", from: WorkflowStateRunning, trigger: TriggerFailing, want: WorkflowStateFailing},
		{name: "failing again is ignored", from: WorkflowStateFailing, trigger: TriggerFailing, want: WorkflowStateFailing},
		{name: "catch workflow exhausted", from: WorkflowStateFailing, trigger: TriggerFail, want: WorkflowStateFailed},
		{name: "stop paused", from: WorkflowStatePaused, trigger: TriggerStop, want: WorkflowStateStopped},
		{name: "stop stopped is ignored", from: WorkflowStateStopped, trigger: TriggerStop, want: WorkflowStateStopped},
		{name: "stop succeeded is ignored", from: WorkflowStateSucceeded, trigger: TriggerStop, want: WorkflowStateSucceeded},
		{name: "resume running is ignored", from: WorkflowStateRunning, trigger: TriggerResume, want: WorkflowStateRunning},
		{name: "cannot succeed from failing", from: WorkflowStateFailing, trigger: TriggerSucceed, wantErr: true},
		{name: "cannot restart succeeded", from: WorkflowStateSucceeded, trigger: TriggerStart, wantErr: true},
		{name: "cannot resume stopped", from: WorkflowStateStopped, trigger: TriggerResume, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wi := &WorkflowInstance{ID: "wf", State: tt.from}

			err := wi.Fire(context.Background(), tt.trigger)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrIllegalTransition)
				assert.Equal(t, tt.from, wi.State)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, wi.State)
		})
	}
}

func TestWorkflowInstance_FireSetsDateCompleted(t *testing.T) {
	wi := &WorkflowInstance{ID: "wf", State: WorkflowStateRunning}

	require.NoError(t, wi.Fire(context.Background(), TriggerSucceed))
	require.NotNil(t, wi.DateCompleted)
}

func TestWorkflowInstance_CanFire(t *testing.T) {
	wi := &WorkflowInstance{State: WorkflowStateSucceeded}

	assert.True(t, wi.CanFire(context.Background(), TriggerStop))
	assert.False(t, wi.CanFire(context.Background(), TriggerResume))
	assert.Equal(t, WorkflowStateSucceeded, wi.State)
}
