// Package events defines the messages exchanged over the event bus.
package events

import (
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic carries every mediaflow event.
const Topic = "mediaflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// JobDispatchedEvent announces a job that is queued and dispatchable.
	JobDispatchedEvent EventType = "job.dispatched"

	// Workflow notifications published after a persisted change.
	WorkflowStateChangedEvent     EventType = "workflow.state.changed"
	WorkflowOperationChangedEvent EventType = "workflow.operation.changed"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// JobDispatched asks a worker to pick up a job.
type JobDispatched struct {
	BaseEvent

	JobID     string              `json:"job_id"`
	JobType   string              `json:"job_type"`
	Operation models.JobOperation `json:"operation"`
	Attempt   int                 `json:"attempt"`
}

func (j JobDispatched) GetType() EventType {
	return JobDispatchedEvent
}

// WorkflowStateChanged reports a new workflow state.
type WorkflowStateChanged struct {
	BaseEvent

	MediaPackageID string               `json:"mediapackage_id"`
	Organization   string               `json:"organization"`
	PreviousState  models.WorkflowState `json:"previous_state,omitempty"`
	State          models.WorkflowState `json:"state"`
}

func (w WorkflowStateChanged) GetType() EventType {
	return WorkflowStateChangedEvent
}

// WorkflowOperationChanged reports that the current operation moved.
type WorkflowOperationChanged struct {
	BaseEvent

	MediaPackageID string                `json:"mediapackage_id"`
	Organization   string                `json:"organization"`
	OperationID    string                `json:"operation_id,omitempty"`
	Template       string                `json:"template,omitempty"`
	OperationState models.OperationState `json:"operation_state,omitempty"`
}

func (w WorkflowOperationChanged) GetType() EventType {
	return WorkflowOperationChangedEvent
}

func NewBaseEvent(eventType EventType, workflowID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		Metadata:   make(map[string]any),
	}
}

// NewJobDispatched builds the dispatch announcement for job.
func NewJobDispatched(job *models.Job, attempt int) *JobDispatched {
	return &JobDispatched{
		BaseEvent: NewBaseEvent(JobDispatchedEvent, workflowIDOf(job)),
		JobID:     job.ID,
		JobType:   job.JobType,
		Operation: job.Operation,
		Attempt:   attempt,
	}
}

// NewWorkflowStateChanged builds a state notification for wi.
func NewWorkflowStateChanged(wi *models.WorkflowInstance, previous models.WorkflowState) *WorkflowStateChanged {
	return &WorkflowStateChanged{
		BaseEvent:      NewBaseEvent(WorkflowStateChangedEvent, wi.ID),
		MediaPackageID: wi.MediaPackageID(),
		Organization:   wi.Organization,
		PreviousState:  previous,
		State:          wi.State,
	}
}

// NewWorkflowOperationChanged builds an operation notification for wi.
func NewWorkflowOperationChanged(wi *models.WorkflowInstance) *WorkflowOperationChanged {
	event := &WorkflowOperationChanged{
		BaseEvent:      NewBaseEvent(WorkflowOperationChangedEvent, wi.ID),
		MediaPackageID: wi.MediaPackageID(),
		Organization:   wi.Organization,
	}

	if op := wi.CurrentOperation(); op != nil {
		event.OperationID = op.ID
		event.Template = op.Template
		event.OperationState = op.State
	}

	return event
}

func workflowIDOf(job *models.Job) string {
	if job.Operation == models.JobOperationStartWorkflow {
		return job.ID
	}

	return job.Argument(0)
}
