package models

import (
	"maps"
	"slices"
	"time"

	"github.com/dukex/mediaflow/pkg/security"
)

type WorkflowState string

const (
	WorkflowStateInstantiated WorkflowState = "INSTANTIATED"
	WorkflowStateRunning      WorkflowState = "RUNNING"
	WorkflowStatePaused       WorkflowState = "PAUSED"
	WorkflowStateFailing      WorkflowState = "FAILING"
	WorkflowStateFailed       WorkflowState = "FAILED"
	WorkflowStateStopped      WorkflowState = "STOPPED"
	WorkflowStateSucceeded    WorkflowState = "SUCCEEDED"
)

// WorkflowStates lists every state in ordinal order.
var WorkflowStates = []WorkflowState{
	WorkflowStateInstantiated,
	WorkflowStateRunning,
	WorkflowStateStopped,
	WorkflowStatePaused,
	WorkflowStateSucceeded,
	WorkflowStateFailed,
	WorkflowStateFailing,
}

// IsTerminated reports whether the state is one of STOPPED, SUCCEEDED or FAILED.
func (s WorkflowState) IsTerminated() bool {
	switch s {
	case WorkflowStateStopped, WorkflowStateSucceeded, WorkflowStateFailed:
		return true
	default:
		return false
	}
}

// IsRunnable reports whether operations may execute in this state.
func (s WorkflowState) IsRunnable() bool {
	return s == WorkflowStateRunning || s == WorkflowStateFailing
}

// Ordinal is the numeric state written to the search index.
func (s WorkflowState) Ordinal() int {
	return slices.Index(WorkflowStates, s)
}

// MediaPackage is the snapshot of the resource a workflow runs against.
type MediaPackage struct {
	ID       string                     `json:"id"`
	Title    string                     `json:"title,omitempty"`
	SeriesID string                     `json:"series_id,omitempty"`
	Creators []string                   `json:"creators,omitempty"`
	ACL      security.AccessControlList `json:"acl"`
}

func (m *MediaPackage) Clone() *MediaPackage {
	if m == nil {
		return nil
	}

	clone := *m
	clone.Creators = slices.Clone(m.Creators)
	clone.ACL = m.ACL.Clone()

	return &clone
}

// WorkflowInstance is one run of a workflow definition against one media package.
// Its ID is shared with the dispatch job that started it.
type WorkflowInstance struct {
	ID            string               `json:"id"`
	Title         string               `json:"title,omitempty"`
	Description   string               `json:"description,omitempty"`
	Definition    *WorkflowDefinition  `json:"definition"`
	MediaPackage  *MediaPackage        `json:"media_package"`
	SeriesID      string               `json:"series_id,omitempty"`
	Creator       string               `json:"creator"`
	Organization  string               `json:"organization"`
	State         WorkflowState        `json:"state"`
	Operations    []*OperationInstance `json:"operations"`
	Configuration map[string]string    `json:"configuration,omitempty"`
	DateCreated   time.Time            `json:"date_created"`
	DateCompleted *time.Time           `json:"date_completed,omitempty"`
}

// NewWorkflowInstance instantiates def against mp. The caller assigns the ID.
func NewWorkflowInstance(def *WorkflowDefinition, mp *MediaPackage, creator security.User, configuration map[string]string) *WorkflowInstance {
	operations := make([]*OperationInstance, 0, len(def.Operations))
	for _, op := range def.Operations {
		operations = append(operations, NewOperationInstance(op))
	}

	config := maps.Clone(configuration)
	if config == nil {
		config = make(map[string]string)
	}

	wi := &WorkflowInstance{
		Title:         def.Title,
		Description:   def.Description,
		Definition:    def.Clone(),
		MediaPackage:  mp.Clone(),
		Creator:       creator.Username,
		Organization:  creator.Organization,
		State:         WorkflowStateInstantiated,
		Operations:    operations,
		Configuration: config,
		DateCreated:   Now(),
	}
	wi.renumber()

	return wi
}

// DefinitionID returns the identifier of the definition the instance was created from.
func (w *WorkflowInstance) DefinitionID() string {
	if w.Definition == nil {
		return ""
	}

	return w.Definition.ID
}

// MediaPackageID returns the identifier of the target media package.
func (w *WorkflowInstance) MediaPackageID() string {
	if w.MediaPackage == nil {
		return ""
	}

	return w.MediaPackage.ID
}

// CurrentOperation returns the first operation that is not done, or nil when
// every operation finished.
func (w *WorkflowInstance) CurrentOperation() *OperationInstance {
	for _, op := range w.Operations {
		if !op.State.IsDone() {
			return op
		}
	}

	return nil
}

// Operation returns the operation with the given stable id.
func (w *WorkflowInstance) Operation(id string) *OperationInstance {
	idx := w.IndexOf(id)
	if idx < 0 {
		return nil
	}

	return w.Operations[idx]
}

// IndexOf returns the position of the operation with the given id, or -1.
func (w *WorkflowInstance) IndexOf(id string) int {
	return slices.IndexFunc(w.Operations, func(op *OperationInstance) bool {
		return op.ID == id
	})
}

// InsertBefore splices op in front of the operation with id target. Operations
// keep their ids and job associations; only positions move.
func (w *WorkflowInstance) InsertBefore(target string, op *OperationInstance) bool {
	idx := w.IndexOf(target)
	if idx < 0 {
		return false
	}

	w.Operations = slices.Insert(w.Operations, idx, op)
	w.renumber()

	return true
}

// TruncateAfter drops every operation following the one with id target.
func (w *WorkflowInstance) TruncateAfter(target string) bool {
	idx := w.IndexOf(target)
	if idx < 0 {
		return false
	}

	w.Operations = slices.Clone(w.Operations[:idx+1])
	w.renumber()

	return true
}

// Append adds operations to the end of the list.
func (w *WorkflowInstance) Append(ops ...*OperationInstance) {
	w.Operations = append(w.Operations, ops...)
	w.renumber()
}

// HasFailedOperationFailingWorkflow reports whether any operation failed while
// configured to fail the workflow.
func (w *WorkflowInstance) HasFailedOperationFailingWorkflow() bool {
	return slices.ContainsFunc(w.Operations, func(op *OperationInstance) bool {
		return op.State == OperationStateFailed && op.FailOnError
	})
}

// JobIDs returns the workflow job id followed by every operation job id.
func (w *WorkflowInstance) JobIDs() []string {
	ids := []string{w.ID}

	for _, op := range w.Operations {
		if op.JobID != "" && !slices.Contains(ids, op.JobID) {
			ids = append(ids, op.JobID)
		}
	}

	return ids
}

func (w *WorkflowInstance) Clone() *WorkflowInstance {
	if w == nil {
		return nil
	}

	clone := *w
	clone.Definition = w.Definition.Clone()
	clone.MediaPackage = w.MediaPackage.Clone()
	clone.Configuration = maps.Clone(w.Configuration)
	clone.DateCompleted = cloneTime(w.DateCompleted)
	clone.Operations = make([]*OperationInstance, len(w.Operations))

	for i, op := range w.Operations {
		clone.Operations[i] = op.Clone()
	}

	return &clone
}

func (w *WorkflowInstance) renumber() {
	for i, op := range w.Operations {
		op.Position = i
	}
}

// Now returns the current UTC time truncated to microseconds, the precision every store keeps.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
