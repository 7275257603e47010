package events

import (
	"testing"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/security"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobDispatched_WorkflowID(t *testing.T) {
	workflowJob := &models.Job{ID: "wf-1", Operation: models.JobOperationStartWorkflow}
	assert.Equal(t, "wf-1", NewJobDispatched(workflowJob, 0).WorkflowID)

	operationJob := &models.Job{ID: "job-2", Operation: models.JobOperationStartOperation, Arguments: []string{"wf-1", "op-1"}}
	event := NewJobDispatched(operationJob, 2)
	assert.Equal(t, "wf-1", event.WorkflowID)
	assert.Equal(t, 2, event.Attempt)
	assert.Equal(t, JobDispatchedEvent, event.GetType())
}

func TestWorkflowOperationChanged_CurrentOperation(t *testing.T) {
	def := &models.WorkflowDefinition{
		ID:         "publish",
		Operations: []models.OperationDefinition{{Template: "inspect"}, {Template: "encode"}},
	}
	wi := models.NewWorkflowInstance(def, &models.MediaPackage{ID: "mp-1"}, security.User{Username: "alice", Organization: "org"}, nil)
	wi.ID = "wf-1"
	wi.Operations[0].State = models.OperationStateSucceeded

	event := NewWorkflowOperationChanged(wi)
	assert.Equal(t, "encode", event.Template)
	assert.Equal(t, "mp-1", event.MediaPackageID)
	assert.Equal(t, "org", event.Organization)

	data, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"workflow.operation.changed"`)
	assert.Contains(t, string(data), `"template":"encode"`)
}

func TestWorkflowStateChanged(t *testing.T) {
	wi := &models.WorkflowInstance{ID: "wf-1", State: models.WorkflowStateSucceeded}

	event := NewWorkflowStateChanged(wi, models.WorkflowStateRunning)
	assert.Equal(t, models.WorkflowStateRunning, event.PreviousState)
	assert.Equal(t, models.WorkflowStateSucceeded, event.State)
	assert.Equal(t, WorkflowStateChangedEvent, event.GetType())
}
