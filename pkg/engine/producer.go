package engine

import (
	"context"
	"fmt"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
)

func (e *Engine) JobType() string {
	return models.JobTypeWorkflow
}

// IsReadyToAccept declines to start a workflow while another workflow is active
// on the same media package. Declined jobs are remembered until accepted.
func (e *Engine) IsReadyToAccept(ctx context.Context, job *models.Job) (bool, error) {
	if job.Operation != models.JobOperationStartWorkflow {
		return true, nil
	}

	wi, err := e.store.GetWorkflow(ctx, job.ID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return true, nil
		}

		return false, err
	}

	instances, err := e.store.GetWorkflowInstancesByMediaPackage(ctx, wi.MediaPackageID())
	if err != nil {
		return false, fmt.Errorf("failed to load workflows of media package %s: %w", wi.MediaPackageID(), err)
	}

	blocked := false

	for _, other := range instances {
		if other.ID == wi.ID {
			continue
		}

		switch other.State {
		case models.WorkflowStateRunning, models.WorkflowStatePaused, models.WorkflowStateFailing:
			blocked = true
		}
	}

	e.delayedMu.Lock()
	defer e.delayedMu.Unlock()

	if blocked {
		if _, seen := e.delayed[job.ID]; !seen {
			e.delayed[job.ID] = struct{}{}
			e.logger.InfoContext(ctx, "Delaying workflow start, media package is busy",
				"workflow_id", wi.ID,
				"media_package", wi.MediaPackageID(),
			)
		}

		return false, nil
	}

	delete(e.delayed, job.ID)

	return true, nil
}

// Delayed returns the ids of start jobs currently held back.
func (e *Engine) Delayed() []string {
	e.delayedMu.Lock()
	defer e.delayedMu.Unlock()

	ids := make([]string, 0, len(e.delayed))
	for id := range e.delayed {
		ids = append(ids, id)
	}

	return ids
}

// AcceptJob claims job for this host.
func (e *Engine) AcceptJob(ctx context.Context, job *models.Job) error {
	current, err := e.dispatcher.GetJob(ctx, job.ID)
	if err != nil {
		return err
	}

	now := models.Now()
	current.Status = models.JobStatusRunning
	current.ProcessingHost = e.host
	current.DateStarted = &now

	updated, err := e.dispatcher.UpdateJob(ctx, current)
	if err != nil {
		return fmt.Errorf("failed to accept job %s: %w", job.ID, err)
	}

	*job = *updated

	return nil
}

func (e *Engine) Process(ctx context.Context, job *models.Job) (string, error) {
	return e.runner.Call(ctx, job)
}
