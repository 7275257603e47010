package protocol

import (
	"context"

	"github.com/dukex/mediaflow/pkg/models"
)

// JobDispatcher creates and tracks jobs on behalf of the engine.
type JobDispatcher interface {
	CreateJob(ctx context.Context, jobType string, operation models.JobOperation, args []string, payload string, dispatchable bool) (*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) (*models.Job, error)
	RemoveJobs(ctx context.Context, ids []string) error
}

// JobProducer serves the jobs of one job type.
type JobProducer interface {
	JobType() string

	// IsReadyToAccept reports whether the job may run now. Declined jobs are offered again later.
	IsReadyToAccept(ctx context.Context, job *models.Job) (bool, error)

	// AcceptJob claims the job for this process.
	AcceptJob(ctx context.Context, job *models.Job) error

	// Process runs the job and returns its payload.
	Process(ctx context.Context, job *models.Job) (string, error)
}
