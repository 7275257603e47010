package models

import (
	"slices"
	"time"
)

// JobTypeWorkflow is the job type served by the workflow engine.
const JobTypeWorkflow = "mediaflow.workflow"

type JobStatus string

const (
	JobStatusQueued    JobStatus = "QUEUED"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusPaused    JobStatus = "PAUSED"
	JobStatusFinished  JobStatus = "FINISHED"
	JobStatusFailed    JobStatus = "FAILED"
	JobStatusCancelled JobStatus = "CANCELLED"
)

// JobOperation selects what the runner does with a workflow job.
type JobOperation string

const (
	JobOperationStartWorkflow  JobOperation = "START_WORKFLOW"
	JobOperationStartOperation JobOperation = "START_OPERATION"
	JobOperationResume         JobOperation = "RESUME"
)

// Job is a unit of asynchronous work owned by the dispatcher.
type Job struct {
	ID             string       `json:"id"`
	JobType        string       `json:"job_type"`
	Operation      JobOperation `json:"operation"`
	Arguments      []string     `json:"arguments,omitempty"`
	Payload        string       `json:"payload,omitempty"`
	Status         JobStatus    `json:"status"`
	Dispatchable   bool         `json:"dispatchable"`
	ProcessingHost string       `json:"processing_host,omitempty"`
	Creator        string       `json:"creator"`
	Organization   string       `json:"organization"`
	DateCreated    time.Time    `json:"date_created"`
	DateStarted    *time.Time   `json:"date_started,omitempty"`
	DateCompleted  *time.Time   `json:"date_completed,omitempty"`
}

// IsDispatchable reports whether the dispatcher may hand the job to a producer.
func (j *Job) IsDispatchable() bool {
	return j.Status == JobStatusQueued && j.Dispatchable
}

// Argument returns the i-th argument or an empty string.
func (j *Job) Argument(i int) string {
	if i < 0 || i >= len(j.Arguments) {
		return ""
	}

	return j.Arguments[i]
}

func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}

	clone := *j
	clone.Arguments = slices.Clone(j.Arguments)
	clone.DateStarted = cloneTime(j.DateStarted)
	clone.DateCompleted = cloneTime(j.DateCompleted)

	return &clone
}
