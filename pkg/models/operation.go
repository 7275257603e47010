package models

import (
	"maps"
	"time"

	"github.com/google/uuid"
)

// ErrorResolutionTemplate names the synthetic operation spliced in front of an
// operation that failed under the HOLD retry strategy.
const ErrorResolutionTemplate = "error-resolution"

// RetryStrategyProperty is the resume property an operator sets to pick the
// strategy applied after an error resolution.
const RetryStrategyProperty = "retryStrategy"

type OperationState string

const (
	OperationStateInstantiated OperationState = "INSTANTIATED"
	OperationStateRunning      OperationState = "RUNNING"
	OperationStatePaused       OperationState = "PAUSED"
	OperationStateSkipped      OperationState = "SKIPPED"
	OperationStateSucceeded    OperationState = "SUCCEEDED"
	OperationStateFailed       OperationState = "FAILED"
	OperationStateRetry        OperationState = "RETRY"
)

// IsDone reports whether the operation will not run again.
func (s OperationState) IsDone() bool {
	return s == OperationStateSucceeded || s == OperationStateSkipped || s == OperationStateFailed
}

// OperationInstance is one step of a running workflow. ID is stable for the life
// of the instance; Position changes whenever operations are spliced in front of it.
type OperationInstance struct {
	ID                        string            `json:"id"`
	Template                  string            `json:"template"`
	Description               string            `json:"description,omitempty"`
	Position                  int               `json:"position"`
	State                     OperationState    `json:"state"`
	ExecuteCondition          string            `json:"execute_condition,omitempty"`
	SkipCondition             string            `json:"skip_condition,omitempty"`
	FailOnError               bool              `json:"fail_on_error"`
	ExceptionHandlingWorkflow string            `json:"exception_handling_workflow,omitempty"`
	RetryStrategy             RetryStrategy     `json:"retry_strategy"`
	MaxAttempts               int               `json:"max_attempts"`
	FailedAttempts            int               `json:"failed_attempts"`
	JobID                     string            `json:"job_id,omitempty"`
	Abortable                 bool              `json:"abortable"`
	Continuable               bool              `json:"continuable"`
	ExecutionHost             string            `json:"execution_host,omitempty"`
	Configuration             map[string]string `json:"configuration,omitempty"`
	DateStarted               *time.Time        `json:"date_started,omitempty"`
	DateCompleted             *time.Time        `json:"date_completed,omitempty"`
}

// NewOperationInstance instantiates def. Operations with a retry strategy get at
// least two attempts, otherwise the strategy could never apply.
func NewOperationInstance(def OperationDefinition) *OperationInstance {
	strategy := def.RetryStrategy
	if strategy == "" {
		strategy = RetryStrategyNone
	}

	maxAttempts := def.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if strategy != RetryStrategyNone && maxAttempts < 2 {
		maxAttempts = 2
	}

	return &OperationInstance{
		ID:                        uuid.New().String(),
		Template:                  def.Template,
		Description:               def.Description,
		State:                     OperationStateInstantiated,
		ExecuteCondition:          def.ExecuteCondition,
		SkipCondition:             def.SkipCondition,
		FailOnError:               def.FailOnError,
		ExceptionHandlingWorkflow: def.ExceptionHandlingWorkflow,
		RetryStrategy:             strategy,
		MaxAttempts:               maxAttempts,
		Configuration:             maps.Clone(def.Configuration),
	}
}

// NewErrorResolutionOperation creates the operator decision step placed in front of failed.
func NewErrorResolutionOperation(failed *OperationInstance) *OperationInstance {
	op := NewOperationInstance(OperationDefinition{
		Template:    ErrorResolutionTemplate,
		Description: "Error resolution for " + failed.Template,
	})
	op.ExceptionHandlingWorkflow = failed.ExceptionHandlingWorkflow

	return op
}

// Config returns the value of key from the operation configuration.
func (o *OperationInstance) Config(key string) string {
	return o.Configuration[key]
}

func (o *OperationInstance) Clone() *OperationInstance {
	if o == nil {
		return nil
	}

	clone := *o
	clone.Configuration = maps.Clone(o.Configuration)
	clone.DateStarted = cloneTime(o.DateStarted)
	clone.DateCompleted = cloneTime(o.DateCompleted)

	return &clone
}

// Action tells the engine how to continue after an operation handler returned.
type Action string

const (
	ActionContinue Action = "CONTINUE"
	ActionPause    Action = "PAUSE"
	ActionSkip     Action = "SKIP"
)

// OperationResult is what a handler returns from start, skip or resume.
type OperationResult struct {
	Action        Action            `json:"action"`
	Properties    map[string]string `json:"properties,omitempty"`
	AllowContinue bool              `json:"allow_continue"`
	AllowAbort    bool              `json:"allow_abort"`
}

// Continue returns a result that advances the workflow, merging properties into its configuration.
func Continue(properties map[string]string) *OperationResult {
	return &OperationResult{Action: ActionContinue, Properties: properties}
}

// Pause returns a result that pauses the workflow until it is resumed.
func Pause(properties map[string]string) *OperationResult {
	return &OperationResult{Action: ActionPause, Properties: properties, AllowContinue: true, AllowAbort: true}
}

// Skip returns a result that marks the operation skipped.
func Skip(properties map[string]string) *OperationResult {
	return &OperationResult{Action: ActionSkip, Properties: properties}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t

	return &c
}
