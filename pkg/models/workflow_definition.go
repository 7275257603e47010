package models

import (
	"maps"
	"slices"
)

// RetryStrategy is the policy applied when an operation fails.
type RetryStrategy string

const (
	RetryStrategyNone  RetryStrategy = "NONE"
	RetryStrategyRetry RetryStrategy = "RETRY"
	RetryStrategyHold  RetryStrategy = "HOLD"
)

// OperationDefinition is one step template of a workflow definition.
type OperationDefinition struct {
	Template                  string            `json:"template" yaml:"template" validate:"required"`
	Description               string            `json:"description,omitempty" yaml:"description"`
	ExecuteCondition          string            `json:"execute_condition,omitempty" yaml:"if"`
	SkipCondition             string            `json:"skip_condition,omitempty" yaml:"unless"`
	FailOnError               bool              `json:"fail_on_error" yaml:"fail-on-error"`
	ExceptionHandlingWorkflow string            `json:"exception_handling_workflow,omitempty" yaml:"exception-handler-workflow"`
	RetryStrategy             RetryStrategy     `json:"retry_strategy,omitempty" yaml:"retry-strategy" validate:"omitempty,oneof=NONE RETRY HOLD"`
	MaxAttempts               int               `json:"max_attempts,omitempty" yaml:"max-attempts" validate:"gte=0"`
	Configuration             map[string]string `json:"configuration,omitempty" yaml:"configuration"`
}

// WorkflowDefinition is an ordered list of operation templates. An empty
// organization makes the definition global.
type WorkflowDefinition struct {
	ID            string                   `json:"id" yaml:"id" validate:"required"`
	Title         string                   `json:"title,omitempty" yaml:"title"`
	Description   string                   `json:"description,omitempty" yaml:"description"`
	Organization  string                   `json:"organization,omitempty" yaml:"organization"`
	Roles         []string                 `json:"roles,omitempty" yaml:"roles"`
	Tags          []string                 `json:"tags,omitempty" yaml:"tags"`
	StateMappings map[WorkflowState]string `json:"state_mappings,omitempty" yaml:"state-mappings"`
	Operations    []OperationDefinition    `json:"operations" yaml:"operations" validate:"required,min=1,dive"`
}

// ExceptionHandlingWorkflows returns the distinct exception-handling workflow ids
// referenced by the definition's operations, in order of first appearance.
func (d *WorkflowDefinition) ExceptionHandlingWorkflows() []string {
	var ids []string

	for _, op := range d.Operations {
		if op.ExceptionHandlingWorkflow != "" && !slices.Contains(ids, op.ExceptionHandlingWorkflow) {
			ids = append(ids, op.ExceptionHandlingWorkflow)
		}
	}

	return ids
}

// IsGlobal reports whether the definition is not scoped to an organization.
func (d *WorkflowDefinition) IsGlobal() bool {
	return d.Organization == ""
}

// StateLabel returns the display label for state, falling back to the state name.
func (d *WorkflowDefinition) StateLabel(state WorkflowState) string {
	if label, ok := d.StateMappings[state]; ok && label != "" {
		return label
	}

	return string(state)
}

func (d *WorkflowDefinition) Clone() *WorkflowDefinition {
	if d == nil {
		return nil
	}

	clone := *d
	clone.Roles = slices.Clone(d.Roles)
	clone.Tags = slices.Clone(d.Tags)
	clone.StateMappings = maps.Clone(d.StateMappings)
	clone.Operations = make([]OperationDefinition, len(d.Operations))

	for i, op := range d.Operations {
		op.Configuration = maps.Clone(op.Configuration)
		clone.Operations[i] = op
	}

	return &clone
}
