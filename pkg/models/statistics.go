package models

// Statistics summarizes the workflow instances held by a store.
type Statistics struct {
	Total       int64                   `json:"total"`
	ByState     map[WorkflowState]int64 `json:"by_state"`
	ByOperation map[string]int64        `json:"running_by_operation,omitempty"`
}
