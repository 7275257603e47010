package engine

import (
	"errors"
	"fmt"

	"github.com/dukex/mediaflow/pkg/definitions"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/registry"
	"github.com/dukex/mediaflow/pkg/security"
)

var (
	// ErrIllegalState indicates a request that the workflow's current state does not allow.
	ErrIllegalState = errors.New("illegal workflow state")

	// ErrActiveWorkflowExists indicates the media package already has a non-terminal workflow.
	ErrActiveWorkflowExists = errors.New("media package already has an active workflow")

	// ErrNotResumable indicates a paused operation whose handler cannot resume.
	ErrNotResumable = errors.New("operation handler does not support resume")

	// ErrInvalidJob indicates a job the runner cannot interpret.
	ErrInvalidJob = errors.New("invalid workflow job")
)

// OperationError describes a failed operation attempt.
type OperationError struct {
	WorkflowID  string
	OperationID string
	Template    string
	Err         error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s (%s) of workflow %s failed: %v", e.Template, e.OperationID, e.WorkflowID, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports errors caused by missing or inconsistent configuration.
// They are never retried automatically.
func IsConfigurationError(err error) bool {
	return errors.Is(err, registry.ErrHandlerNotFound) ||
		errors.Is(err, registry.ErrAmbiguousHandler) ||
		errors.Is(err, registry.ErrInvalidConfiguration) ||
		definitions.IsConfigurationError(err)
}

// IsNotFound reports whether a workflow, definition or job was absent.
func IsNotFound(err error) bool {
	return persistence.IsWorkflowNotFound(err) ||
		persistence.IsJobNotFound(err) ||
		definitions.IsNotFound(err)
}

// IsUnauthorized reports whether the caller lacked a permission.
func IsUnauthorized(err error) bool {
	return security.IsUnauthorized(err) || errors.Is(err, security.ErrNoUser)
}

func illegalState(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIllegalState, fmt.Sprintf(format, args...))
}
