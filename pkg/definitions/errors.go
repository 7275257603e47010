package definitions

import (
	"errors"
	"fmt"
)

var (
	// ErrDefinitionNotFound indicates no visible definition exists for an identifier.
	ErrDefinitionNotFound = errors.New("workflow definition not found")

	// ErrDuplicateDefinition indicates a definition id already registered from another source.
	ErrDuplicateDefinition = errors.New("duplicate workflow definition")

	// ErrUnresolvableExceptionWorkflow indicates an exception-handling workflow that cannot be resolved.
	ErrUnresolvableExceptionWorkflow = errors.New("unresolvable exception-handling workflow")

	// ErrUnknownOrganization indicates a definition scoped to an organization that does not exist.
	ErrUnknownOrganization = errors.New("unknown organization")

	// ErrInvalidDefinition indicates a definition that failed structural validation.
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)

// DefinitionError wraps a registration failure with the definition and source involved.
type DefinitionError struct {
	ID           string
	Organization string
	Source       string
	Err          error
}

func (e *DefinitionError) Error() string {
	target := e.ID
	if e.Organization != "" {
		target = fmt.Sprintf("%s (organization %s)", e.ID, e.Organization)
	}

	if e.Source != "" {
		return fmt.Sprintf("workflow definition %s from %s: %v", target, e.Source, e.Err)
	}

	return fmt.Sprintf("workflow definition %s: %v", target, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// IsNotFound checks if an error indicates a missing definition.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDefinitionNotFound)
}

// IsConfigurationError checks if an error is a fatal registration error.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrUnresolvableExceptionWorkflow) ||
		errors.Is(err, ErrUnknownOrganization) ||
		errors.Is(err, ErrInvalidDefinition) ||
		errors.Is(err, ErrDuplicateDefinition)
}
