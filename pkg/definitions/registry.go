// Package definitions holds the workflow definitions known to the engine and
// resolves them by caller organization and role.
package definitions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/registry"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/go-playground/validator/v10"
)

type definitionKey struct {
	id           string
	organization string
}

type entry struct {
	definition *models.WorkflowDefinition
	source     string
}

// ConfigurationValidator checks operation configuration against the handler of a template.
type ConfigurationValidator interface {
	ValidateConfiguration(template string, configuration map[string]string) error
}

type Registry struct {
	logger        *slog.Logger
	organizations protocol.OrganizationDirectory
	validate      *validator.Validate
	operations    ConfigurationValidator
	mu            sync.RWMutex
	entries       map[definitionKey]entry
}

func NewRegistry(logger *slog.Logger, organizations protocol.OrganizationDirectory) *Registry {
	return &Registry{
		logger:        logger.With("module", "definition_registry"),
		organizations: organizations,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		entries:       make(map[definitionKey]entry),
	}
}

// ValidateOperationsWith makes Register check every operation configuration with v.
// Templates without a bound handler are not checked.
func (r *Registry) ValidateOperationsWith(v ConfigurationValidator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.operations = v
}

// Register adds def loaded from source. A definition already registered under the
// same id and organization from a different source is rejected and the first one is
// kept; registering again from the same source replaces it.
func (r *Registry) Register(ctx context.Context, def *models.WorkflowDefinition, source string) error {
	return r.register(ctx, def, source, nil)
}

// register adds def once its exception-handling workflows resolve against the
// registered definitions and peers, the batch being registered with it.
func (r *Registry) register(ctx context.Context, def *models.WorkflowDefinition, source string, peers []*models.WorkflowDefinition) error {
	err := r.precheck(ctx, def, source)
	if err != nil {
		return definitionError(def, source, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := definitionKey{id: def.ID, organization: def.Organization}

	err = r.duplicate(key, source)
	if err == nil {
		err = r.checkExceptionWorkflows(def, peers)
	}

	if err != nil {
		return definitionError(def, source, err)
	}

	r.entries[key] = entry{definition: def.Clone(), source: source}
	r.logger.InfoContext(ctx, "Registered workflow definition", "definition", def.ID, "organization", def.Organization, "source", source)

	return nil
}

// precheck runs every registration check except exception workflow resolution.
func (r *Registry) precheck(ctx context.Context, def *models.WorkflowDefinition, source string) error {
	err := r.validate.Struct(def)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, err)
	}

	err = r.validateOperations(def)
	if err != nil {
		return err
	}

	if !def.IsGlobal() && (r.organizations == nil || !r.organizations.OrganizationExists(ctx, def.Organization)) {
		return ErrUnknownOrganization
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	err = r.duplicate(definitionKey{id: def.ID, organization: def.Organization}, source)
	if err != nil {
		r.logger.WarnContext(ctx, "Rejecting duplicate workflow definition", "definition", def.ID, "source", source)
	}

	return err
}

// duplicate reports a definition under key registered from another source.
// The caller holds r.mu.
func (r *Registry) duplicate(key definitionKey, source string) error {
	if existing, ok := r.entries[key]; ok && existing.source != source {
		return fmt.Errorf("%w: already registered from %s", ErrDuplicateDefinition, existing.source)
	}

	return nil
}

func definitionError(def *models.WorkflowDefinition, source string, err error) error {
	return &DefinitionError{ID: def.ID, Organization: def.Organization, Source: source, Err: err}
}

func (r *Registry) validateOperations(def *models.WorkflowDefinition) error {
	r.mu.RLock()
	v := r.operations
	r.mu.RUnlock()

	if v == nil {
		return nil
	}

	for i, op := range def.Operations {
		err := v.ValidateConfiguration(op.Template, op.Configuration)
		if err != nil && !errors.Is(err, registry.ErrHandlerNotFound) {
			return fmt.Errorf("%w: operation %d: %w", ErrInvalidDefinition, i+1, err)
		}
	}

	return nil
}

// Unregister removes every definition registered under id.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0

	for key := range r.entries {
		if key.id == id {
			delete(r.entries, key)
			removed++
		}
	}

	if removed == 0 {
		return fmt.Errorf("%s: %w", id, ErrDefinitionNotFound)
	}

	r.logger.Info("Unregistered workflow definition", "definition", id)

	return nil
}

// UnregisterSource removes the definitions loaded from source.
func (r *Registry) UnregisterSource(source string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string

	for key, e := range r.entries {
		if e.source == source {
			delete(r.entries, key)
			removed = append(removed, key.id)
		}
	}

	return removed
}

// Resolve returns the definition id visible to user, preferring the one scoped to
// the user's organization over the global one.
func (r *Registry) Resolve(user security.User, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, org := range []string{user.Organization, ""} {
		e, ok := r.entries[definitionKey{id: id, organization: org}]
		if ok && visibleTo(e.definition, user) {
			return e.definition.Clone(), nil
		}
	}

	return nil, fmt.Errorf("%s: %w", id, ErrDefinitionNotFound)
}

// ResolveForOrganization returns definition id for organization without a role check.
func (r *Registry) ResolveForOrganization(organization, id string) (*models.WorkflowDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, ok := r.lookup(organization, id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrDefinitionNotFound)
	}

	return def.Clone(), nil
}

// ListAvailable returns the definitions of organization and the global ones visible
// to user, sorted by id. An organization definition shadows a global one of the same id.
func (r *Registry) ListAvailable(organization string, user security.User) []*models.WorkflowDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byID := make(map[string]*models.WorkflowDefinition)

	for key, e := range r.entries {
		if key.organization != organization && key.organization != "" {
			continue
		}

		if !visibleTo(e.definition, user) {
			continue
		}

		if current, ok := byID[key.id]; ok && !current.IsGlobal() {
			continue
		}

		byID[key.id] = e.definition
	}

	result := make([]*models.WorkflowDefinition, 0, len(byID))
	for _, def := range byID {
		result = append(result, def.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})

	return result
}

// Len returns the number of registered definitions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}

func (r *Registry) lookup(organization, id string) (*models.WorkflowDefinition, bool) {
	if e, ok := r.entries[definitionKey{id: id, organization: organization}]; ok {
		return e.definition, true
	}

	e, ok := r.entries[definitionKey{id: id}]

	return e.definition, ok
}

// checkExceptionWorkflows walks the exception-handling graph of def over the
// registered definitions and peers. Each node is visited once, so cycles
// terminate. The caller holds r.mu.
func (r *Registry) checkExceptionWorkflows(def *models.WorkflowDefinition, peers []*models.WorkflowDefinition) error {
	visited := map[string]bool{def.ID: true}
	pending := def.ExceptionHandlingWorkflows()

	for len(pending) > 0 {
		id := pending[0]
		pending = pending[1:]

		if visited[id] {
			continue
		}

		visited[id] = true

		handler, ok := r.lookupWithPeers(def.Organization, id, peers)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnresolvableExceptionWorkflow, id)
		}

		pending = append(pending, handler.ExceptionHandlingWorkflows()...)
	}

	return nil
}

// lookupWithPeers resolves id like lookup, preferring an organization match
// among registered definitions and peers over a global one.
func (r *Registry) lookupWithPeers(organization, id string, peers []*models.WorkflowDefinition) (*models.WorkflowDefinition, bool) {
	var global *models.WorkflowDefinition

	if e, ok := r.entries[definitionKey{id: id, organization: organization}]; ok {
		return e.definition, true
	}

	for _, peer := range peers {
		if peer.ID != id {
			continue
		}

		switch {
		case peer.Organization == organization:
			return peer, true
		case peer.IsGlobal():
			global = peer
		}
	}

	if e, ok := r.entries[definitionKey{id: id}]; ok {
		return e.definition, true
	}

	return global, global != nil
}

func visibleTo(def *models.WorkflowDefinition, user security.User) bool {
	return len(def.Roles) == 0 || user.IsGlobalAdmin() || user.HasAnyRole(def.Roles)
}
