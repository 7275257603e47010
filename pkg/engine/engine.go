// Package engine orchestrates workflow instances: it owns their state machine,
// applies the failure protocol and keeps instances, jobs and the index in sync.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/dukex/mediaflow/internal/stripe"
	"github.com/dukex/mediaflow/pkg/eventbus"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/otelhelper"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/security"
	"go.opentelemetry.io/otel/trace"
)

// DefinitionResolver resolves workflow definitions.
type DefinitionResolver interface {
	Resolve(user security.User, id string) (*models.WorkflowDefinition, error)
	ResolveForOrganization(organization, id string) (*models.WorkflowDefinition, error)
}

// HandlerLookup finds the handler bound to an operation template.
type HandlerLookup interface {
	Lookup(template string) (protocol.OperationHandler, error)
	Templates() []string
}

// Options holds the collaborators of an Engine. Index, SeriesACLs, Workspace
// and Publisher are optional.
type Options struct {
	Store       persistence.Store
	Definitions DefinitionResolver
	Handlers    HandlerLookup
	Dispatcher  protocol.JobDispatcher
	Users       protocol.UserDirectory
	Index       protocol.Index
	SeriesACLs  protocol.SeriesACLProvider
	Workspace   protocol.Workspace
	Publisher   eventbus.EventPublisher
	Tracer      trace.Tracer
	Host        string
	LockStripes int
}

type Engine struct {
	logger      *slog.Logger
	store       persistence.Store
	definitions DefinitionResolver
	handlers    HandlerLookup
	dispatcher  protocol.JobDispatcher
	users       protocol.UserDirectory
	index       protocol.Index
	seriesACLs  protocol.SeriesACLProvider
	workspace   protocol.Workspace
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	host        string

	workflowLocks     *stripe.Table
	updateLocks       *stripe.Table
	mediaPackageLocks *stripe.Table

	listenersMu   sync.RWMutex
	listeners     []protocol.WorkflowListener
	notifications sync.WaitGroup

	delayedMu sync.Mutex
	delayed   map[string]struct{}

	worker *Worker
	runner *Runner
}

var _ protocol.JobProducer = (*Engine)(nil)

func New(logger *slog.Logger, opts Options) (*Engine, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("engine requires a workflow store")
	case opts.Definitions == nil:
		return nil, errors.New("engine requires a definition resolver")
	case opts.Handlers == nil:
		return nil, errors.New("engine requires a handler registry")
	case opts.Dispatcher == nil:
		return nil, errors.New("engine requires a job dispatcher")
	case opts.Users == nil:
		return nil, errors.New("engine requires a user directory")
	}

	if opts.Tracer == nil {
		opts.Tracer = otelhelper.NoopTracer()
	}

	if opts.LockStripes <= 0 {
		opts.LockStripes = stripe.DefaultSize
	}

	e := &Engine{
		logger:            logger.With("module", "engine"),
		store:             opts.Store,
		definitions:       opts.Definitions,
		handlers:          opts.Handlers,
		dispatcher:        opts.Dispatcher,
		users:             opts.Users,
		index:             opts.Index,
		seriesACLs:        opts.SeriesACLs,
		workspace:         opts.Workspace,
		publisher:         opts.Publisher,
		tracer:            opts.Tracer,
		host:              opts.Host,
		workflowLocks:     stripe.New(opts.LockStripes),
		updateLocks:       stripe.New(opts.LockStripes),
		mediaPackageLocks: stripe.New(opts.LockStripes),
		delayed:           make(map[string]struct{}),
	}

	e.worker = newWorker(e)
	e.runner = newRunner(e)

	return e, nil
}

// AddWorkflowListener registers a listener for state and operation changes.
// Listeners are removed by identity, so register pointers.
func (e *Engine) AddWorkflowListener(listener protocol.WorkflowListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	e.listeners = append(e.listeners, listener)
}

// RemoveWorkflowListener unregisters listener. Listeners of a type that cannot
// be compared never match.
func (e *Engine) RemoveWorkflowListener(listener protocol.WorkflowListener) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	e.listeners = slices.DeleteFunc(e.listeners, func(l protocol.WorkflowListener) bool {
		return sameListener(l, listener)
	})
}

func sameListener(a, b protocol.WorkflowListener) bool {
	t := reflect.TypeOf(a)
	if t == nil || t != reflect.TypeOf(b) || !t.Comparable() {
		return false
	}

	return a == b
}

// WaitForListeners blocks until every pending listener notification was delivered.
func (e *Engine) WaitForListeners() {
	e.notifications.Wait()
}

// GetWorkflowByID returns the instance if the caller may read it.
func (e *Engine) GetWorkflowByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	wi, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, err
	}

	err = e.authorize(ctx, wi, security.ActionRead)
	if err != nil {
		return nil, err
	}

	return wi, nil
}

// GetWorkflowInstancesByMediaPackage returns every instance of the media package, oldest first.
func (e *Engine) GetWorkflowInstancesByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error) {
	instances, err := e.store.GetWorkflowInstancesByMediaPackage(ctx, mediaPackageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows of media package %s: %w", mediaPackageID, err)
	}

	for _, wi := range instances {
		err := e.authorize(ctx, wi, security.ActionRead)
		if err != nil {
			return nil, err
		}
	}

	return instances, nil
}

// GetRunningWorkflowInstanceByMediaPackage returns the non-terminal instance of the media package.
func (e *Engine) GetRunningWorkflowInstanceByMediaPackage(ctx context.Context, mediaPackageID string) (*models.WorkflowInstance, error) {
	instances, err := e.GetWorkflowInstancesByMediaPackage(ctx, mediaPackageID)
	if err != nil {
		return nil, err
	}

	var running *models.WorkflowInstance

	for _, wi := range instances {
		if wi.State.IsTerminated() {
			continue
		}

		if running != nil {
			return nil, illegalState("media package %s has more than one active workflow", mediaPackageID)
		}

		running = wi
	}

	if running == nil {
		return nil, persistence.NewWorkflowError("GetRunning", mediaPackageID, persistence.ErrWorkflowNotFound)
	}

	return running, nil
}

// Statistics counts instances per state and running instances per current operation.
func (e *Engine) Statistics(ctx context.Context) (*models.Statistics, error) {
	total, err := e.store.CountWorkflows(ctx, "", "")
	if err != nil {
		return nil, fmt.Errorf("failed to count workflows: %w", err)
	}

	stats := &models.Statistics{
		Total:       total,
		ByState:     make(map[models.WorkflowState]int64, len(models.WorkflowStates)),
		ByOperation: make(map[string]int64),
	}

	for _, state := range models.WorkflowStates {
		count, err := e.store.CountWorkflows(ctx, state, "")
		if err != nil {
			return nil, fmt.Errorf("failed to count %s workflows: %w", state, err)
		}

		stats.ByState[state] = count
	}

	for _, template := range e.handlers.Templates() {
		count, err := e.store.CountWorkflows(ctx, models.WorkflowStateRunning, template)
		if err != nil {
			return nil, fmt.Errorf("failed to count workflows running %s: %w", template, err)
		}

		if count > 0 {
			stats.ByOperation[template] = count
		}
	}

	return stats, nil
}

// CleanupWorkflowInstances removes instances in a terminal state created more
// than lifetimeDays ago. Only global administrators may clean up.
func (e *Engine) CleanupWorkflowInstances(ctx context.Context, lifetimeDays int, state models.WorkflowState) (int, error) {
	user, err := security.MustUser(ctx)
	if err != nil {
		return 0, err
	}

	if !user.IsGlobalAdmin() {
		return 0, &security.UnauthorizedError{User: user.Username, Action: security.ActionWrite, Resource: "workflow cleanup"}
	}

	if !state.IsTerminated() {
		return 0, illegalState("cannot clean up workflows in state %s", state)
	}

	before := models.Now().Add(-time.Duration(lifetimeDays) * 24 * time.Hour)

	instances, err := e.store.GetWorkflowInstancesForCleanup(ctx, state, before)
	if err != nil {
		return 0, fmt.Errorf("failed to find workflows for cleanup: %w", err)
	}

	removed := 0

	var errs []error

	for _, wi := range instances {
		err := e.Remove(ctx, wi.ID, true)
		if err != nil && !persistence.IsWorkflowNotFound(err) {
			errs = append(errs, err)

			continue
		}

		removed++
	}

	e.logger.InfoContext(ctx, "Cleaned up workflows", "state", state, "lifetime_days", lifetimeDays, "removed", removed)

	return removed, errors.Join(errs...)
}

// authorize checks action on the media package of wi. The creator of a workflow may always access it.
func (e *Engine) authorize(ctx context.Context, wi *models.WorkflowInstance, action security.Action) error {
	user, err := security.MustUser(ctx)
	if err != nil {
		return err
	}

	if user.Organization == wi.Organization && user.Username != "" && user.Username == wi.Creator {
		return nil
	}

	acl := e.effectiveACL(ctx, wi.Organization, wi.MediaPackage)

	return security.Authorize(user, wi.Organization, acl, action, "workflow "+wi.ID)
}

// effectiveACL merges the series ACL under the episode ACL of mp.
func (e *Engine) effectiveACL(ctx context.Context, organization string, mp *models.MediaPackage) security.AccessControlList {
	if mp == nil {
		return security.AccessControlList{}
	}

	if e.seriesACLs == nil || mp.SeriesID == "" {
		return mp.ACL
	}

	seriesACL, err := e.seriesACLs.SeriesACL(ctx, organization, mp.SeriesID)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to load series access control list", "series_id", mp.SeriesID, "error", err)

		return mp.ACL
	}

	return security.Merge(seriesACL, mp.ACL)
}

func (e *Engine) load(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	wi, err := e.store.GetWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", id, err)
	}

	return wi, nil
}
