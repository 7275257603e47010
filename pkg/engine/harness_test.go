package engine_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"

	"github.com/dukex/mediaflow/pkg/definitions"
	"github.com/dukex/mediaflow/pkg/engine"
	"github.com/dukex/mediaflow/pkg/handlers"
	"github.com/dukex/mediaflow/pkg/index"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/persistence/file"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/registry"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/dukex/mediaflow/pkg/workspace"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var (
	alice = security.User{Username: "alice", Organization: "org", Roles: []string{"ROLE_EDITOR"}}
	bob   = security.User{Username: "bob", Organization: "org", Roles: []string{"ROLE_VIEWER"}}
	eve   = security.User{Username: "eve", Organization: "other", Roles: []string{"ROLE_EDITOR"}}
	admin = security.User{Username: "admin", Organization: "org", Roles: []string{security.GlobalAdminRole}}
)

var errOperation = errors.New("operation failed")

// syncDispatcher is an in-memory protocol.JobDispatcher that runs dispatchable
// jobs on demand in the calling goroutine.
type syncDispatcher struct {
	mu    sync.Mutex
	jobs  map[string]*models.Job
	order []string
}

func newSyncDispatcher() *syncDispatcher {
	return &syncDispatcher{jobs: make(map[string]*models.Job)}
}

func (d *syncDispatcher) CreateJob(ctx context.Context, jobType string, operation models.JobOperation, args []string, payload string, dispatchable bool) (*models.Job, error) {
	job := &models.Job{
		ID:           uuid.New().String(),
		JobType:      jobType,
		Operation:    operation,
		Arguments:    args,
		Payload:      payload,
		Status:       models.JobStatusQueued,
		Dispatchable: dispatchable,
		DateCreated:  models.Now(),
	}

	if user, ok := security.UserFrom(ctx); ok {
		job.Creator = user.Username
		job.Organization = user.Organization
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.jobs[job.ID] = job.Clone()
	d.order = append(d.order, job.ID)

	return job, nil
}

func (d *syncDispatcher) GetJob(_ context.Context, id string) (*models.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	job, ok := d.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, persistence.ErrJobNotFound)
	}

	return job.Clone(), nil
}

func (d *syncDispatcher) UpdateJob(_ context.Context, job *models.Job) (*models.Job, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.jobs[job.ID]; !ok {
		return nil, fmt.Errorf("%s: %w", job.ID, persistence.ErrJobNotFound)
	}

	d.jobs[job.ID] = job.Clone()

	return job.Clone(), nil
}

func (d *syncDispatcher) RemoveJobs(_ context.Context, ids []string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, id := range ids {
		delete(d.jobs, id)
		d.order = slices.DeleteFunc(d.order, func(o string) bool { return o == id })
	}

	return nil
}

func (d *syncDispatcher) job(t *testing.T, id string) *models.Job {
	t.Helper()

	job, err := d.GetJob(context.Background(), id)
	require.NoError(t, err)

	return job
}

func (d *syncDispatcher) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.jobs)
}

// next returns the oldest dispatchable job the producer accepts.
func (d *syncDispatcher) next(ctx context.Context, producer protocol.JobProducer) *models.Job {
	d.mu.Lock()
	var candidates []*models.Job

	for _, id := range d.order {
		if job := d.jobs[id]; job.IsDispatchable() {
			candidates = append(candidates, job.Clone())
		}
	}
	d.mu.Unlock()

	for _, job := range candidates {
		ready, err := producer.IsReadyToAccept(ctx, job)
		if err == nil && ready {
			return job
		}
	}

	return nil
}

// runOne processes a single dispatchable job and reports whether there was one.
func (d *syncDispatcher) runOne(t *testing.T, producer protocol.JobProducer) bool {
	t.Helper()

	ctx := context.Background()

	job := d.next(ctx, producer)
	if job == nil {
		return false
	}

	require.NoError(t, producer.AcceptJob(ctx, job))

	_, err := producer.Process(ctx, job)
	if err != nil {
		current, getErr := d.GetJob(ctx, job.ID)
		if getErr == nil && current.Status == models.JobStatusRunning {
			current.Status = models.JobStatusFailed
			_, _ = d.UpdateJob(ctx, current)
		}
	}

	return true
}

// run processes dispatchable jobs until none is left and returns how many ran.
func (d *syncDispatcher) run(t *testing.T, producer protocol.JobProducer) int {
	t.Helper()

	processed := 0

	for d.runOne(t, producer) {
		processed++
		require.Less(t, processed, 200, "workflow did not settle")
	}

	return processed
}

type outcome struct {
	result *models.OperationResult
	err    error
}

// scriptedHandler returns its outcomes in order, repeating the last one.
// Without outcomes every call continues.
type scriptedHandler struct {
	handlers.Base

	mu       sync.Mutex
	outcomes []outcome
	starts   int
	skips    int
	destroys int
	seen     []map[string]string
}

func script(outcomes ...outcome) *scriptedHandler {
	return &scriptedHandler{outcomes: outcomes}
}

func fails() outcome {
	return outcome{err: errOperation}
}

func continues(props map[string]string) outcome {
	return outcome{result: models.Continue(props)}
}

func (h *scriptedHandler) Start(_ context.Context, _ *models.WorkflowInstance, op *models.OperationInstance) (*models.OperationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seen = append(h.seen, op.Configuration)
	h.starts++

	if len(h.outcomes) == 0 {
		return models.Continue(nil), nil
	}

	o := h.outcomes[min(h.starts-1, len(h.outcomes)-1)]

	return o.result, o.err
}

func (h *scriptedHandler) Skip(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) (*models.OperationResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.skips++

	return models.Skip(nil), nil
}

func (h *scriptedHandler) Destroy(_ context.Context, _ *models.WorkflowInstance, _ *models.OperationInstance) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.destroys++

	return nil
}

func (h *scriptedHandler) calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.starts
}

type harness struct {
	t         *testing.T
	engine    *engine.Engine
	store     persistence.Store
	jobs      *syncDispatcher
	defs      *definitions.Registry
	handlers  *registry.Registry
	index     *index.MemoryIndex
	workspace *workspace.Workspace
	root      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	store, err := file.NewPersistence(t.TempDir())
	require.NoError(t, err)

	t.Cleanup(func() { _ = store.Close(context.Background()) })

	users := security.NewDirectory()
	for _, u := range []security.User{alice, bob, eve, admin} {
		users.AddUser(u)
	}

	root := t.TempDir()
	ws, err := workspace.New(logger, root)
	require.NoError(t, err)

	h := &harness{
		t:         t,
		store:     store,
		jobs:      newSyncDispatcher(),
		defs:      definitions.NewRegistry(logger, users),
		handlers:  registry.NewRegistry(logger),
		index:     index.NewMemoryIndex(),
		workspace: ws,
		root:      root,
	}

	h.handlers.Register(handlers.ErrorResolutionTemplate, handlers.NewErrorResolutionHandler())
	h.handlers.Register(handlers.HoldTemplate, handlers.NewHoldHandler())

	h.engine, err = engine.New(logger, engine.Options{
		Store:       store,
		Definitions: h.defs,
		Handlers:    h.handlers,
		Dispatcher:  h.jobs,
		Users:       users,
		Index:       h.index,
		Workspace:   ws,
		Host:        "test-host",
		LockStripes: 16,
	})
	require.NoError(t, err)

	return h
}

func (h *harness) handler(template string, handler protocol.OperationHandler) {
	h.handlers.Register(template, handler)
}

func (h *harness) define(def *models.WorkflowDefinition) *models.WorkflowDefinition {
	h.t.Helper()

	require.NoError(h.t, h.defs.Register(context.Background(), def, "test"))

	return def
}

func (h *harness) start(ctx context.Context, def *models.WorkflowDefinition, mediaPackageID string, config map[string]string) *models.WorkflowInstance {
	h.t.Helper()

	wi, err := h.engine.Start(ctx, def, mediaPackage(mediaPackageID), config)
	require.NoError(h.t, err)

	return wi
}

func (h *harness) run() int {
	h.t.Helper()

	return h.jobs.run(h.t, h.engine)
}

func (h *harness) reload(id string) *models.WorkflowInstance {
	h.t.Helper()

	wi, err := h.store.GetWorkflow(context.Background(), id)
	require.NoError(h.t, err)

	return wi
}

func as(user security.User) context.Context {
	return security.WithUser(context.Background(), user)
}

func mediaPackage(id string) *models.MediaPackage {
	return &models.MediaPackage{
		ID:    id,
		Title: "Lecture " + id,
		ACL: security.AccessControlList{Entries: []security.AccessControlEntry{
			{Role: "ROLE_EDITOR", Action: security.ActionRead, Allow: true},
			{Role: "ROLE_EDITOR", Action: security.ActionWrite, Allow: true},
			{Role: "ROLE_VIEWER", Action: security.ActionRead, Allow: true},
		}},
	}
}

func definition(id string, ops ...models.OperationDefinition) *models.WorkflowDefinition {
	return &models.WorkflowDefinition{ID: id, Title: id, Operations: ops}
}

func operationStates(wi *models.WorkflowInstance) []models.OperationState {
	states := make([]models.OperationState, 0, len(wi.Operations))
	for _, op := range wi.Operations {
		states = append(states, op.State)
	}

	return states
}

func templates(wi *models.WorkflowInstance) []string {
	names := make([]string, 0, len(wi.Operations))
	for _, op := range wi.Operations {
		names = append(names, op.Template)
	}

	return names
}
