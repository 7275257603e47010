// Package dispatcher creates jobs, announces them on the event bus and hands
// announced jobs to the registered producers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/dukex/mediaflow/internal/stripe"
	"github.com/dukex/mediaflow/pkg/eventbus"
	"github.com/dukex/mediaflow/pkg/events"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/otelhelper"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/protocol"
	"github.com/dukex/mediaflow/pkg/security"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultRetryInitialInterval = 500 * time.Millisecond
	defaultRetryMaxInterval     = 30 * time.Second
)

// Options tune a Dispatcher. Zero values select defaults.
type Options struct {
	Host                 string
	Workers              int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	Tracer               trace.Tracer
}

// Dispatcher implements protocol.JobDispatcher.
type Dispatcher struct {
	logger *slog.Logger
	store  JobStore
	bus    eventbus.EventBus
	tracer trace.Tracer
	host   string

	mu        sync.RWMutex
	producers map[string]protocol.JobProducer

	locks *stripe.Table
	slots chan struct{}
	wg    sync.WaitGroup

	retryMu              sync.Mutex
	retries              map[string]*retry
	retryInitialInterval time.Duration
	retryMaxInterval     time.Duration

	ctx    context.Context //nolint:containedctx // scope of background processing
	cancel context.CancelFunc
}

type retry struct {
	backoff  *backoff.ExponentialBackOff
	timer    *time.Timer
	attempts int
}

var _ protocol.JobDispatcher = (*Dispatcher)(nil)

func New(logger *slog.Logger, store JobStore, bus eventbus.EventBus, opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = defaultRetryInitialInterval
	}

	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = defaultRetryMaxInterval
	}

	if opts.Tracer == nil {
		opts.Tracer = otelhelper.NoopTracer()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		logger:               logger.With("module", "dispatcher"),
		store:                store,
		bus:                  bus,
		tracer:               opts.Tracer,
		host:                 opts.Host,
		producers:            make(map[string]protocol.JobProducer),
		locks:                stripe.New(stripe.DefaultSize),
		slots:                make(chan struct{}, opts.Workers),
		retries:              make(map[string]*retry),
		retryInitialInterval: opts.RetryInitialInterval,
		retryMaxInterval:     opts.RetryMaxInterval,
		ctx:                  ctx,
		cancel:               cancel,
	}
}

// RegisterProducer makes the dispatcher offer jobs of producer.JobType() to producer.
func (d *Dispatcher) RegisterProducer(producer protocol.JobProducer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.producers[producer.JobType()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateProducer, producer.JobType())
	}

	d.producers[producer.JobType()] = producer

	return nil
}

func (d *Dispatcher) producer(jobType string) (protocol.JobProducer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	producer, ok := d.producers[jobType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProducer, jobType)
	}

	return producer, nil
}

// Start subscribes to job announcements and re-announces the jobs left behind by
// a previous run of this host.
func (d *Dispatcher) Start(ctx context.Context) error {
	err := d.bus.Handle(events.JobDispatchedEvent, d.handleJobDispatched)
	if err != nil {
		return fmt.Errorf("failed to register job handler: %w", err)
	}

	err = d.bus.Subscribe(d.ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to job announcements: %w", err)
	}

	return d.Redispatch(ctx)
}

// Close stops pending retries and waits for running jobs.
func (d *Dispatcher) Close() {
	d.cancel()

	d.retryMu.Lock()
	for id, r := range d.retries {
		r.timer.Stop()
		delete(d.retries, id)
	}
	d.retryMu.Unlock()

	d.wg.Wait()
}

// CreateJob stores a new QUEUED job owned by the user in ctx.
func (d *Dispatcher) CreateJob(ctx context.Context, jobType string, operation models.JobOperation, args []string, payload string, dispatchable bool) (*models.Job, error) {
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

	err := d.store.Save(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if job.IsDispatchable() {
		d.announce(ctx, job, 0)
	}

	return job.Clone(), nil
}

func (d *Dispatcher) GetJob(ctx context.Context, id string) (*models.Job, error) {
	job, err := d.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	return job, nil
}

// UpdateJob replaces the stored job. A job becoming QUEUED and dispatchable is announced.
func (d *Dispatcher) UpdateJob(ctx context.Context, job *models.Job) (*models.Job, error) {
	unlock := d.locks.Lock(job.ID)
	defer unlock()

	previous, err := d.store.Get(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	updated := job.Clone()
	stampCompletion(updated)

	err = d.store.Save(ctx, updated)
	if err != nil {
		return nil, fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}

	if updated.IsDispatchable() && !previous.IsDispatchable() {
		d.announce(ctx, updated, 0)
	}

	return updated.Clone(), nil
}

// RemoveJobs deletes the jobs; unknown ids are ignored.
func (d *Dispatcher) RemoveJobs(ctx context.Context, ids []string) error {
	var errs []error

	for _, id := range ids {
		d.clearRetry(id)

		err := d.store.Delete(ctx, id)
		if err != nil && !errors.Is(err, persistence.ErrJobNotFound) {
			errs = append(errs, fmt.Errorf("failed to remove job %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// Redispatch announces every queued dispatchable job and requeues the jobs this
// host was running when it stopped.
func (d *Dispatcher) Redispatch(ctx context.Context) error {
	queued, err := d.store.ListByStatus(ctx, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("failed to list queued jobs: %w", err)
	}

	for _, job := range queued {
		if job.IsDispatchable() {
			d.announce(ctx, job, 0)
		}
	}

	if d.host == "" {
		return nil
	}

	running, err := d.store.ListByStatus(ctx, models.JobStatusRunning)
	if err != nil {
		return fmt.Errorf("failed to list running jobs: %w", err)
	}

	for _, job := range running {
		if job.ProcessingHost != d.host || job.JobType == "" {
			continue
		}

		d.logger.InfoContext(ctx, "Requeueing job orphaned by previous run", "job_id", job.ID)

		job.Status = models.JobStatusQueued
		job.Dispatchable = true
		job.ProcessingHost = ""

		_, err := d.UpdateJob(ctx, job)
		if err != nil {
			return err
		}
	}

	return nil
}

func (d *Dispatcher) announce(ctx context.Context, job *models.Job, attempt int) {
	err := d.bus.Publish(ctx, job.ID, events.NewJobDispatched(job, attempt))
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to announce job", "job_id", job.ID, "error", err)
		d.scheduleRetry(job.ID)
	}
}

func (d *Dispatcher) handleJobDispatched(ctx context.Context, event any) error {
	dispatched, ok := event.(*events.JobDispatched)
	if !ok {
		return fmt.Errorf("unexpected event %T", event)
	}

	return d.offer(ctx, dispatched.JobID)
}

// offer hands the job to its producer when the producer is ready. Declined jobs
// are announced again after a backoff.
func (d *Dispatcher) offer(ctx context.Context, id string) error {
	job, err := d.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			d.clearRetry(id)

			return nil
		}

		return fmt.Errorf("failed to load job %s: %w", id, err)
	}

	if !job.IsDispatchable() {
		d.logger.DebugContext(ctx, "Ignoring stale job announcement", "job_id", id, "status", job.Status)
		d.clearRetry(id)

		return nil
	}

	producer, err := d.producer(job.JobType)
	if err != nil {
		d.logger.WarnContext(ctx, "Job has no producer on this host", "job_id", id, "error", err)

		return nil
	}

	ready, err := producer.IsReadyToAccept(ctx, job)
	if err != nil {
		d.logger.ErrorContext(ctx, "Producer failed to evaluate job", "job_id", id, "error", err)
	}

	if err != nil || !ready {
		d.scheduleRetry(id)

		return nil
	}

	d.clearRetry(id)

	select {
	case d.slots <- struct{}{}:
	case <-d.ctx.Done():
		return nil
	}

	job, err = d.claim(ctx, id)
	if err != nil || job == nil {
		<-d.slots

		return err
	}

	err = producer.AcceptJob(ctx, job)
	if err != nil {
		<-d.slots
		d.logger.ErrorContext(ctx, "Producer failed to accept job", "job_id", id, "error", err)
		d.release(ctx, job)

		return nil
	}

	d.wg.Add(1)

	go func() {
		defer d.wg.Done()
		defer func() { <-d.slots }()

		d.process(producer, job)
	}()

	return nil
}

// claim takes the job over for this host. It returns nil when another host
// claimed it first or the job left the queue.
func (d *Dispatcher) claim(ctx context.Context, id string) (*models.Job, error) {
	unlock := d.locks.Lock(id)
	defer unlock()

	job, err := d.store.Claim(ctx, id, d.host)
	switch {
	case errors.Is(err, persistence.ErrJobNotFound), errors.Is(err, ErrNotClaimable):
		d.logger.DebugContext(ctx, "Job was claimed elsewhere", "job_id", id)

		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("failed to claim job %s: %w", id, err)
	}

	return job, nil
}

// release puts a claimed job back in the queue.
func (d *Dispatcher) release(ctx context.Context, job *models.Job) {
	job.Status = models.JobStatusQueued
	job.ProcessingHost = ""
	job.DateStarted = nil

	_, err := d.UpdateJob(ctx, job)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to release job", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) process(producer protocol.JobProducer, job *models.Job) {
	ctx, span := otelhelper.StartSpan(d.ctx, d.tracer, "dispatcher.process",
		attribute.String(otelhelper.JobIDKey, job.ID),
		attribute.String(otelhelper.JobOperationKey, string(job.Operation)),
		attribute.String(otelhelper.HostKey, d.host),
	)
	defer span.End()

	payload, processErr := producer.Process(ctx, job.Clone())
	if processErr != nil {
		otelhelper.SetError(span, processErr)
		d.logger.ErrorContext(ctx, "Job failed", "job_id", job.ID, "operation", job.Operation, "error", processErr)
	}

	unlock := d.locks.Lock(job.ID)
	defer unlock()

	current, err := d.store.Get(ctx, job.ID)
	if err != nil {
		return
	}

	switch {
	case processErr != nil && current.Status == models.JobStatusRunning:
		current.Status = models.JobStatusFailed
	case processErr == nil && payload != "":
		current.Payload = payload
	default:
		return
	}

	stampCompletion(current)

	err = d.store.Save(ctx, current)
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to record job outcome", "job_id", job.ID, "error", err)
	}
}

func (d *Dispatcher) scheduleRetry(id string) {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	if d.ctx.Err() != nil {
		return
	}

	r, ok := d.retries[id]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = d.retryInitialInterval
		b.MaxInterval = d.retryMaxInterval
		r = &retry{backoff: b}
		d.retries[id] = r
	} else {
		r.timer.Stop()
	}

	r.attempts++
	attempt := r.attempts

	r.timer = time.AfterFunc(r.backoff.NextBackOff(), func() {
		d.redeliver(id, attempt)
	})
}

func (d *Dispatcher) redeliver(id string, attempt int) {
	if d.ctx.Err() != nil {
		return
	}

	job, err := d.store.Get(d.ctx, id)
	if err != nil || !job.IsDispatchable() {
		d.clearRetry(id)

		return
	}

	d.announce(d.ctx, job, attempt)
}

func (d *Dispatcher) clearRetry(id string) {
	d.retryMu.Lock()
	defer d.retryMu.Unlock()

	if r, ok := d.retries[id]; ok {
		r.timer.Stop()
		delete(d.retries, id)
	}
}

func stampCompletion(job *models.Job) {
	switch job.Status {
	case models.JobStatusFinished, models.JobStatusFailed, models.JobStatusCancelled:
		if job.DateCompleted == nil {
			now := models.Now()
			job.DateCompleted = &now
		}
	case models.JobStatusQueued:
		job.DateCompleted = nil
	case models.JobStatusRunning, models.JobStatusPaused:
	}
}
