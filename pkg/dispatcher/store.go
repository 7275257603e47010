package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
)

// JobStore persists jobs for the dispatcher.
type JobStore interface {
	// Get returns the job with id or persistence.ErrJobNotFound.
	Get(ctx context.Context, id string) (*models.Job, error)
	Save(ctx context.Context, job *models.Job) error
	Delete(ctx context.Context, id string) error

	// ListByStatus returns the jobs in status, oldest first.
	ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error)

	// Claim atomically moves a dispatchable job to RUNNING on host. It returns
	// ErrNotClaimable when the job is no longer dispatchable.
	Claim(ctx context.Context, id, host string) (*models.Job, error)
}

// Claimed returns the RUNNING copy of job that host takes over. Stores use it
// inside their atomic Claim.
func Claimed(job *models.Job, host string) (*models.Job, error) {
	if !job.IsDispatchable() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotClaimable, job.ID, job.Status)
	}

	now := models.Now()
	running := job.Clone()
	running.Status = models.JobStatusRunning
	running.ProcessingHost = host
	running.DateStarted = &now

	return running, nil
}

// MemoryStore keeps jobs in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}

	return job.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[job.ID] = job.Clone()

	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return persistence.ErrJobNotFound
	}

	delete(s.jobs, id)

	return nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0)

	for _, job := range s.jobs {
		if job.Status == status {
			jobs = append(jobs, job.Clone())
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].DateCreated.Before(jobs[j].DateCreated)
	})

	return slices.Clip(jobs), nil
}

func (s *MemoryStore) Claim(_ context.Context, id, host string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, persistence.ErrJobNotFound
	}

	running, err := Claimed(job, host)
	if err != nil {
		return nil, err
	}

	s.jobs[id] = running

	return running.Clone(), nil
}
