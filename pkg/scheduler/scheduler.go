// Package scheduler runs named periodic tasks on cron expressions.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Task is a periodic unit of work. Its context is cancelled when the scheduler stops.
type Task func(ctx context.Context) error

type Scheduler struct {
	logger *slog.Logger
	cron   *cron.Cron
	jobs   map[string]cron.EntryID
	mutex  sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		logger: logger.With("module", "scheduler"),
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cron.DefaultLogger),
			cron.Recover(cron.DefaultLogger),
		)),
		jobs:   make(map[string]cron.EntryID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add schedules task under name. Adding a name twice replaces the earlier schedule.
func (s *Scheduler) Add(name, cronExpr string, task Task) error {
	if _, err := cron.ParseStandard(cronExpr); err != nil {
		return fmt.Errorf("invalid cron expression '%s' for task %s: %w", cronExpr, name, err)
	}

	logger := s.logger.With("task", name)

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		logger.Debug("Running scheduled task")

		if err := task(s.ctx); err != nil {
			logger.Error("Scheduled task failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job for task %s: %w", name, err)
	}

	s.mutex.Lock()
	if previous, ok := s.jobs[name]; ok {
		s.cron.Remove(previous)
	}
	s.jobs[name] = entryID
	s.mutex.Unlock()

	logger.Info("Added scheduled task", "cron", cronExpr, "entry_id", entryID)

	return nil
}

// Tasks returns the names of the scheduled tasks.
func (s *Scheduler) Tasks() []string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}

	return names
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started")
}

// Stop cancels running tasks and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()

	s.mutex.Lock()
	s.jobs = make(map[string]cron.EntryID)
	s.mutex.Unlock()

	s.logger.Info("Scheduler stopped")
}
