// Package redis stores dispatcher jobs in Redis. Each job is a JSON document
// under its own key; one set per status indexes the jobs.
package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dukex/mediaflow/pkg/dispatcher"
	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	json "github.com/goccy/go-json"
	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "mediaflow:job:"

// claimScript swaps the job document only if it still holds the version the
// claimer read, then moves the id between the status sets.
var claimScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2])
redis.call("SREM", KEYS[2], ARGV[3])
redis.call("SADD", KEYS[3], ARGV[3])
return 1
`)

func jobKey(id string) string {
	return keyPrefix + id
}

func statusKey(status models.JobStatus) string {
	return keyPrefix + "status:" + string(status)
}

// Store implements dispatcher.JobStore. The caller owns the client lifecycle.
type Store struct {
	client goredis.Cmdable
}

var _ dispatcher.JobStore = (*Store)(nil)

func New(client goredis.Cmdable) *Store {
	return &Store{client: client}
}

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, id string) (*models.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, fmt.Errorf("dispatcher/redis: get job: %w", err)
	}

	var job models.Job

	err = json.Unmarshal(data, &job)
	if err != nil {
		return nil, fmt.Errorf("dispatcher/redis: decode job %s: %w", id, err)
	}

	return &job, nil
}

func (s *Store) Save(ctx context.Context, job *models.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("dispatcher/redis: encode job %s: %w", job.ID, err)
	}

	previous, err := s.client.Get(ctx, jobKey(job.ID)).Bytes()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("dispatcher/redis: load job: %w", err)
	}

	pipe := s.client.TxPipeline()

	if len(previous) > 0 {
		var old models.Job
		if json.Unmarshal(previous, &old) == nil && old.Status != job.Status {
			pipe.SRem(ctx, statusKey(old.Status), job.ID)
		}
	}

	pipe.Set(ctx, jobKey(job.ID), data, 0)
	pipe.SAdd(ctx, statusKey(job.Status), job.ID)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher/redis: save job: %w", err)
	}

	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.SRem(ctx, statusKey(job.Status), id)

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("dispatcher/redis: delete job: %w", err)
	}

	return nil
}

func (s *Store) ListByStatus(ctx context.Context, status models.JobStatus) ([]*models.Job, error) {
	ids, err := s.client.SMembers(ctx, statusKey(status)).Result()
	if err != nil {
		return nil, fmt.Errorf("dispatcher/redis: list jobs: %w", err)
	}

	jobs := make([]*models.Job, 0, len(ids))

	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, persistence.ErrJobNotFound) {
				continue
			}

			return nil, err
		}

		if job.Status == status {
			jobs = append(jobs, job)
		}
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].DateCreated.Before(jobs[j].DateCreated)
	})

	return jobs, nil
}

func (s *Store) Claim(ctx context.Context, id, host string) (*models.Job, error) {
	previous, err := s.client.Get(ctx, jobKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, persistence.ErrJobNotFound
		}

		return nil, fmt.Errorf("dispatcher/redis: load job: %w", err)
	}

	var job models.Job

	err = json.Unmarshal([]byte(previous), &job)
	if err != nil {
		return nil, fmt.Errorf("dispatcher/redis: decode job %s: %w", id, err)
	}

	running, err := dispatcher.Claimed(&job, host)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(running)
	if err != nil {
		return nil, fmt.Errorf("dispatcher/redis: encode job %s: %w", id, err)
	}

	swapped, err := claimScript.Run(ctx, s.client,
		[]string{jobKey(id), statusKey(job.Status), statusKey(running.Status)},
		previous, string(data), id,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("dispatcher/redis: claim job: %w", err)
	}

	if swapped == 0 {
		return nil, fmt.Errorf("%w: job %s changed while claiming", dispatcher.ErrNotClaimable, id)
	}

	return running, nil
}
