package dispatcher

import "errors"

var (
	// ErrNoProducer indicates no producer serves a job type.
	ErrNoProducer = errors.New("no producer registered for job type")

	// ErrDuplicateProducer indicates a producer for the job type is already registered.
	ErrDuplicateProducer = errors.New("producer already registered for job type")

	// ErrNotClaimable indicates a job another host claimed first or that left the queue.
	ErrNotClaimable = errors.New("job is not claimable")
)
