// Package file provides file-based persistence of workflow instances.
package file

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/gofrs/flock"
)

const lockFileName = ".mediaflow.lock"

// Persistence implements persistence.Store using one JSON file per workflow instance.
// A file lock guards the directory against other processes sharing it.
type Persistence struct {
	root         string
	mu           sync.RWMutex
	lock         *flock.Flock
	workflowRepo *WorkflowRepository
}

// NewPersistence creates a store rooted at root, which may carry a file:// prefix.
func NewPersistence(root string) (*Persistence, error) {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	err := os.MkdirAll(cleanRoot, 0o750)
	if err != nil {
		return nil, fmt.Errorf("failed to create persistence root %s: %w", cleanRoot, err)
	}

	return &Persistence{
		root:         cleanRoot,
		lock:         flock.New(filepath.Join(cleanRoot, lockFileName)),
		workflowRepo: NewWorkflowRepository(cleanRoot),
	}, nil
}

var _ persistence.Store = (*Persistence)(nil)

// Close releases the directory lock.
func (fp *Persistence) Close(_ context.Context) error {
	return fp.lock.Close()
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) withReadLock(fn func() error) error {
	fp.mu.RLock()
	defer fp.mu.RUnlock()

	err := fp.lock.RLock()
	if err != nil {
		return fmt.Errorf("failed to acquire shared lock on %s: %w", fp.root, err)
	}

	defer func() { _ = fp.lock.Unlock() }()

	return fn()
}

func (fp *Persistence) withWriteLock(fn func() error) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	err := fp.lock.Lock()
	if err != nil {
		return fmt.Errorf("failed to acquire exclusive lock on %s: %w", fp.root, err)
	}

	defer func() { _ = fp.lock.Unlock() }()

	return fn()
}
