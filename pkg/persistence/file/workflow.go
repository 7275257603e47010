package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	json "github.com/goccy/go-json"
)

// WorkflowRepository handles workflow-related file operations.
type WorkflowRepository struct {
	root string // File system root for storing workflows
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(root string) *WorkflowRepository {
	return &WorkflowRepository{root: root}
}

func (wr *WorkflowRepository) dir() string {
	return path.Join(wr.root, "workflows")
}

// GetByID returns a workflow instance by its ID, or nil when it does not exist.
func (wr *WorkflowRepository) GetByID(_ context.Context, id string) (*models.WorkflowInstance, error) {
	filePath := path.Join(wr.dir(), id+".json")

	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to read workflow file %s: %w", filePath, err)
	}

	var wi models.WorkflowInstance

	err = json.Unmarshal(body, &wi)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &wi, nil
}

// Save writes the instance atomically through a temporary file.
func (wr *WorkflowRepository) Save(_ context.Context, wi *models.WorkflowInstance) error {
	err := os.MkdirAll(wr.dir(), 0o750)
	if err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	data, err := json.MarshalIndent(wi, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", wi.ID, err)
	}

	filePath := path.Join(wr.dir(), wi.ID+".json")
	tmpPath := filePath + ".tmp"

	err = os.WriteFile(tmpPath, data, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write workflow file %s: %w", tmpPath, err)
	}

	err = os.Rename(tmpPath, filePath)
	if err != nil {
		return fmt.Errorf("failed to move workflow file into place %s: %w", filePath, err)
	}

	return nil
}

// Delete removes the instance file.
func (wr *WorkflowRepository) Delete(_ context.Context, id string) error {
	err := os.Remove(path.Join(wr.dir(), id+".json"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return persistence.ErrWorkflowNotFound
		}

		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// Filter returns the instances accepted by keep, oldest first.
func (wr *WorkflowRepository) Filter(ctx context.Context, keep func(*models.WorkflowInstance) bool) ([]*models.WorkflowInstance, error) {
	root := os.DirFS(wr.dir())

	jsonFiles, err := fs.Glob(root, "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	result := make([]*models.WorkflowInstance, 0)

	for _, file := range jsonFiles {
		wi, err := wr.GetByID(ctx, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		if wi != nil && keep(wi) {
			result = append(result, wi)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DateCreated.Before(result[j].DateCreated)
	})

	return result, nil
}

// GetWorkflow returns the instance with id.
func (fp *Persistence) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	var wi *models.WorkflowInstance

	err := fp.withReadLock(func() error {
		var err error
		wi, err = fp.workflowRepo.GetByID(ctx, id)

		return err
	})
	if err != nil {
		return nil, persistence.NewWorkflowError("Get", id, err)
	}

	if wi == nil {
		return nil, persistence.NewWorkflowError("Get", id, persistence.ErrWorkflowNotFound)
	}

	return wi, nil
}

// Update inserts or replaces the instance.
func (fp *Persistence) Update(ctx context.Context, wi *models.WorkflowInstance) error {
	err := fp.withWriteLock(func() error {
		return fp.workflowRepo.Save(ctx, wi)
	})
	if err != nil {
		return persistence.NewWorkflowError("Update", wi.ID, err)
	}

	return nil
}

// Remove deletes the instance.
func (fp *Persistence) Remove(ctx context.Context, wi *models.WorkflowInstance) error {
	err := fp.withWriteLock(func() error {
		return fp.workflowRepo.Delete(ctx, wi.ID)
	})
	if err != nil {
		return persistence.NewWorkflowError("Remove", wi.ID, err)
	}

	return nil
}

// CountWorkflows counts instances by state and current operation.
func (fp *Persistence) CountWorkflows(ctx context.Context, state models.WorkflowState, operation string) (int64, error) {
	instances, err := fp.filter(ctx, func(wi *models.WorkflowInstance) bool {
		return (state == "" || wi.State == state) &&
			(operation == "" || persistence.CurrentOperationTemplate(wi) == operation)
	})
	if err != nil {
		return 0, err
	}

	return int64(len(instances)), nil
}

// GetWorkflowInstancesByMediaPackage returns the instances of a media package.
func (fp *Persistence) GetWorkflowInstancesByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error) {
	return fp.filter(ctx, func(wi *models.WorkflowInstance) bool {
		return wi.MediaPackageID() == mediaPackageID
	})
}

// MediaPackageHasActiveWorkflows reports whether a non-terminal instance targets the media package.
func (fp *Persistence) MediaPackageHasActiveWorkflows(ctx context.Context, mediaPackageID string) (bool, error) {
	instances, err := fp.filter(ctx, func(wi *models.WorkflowInstance) bool {
		return wi.MediaPackageID() == mediaPackageID && !wi.State.IsTerminated()
	})
	if err != nil {
		return false, err
	}

	return len(instances) > 0, nil
}

// GetWorkflowInstancesForCleanup returns instances in state created before the given time.
func (fp *Persistence) GetWorkflowInstancesForCleanup(ctx context.Context, state models.WorkflowState, before time.Time) ([]*models.WorkflowInstance, error) {
	return fp.filter(ctx, func(wi *models.WorkflowInstance) bool {
		return wi.State == state && wi.DateCreated.Before(before)
	})
}

func (fp *Persistence) filter(ctx context.Context, keep func(*models.WorkflowInstance) bool) ([]*models.WorkflowInstance, error) {
	var result []*models.WorkflowInstance

	err := fp.withReadLock(func() error {
		var err error
		result, err = fp.workflowRepo.Filter(ctx, keep)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
