package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	json "github.com/goccy/go-json"
	"github.com/lib/pq"
)

// WorkflowRepository handles workflow instance database operations.
// The full instance lives in the data column; the remaining columns serve queries.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

// GetByID returns the instance with id, or nil when it does not exist.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	row := r.db.QueryRowContext(ctx, `SELECT data FROM workflow_instances WHERE id = $1`, id)

	wi, err := scanInstance(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
	}

	return wi, nil
}

// Save upserts the instance.
func (r *WorkflowRepository) Save(ctx context.Context, wi *models.WorkflowInstance) error {
	data, err := json.Marshal(wi)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow instance: %w", err)
	}

	var dateCompleted any
	if wi.DateCompleted != nil {
		dateCompleted = *wi.DateCompleted
	}

	query := `
		INSERT INTO workflow_instances (
			id, organization, mediapackage_id, definition_id, state,
			current_operation, creator, date_created, date_completed, data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			organization = EXCLUDED.organization,
			mediapackage_id = EXCLUDED.mediapackage_id,
			definition_id = EXCLUDED.definition_id,
			state = EXCLUDED.state,
			current_operation = EXCLUDED.current_operation,
			creator = EXCLUDED.creator,
			date_completed = EXCLUDED.date_completed,
			data = EXCLUDED.data
	`

	_, err = r.db.ExecContext(ctx, query,
		wi.ID,
		wi.Organization,
		wi.MediaPackageID(),
		wi.DefinitionID(),
		string(wi.State),
		persistence.CurrentOperationTemplate(wi),
		wi.Creator,
		wi.DateCreated,
		dateCompleted,
		data,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow instance: %w", err)
	}

	return nil
}

// Delete removes the instance.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM workflow_instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow instance: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.ErrWorkflowNotFound
	}

	return nil
}

// Count counts instances by state and current operation; empty arguments match everything.
func (r *WorkflowRepository) Count(ctx context.Context, state models.WorkflowState, operation string) (int64, error) {
	var count int64

	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM workflow_instances
		WHERE ($1 = '' OR state = $1) AND ($2 = '' OR current_operation = $2)
	`, string(state), operation).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count workflow instances: %w", err)
	}

	return count, nil
}

// GetByMediaPackage returns the instances of a media package, oldest first.
func (r *WorkflowRepository) GetByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error) {
	return r.query(ctx, `
		SELECT data FROM workflow_instances
		WHERE mediapackage_id = $1
		ORDER BY date_created ASC
	`, mediaPackageID)
}

// HasActive reports whether a non-terminal instance targets the media package.
func (r *WorkflowRepository) HasActive(ctx context.Context, mediaPackageID string) (bool, error) {
	var exists bool

	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM workflow_instances
			WHERE mediapackage_id = $1 AND NOT (state = ANY($2))
		)
	`, mediaPackageID, pq.Array(terminalStates())).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query active workflow instances: %w", err)
	}

	return exists, nil
}

// GetForCleanup returns instances in state created before the given time.
func (r *WorkflowRepository) GetForCleanup(ctx context.Context, state models.WorkflowState, before time.Time) ([]*models.WorkflowInstance, error) {
	return r.query(ctx, `
		SELECT data FROM workflow_instances
		WHERE state = $1 AND date_created < $2
		ORDER BY date_created ASC
	`, string(state), before)
}

func (r *WorkflowRepository) query(ctx context.Context, query string, args ...any) ([]*models.WorkflowInstance, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow instances: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	instances := make([]*models.WorkflowInstance, 0)

	for rows.Next() {
		wi, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}

		instances = append(instances, wi)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating workflow instances: %w", err)
	}

	return instances, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInstance(row scanner) (*models.WorkflowInstance, error) {
	var data []byte

	err := row.Scan(&data)
	if err != nil {
		return nil, err
	}

	var wi models.WorkflowInstance

	err = json.Unmarshal(data, &wi)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow instance: %w", err)
	}

	return &wi, nil
}

func terminalStates() []string {
	states := make([]string, 0)

	for _, state := range models.WorkflowStates {
		if state.IsTerminated() {
			states = append(states, string(state))
		}
	}

	return states
}
