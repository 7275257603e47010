// Package postgresql provides PostgreSQL persistence of workflow instances.
package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/dukex/mediaflow/pkg/persistence"
	"github.com/dukex/mediaflow/pkg/persistence/sqlbase"
	_ "github.com/lib/pq"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db           *sql.DB
	logger       *slog.Logger
	workflowRepo *WorkflowRepository
}

var _ persistence.Store = (*Persistence)(nil)

// NewPersistence creates a new PostgreSQL persistence layer.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations)

	postgres := &Persistence{
		db:           database,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(database, logger),
	}

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return postgres, nil
}

// Close closes the database connection.
func (p *Persistence) Close(_ context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// WorkflowRepository exposes the underlying repository.
func (p *Persistence) WorkflowRepository() *WorkflowRepository {
	return p.workflowRepo
}

func (p *Persistence) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	wi, err := p.workflowRepo.GetByID(ctx, id)
	if err != nil {
		return nil, persistence.NewWorkflowError("Get", id, err)
	}

	if wi == nil {
		return nil, persistence.NewWorkflowError("Get", id, persistence.ErrWorkflowNotFound)
	}

	return wi, nil
}

func (p *Persistence) Update(ctx context.Context, wi *models.WorkflowInstance) error {
	err := p.workflowRepo.Save(ctx, wi)
	if err != nil {
		return persistence.NewWorkflowError("Update", wi.ID, err)
	}

	return nil
}

func (p *Persistence) Remove(ctx context.Context, wi *models.WorkflowInstance) error {
	err := p.workflowRepo.Delete(ctx, wi.ID)
	if err != nil {
		return persistence.NewWorkflowError("Remove", wi.ID, err)
	}

	return nil
}

func (p *Persistence) CountWorkflows(ctx context.Context, state models.WorkflowState, operation string) (int64, error) {
	return p.workflowRepo.Count(ctx, state, operation)
}

func (p *Persistence) GetWorkflowInstancesByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error) {
	return p.workflowRepo.GetByMediaPackage(ctx, mediaPackageID)
}

func (p *Persistence) MediaPackageHasActiveWorkflows(ctx context.Context, mediaPackageID string) (bool, error) {
	return p.workflowRepo.HasActive(ctx, mediaPackageID)
}

func (p *Persistence) GetWorkflowInstancesForCleanup(ctx context.Context, state models.WorkflowState, before time.Time) ([]*models.WorkflowInstance, error) {
	return p.workflowRepo.GetForCleanup(ctx, state, before)
}
