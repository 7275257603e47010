package mocks

import (
	"context"
	"time"

	"github.com/dukex/mediaflow/pkg/models"
	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of persistence.Store interface.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetWorkflow(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.WorkflowInstance), args.Error(1)
}

func (m *MockStore) Update(ctx context.Context, wi *models.WorkflowInstance) error {
	args := m.Called(ctx, wi)

	return args.Error(0)
}

func (m *MockStore) Remove(ctx context.Context, wi *models.WorkflowInstance) error {
	args := m.Called(ctx, wi)

	return args.Error(0)
}

func (m *MockStore) CountWorkflows(ctx context.Context, state models.WorkflowState, operation string) (int64, error) {
	args := m.Called(ctx, state, operation)

	return args.Get(0).(int64), args.Error(1)
}

func (m *MockStore) GetWorkflowInstancesByMediaPackage(ctx context.Context, mediaPackageID string) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, mediaPackageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

func (m *MockStore) MediaPackageHasActiveWorkflows(ctx context.Context, mediaPackageID string) (bool, error) {
	args := m.Called(ctx, mediaPackageID)

	return args.Bool(0), args.Error(1)
}

func (m *MockStore) GetWorkflowInstancesForCleanup(ctx context.Context, state models.WorkflowState, before time.Time) ([]*models.WorkflowInstance, error) {
	args := m.Called(ctx, state, before)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.WorkflowInstance), args.Error(1)
}

func (m *MockStore) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockStore) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
