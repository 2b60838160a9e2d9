package mocks

import (
	"context"

	"github.com/google/uuid"
	"github.com/phrazzld/tunesmith-api/internal/domain"
	"github.com/phrazzld/tunesmith-api/internal/service"
	"github.com/stretchr/testify/mock"
)

// TestifyMockOrchestrator is a mock of service.JobOrchestrator for use with testify/mock
type TestifyMockOrchestrator struct {
	mock.Mock
}

var _ service.JobOrchestrator = (*TestifyMockOrchestrator)(nil)

// Submit is a mock implementation of service.JobOrchestrator.Submit
func (m *TestifyMockOrchestrator) Submit(ctx context.Context, req domain.GenerationRequest) (uuid.UUID, error) {
	args := m.Called(ctx, req)
	if id, ok := args.Get(0).(uuid.UUID); ok {
		return id, args.Error(1)
	}
	return uuid.Nil, args.Error(1)
}

// GetStatus is a mock implementation of service.JobOrchestrator.GetStatus
func (m *TestifyMockOrchestrator) GetStatus(ctx context.Context, id uuid.UUID) (*service.JobView, error) {
	args := m.Called(ctx, id)
	if view, ok := args.Get(0).(*service.JobView); ok {
		return view, args.Error(1)
	}
	return nil, args.Error(1)
}

// Cancel is a mock implementation of service.JobOrchestrator.Cancel
func (m *TestifyMockOrchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
