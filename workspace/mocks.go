package workspace

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prebuildd/models"
)

// MockStarter is a mock implementation of the Starter interface
type MockStarter struct {
	mock.Mock
}

func (m *MockStarter) StartWorkspace(
	ctx context.Context,
	workspace *models.Workspace,
	opts StartOptions,
) error {
	args := m.Called(ctx, workspace, opts)
	return args.Error(0)
}

func (m *MockStarter) StopWorkspace(ctx context.Context, workspaceID, reason string) error {
	args := m.Called(ctx, workspaceID, reason)
	return args.Error(0)
}

func (m *MockStarter) IsWorkspaceRunning(ctx context.Context, workspaceID string) (bool, error) {
	args := m.Called(ctx, workspaceID)
	return args.Bool(0), args.Error(1)
}
