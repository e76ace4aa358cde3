package integrations

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prebuildd/models"
)

// MockRepositoryIntegration is a mock implementation of the
// RepositoryIntegration interface
type MockRepositoryIntegration struct {
	mock.Mock

	ProviderHost string
}

func (m *MockRepositoryIntegration) Host() string {
	return m.ProviderHost
}

func (m *MockRepositoryIntegration) CanInstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (bool, error) {
	args := m.Called(ctx, user, cloneURL)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepositoryIntegration) InstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (*InstallResult, error) {
	args := m.Called(ctx, user, cloneURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*InstallResult), args.Error(1)
}

func (m *MockRepositoryIntegration) UninstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) error {
	args := m.Called(ctx, user, cloneURL)
	return args.Error(0)
}
