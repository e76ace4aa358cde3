package configprovider

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prebuildd/models"
)

// MockProvider is a mock implementation of the Provider interface
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) GetConfig(
	ctx context.Context,
	accessToken string,
	commit *models.CommitContext,
) (*models.WorkspaceConfig, error) {
	args := m.Called(ctx, accessToken, commit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WorkspaceConfig), args.Error(1)
}

// MockContentFetcher is a mock implementation of the ContentFetcher interface
type MockContentFetcher struct {
	mock.Mock
}

func (m *MockContentFetcher) FetchFile(
	ctx context.Context,
	accessToken string,
	repo models.Repository,
	revision, path string,
) ([]byte, bool, error) {
	args := m.Called(ctx, accessToken, repo, revision, path)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]byte), args.Bool(1), args.Error(2)
}
