package clients

import (
	"context"

	"github.com/stretchr/testify/mock"

	"prebuildd/models"
)

// MockGitHubClient is a mock implementation of the GitHubClient interface
type MockGitHubClient struct {
	mock.Mock
}

func (m *MockGitHubClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, owner, repo, sha string,
	status models.CommitStatus,
) error {
	args := m.Called(ctx, accessToken, owner, repo, sha, status)
	return args.Error(0)
}

func (m *MockGitHubClient) GetCommitHistory(
	ctx context.Context,
	accessToken, owner, repo, sha string,
	limit int,
) ([]models.CommitInfo, error) {
	args := m.Called(ctx, accessToken, owner, repo, sha, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CommitInfo), args.Error(1)
}

func (m *MockGitHubClient) HasAdminAccess(
	ctx context.Context,
	accessToken, owner, repo string,
) (bool, error) {
	args := m.Called(ctx, accessToken, owner, repo)
	return args.Bool(0), args.Error(1)
}

func (m *MockGitHubClient) InstallWebhook(
	ctx context.Context,
	accessToken, owner, repo, callbackURL, secret string,
) (int64, error) {
	args := m.Called(ctx, accessToken, owner, repo, callbackURL, secret)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGitHubClient) UninstallWebhook(
	ctx context.Context,
	accessToken, owner, repo string,
	hookID int64,
) error {
	args := m.Called(ctx, accessToken, owner, repo, hookID)
	return args.Error(0)
}

func (m *MockGitHubClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, owner, repo, callbackURL string,
) ([]int64, error) {
	args := m.Called(ctx, accessToken, owner, repo, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockGitHubClient) AddPullRequestComment(
	ctx context.Context,
	accessToken, owner, repo string,
	number int,
	body string,
) error {
	args := m.Called(ctx, accessToken, owner, repo, number, body)
	return args.Error(0)
}

func (m *MockGitHubClient) AddPullRequestLabel(
	ctx context.Context,
	accessToken, owner, repo string,
	number int,
	label string,
) error {
	args := m.Called(ctx, accessToken, owner, repo, number, label)
	return args.Error(0)
}

func (m *MockGitHubClient) GetInstallationToken(ctx context.Context, installationID int64) (string, error) {
	args := m.Called(ctx, installationID)
	return args.String(0), args.Error(1)
}

// MockGitLabClient is a mock implementation of the GitLabClient interface
type MockGitLabClient struct {
	mock.Mock
}

func (m *MockGitLabClient) InstallWebhook(
	ctx context.Context,
	accessToken, projectPath, callbackURL, secret string,
) (int64, error) {
	args := m.Called(ctx, accessToken, projectPath, callbackURL, secret)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockGitLabClient) UninstallWebhook(
	ctx context.Context,
	accessToken, projectPath string,
	hookID int64,
) error {
	args := m.Called(ctx, accessToken, projectPath, hookID)
	return args.Error(0)
}

func (m *MockGitLabClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, projectPath, callbackURL string,
) ([]int64, error) {
	args := m.Called(ctx, accessToken, projectPath, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockGitLabClient) GetMaxAccessLevel(
	ctx context.Context,
	accessToken, projectPath string,
) (int, error) {
	args := m.Called(ctx, accessToken, projectPath)
	return args.Int(0), args.Error(1)
}

func (m *MockGitLabClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, projectPath, sha string,
	status models.CommitStatus,
) error {
	args := m.Called(ctx, accessToken, projectPath, sha, status)
	return args.Error(0)
}

func (m *MockGitLabClient) GetCommitHistory(
	ctx context.Context,
	accessToken, projectPath, sha string,
	limit int,
) ([]models.CommitInfo, error) {
	args := m.Called(ctx, accessToken, projectPath, sha, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.CommitInfo), args.Error(1)
}

// MockBitbucketClient is a mock implementation of the BitbucketClient interface
type MockBitbucketClient struct {
	mock.Mock
}

func (m *MockBitbucketClient) InstallWebhook(
	ctx context.Context,
	accessToken, workspace, repoSlug, callbackURL string,
) (string, error) {
	args := m.Called(ctx, accessToken, workspace, repoSlug, callbackURL)
	return args.String(0), args.Error(1)
}

func (m *MockBitbucketClient) UninstallWebhook(
	ctx context.Context,
	accessToken, workspace, repoSlug, hookUUID string,
) error {
	args := m.Called(ctx, accessToken, workspace, repoSlug, hookUUID)
	return args.Error(0)
}

func (m *MockBitbucketClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, workspace, repoSlug, callbackURL string,
) ([]string, error) {
	args := m.Called(ctx, accessToken, workspace, repoSlug, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockBitbucketClient) HasAdminAccess(
	ctx context.Context,
	accessToken, workspace, repoSlug string,
) (bool, error) {
	args := m.Called(ctx, accessToken, workspace, repoSlug)
	return args.Bool(0), args.Error(1)
}

func (m *MockBitbucketClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, workspace, repoSlug, sha string,
	status models.CommitStatus,
) error {
	args := m.Called(ctx, accessToken, workspace, repoSlug, sha, status)
	return args.Error(0)
}

// MockBitbucketServerClient is a mock implementation of the BitbucketServerClient interface
type MockBitbucketServerClient struct {
	mock.Mock
}

func (m *MockBitbucketServerClient) InstallWebhook(
	ctx context.Context,
	accessToken, projectKey, repoSlug, callbackURL, secret string,
) (int64, error) {
	args := m.Called(ctx, accessToken, projectKey, repoSlug, callbackURL, secret)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockBitbucketServerClient) UninstallWebhook(
	ctx context.Context,
	accessToken, projectKey, repoSlug string,
	hookID int64,
) error {
	args := m.Called(ctx, accessToken, projectKey, repoSlug, hookID)
	return args.Error(0)
}

func (m *MockBitbucketServerClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, projectKey, repoSlug, callbackURL string,
) ([]int64, error) {
	args := m.Called(ctx, accessToken, projectKey, repoSlug, callbackURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockBitbucketServerClient) HasAdminAccess(
	ctx context.Context,
	accessToken, projectKey, repoSlug string,
) (bool, error) {
	args := m.Called(ctx, accessToken, projectKey, repoSlug)
	return args.Bool(0), args.Error(1)
}

func (m *MockBitbucketServerClient) CreateBuildStatus(
	ctx context.Context,
	accessToken, sha string,
	status models.CommitStatus,
) error {
	args := m.Called(ctx, accessToken, sha, status)
	return args.Error(0)
}
