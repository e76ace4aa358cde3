package services

import (
	"context"

	"github.com/samber/mo"
	"github.com/stretchr/testify/mock"

	"prebuildd/models"
)

// MockUsersService is a mock implementation of the UsersService interface
type MockUsersService struct {
	mock.Mock
}

func (m *MockUsersService) GetUserByID(ctx context.Context, id string) (mo.Option[*models.User], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.User]), args.Error(1)
}

func (m *MockUsersService) GetUserByIdentity(
	ctx context.Context,
	authProviderID, authID string,
) (mo.Option[*models.User], error) {
	args := m.Called(ctx, authProviderID, authID)
	return args.Get(0).(mo.Option[*models.User]), args.Error(1)
}

func (m *MockUsersService) EnsureUserWithIdentity(
	ctx context.Context,
	identity models.Identity,
	name string,
) (*models.User, error) {
	args := m.Called(ctx, identity, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *MockUsersService) BindIdentity(ctx context.Context, identity models.Identity) error {
	args := m.Called(ctx, identity)
	return args.Error(0)
}

func (m *MockUsersService) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	args := m.Called(ctx, userID, blocked)
	return args.Error(0)
}

// MockTokensService is a mock implementation of the TokensService interface
type MockTokensService struct {
	mock.Mock
}

func (m *MockTokensService) GetTokens(
	ctx context.Context,
	authProviderID, authID string,
) ([]models.TokenEntry, error) {
	args := m.Called(ctx, authProviderID, authID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.TokenEntry), args.Error(1)
}

func (m *MockTokensService) GetTokensWithScope(
	ctx context.Context,
	authProviderID, authID, scope string,
) ([]models.Token, error) {
	args := m.Called(ctx, authProviderID, authID, scope)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Token), args.Error(1)
}

func (m *MockTokensService) ReplaceToken(
	ctx context.Context,
	authProviderID, authID string,
	token models.Token,
) error {
	args := m.Called(ctx, authProviderID, authID, token)
	return args.Error(0)
}

// MockProjectsService is a mock implementation of the ProjectsService interface
type MockProjectsService struct {
	mock.Mock
}

func (m *MockProjectsService) CreateProject(
	ctx context.Context,
	name, cloneURL string,
	userID, teamID *string,
) (*models.Project, error) {
	args := m.Called(ctx, name, cloneURL, userID, teamID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Project), args.Error(1)
}

func (m *MockProjectsService) GetProjectByID(ctx context.Context, id string) (mo.Option[*models.Project], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.Project]), args.Error(1)
}

func (m *MockProjectsService) GetProjectsByCloneURL(
	ctx context.Context,
	cloneURL string,
) ([]models.Project, error) {
	args := m.Called(ctx, cloneURL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}

func (m *MockProjectsService) GetProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Project), args.Error(1)
}

func (m *MockProjectsService) UpdateSettings(
	ctx context.Context,
	projectID string,
	settings models.ProjectSettings,
) error {
	args := m.Called(ctx, projectID, settings)
	return args.Error(0)
}

func (m *MockProjectsService) DeleteProject(ctx context.Context, projectID string) error {
	args := m.Called(ctx, projectID)
	return args.Error(0)
}

func (m *MockProjectsService) GetProjectOwnerUserID(
	ctx context.Context,
	project *models.Project,
) (string, error) {
	args := m.Called(ctx, project)
	return args.String(0), args.Error(1)
}

// MockPrebuildsService is a mock implementation of the PrebuildsService interface
type MockPrebuildsService struct {
	mock.Mock
}

func (m *MockPrebuildsService) ClaimPrebuild(
	ctx context.Context,
	prebuild *models.PrebuiltWorkspace,
) (*models.PrebuiltWorkspace, bool, error) {
	args := m.Called(ctx, prebuild)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*models.PrebuiltWorkspace), args.Bool(1), args.Error(2)
}

func (m *MockPrebuildsService) GetPrebuildByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.PrebuiltWorkspace]), args.Error(1)
}

func (m *MockPrebuildsService) GetPrebuildByCommit(
	ctx context.Context,
	cloneURL, commit string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	args := m.Called(ctx, cloneURL, commit)
	return args.Get(0).(mo.Option[*models.PrebuiltWorkspace]), args.Error(1)
}

func (m *MockPrebuildsService) GetPrebuildByWorkspaceID(
	ctx context.Context,
	workspaceID string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	args := m.Called(ctx, workspaceID)
	return args.Get(0).(mo.Option[*models.PrebuiltWorkspace]), args.Error(1)
}

func (m *MockPrebuildsService) UpdatePrebuildState(
	ctx context.Context,
	id string,
	state models.PrebuildState,
	errorMessage string,
) error {
	args := m.Called(ctx, id, state, errorMessage)
	return args.Error(0)
}

func (m *MockPrebuildsService) GetUnresolvedPrebuildsForBranch(
	ctx context.Context,
	cloneURL, branch, excludeCommit string,
) ([]models.PrebuiltWorkspace, error) {
	args := m.Called(ctx, cloneURL, branch, excludeCommit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PrebuiltWorkspace), args.Error(1)
}

func (m *MockPrebuildsService) GetLatestPrebuildForBranch(
	ctx context.Context,
	cloneURL, branch string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	args := m.Called(ctx, cloneURL, branch)
	return args.Get(0).(mo.Option[*models.PrebuiltWorkspace]), args.Error(1)
}

func (m *MockPrebuildsService) HasWebhookTriggeredPrebuilds(
	ctx context.Context,
	cloneURL string,
) (bool, error) {
	args := m.Called(ctx, cloneURL)
	return args.Bool(0), args.Error(1)
}

func (m *MockPrebuildsService) GetRecentPrebuildsForProject(
	ctx context.Context,
	projectID string,
	limit int,
) ([]models.PrebuiltWorkspace, error) {
	args := m.Called(ctx, projectID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PrebuiltWorkspace), args.Error(1)
}

func (m *MockPrebuildsService) CreateWorkspace(ctx context.Context, workspace *models.Workspace) error {
	args := m.Called(ctx, workspace)
	return args.Error(0)
}

func (m *MockPrebuildsService) GetWorkspaceByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.Workspace], error) {
	args := m.Called(ctx, id)
	return args.Get(0).(mo.Option[*models.Workspace]), args.Error(1)
}

func (m *MockPrebuildsService) CreateUpdatable(
	ctx context.Context,
	updatable *models.PrebuiltWorkspaceUpdatable,
) (*models.PrebuiltWorkspaceUpdatable, error) {
	args := m.Called(ctx, updatable)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PrebuiltWorkspaceUpdatable), args.Error(1)
}

func (m *MockPrebuildsService) GetUpdatablesForPrebuild(
	ctx context.Context,
	prebuildID string,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	args := m.Called(ctx, prebuildID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PrebuiltWorkspaceUpdatable), args.Error(1)
}

func (m *MockPrebuildsService) GetStaleUpdatables(
	ctx context.Context,
	minAgeSeconds int64,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	args := m.Called(ctx, minAgeSeconds)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.PrebuiltWorkspaceUpdatable), args.Error(1)
}

func (m *MockPrebuildsService) MarkUpdatableResolved(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockWebhookEventsService is a mock implementation of the WebhookEventsService interface
type MockWebhookEventsService struct {
	mock.Mock
}

func (m *MockWebhookEventsService) RecordEvent(
	ctx context.Context,
	provider, eventType, rawEvent string,
) (*models.WebhookEvent, error) {
	args := m.Called(ctx, provider, eventType, rawEvent)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.WebhookEvent), args.Error(1)
}

func (m *MockWebhookEventsService) UpdateEvent(
	ctx context.Context,
	id string,
	update models.WebhookEventUpdate,
) error {
	args := m.Called(ctx, id, update)
	return args.Error(0)
}

func (m *MockWebhookEventsService) GetEventsByCloneURL(
	ctx context.Context,
	cloneURL string,
	limit int,
) ([]models.WebhookEvent, error) {
	args := m.Called(ctx, cloneURL, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.WebhookEvent), args.Error(1)
}
