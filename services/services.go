package services

import (
	"context"

	"github.com/samber/mo"

	"prebuildd/models"
)

// UsersService defines the interface for user-related operations
type UsersService interface {
	GetUserByID(ctx context.Context, id string) (mo.Option[*models.User], error)
	GetUserByIdentity(ctx context.Context, authProviderID, authID string) (mo.Option[*models.User], error)
	EnsureUserWithIdentity(ctx context.Context, identity models.Identity, name string) (*models.User, error)
	BindIdentity(ctx context.Context, identity models.Identity) error
	SetBlocked(ctx context.Context, userID string, blocked bool) error
}

// TokensService defines the interface for stored credential operations
type TokensService interface {
	GetTokens(ctx context.Context, authProviderID, authID string) ([]models.TokenEntry, error)
	GetTokensWithScope(ctx context.Context, authProviderID, authID, scope string) ([]models.Token, error)
	ReplaceToken(ctx context.Context, authProviderID, authID string, token models.Token) error
}

// ProjectsService defines the interface for project-related operations
type ProjectsService interface {
	CreateProject(ctx context.Context, name, cloneURL string, userID, teamID *string) (*models.Project, error)
	GetProjectByID(ctx context.Context, id string) (mo.Option[*models.Project], error)
	GetProjectsByCloneURL(ctx context.Context, cloneURL string) ([]models.Project, error)
	GetProjectsForUser(ctx context.Context, userID string) ([]models.Project, error)
	UpdateSettings(ctx context.Context, projectID string, settings models.ProjectSettings) error
	DeleteProject(ctx context.Context, projectID string) error
	GetProjectOwnerUserID(ctx context.Context, project *models.Project) (string, error)
}

// PrebuildsService defines the interface for prebuild and workspace records
type PrebuildsService interface {
	ClaimPrebuild(ctx context.Context, prebuild *models.PrebuiltWorkspace) (*models.PrebuiltWorkspace, bool, error)
	GetPrebuildByID(ctx context.Context, id string) (mo.Option[*models.PrebuiltWorkspace], error)
	GetPrebuildByCommit(ctx context.Context, cloneURL, commit string) (mo.Option[*models.PrebuiltWorkspace], error)
	GetPrebuildByWorkspaceID(ctx context.Context, workspaceID string) (mo.Option[*models.PrebuiltWorkspace], error)
	UpdatePrebuildState(ctx context.Context, id string, state models.PrebuildState, errorMessage string) error
	GetUnresolvedPrebuildsForBranch(
		ctx context.Context,
		cloneURL, branch, excludeCommit string,
	) ([]models.PrebuiltWorkspace, error)
	GetLatestPrebuildForBranch(ctx context.Context, cloneURL, branch string) (mo.Option[*models.PrebuiltWorkspace], error)
	HasWebhookTriggeredPrebuilds(ctx context.Context, cloneURL string) (bool, error)
	GetRecentPrebuildsForProject(ctx context.Context, projectID string, limit int) ([]models.PrebuiltWorkspace, error)

	CreateWorkspace(ctx context.Context, workspace *models.Workspace) error
	GetWorkspaceByID(ctx context.Context, id string) (mo.Option[*models.Workspace], error)

	CreateUpdatable(
		ctx context.Context,
		updatable *models.PrebuiltWorkspaceUpdatable,
	) (*models.PrebuiltWorkspaceUpdatable, error)
	GetUpdatablesForPrebuild(ctx context.Context, prebuildID string) ([]models.PrebuiltWorkspaceUpdatable, error)
	GetStaleUpdatables(ctx context.Context, minAgeSeconds int64) ([]models.PrebuiltWorkspaceUpdatable, error)
	MarkUpdatableResolved(ctx context.Context, id string) error
}

// WebhookEventsService defines the interface for the webhook audit trail
type WebhookEventsService interface {
	RecordEvent(ctx context.Context, provider, eventType, rawEvent string) (*models.WebhookEvent, error)
	UpdateEvent(ctx context.Context, id string, update models.WebhookEventUpdate) error
	GetEventsByCloneURL(ctx context.Context, cloneURL string, limit int) ([]models.WebhookEvent, error)
}

// TransactionManager defines the interface for managing database transactions
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	BeginTransaction(ctx context.Context) (context.Context, error)
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
}
