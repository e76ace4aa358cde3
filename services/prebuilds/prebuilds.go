package prebuilds

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/mo"

	"prebuildd/core"
	"prebuildd/db"
	"prebuildd/models"
)

type PrebuildsService struct {
	prebuildsRepo  *db.PostgresPrebuildsRepository
	workspacesRepo *db.PostgresWorkspacesRepository
	updatablesRepo *db.PostgresUpdatablesRepository
}

func NewPrebuildsService(
	prebuildsRepo *db.PostgresPrebuildsRepository,
	workspacesRepo *db.PostgresWorkspacesRepository,
	updatablesRepo *db.PostgresUpdatablesRepository,
) *PrebuildsService {
	return &PrebuildsService{
		prebuildsRepo:  prebuildsRepo,
		workspacesRepo: workspacesRepo,
		updatablesRepo: updatablesRepo,
	}
}

func (s *PrebuildsService) ClaimPrebuild(
	ctx context.Context,
	prebuild *models.PrebuiltWorkspace,
) (*models.PrebuiltWorkspace, bool, error) {
	log.Printf("📋 Starting to claim prebuild for %s@%s", prebuild.CloneURL, prebuild.Commit)

	if prebuild.CloneURL == "" || prebuild.Commit == "" {
		return nil, false, fmt.Errorf("clone_url and commit cannot be empty")
	}
	if prebuild.State == "" {
		prebuild.State = models.PrebuildStateQueued
	}
	if prebuild.Trigger == "" {
		prebuild.Trigger = models.PrebuildTriggerWebhook
	}

	claimed, created, err := s.prebuildsRepo.ClaimPrebuild(ctx, prebuild)
	if err != nil {
		return nil, false, fmt.Errorf("failed to claim prebuild: %w", err)
	}

	if created {
		log.Printf("📋 Completed successfully - claimed new prebuild: %s", claimed.ID)
	} else {
		log.Printf("📋 Completed successfully - prebuild already exists: %s", claimed.ID)
	}
	return claimed, created, nil
}

func (s *PrebuildsService) GetPrebuildByID(
	ctx context.Context,
	id string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	if !core.IsValidULID(id) {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("prebuild id must be a valid ULID")
	}

	prebuild, err := s.prebuildsRepo.GetPrebuildByID(ctx, id)
	if err != nil {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("failed to get prebuild by id: %w", err)
	}
	if prebuild == nil {
		return mo.None[*models.PrebuiltWorkspace](), nil
	}
	return mo.Some(prebuild), nil
}

func (s *PrebuildsService) GetPrebuildByCommit(
	ctx context.Context,
	cloneURL, commit string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	if cloneURL == "" || commit == "" {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("clone_url and commit cannot be empty")
	}

	prebuild, err := s.prebuildsRepo.GetPrebuildByCommit(ctx, cloneURL, commit)
	if err != nil {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("failed to get prebuild by commit: %w", err)
	}
	if prebuild == nil {
		return mo.None[*models.PrebuiltWorkspace](), nil
	}
	return mo.Some(prebuild), nil
}

func (s *PrebuildsService) GetPrebuildByWorkspaceID(
	ctx context.Context,
	workspaceID string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	if !core.IsValidULID(workspaceID) {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("workspace id must be a valid ULID")
	}

	prebuild, err := s.prebuildsRepo.GetPrebuildByWorkspaceID(ctx, workspaceID)
	if err != nil {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("failed to get prebuild by workspace id: %w", err)
	}
	if prebuild == nil {
		return mo.None[*models.PrebuiltWorkspace](), nil
	}
	return mo.Some(prebuild), nil
}

func (s *PrebuildsService) UpdatePrebuildState(
	ctx context.Context,
	id string,
	state models.PrebuildState,
	errorMessage string,
) error {
	log.Printf("📋 Updating prebuild %s to state %s", id, state)

	if !core.IsValidULID(id) {
		return fmt.Errorf("prebuild id must be a valid ULID")
	}
	if err := s.prebuildsRepo.UpdatePrebuildState(ctx, id, state, errorMessage); err != nil {
		return fmt.Errorf("failed to update prebuild state: %w", err)
	}
	return nil
}

func (s *PrebuildsService) GetUnresolvedPrebuildsForBranch(
	ctx context.Context,
	cloneURL, branch, excludeCommit string,
) ([]models.PrebuiltWorkspace, error) {
	if cloneURL == "" || branch == "" {
		return nil, fmt.Errorf("clone_url and branch cannot be empty")
	}

	prebuilds, err := s.prebuildsRepo.GetUnresolvedPrebuildsForBranch(ctx, cloneURL, branch, excludeCommit)
	if err != nil {
		return nil, fmt.Errorf("failed to get unresolved prebuilds for branch: %w", err)
	}
	return prebuilds, nil
}

func (s *PrebuildsService) GetLatestPrebuildForBranch(
	ctx context.Context,
	cloneURL, branch string,
) (mo.Option[*models.PrebuiltWorkspace], error) {
	if cloneURL == "" || branch == "" {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("clone_url and branch cannot be empty")
	}

	prebuild, err := s.prebuildsRepo.GetLatestPrebuildForBranch(ctx, cloneURL, branch)
	if err != nil {
		return mo.None[*models.PrebuiltWorkspace](), fmt.Errorf("failed to get latest prebuild for branch: %w", err)
	}
	if prebuild == nil {
		return mo.None[*models.PrebuiltWorkspace](), nil
	}
	return mo.Some(prebuild), nil
}

func (s *PrebuildsService) HasWebhookTriggeredPrebuilds(ctx context.Context, cloneURL string) (bool, error) {
	if cloneURL == "" {
		return false, fmt.Errorf("clone_url cannot be empty")
	}
	return s.prebuildsRepo.HasWebhookTriggeredPrebuilds(ctx, cloneURL)
}

func (s *PrebuildsService) GetRecentPrebuildsForProject(
	ctx context.Context,
	projectID string,
	limit int,
) ([]models.PrebuiltWorkspace, error) {
	if !core.IsValidULID(projectID) {
		return nil, fmt.Errorf("project id must be a valid ULID")
	}
	if limit <= 0 {
		limit = 30
	}

	prebuilds, err := s.prebuildsRepo.GetRecentPrebuildsForProject(ctx, projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get recent prebuilds for project: %w", err)
	}
	return prebuilds, nil
}

func (s *PrebuildsService) CreateWorkspace(ctx context.Context, workspace *models.Workspace) error {
	if workspace.ID == "" {
		workspace.ID = core.NewID("ws")
	}
	if workspace.OwnerID == "" {
		return fmt.Errorf("workspace owner_id cannot be empty")
	}
	if err := s.workspacesRepo.CreateWorkspace(ctx, workspace); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (s *PrebuildsService) GetWorkspaceByID(ctx context.Context, id string) (mo.Option[*models.Workspace], error) {
	if !core.IsValidULID(id) {
		return mo.None[*models.Workspace](), fmt.Errorf("workspace id must be a valid ULID")
	}

	workspace, err := s.workspacesRepo.GetWorkspaceByID(ctx, id)
	if err != nil {
		return mo.None[*models.Workspace](), fmt.Errorf("failed to get workspace by id: %w", err)
	}
	if workspace == nil {
		return mo.None[*models.Workspace](), nil
	}
	return mo.Some(workspace), nil
}

func (s *PrebuildsService) CreateUpdatable(
	ctx context.Context,
	updatable *models.PrebuiltWorkspaceUpdatable,
) (*models.PrebuiltWorkspaceUpdatable, error) {
	if updatable.PrebuiltWorkspaceID == "" {
		return nil, fmt.Errorf("prebuilt_workspace_id cannot be empty")
	}

	created, err := s.updatablesRepo.CreateUpdatable(ctx, updatable)
	if err != nil {
		return nil, fmt.Errorf("failed to create updatable: %w", err)
	}
	return created, nil
}

func (s *PrebuildsService) GetUpdatablesForPrebuild(
	ctx context.Context,
	prebuildID string,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	if !core.IsValidULID(prebuildID) {
		return nil, fmt.Errorf("prebuild id must be a valid ULID")
	}
	return s.updatablesRepo.GetUpdatablesForPrebuild(ctx, prebuildID)
}

func (s *PrebuildsService) GetStaleUpdatables(
	ctx context.Context,
	minAgeSeconds int64,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	return s.updatablesRepo.GetStaleUpdatables(ctx, minAgeSeconds)
}

func (s *PrebuildsService) MarkUpdatableResolved(ctx context.Context, id string) error {
	if !core.IsValidULID(id) {
		return fmt.Errorf("updatable id must be a valid ULID")
	}
	return s.updatablesRepo.MarkUpdatableResolved(ctx, id)
}
