package projects

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/mo"

	"prebuildd/core"
	"prebuildd/db"
	"prebuildd/models"
)

type ProjectsService struct {
	projectsRepo *db.PostgresProjectsRepository
}

func NewProjectsService(repo *db.PostgresProjectsRepository) *ProjectsService {
	return &ProjectsService{projectsRepo: repo}
}

func (s *ProjectsService) CreateProject(
	ctx context.Context,
	name, cloneURL string,
	userID, teamID *string,
) (*models.Project, error) {
	log.Printf("📋 Starting to create project %s for %s", name, cloneURL)

	if name == "" {
		return nil, fmt.Errorf("project name cannot be empty")
	}
	if cloneURL == "" {
		return nil, fmt.Errorf("clone_url cannot be empty")
	}
	if (userID == nil) == (teamID == nil) {
		return nil, fmt.Errorf("exactly one of user_id and team_id must be set")
	}

	project, err := s.projectsRepo.CreateProject(ctx, name, cloneURL, userID, teamID)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	log.Printf("📋 Completed successfully - created project with ID: %s", project.ID)
	return project, nil
}

func (s *ProjectsService) GetProjectByID(ctx context.Context, id string) (mo.Option[*models.Project], error) {
	if !core.IsValidULID(id) {
		return mo.None[*models.Project](), fmt.Errorf("project id must be a valid ULID")
	}

	project, err := s.projectsRepo.GetProjectByID(ctx, id)
	if err != nil {
		return mo.None[*models.Project](), fmt.Errorf("failed to get project by id: %w", err)
	}
	if project == nil {
		return mo.None[*models.Project](), nil
	}
	return mo.Some(project), nil
}

func (s *ProjectsService) GetProjectsByCloneURL(
	ctx context.Context,
	cloneURL string,
) ([]models.Project, error) {
	if cloneURL == "" {
		return nil, fmt.Errorf("clone_url cannot be empty")
	}

	projects, err := s.projectsRepo.GetProjectsByCloneURL(ctx, cloneURL)
	if err != nil {
		return nil, fmt.Errorf("failed to get projects by clone url: %w", err)
	}
	return projects, nil
}

func (s *ProjectsService) GetProjectsForUser(ctx context.Context, userID string) ([]models.Project, error) {
	if !core.IsValidULID(userID) {
		return nil, fmt.Errorf("user id must be a valid ULID")
	}

	projects, err := s.projectsRepo.GetProjectsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get projects for user: %w", err)
	}
	return projects, nil
}

func (s *ProjectsService) UpdateSettings(
	ctx context.Context,
	projectID string,
	settings models.ProjectSettings,
) error {
	if !core.IsValidULID(projectID) {
		return fmt.Errorf("project id must be a valid ULID")
	}
	if err := s.projectsRepo.UpdateSettings(ctx, projectID, settings); err != nil {
		return fmt.Errorf("failed to update project settings: %w", err)
	}
	return nil
}

func (s *ProjectsService) DeleteProject(ctx context.Context, projectID string) error {
	log.Printf("📋 Starting to delete project: %s", projectID)

	if !core.IsValidULID(projectID) {
		return fmt.Errorf("project id must be a valid ULID")
	}
	if err := s.projectsRepo.DeleteProject(ctx, projectID); err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}

	log.Printf("📋 Completed successfully - deleted project: %s", projectID)
	return nil
}

// GetProjectOwnerUserID resolves the user that prebuild workspaces for this
// project run as: the personal owner, or the first team owner for team
// projects.
func (s *ProjectsService) GetProjectOwnerUserID(ctx context.Context, project *models.Project) (string, error) {
	if project.UserID != nil {
		return *project.UserID, nil
	}
	if project.TeamID == nil {
		return "", fmt.Errorf("project %s has neither user nor team owner", project.ID)
	}

	members, err := s.projectsRepo.GetTeamMembers(ctx, *project.TeamID)
	if err != nil {
		return "", fmt.Errorf("failed to get team members: %w", err)
	}
	for _, member := range members {
		if member.Role == models.TeamRoleOwner {
			return member.UserID, nil
		}
	}
	return "", fmt.Errorf("team %s has no owner", *project.TeamID)
}
