package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"prebuildd/core"
	dbtx "prebuildd/db/tx"
	"prebuildd/models"
)

type PostgresProjectsRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for projects table
var projectsColumns = []string{
	"id",
	"name",
	"clone_url",
	"user_id",
	"team_id",
	"keep_outdated_prebuilds_running",
	"use_incremental_prebuilds",
	"created_at",
	"updated_at",
}

func NewPostgresProjectsRepository(db *sqlx.DB, schema string) *PostgresProjectsRepository {
	return &PostgresProjectsRepository{db: db, schema: schema}
}

// projectRow flattens the settings columns for scanning.
type projectRow struct {
	models.Project
	KeepOutdatedPrebuildsRunning bool `db:"keep_outdated_prebuilds_running"`
	UseIncrementalPrebuilds      bool `db:"use_incremental_prebuilds"`
}

func (row *projectRow) toModel() models.Project {
	project := row.Project
	project.Settings = models.ProjectSettings{
		KeepOutdatedPrebuildsRunning: row.KeepOutdatedPrebuildsRunning,
		UseIncrementalPrebuilds:      row.UseIncrementalPrebuilds,
	}
	return project
}

func (r *PostgresProjectsRepository) CreateProject(
	ctx context.Context,
	name, cloneURL string,
	userID, teamID *string,
) (*models.Project, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	projectID := core.NewID("prj")

	query := fmt.Sprintf(`
		INSERT INTO %s.projects (id, name, clone_url, user_id, team_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING %s`,
		r.schema, strings.Join(projectsColumns, ", "))

	row := &projectRow{}
	err := db.QueryRowxContext(ctx, query, projectID, name, cloneURL, userID, teamID).StructScan(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}

	project := row.toModel()
	return &project, nil
}

func (r *PostgresProjectsRepository) GetProjectByID(ctx context.Context, id string) (*models.Project, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.projects
		WHERE id = $1`,
		strings.Join(projectsColumns, ", "), r.schema)

	row := &projectRow{}
	err := db.QueryRowxContext(ctx, query, id).StructScan(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // Project not found
		}
		return nil, fmt.Errorf("failed to get project by id: %w", err)
	}

	project := row.toModel()
	return &project, nil
}

// GetProjectsByCloneURL returns every project watching the given repository.
// Trailing "/" and ".git" variants are matched so provider payload URLs line
// up with what users registered.
func (r *PostgresProjectsRepository) GetProjectsByCloneURL(
	ctx context.Context,
	cloneURL string,
) ([]models.Project, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	trimmed := strings.TrimSuffix(strings.TrimSuffix(cloneURL, "/"), ".git")

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.projects
		WHERE clone_url IN ($1, $2, $3)`,
		strings.Join(projectsColumns, ", "), r.schema)

	var rows []projectRow
	if err := db.SelectContext(ctx, &rows, query, trimmed, trimmed+".git", trimmed+"/"); err != nil {
		return nil, fmt.Errorf("failed to get projects by clone url: %w", err)
	}

	projects := make([]models.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, rows[i].toModel())
	}
	return projects, nil
}

func (r *PostgresProjectsRepository) GetProjectsForUser(
	ctx context.Context,
	userID string,
) ([]models.Project, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.projects
		WHERE user_id = $1
		   OR team_id IN (SELECT team_id FROM %s.team_members WHERE user_id = $1)
		ORDER BY created_at DESC`,
		strings.Join(projectsColumns, ", "), r.schema, r.schema)

	var rows []projectRow
	if err := db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get projects for user: %w", err)
	}

	projects := make([]models.Project, 0, len(rows))
	for i := range rows {
		projects = append(projects, rows[i].toModel())
	}
	return projects, nil
}

func (r *PostgresProjectsRepository) UpdateSettings(
	ctx context.Context,
	projectID string,
	settings models.ProjectSettings,
) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.projects
		SET keep_outdated_prebuilds_running = $2,
		    use_incremental_prebuilds = $3,
		    updated_at = NOW()
		WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query,
		projectID, settings.KeepOutdatedPrebuildsRunning, settings.UseIncrementalPrebuilds)
	if err != nil {
		return fmt.Errorf("failed to update project settings: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (r *PostgresProjectsRepository) DeleteProject(ctx context.Context, projectID string) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`DELETE FROM %s.projects WHERE id = $1`, r.schema)
	result, err := db.ExecContext(ctx, query, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project not found: %s", projectID)
	}
	return nil
}

func (r *PostgresProjectsRepository) GetTeamMembers(
	ctx context.Context,
	teamID string,
) ([]models.TeamMember, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT team_id, user_id, role
		FROM %s.team_members
		WHERE team_id = $1`, r.schema)

	var members []models.TeamMember
	if err := db.SelectContext(ctx, &members, query, teamID); err != nil {
		return nil, fmt.Errorf("failed to get team members: %w", err)
	}
	return members, nil
}

func (r *PostgresProjectsRepository) UpsertTeamMember(ctx context.Context, member models.TeamMember) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		INSERT INTO %s.team_members (team_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (team_id, user_id) DO UPDATE SET role = EXCLUDED.role`, r.schema)

	if _, err := db.ExecContext(ctx, query, member.TeamID, member.UserID, member.Role); err != nil {
		return fmt.Errorf("failed to upsert team member: %w", err)
	}
	return nil
}
