package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"prebuildd/core"
	dbtx "prebuildd/db/tx"
	"prebuildd/models"
)

type PostgresWorkspacesRepository struct {
	db     *sqlx.DB
	schema string
}

func NewPostgresWorkspacesRepository(db *sqlx.DB, schema string) *PostgresWorkspacesRepository {
	return &PostgresWorkspacesRepository{db: db, schema: schema}
}

// workspaceRow keeps the config column as raw JSON for scanning.
type workspaceRow struct {
	ID         string    `db:"id"`
	OwnerID    string    `db:"owner_id"`
	ProjectID  *string   `db:"project_id"`
	ContextURL string    `db:"context_url"`
	CloneURL   string    `db:"clone_url"`
	Config     []byte    `db:"config"`
	CreatedAt  time.Time `db:"created_at"`
}

func (row *workspaceRow) toModel() (*models.Workspace, error) {
	workspace := &models.Workspace{
		ID:         row.ID,
		OwnerID:    row.OwnerID,
		ProjectID:  row.ProjectID,
		ContextURL: row.ContextURL,
		CloneURL:   row.CloneURL,
		CreatedAt:  row.CreatedAt,
	}
	if len(row.Config) > 0 {
		config := &models.WorkspaceConfig{}
		if err := json.Unmarshal(row.Config, config); err != nil {
			return nil, fmt.Errorf("failed to unmarshal workspace config: %w", err)
		}
		workspace.Config = config
	}
	return workspace, nil
}

func (r *PostgresWorkspacesRepository) CreateWorkspace(
	ctx context.Context,
	workspace *models.Workspace,
) error {
	db := dbtx.GetTransactional(ctx, r.db)

	var configJSON []byte
	if workspace.Config != nil {
		data, err := json.Marshal(workspace.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal workspace config: %w", err)
		}
		configJSON = data
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.workspaces (id, owner_id, project_id, context_url, clone_url, config, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING created_at`, r.schema)

	err := db.QueryRowxContext(ctx, query,
		workspace.ID, workspace.OwnerID, workspace.ProjectID,
		workspace.ContextURL, workspace.CloneURL, configJSON).Scan(&workspace.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *PostgresWorkspacesRepository) GetWorkspaceByID(
	ctx context.Context,
	id string,
) (*models.Workspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT id, owner_id, project_id, context_url, clone_url, config, created_at
		FROM %s.workspaces
		WHERE id = $1`, r.schema)

	row := &workspaceRow{}
	err := db.QueryRowxContext(ctx, query, id).StructScan(row)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // Workspace not found
		}
		return nil, fmt.Errorf("failed to get workspace by id: %w", err)
	}

	return row.toModel()
}

type PostgresPrebuildsRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for prebuilt_workspaces table
var prebuildsColumns = []string{
	"id",
	"build_workspace_id",
	"clone_url",
	"branch",
	`"commit"`,
	"state",
	"error",
	`"trigger"`,
	"project_id",
	"created_at",
	"updated_at",
}

func NewPostgresPrebuildsRepository(db *sqlx.DB, schema string) *PostgresPrebuildsRepository {
	return &PostgresPrebuildsRepository{db: db, schema: schema}
}

// ClaimPrebuild inserts a new prebuild for (cloneURL, commit) unless one
// already exists. Returns the prebuild row and whether this call created it.
// The unique constraint makes concurrent claims for the same commit resolve
// to a single row.
func (r *PostgresPrebuildsRepository) ClaimPrebuild(
	ctx context.Context,
	prebuild *models.PrebuiltWorkspace,
) (*models.PrebuiltWorkspace, bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	if prebuild.ID == "" {
		prebuild.ID = core.NewID("pb")
	}

	returningStr := strings.Join(prebuildsColumns, ", ")

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s.prebuilt_workspaces
			(id, build_workspace_id, clone_url, branch, "commit", state, error, "trigger", project_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		ON CONFLICT (clone_url, "commit") DO NOTHING
		RETURNING %s`, r.schema, returningStr)

	claimed := &models.PrebuiltWorkspace{}
	err := db.QueryRowxContext(ctx, insertQuery,
		prebuild.ID, prebuild.BuildWorkspaceID, prebuild.CloneURL, prebuild.Branch,
		prebuild.Commit, prebuild.State, prebuild.Error, prebuild.Trigger, prebuild.ProjectID,
	).StructScan(claimed)
	if err == nil {
		return claimed, true, nil
	}
	if !strings.Contains(err.Error(), "no rows") {
		return nil, false, fmt.Errorf("failed to claim prebuild: %w", err)
	}

	// Conflict path: someone else holds the claim, return their row.
	existing, err := r.GetPrebuildByCommit(ctx, prebuild.CloneURL, prebuild.Commit)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return nil, false, fmt.Errorf("prebuild claim conflict but no existing row for %s@%s",
			prebuild.CloneURL, prebuild.Commit)
	}
	return existing, false, nil
}

func (r *PostgresPrebuildsRepository) GetPrebuildByID(
	ctx context.Context,
	id string,
) (*models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE id = $1`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	prebuild := &models.PrebuiltWorkspace{}
	err := db.QueryRowxContext(ctx, query, id).StructScan(prebuild)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // Prebuild not found
		}
		return nil, fmt.Errorf("failed to get prebuild by id: %w", err)
	}
	return prebuild, nil
}

func (r *PostgresPrebuildsRepository) GetPrebuildByCommit(
	ctx context.Context,
	cloneURL, commit string,
) (*models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE clone_url = $1 AND "commit" = $2`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	prebuild := &models.PrebuiltWorkspace{}
	err := db.QueryRowxContext(ctx, query, cloneURL, commit).StructScan(prebuild)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // Prebuild not found
		}
		return nil, fmt.Errorf("failed to get prebuild by commit: %w", err)
	}
	return prebuild, nil
}

func (r *PostgresPrebuildsRepository) GetPrebuildByWorkspaceID(
	ctx context.Context,
	workspaceID string,
) (*models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE build_workspace_id = $1`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	prebuild := &models.PrebuiltWorkspace{}
	err := db.QueryRowxContext(ctx, query, workspaceID).StructScan(prebuild)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // Prebuild not found
		}
		return nil, fmt.Errorf("failed to get prebuild by workspace id: %w", err)
	}
	return prebuild, nil
}

func (r *PostgresPrebuildsRepository) UpdatePrebuildState(
	ctx context.Context,
	id string,
	state models.PrebuildState,
	errorMessage string,
) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.prebuilt_workspaces
		SET state = $2, error = $3, updated_at = NOW()
		WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, id, state, errorMessage)
	if err != nil {
		return fmt.Errorf("failed to update prebuild state: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("prebuild not found: %s", id)
	}
	return nil
}

// GetUnresolvedPrebuildsForBranch returns queued or building prebuilds for
// other commits on the same branch; these are the ones a newer push makes
// obsolete.
func (r *PostgresPrebuildsRepository) GetUnresolvedPrebuildsForBranch(
	ctx context.Context,
	cloneURL, branch, excludeCommit string,
) ([]models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE clone_url = $1 AND branch = $2 AND "commit" <> $3
		  AND state IN ('queued', 'building')`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	var prebuilds []models.PrebuiltWorkspace
	if err := db.SelectContext(ctx, &prebuilds, query, cloneURL, branch, excludeCommit); err != nil {
		return nil, fmt.Errorf("failed to get unresolved prebuilds for branch: %w", err)
	}
	return prebuilds, nil
}

// GetLatestPrebuildForBranch returns the most recent available prebuild on a
// branch, used by the incremental passlist to find a base build.
func (r *PostgresPrebuildsRepository) GetLatestPrebuildForBranch(
	ctx context.Context,
	cloneURL, branch string,
) (*models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE clone_url = $1 AND branch = $2 AND state = 'available' AND error = ''
		ORDER BY created_at DESC
		LIMIT 1`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	prebuild := &models.PrebuiltWorkspace{}
	err := db.QueryRowxContext(ctx, query, cloneURL, branch).StructScan(prebuild)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // No finished prebuild on this branch
		}
		return nil, fmt.Errorf("failed to get latest prebuild for branch: %w", err)
	}
	return prebuild, nil
}

// HasWebhookTriggeredPrebuilds reports whether a repository ever produced a
// webhook-triggered prebuild.
func (r *PostgresPrebuildsRepository) HasWebhookTriggeredPrebuilds(
	ctx context.Context,
	cloneURL string,
) (bool, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT EXISTS (
			SELECT 1 FROM %s.prebuilt_workspaces
			WHERE clone_url = $1 AND "trigger" = 'webhook'
		)`, r.schema)

	var exists bool
	if err := db.QueryRowxContext(ctx, query, cloneURL).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check webhook-triggered prebuilds: %w", err)
	}
	return exists, nil
}

func (r *PostgresPrebuildsRepository) GetRecentPrebuildsForProject(
	ctx context.Context,
	projectID string,
	limit int,
) ([]models.PrebuiltWorkspace, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspaces
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		strings.Join(prebuildsColumns, ", "), r.schema)

	var prebuilds []models.PrebuiltWorkspace
	if err := db.SelectContext(ctx, &prebuilds, query, projectID, limit); err != nil {
		return nil, fmt.Errorf("failed to get recent prebuilds for project: %w", err)
	}
	return prebuilds, nil
}
