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

type PostgresUpdatablesRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for prebuilt_workspace_updatables table
var updatablesColumns = []string{
	"id",
	"owner",
	"repo",
	"commit_sha",
	"context_url",
	"issue",
	"installation_id",
	"prebuilt_workspace_id",
	"is_resolved",
	"created_at",
}

func NewPostgresUpdatablesRepository(db *sqlx.DB, schema string) *PostgresUpdatablesRepository {
	return &PostgresUpdatablesRepository{db: db, schema: schema}
}

func (r *PostgresUpdatablesRepository) CreateUpdatable(
	ctx context.Context,
	updatable *models.PrebuiltWorkspaceUpdatable,
) (*models.PrebuiltWorkspaceUpdatable, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	if updatable.ID == "" {
		updatable.ID = core.NewID("upd")
	}

	query := fmt.Sprintf(`
		INSERT INTO %s.prebuilt_workspace_updatables
			(id, owner, repo, commit_sha, context_url, issue, installation_id, prebuilt_workspace_id, is_resolved, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, NOW())
		RETURNING %s`,
		r.schema, strings.Join(updatablesColumns, ", "))

	created := &models.PrebuiltWorkspaceUpdatable{}
	err := db.QueryRowxContext(ctx, query,
		updatable.ID, updatable.Owner, updatable.Repo, updatable.CommitSHA,
		updatable.ContextURL, updatable.Issue, updatable.InstallationID,
		updatable.PrebuiltWorkspaceID,
	).StructScan(created)
	if err != nil {
		return nil, fmt.Errorf("failed to create updatable: %w", err)
	}
	return created, nil
}

func (r *PostgresUpdatablesRepository) GetUpdatablesForPrebuild(
	ctx context.Context,
	prebuiltWorkspaceID string,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspace_updatables
		WHERE prebuilt_workspace_id = $1 AND NOT is_resolved`,
		strings.Join(updatablesColumns, ", "), r.schema)

	var updatables []models.PrebuiltWorkspaceUpdatable
	if err := db.SelectContext(ctx, &updatables, query, prebuiltWorkspaceID); err != nil {
		return nil, fmt.Errorf("failed to get updatables for prebuild: %w", err)
	}
	return updatables, nil
}

// GetStaleUpdatables returns unresolved rows older than minAge, oldest
// first. These missed their completion event and are force-resolved by the
// status maintainer's sweep.
func (r *PostgresUpdatablesRepository) GetStaleUpdatables(
	ctx context.Context,
	minAgeSeconds int64,
) ([]models.PrebuiltWorkspaceUpdatable, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.prebuilt_workspace_updatables
		WHERE NOT is_resolved AND created_at < NOW() - ($1 * INTERVAL '1 second')
		ORDER BY created_at ASC`,
		strings.Join(updatablesColumns, ", "), r.schema)

	var updatables []models.PrebuiltWorkspaceUpdatable
	if err := db.SelectContext(ctx, &updatables, query, minAgeSeconds); err != nil {
		return nil, fmt.Errorf("failed to get stale updatables: %w", err)
	}
	return updatables, nil
}

func (r *PostgresUpdatablesRepository) MarkUpdatableResolved(ctx context.Context, id string) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.prebuilt_workspace_updatables
		SET is_resolved = TRUE
		WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark updatable resolved: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("updatable not found: %s", id)
	}
	return nil
}
