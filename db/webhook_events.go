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

type PostgresWebhookEventsRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for webhook_events table
var webhookEventsColumns = []string{
	"id",
	"provider",
	"type",
	"status",
	"raw_event",
	"authorized_user_id",
	"project_id",
	"clone_url",
	"branch",
	`"commit"`,
	"prebuild_status",
	"prebuild_id",
	"created_at",
	"updated_at",
}

func NewPostgresWebhookEventsRepository(db *sqlx.DB, schema string) *PostgresWebhookEventsRepository {
	return &PostgresWebhookEventsRepository{db: db, schema: schema}
}

func (r *PostgresWebhookEventsRepository) CreateEvent(
	ctx context.Context,
	provider, eventType, rawEvent string,
) (*models.WebhookEvent, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	eventID := core.NewID("whe")

	query := fmt.Sprintf(`
		INSERT INTO %s.webhook_events (id, provider, type, status, raw_event, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING %s`,
		r.schema, strings.Join(webhookEventsColumns, ", "))

	event := &models.WebhookEvent{}
	err := db.QueryRowxContext(ctx, query,
		eventID, provider, eventType, models.WebhookEventReceived, rawEvent).StructScan(event)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook event: %w", err)
	}
	return event, nil
}

// UpdateEvent applies the non-nil fields of update to the audit row.
func (r *PostgresWebhookEventsRepository) UpdateEvent(
	ctx context.Context,
	id string,
	update models.WebhookEventUpdate,
) error {
	db := dbtx.GetTransactional(ctx, r.db)

	setClauses := []string{"updated_at = NOW()"}
	args := []any{id}
	addClause := func(column string, value any) {
		args = append(args, value)
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		addClause("status", *update.Status)
	}
	if update.AuthorizedUserID != nil {
		addClause("authorized_user_id", *update.AuthorizedUserID)
	}
	if update.ProjectID != nil {
		addClause("project_id", *update.ProjectID)
	}
	if update.CloneURL != nil {
		addClause("clone_url", *update.CloneURL)
	}
	if update.Branch != nil {
		addClause("branch", *update.Branch)
	}
	if update.Commit != nil {
		addClause(`"commit"`, *update.Commit)
	}
	if update.PrebuildStatus != nil {
		addClause("prebuild_status", *update.PrebuildStatus)
	}
	if update.PrebuildID != nil {
		addClause("prebuild_id", *update.PrebuildID)
	}

	query := fmt.Sprintf(`
		UPDATE %s.webhook_events
		SET %s
		WHERE id = $1`, r.schema, strings.Join(setClauses, ", "))

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update webhook event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("webhook event not found: %s", id)
	}
	return nil
}

func (r *PostgresWebhookEventsRepository) GetEventsByCloneURL(
	ctx context.Context,
	cloneURL string,
	limit int,
) ([]models.WebhookEvent, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.webhook_events
		WHERE clone_url = $1
		ORDER BY created_at DESC
		LIMIT $2`,
		strings.Join(webhookEventsColumns, ", "), r.schema)

	var events []models.WebhookEvent
	if err := db.SelectContext(ctx, &events, query, cloneURL, limit); err != nil {
		return nil, fmt.Errorf("failed to get webhook events by clone url: %w", err)
	}
	return events, nil
}
