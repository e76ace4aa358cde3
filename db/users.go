package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"prebuildd/core"
	dbtx "prebuildd/db/tx"
	"prebuildd/models"
)

type PostgresUsersRepository struct {
	db     *sqlx.DB
	schema string
}

// Column names for users table
var usersColumns = []string{
	"id",
	"name",
	"blocked",
	"created_at",
	"updated_at",
}

func NewPostgresUsersRepository(db *sqlx.DB, schema string) *PostgresUsersRepository {
	return &PostgresUsersRepository{db: db, schema: schema}
}

func (r *PostgresUsersRepository) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s.users
		WHERE id = $1`,
		strings.Join(usersColumns, ", "), r.schema)

	user := &models.User{}
	err := db.QueryRowxContext(ctx, query, id).StructScan(user)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to get user by id: %w", err)
	}

	if err := r.loadIdentities(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUsersRepository) GetUserByIdentity(
	ctx context.Context,
	authProviderID, authID string,
) (*models.User, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT u.id, u.name, u.blocked, u.created_at, u.updated_at
		FROM %s.users u
		JOIN %s.identities i ON i.user_id = u.id
		WHERE i.auth_provider_id = $1 AND i.auth_id = $2`,
		r.schema, r.schema)

	user := &models.User{}
	err := db.QueryRowxContext(ctx, query, authProviderID, authID).StructScan(user)
	if err != nil {
		if strings.Contains(err.Error(), "no rows") {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to get user by identity: %w", err)
	}

	if err := r.loadIdentities(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUsersRepository) CreateUser(ctx context.Context, name string) (*models.User, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	userID := core.NewID("u")

	query := fmt.Sprintf(`
		INSERT INTO %s.users (id, name, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		RETURNING %s`,
		r.schema, strings.Join(usersColumns, ", "))

	user := &models.User{}
	err := db.QueryRowxContext(ctx, query, userID, name).StructScan(user)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return user, nil
}

func (r *PostgresUsersRepository) UpsertIdentity(ctx context.Context, identity models.Identity) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		INSERT INTO %s.identities (auth_provider_id, auth_id, auth_name, user_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (auth_provider_id, auth_id)
		DO UPDATE SET auth_name = EXCLUDED.auth_name, user_id = EXCLUDED.user_id`,
		r.schema)

	_, err := db.ExecContext(ctx, query,
		identity.AuthProviderID, identity.AuthID, identity.AuthName, identity.UserID)
	if err != nil {
		return fmt.Errorf("failed to upsert identity: %w", err)
	}
	return nil
}

func (r *PostgresUsersRepository) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		UPDATE %s.users SET blocked = $2, updated_at = NOW() WHERE id = $1`, r.schema)

	result, err := db.ExecContext(ctx, query, userID, blocked)
	if err != nil {
		return fmt.Errorf("failed to update user blocked flag: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user not found: %s", userID)
	}
	return nil
}

func (r *PostgresUsersRepository) loadIdentities(ctx context.Context, user *models.User) error {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT auth_provider_id, auth_id, auth_name, user_id
		FROM %s.identities
		WHERE user_id = $1`, r.schema)

	var identities []models.Identity
	if err := db.SelectContext(ctx, &identities, query, user.ID); err != nil {
		return fmt.Errorf("failed to load identities: %w", err)
	}
	user.Identities = identities
	return nil
}

type PostgresTokensRepository struct {
	db     *sqlx.DB
	schema string
}

func NewPostgresTokensRepository(db *sqlx.DB, schema string) *PostgresTokensRepository {
	return &PostgresTokensRepository{db: db, schema: schema}
}

// tokenRow maps the tokens table; scopes use a postgres array column.
type tokenRow struct {
	ID             string         `db:"id"`
	AuthProviderID string         `db:"auth_provider_id"`
	AuthID         string         `db:"auth_id"`
	Value          string         `db:"value"`
	Scopes         pq.StringArray `db:"scopes"`
	ExpiryDate     *time.Time     `db:"expiry_date"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (row *tokenRow) toModel() models.TokenEntry {
	return models.TokenEntry{
		ID:             row.ID,
		AuthProviderID: row.AuthProviderID,
		AuthID:         row.AuthID,
		Token: models.Token{
			Value:      row.Value,
			Scopes:     []string(row.Scopes),
			ExpiryDate: row.ExpiryDate,
		},
		CreatedAt: row.CreatedAt,
	}
}

func (r *PostgresTokensRepository) GetTokens(
	ctx context.Context,
	authProviderID, authID string,
) ([]models.TokenEntry, error) {
	db := dbtx.GetTransactional(ctx, r.db)

	query := fmt.Sprintf(`
		SELECT id, auth_provider_id, auth_id, value, scopes, expiry_date, created_at
		FROM %s.tokens
		WHERE auth_provider_id = $1 AND auth_id = $2
		ORDER BY created_at DESC`, r.schema)

	var rows []tokenRow
	if err := db.SelectContext(ctx, &rows, query, authProviderID, authID); err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	entries := make([]models.TokenEntry, 0, len(rows))
	for i := range rows {
		entries = append(entries, rows[i].toModel())
	}
	return entries, nil
}

// ReplaceToken deletes the identity's tokens whose scope set is identical
// to the new token's, then inserts the new one. Tokens with any other
// scope set stay untouched: the same identity holds per-repository webhook
// secrets and dashboard tokens side by side, and replacing one must not
// revoke the others.
func (r *PostgresTokensRepository) ReplaceToken(
	ctx context.Context,
	authProviderID, authID string,
	token models.Token,
) error {
	db := dbtx.GetTransactional(ctx, r.db)

	entries, err := r.GetTokens(ctx, authProviderID, authID)
	if err != nil {
		return fmt.Errorf("failed to list existing tokens: %w", err)
	}
	var replaced []string
	for _, entry := range entries {
		if scopeSetsEqual(entry.Token.Scopes, token.Scopes) {
			replaced = append(replaced, entry.ID)
		}
	}
	if len(replaced) > 0 {
		deleteQuery := fmt.Sprintf(`
			DELETE FROM %s.tokens WHERE id = ANY($1)`, r.schema)
		if _, err := db.ExecContext(ctx, deleteQuery, pq.Array(replaced)); err != nil {
			return fmt.Errorf("failed to delete replaced tokens: %w", err)
		}
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO %s.tokens (id, auth_provider_id, auth_id, value, scopes, expiry_date, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())`, r.schema)

	_, err = db.ExecContext(ctx, insertQuery,
		core.NewID("tok"), authProviderID, authID,
		token.Value, pq.Array(token.Scopes), token.ExpiryDate)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

// scopeSetsEqual reports whether two scope lists name the same set,
// ignoring order.
func scopeSetsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, scope := range a {
		set[scope] = struct{}{}
	}
	for _, scope := range b {
		if _, ok := set[scope]; !ok {
			return false
		}
	}
	return true
}
