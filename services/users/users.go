package users

import (
	"context"
	"fmt"
	"log"

	"github.com/samber/mo"

	"prebuildd/core"
	"prebuildd/db"
	"prebuildd/models"
)

type UsersService struct {
	usersRepo *db.PostgresUsersRepository
}

func NewUsersService(repo *db.PostgresUsersRepository) *UsersService {
	return &UsersService{usersRepo: repo}
}

func (s *UsersService) GetUserByID(ctx context.Context, id string) (mo.Option[*models.User], error) {
	if !core.IsValidULID(id) {
		return mo.None[*models.User](), fmt.Errorf("user id must be a valid ULID")
	}

	user, err := s.usersRepo.GetUserByID(ctx, id)
	if err != nil {
		return mo.None[*models.User](), fmt.Errorf("failed to get user by id: %w", err)
	}
	if user == nil {
		return mo.None[*models.User](), nil
	}
	return mo.Some(user), nil
}

func (s *UsersService) GetUserByIdentity(
	ctx context.Context,
	authProviderID, authID string,
) (mo.Option[*models.User], error) {
	if authProviderID == "" || authID == "" {
		return mo.None[*models.User](), fmt.Errorf("auth_provider_id and auth_id cannot be empty")
	}

	user, err := s.usersRepo.GetUserByIdentity(ctx, authProviderID, authID)
	if err != nil {
		return mo.None[*models.User](), fmt.Errorf("failed to get user by identity: %w", err)
	}
	if user == nil {
		return mo.None[*models.User](), nil
	}
	return mo.Some(user), nil
}

// EnsureUserWithIdentity returns the user holding the given identity,
// creating the user and binding the identity when nobody holds it yet.
func (s *UsersService) EnsureUserWithIdentity(
	ctx context.Context,
	identity models.Identity,
	name string,
) (*models.User, error) {
	log.Printf("📋 Starting to ensure user for identity %s/%s", identity.AuthProviderID, identity.AuthID)

	if identity.AuthProviderID == "" || identity.AuthID == "" {
		return nil, fmt.Errorf("auth_provider_id and auth_id cannot be empty")
	}

	existing, err := s.usersRepo.GetUserByIdentity(ctx, identity.AuthProviderID, identity.AuthID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up identity: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	user, err := s.usersRepo.CreateUser(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	identity.UserID = user.ID
	if err := s.usersRepo.UpsertIdentity(ctx, identity); err != nil {
		return nil, fmt.Errorf("failed to bind identity: %w", err)
	}
	user.Identities = []models.Identity{identity}

	log.Printf("📋 Completed successfully - created user with ID: %s", user.ID)
	return user, nil
}

// BindIdentity attaches an identity to an existing user, replacing any
// previous binding for the same provider/account pair.
func (s *UsersService) BindIdentity(ctx context.Context, identity models.Identity) error {
	if identity.AuthProviderID == "" || identity.AuthID == "" || identity.UserID == "" {
		return fmt.Errorf("auth_provider_id, auth_id and user_id cannot be empty")
	}
	if err := s.usersRepo.UpsertIdentity(ctx, identity); err != nil {
		return fmt.Errorf("failed to bind identity: %w", err)
	}
	return nil
}

func (s *UsersService) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	if !core.IsValidULID(userID) {
		return fmt.Errorf("user id must be a valid ULID")
	}
	if err := s.usersRepo.SetBlocked(ctx, userID, blocked); err != nil {
		return fmt.Errorf("failed to set user blocked flag: %w", err)
	}
	return nil
}
