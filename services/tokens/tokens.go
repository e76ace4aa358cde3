package tokens

import (
	"context"
	"fmt"
	"log"
	"time"

	"prebuildd/db"
	"prebuildd/models"
)

type TokensService struct {
	tokensRepo *db.PostgresTokensRepository
}

func NewTokensService(repo *db.PostgresTokensRepository) *TokensService {
	return &TokensService{tokensRepo: repo}
}

func (s *TokensService) GetTokens(
	ctx context.Context,
	authProviderID, authID string,
) ([]models.TokenEntry, error) {
	if authProviderID == "" || authID == "" {
		return nil, fmt.Errorf("auth_provider_id and auth_id cannot be empty")
	}

	entries, err := s.tokensRepo.GetTokens(ctx, authProviderID, authID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}
	return entries, nil
}

// GetTokensWithScope returns the identity's unexpired tokens carrying the
// given scope.
func (s *TokensService) GetTokensWithScope(
	ctx context.Context,
	authProviderID, authID, scope string,
) ([]models.Token, error) {
	entries, err := s.GetTokens(ctx, authProviderID, authID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var tokens []models.Token
	for _, entry := range entries {
		if entry.Token.ExpiryDate != nil && entry.Token.ExpiryDate.Before(now) {
			continue
		}
		if entry.Token.HasScope(scope) {
			tokens = append(tokens, entry.Token)
		}
	}
	return tokens, nil
}

// ReplaceToken swaps the identity's stored token for the new one. Old tokens
// are removed rather than accumulated, so a rotated webhook secret cannot
// linger and authorize deliveries it should not.
func (s *TokensService) ReplaceToken(
	ctx context.Context,
	authProviderID, authID string,
	token models.Token,
) error {
	log.Printf("📋 Replacing stored token for identity %s/%s", authProviderID, authID)

	if authProviderID == "" || authID == "" {
		return fmt.Errorf("auth_provider_id and auth_id cannot be empty")
	}
	if token.Value == "" {
		return fmt.Errorf("token value cannot be empty")
	}
	if len(token.Scopes) == 0 {
		return fmt.Errorf("token must carry at least one scope")
	}

	if err := s.tokensRepo.ReplaceToken(ctx, authProviderID, authID, token); err != nil {
		return fmt.Errorf("failed to replace token: %w", err)
	}

	log.Printf("📋 Completed successfully - token replaced for %s/%s", authProviderID, authID)
	return nil
}
