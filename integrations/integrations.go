// Package integrations manages the configuration-time side of a Git
// hosting provider: checking whether a user may install automated
// prebuilds on a repository, installing the webhook (minting the secret it
// authenticates with) and removing it again. One integration per host,
// resolved through a registry.
package integrations

import (
	"context"
	"fmt"
	"log"
	"time"

	"prebuildd/contextparser"
	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
)

// InstallResult reports a completed webhook installation. Install either
// returns this or an error; failures are never swallowed.
type InstallResult struct {
	Host        string   `json:"host"`
	HookID      string   `json:"hook_id"`
	CallbackURL string   `json:"callback_url"`
	TokenScopes []string `json:"token_scopes"`
}

// RepositoryIntegration is the per-provider capability surface for
// managing automated prebuilds on a repository.
type RepositoryIntegration interface {
	Host() string
	CanInstallAutomatedPrebuilds(ctx context.Context, user *models.User, cloneURL string) (bool, error)
	InstallAutomatedPrebuilds(ctx context.Context, user *models.User, cloneURL string) (*InstallResult, error)
	UninstallAutomatedPrebuilds(ctx context.Context, user *models.User, cloneURL string) error
}

// Registry resolves the integration responsible for a repository host.
type Registry struct {
	byHost map[string]RepositoryIntegration
}

func NewRegistry() *Registry {
	return &Registry{byHost: make(map[string]RepositoryIntegration)}
}

func (r *Registry) Register(integration RepositoryIntegration) {
	r.byHost[integration.Host()] = integration
}

func (r *Registry) Resolve(host string) (RepositoryIntegration, error) {
	integration, ok := r.byHost[host]
	if !ok {
		return nil, fmt.Errorf("no repository integration for host: %s", host)
	}
	return integration, nil
}

func (r *Registry) ResolveForCloneURL(cloneURL string) (RepositoryIntegration, error) {
	host, err := contextparser.HostOf(cloneURL)
	if err != nil {
		return nil, err
	}
	return r.Resolve(host)
}

// providerToken returns the user's current API token for the given host.
// Expired tokens are skipped; the user must reconnect the provider when
// none remain.
func providerToken(
	ctx context.Context,
	tokens services.TokensService,
	user *models.User,
	host string,
) (string, error) {
	var identity *models.Identity
	for i := range user.Identities {
		if user.Identities[i].AuthProviderID == host {
			identity = &user.Identities[i]
			break
		}
	}
	if identity == nil {
		return "", fmt.Errorf("user %s has no %s identity connected", user.ID, host)
	}

	entries, err := tokens.GetTokens(ctx, host, identity.AuthID)
	if err != nil {
		return "", fmt.Errorf("failed to get provider tokens: %w", err)
	}
	for _, entry := range entries {
		if entry.Token.ExpiryDate != nil && entry.Token.ExpiryDate.Before(time.Now()) {
			continue
		}
		return entry.Token.Value, nil
	}
	return "", fmt.Errorf("user %s has no valid %s token, reconnect required", user.ID, host)
}

// mintWebhookSecret creates a fresh webhook secret and stores it as a
// prebuilds-scoped token under the user's internal identity. Existing
// tokens with the same scopes are replaced, never accumulated.
func mintWebhookSecret(
	ctx context.Context,
	users services.UsersService,
	tokens services.TokensService,
	user *models.User,
	scopes []string,
) (string, error) {
	secret, err := core.NewSecretKey("whsec")
	if err != nil {
		return "", fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	if err := users.BindIdentity(ctx, models.Identity{
		AuthProviderID: core.InternalAuthProviderID,
		AuthID:         user.ID,
		AuthName:       user.Name,
		UserID:         user.ID,
	}); err != nil {
		return "", fmt.Errorf("failed to bind internal identity: %w", err)
	}

	if err := tokens.ReplaceToken(ctx, core.InternalAuthProviderID, user.ID, models.Token{
		Value:  secret,
		Scopes: scopes,
	}); err != nil {
		return "", fmt.Errorf("failed to store webhook secret: %w", err)
	}

	log.Printf("✅ Minted webhook secret for user %s (scopes: %v)", user.ID, scopes)
	return secret, nil
}
