package integrations

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"prebuildd/clients"
	"prebuildd/contextparser"
	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
)

// GitHubIntegration manages repository webhooks on github.com or a GitHub
// Enterprise instance. Webhook deliveries are authenticated with an HMAC
// signature over the raw body, keyed by the minted secret.
type GitHubIntegration struct {
	host        string
	client      clients.GitHubClient
	users       services.UsersService
	tokens      services.TokensService
	callbackURL string
}

func NewGitHubIntegration(
	host string,
	client clients.GitHubClient,
	users services.UsersService,
	tokens services.TokensService,
	callbackURL string,
) *GitHubIntegration {
	return &GitHubIntegration{
		host:        host,
		client:      client,
		users:       users,
		tokens:      tokens,
		callbackURL: callbackURL,
	}
}

func (i *GitHubIntegration) Host() string { return i.host }

// CanInstallAutomatedPrebuilds requires admin rights on the repository
// (GraphQL viewerPermission ADMIN), the role GitHub demands for managing
// webhooks.
func (i *GitHubIntegration) CanInstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (bool, error) {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return false, err
	}
	owner, repo, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return false, err
	}
	return i.client.HasAdminAccess(ctx, token, owner, repo)
}

func (i *GitHubIntegration) InstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (*InstallResult, error) {
	log.Printf("🚀 Installing prebuild webhook on %s for user %s", cloneURL, user.ID)

	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return nil, err
	}
	owner, repo, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return nil, err
	}

	scopes := []string{core.PrebuildTokenScope}
	secret, err := mintWebhookSecret(ctx, i.users, i.tokens, user, scopes)
	if err != nil {
		return nil, err
	}

	// Clear out hooks from earlier installs before registering the new one
	stale, err := i.client.FindWebhooksByURL(ctx, token, owner, repo, i.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing webhooks: %w", err)
	}
	for _, hookID := range stale {
		if err := i.client.UninstallWebhook(ctx, token, owner, repo, hookID); err != nil {
			log.Printf("⚠️ Failed to remove stale webhook %d on %s/%s: %v", hookID, owner, repo, err)
		}
	}

	// The hook signs deliveries with the full "{userId}|{secret}" string;
	// verification recomputes it from the stored token.
	hookID, err := i.client.InstallWebhook(ctx, token, owner, repo, i.callbackURL,
		core.WebhookSecretToken(user.ID, secret))
	if err != nil {
		return nil, fmt.Errorf("failed to install webhook: %w", err)
	}

	log.Printf("✅ Installed webhook %d on %s/%s", hookID, owner, repo)
	return &InstallResult{
		Host:        i.host,
		HookID:      strconv.FormatInt(hookID, 10),
		CallbackURL: i.callbackURL,
		TokenScopes: scopes,
	}, nil
}

func (i *GitHubIntegration) UninstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) error {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return err
	}
	owner, repo, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return err
	}

	hookIDs, err := i.client.FindWebhooksByURL(ctx, token, owner, repo, i.callbackURL)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, hookID := range hookIDs {
		if err := i.client.UninstallWebhook(ctx, token, owner, repo, hookID); err != nil {
			return fmt.Errorf("failed to remove webhook %d: %w", hookID, err)
		}
	}

	log.Printf("✅ Removed %d prebuild webhook(s) from %s/%s", len(hookIDs), owner, repo)
	return nil
}
