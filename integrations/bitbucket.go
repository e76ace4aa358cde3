package integrations

import (
	"context"
	"fmt"
	"log"
	"net/url"

	"prebuildd/clients"
	"prebuildd/contextparser"
	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
)

// BitbucketIntegration manages repository webhooks on Bitbucket Cloud.
// Bitbucket Cloud hooks carry no shared secret, so deliveries authenticate
// through a "?token={userId}|{tokenValue}" query parameter baked into the
// callback URL at install time.
type BitbucketIntegration struct {
	host        string
	client      clients.BitbucketClient
	users       services.UsersService
	tokens      services.TokensService
	callbackURL string
}

func NewBitbucketIntegration(
	host string,
	client clients.BitbucketClient,
	users services.UsersService,
	tokens services.TokensService,
	callbackURL string,
) *BitbucketIntegration {
	return &BitbucketIntegration{
		host:        host,
		client:      client,
		users:       users,
		tokens:      tokens,
		callbackURL: callbackURL,
	}
}

func (i *BitbucketIntegration) Host() string { return i.host }

func (i *BitbucketIntegration) CanInstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (bool, error) {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return false, err
	}
	workspace, repoSlug, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return false, err
	}
	return i.client.HasAdminAccess(ctx, token, workspace, repoSlug)
}

func (i *BitbucketIntegration) InstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (*InstallResult, error) {
	log.Printf("🚀 Installing prebuild webhook on %s for user %s", cloneURL, user.ID)

	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return nil, err
	}
	workspace, repoSlug, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return nil, err
	}

	scopes := []string{core.PrebuildTokenScope}
	secret, err := mintWebhookSecret(ctx, i.users, i.tokens, user, scopes)
	if err != nil {
		return nil, err
	}

	stale, err := i.client.FindWebhooksByURL(ctx, token, workspace, repoSlug, i.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing webhooks: %w", err)
	}
	for _, hookUUID := range stale {
		if err := i.client.UninstallWebhook(ctx, token, workspace, repoSlug, hookUUID); err != nil {
			log.Printf("⚠️ Failed to remove stale webhook %s on %s/%s: %v",
				hookUUID, workspace, repoSlug, err)
		}
	}

	hookURL := i.callbackURL + "?token=" +
		url.QueryEscape(core.WebhookSecretToken(user.ID, secret))
	hookUUID, err := i.client.InstallWebhook(ctx, token, workspace, repoSlug, hookURL)
	if err != nil {
		return nil, fmt.Errorf("failed to install webhook: %w", err)
	}

	log.Printf("✅ Installed webhook %s on %s/%s", hookUUID, workspace, repoSlug)
	return &InstallResult{
		Host:        i.host,
		HookID:      hookUUID,
		CallbackURL: i.callbackURL,
		TokenScopes: scopes,
	}, nil
}

func (i *BitbucketIntegration) UninstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) error {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return err
	}
	workspace, repoSlug, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return err
	}

	hookUUIDs, err := i.client.FindWebhooksByURL(ctx, token, workspace, repoSlug, i.callbackURL)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, hookUUID := range hookUUIDs {
		if err := i.client.UninstallWebhook(ctx, token, workspace, repoSlug, hookUUID); err != nil {
			return fmt.Errorf("failed to remove webhook %s: %w", hookUUID, err)
		}
	}

	log.Printf("✅ Removed %d prebuild webhook(s) from %s/%s", len(hookUUIDs), workspace, repoSlug)
	return nil
}
