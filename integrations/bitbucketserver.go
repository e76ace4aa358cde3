package integrations

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"prebuildd/clients"
	"prebuildd/contextparser"
	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
)

// BitbucketServerIntegration manages repository webhooks on a Bitbucket
// Server / Data Center instance. Deliveries authenticate through a
// "?token={userId}|{tokenValue}" query parameter; the same secret is also
// set as the hook's HMAC secret.
type BitbucketServerIntegration struct {
	host        string
	client      clients.BitbucketServerClient
	users       services.UsersService
	tokens      services.TokensService
	callbackURL string
}

func NewBitbucketServerIntegration(
	host string,
	client clients.BitbucketServerClient,
	users services.UsersService,
	tokens services.TokensService,
	callbackURL string,
) *BitbucketServerIntegration {
	return &BitbucketServerIntegration{
		host:        host,
		client:      client,
		users:       users,
		tokens:      tokens,
		callbackURL: callbackURL,
	}
}

func (i *BitbucketServerIntegration) Host() string { return i.host }

// CanInstallAutomatedPrebuilds requires REPO_ADMIN on the repository or
// PROJECT_ADMIN on its project.
func (i *BitbucketServerIntegration) CanInstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (bool, error) {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return false, err
	}
	projectKey, repoSlug, err := bbsRepoCoordinates(cloneURL)
	if err != nil {
		return false, err
	}
	return i.client.HasAdminAccess(ctx, token, projectKey, repoSlug)
}

func (i *BitbucketServerIntegration) InstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (*InstallResult, error) {
	log.Printf("🚀 Installing prebuild webhook on %s for user %s", cloneURL, user.ID)

	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return nil, err
	}
	projectKey, repoSlug, err := bbsRepoCoordinates(cloneURL)
	if err != nil {
		return nil, err
	}

	scopes := []string{core.PrebuildTokenScope}
	secret, err := mintWebhookSecret(ctx, i.users, i.tokens, user, scopes)
	if err != nil {
		return nil, err
	}

	stale, err := i.client.FindWebhooksByURL(ctx, token, projectKey, repoSlug, i.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing webhooks: %w", err)
	}
	for _, hookID := range stale {
		if err := i.client.UninstallWebhook(ctx, token, projectKey, repoSlug, hookID); err != nil {
			log.Printf("⚠️ Failed to remove stale webhook %d on %s/%s: %v",
				hookID, projectKey, repoSlug, err)
		}
	}

	hookURL := i.callbackURL + "?token=" +
		url.QueryEscape(core.WebhookSecretToken(user.ID, secret))
	hookID, err := i.client.InstallWebhook(ctx, token, projectKey, repoSlug, hookURL, secret)
	if err != nil {
		return nil, fmt.Errorf("failed to install webhook: %w", err)
	}

	log.Printf("✅ Installed webhook %d on %s/%s", hookID, projectKey, repoSlug)
	return &InstallResult{
		Host:        i.host,
		HookID:      strconv.FormatInt(hookID, 10),
		CallbackURL: i.callbackURL,
		TokenScopes: scopes,
	}, nil
}

func (i *BitbucketServerIntegration) UninstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) error {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return err
	}
	projectKey, repoSlug, err := bbsRepoCoordinates(cloneURL)
	if err != nil {
		return err
	}

	hookIDs, err := i.client.FindWebhooksByURL(ctx, token, projectKey, repoSlug, i.callbackURL)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, hookID := range hookIDs {
		if err := i.client.UninstallWebhook(ctx, token, projectKey, repoSlug, hookID); err != nil {
			return fmt.Errorf("failed to remove webhook %d: %w", hookID, err)
		}
	}

	log.Printf("✅ Removed %d prebuild webhook(s) from %s/%s", len(hookIDs), projectKey, repoSlug)
	return nil
}

// bbsRepoCoordinates extracts (projectKey, repoSlug) from a Bitbucket
// Server clone URL. HTTP clone URLs carry an "scm" path segment
// (https://host/scm/KEY/repo.git) which is not part of the project key;
// personal repositories keep their "~user" marker.
func bbsRepoCoordinates(cloneURL string) (string, string, error) {
	owner, repoSlug, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return "", "", err
	}
	owner = strings.TrimPrefix(owner, "scm/")
	if strings.Contains(owner, "/") {
		return "", "", fmt.Errorf("unexpected Bitbucket Server repository path: %s", cloneURL)
	}
	return owner, repoSlug, nil
}
