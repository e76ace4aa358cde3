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

// maintainerAccessLevel is GitLab's numeric encoding of the maintainer
// role; anything at or above may manage project hooks.
const maintainerAccessLevel = 40

// GitLabIntegration manages project webhooks on a GitLab instance.
// Deliveries carry the minted secret in the X-Gitlab-Token header as
// "{userId}|{tokenValue}"; the stored token is scoped to both the
// prebuilds marker and the exact clone URL.
type GitLabIntegration struct {
	host        string
	client      clients.GitLabClient
	users       services.UsersService
	tokens      services.TokensService
	callbackURL string
}

func NewGitLabIntegration(
	host string,
	client clients.GitLabClient,
	users services.UsersService,
	tokens services.TokensService,
	callbackURL string,
) *GitLabIntegration {
	return &GitLabIntegration{
		host:        host,
		client:      client,
		users:       users,
		tokens:      tokens,
		callbackURL: callbackURL,
	}
}

func (i *GitLabIntegration) Host() string { return i.host }

func (i *GitLabIntegration) CanInstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (bool, error) {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return false, err
	}
	projectPath, err := projectPathOf(cloneURL)
	if err != nil {
		return false, err
	}

	level, err := i.client.GetMaxAccessLevel(ctx, token, projectPath)
	if err != nil {
		return false, err
	}
	return level >= maintainerAccessLevel, nil
}

func (i *GitLabIntegration) InstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) (*InstallResult, error) {
	log.Printf("🚀 Installing prebuild webhook on %s for user %s", cloneURL, user.ID)

	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return nil, err
	}
	projectPath, err := projectPathOf(cloneURL)
	if err != nil {
		return nil, err
	}

	scopes := []string{core.PrebuildTokenScope, cloneURL}
	secret, err := mintWebhookSecret(ctx, i.users, i.tokens, user, scopes)
	if err != nil {
		return nil, err
	}

	stale, err := i.client.FindWebhooksByURL(ctx, token, projectPath, i.callbackURL)
	if err != nil {
		return nil, fmt.Errorf("failed to list existing webhooks: %w", err)
	}
	for _, hookID := range stale {
		if err := i.client.UninstallWebhook(ctx, token, projectPath, hookID); err != nil {
			log.Printf("⚠️ Failed to remove stale webhook %d on %s: %v", hookID, projectPath, err)
		}
	}

	hookID, err := i.client.InstallWebhook(ctx, token, projectPath, i.callbackURL,
		core.WebhookSecretToken(user.ID, secret))
	if err != nil {
		return nil, fmt.Errorf("failed to install webhook: %w", err)
	}

	log.Printf("✅ Installed webhook %d on %s", hookID, projectPath)
	return &InstallResult{
		Host:        i.host,
		HookID:      strconv.FormatInt(hookID, 10),
		CallbackURL: i.callbackURL,
		TokenScopes: scopes,
	}, nil
}

func (i *GitLabIntegration) UninstallAutomatedPrebuilds(
	ctx context.Context,
	user *models.User,
	cloneURL string,
) error {
	token, err := providerToken(ctx, i.tokens, user, i.host)
	if err != nil {
		return err
	}
	projectPath, err := projectPathOf(cloneURL)
	if err != nil {
		return err
	}

	hookIDs, err := i.client.FindWebhooksByURL(ctx, token, projectPath, i.callbackURL)
	if err != nil {
		return fmt.Errorf("failed to list webhooks: %w", err)
	}
	for _, hookID := range hookIDs {
		if err := i.client.UninstallWebhook(ctx, token, projectPath, hookID); err != nil {
			return fmt.Errorf("failed to remove webhook %d: %w", hookID, err)
		}
	}

	log.Printf("✅ Removed %d prebuild webhook(s) from %s", len(hookIDs), projectPath)
	return nil
}

// projectPathOf returns the GitLab project path (group[/subgroup]/project)
// of a clone URL.
func projectPathOf(cloneURL string) (string, error) {
	owner, name, err := contextparser.SplitRepoPath(cloneURL)
	if err != nil {
		return "", err
	}
	return owner + "/" + name, nil
}
