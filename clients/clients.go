package clients

import (
	"context"

	"prebuildd/models"
)

// GitHubClient defines the interface for GitHub and GitHub Enterprise API
// operations. Every method takes the access token to act with; the client
// itself holds no user credentials.
type GitHubClient interface {
	CreateCommitStatus(
		ctx context.Context,
		accessToken, owner, repo, sha string,
		status models.CommitStatus,
	) error
	GetCommitHistory(
		ctx context.Context,
		accessToken, owner, repo, sha string,
		limit int,
	) ([]models.CommitInfo, error)
	HasAdminAccess(ctx context.Context, accessToken, owner, repo string) (bool, error)
	InstallWebhook(
		ctx context.Context,
		accessToken, owner, repo, callbackURL, secret string,
	) (int64, error)
	UninstallWebhook(ctx context.Context, accessToken, owner, repo string, hookID int64) error
	FindWebhooksByURL(ctx context.Context, accessToken, owner, repo, callbackURL string) ([]int64, error)
	AddPullRequestComment(ctx context.Context, accessToken, owner, repo string, number int, body string) error
	AddPullRequestLabel(ctx context.Context, accessToken, owner, repo string, number int, label string) error
	GetInstallationToken(ctx context.Context, installationID int64) (string, error)
}

// GitLabClient defines the interface for GitLab API operations
type GitLabClient interface {
	InstallWebhook(
		ctx context.Context,
		accessToken, projectPath, callbackURL, secret string,
	) (int64, error)
	UninstallWebhook(ctx context.Context, accessToken, projectPath string, hookID int64) error
	FindWebhooksByURL(ctx context.Context, accessToken, projectPath, callbackURL string) ([]int64, error)
	GetMaxAccessLevel(ctx context.Context, accessToken, projectPath string) (int, error)
	CreateCommitStatus(
		ctx context.Context,
		accessToken, projectPath, sha string,
		status models.CommitStatus,
	) error
	GetCommitHistory(
		ctx context.Context,
		accessToken, projectPath, sha string,
		limit int,
	) ([]models.CommitInfo, error)
}

// BitbucketClient defines the interface for Bitbucket Cloud API operations
type BitbucketClient interface {
	InstallWebhook(
		ctx context.Context,
		accessToken, workspace, repoSlug, callbackURL string,
	) (string, error)
	UninstallWebhook(ctx context.Context, accessToken, workspace, repoSlug, hookUUID string) error
	FindWebhooksByURL(ctx context.Context, accessToken, workspace, repoSlug, callbackURL string) ([]string, error)
	HasAdminAccess(ctx context.Context, accessToken, workspace, repoSlug string) (bool, error)
	CreateCommitStatus(
		ctx context.Context,
		accessToken, workspace, repoSlug, sha string,
		status models.CommitStatus,
	) error
}

// BitbucketServerClient defines the interface for Bitbucket Server (Data
// Center) API operations
type BitbucketServerClient interface {
	InstallWebhook(
		ctx context.Context,
		accessToken, projectKey, repoSlug, callbackURL, secret string,
	) (int64, error)
	UninstallWebhook(ctx context.Context, accessToken, projectKey, repoSlug string, hookID int64) error
	FindWebhooksByURL(ctx context.Context, accessToken, projectKey, repoSlug, callbackURL string) ([]int64, error)
	HasAdminAccess(ctx context.Context, accessToken, projectKey, repoSlug string) (bool, error)
	CreateBuildStatus(
		ctx context.Context,
		accessToken, sha string,
		status models.CommitStatus,
	) error
}
