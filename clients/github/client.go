package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v66/github"

	"prebuildd/clients"
	"prebuildd/models"
)

// GitHubClient implements the clients.GitHubClient interface on top of the
// REST v3 API. An empty baseURL targets github.com; set it to the API root
// of a GitHub Enterprise instance otherwise.
type GitHubClient struct {
	httpClient *http.Client
	baseURL    string
	jwtMinter  *appJWTMinter
}

func NewGitHubClient(baseURL, appID string, privateKey []byte) (clients.GitHubClient, error) {
	client := &GitHubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}

	// App credentials are optional; without them installation tokens are
	// unavailable but user-token operations still work.
	if appID != "" && len(privateKey) > 0 {
		minter, err := newAppJWTMinter(appID, privateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to create JWT minter: %w", err)
		}
		client.jwtMinter = minter
	}

	return client, nil
}

func (c *GitHubClient) restClient(accessToken string) (*gogithub.Client, error) {
	client := gogithub.NewClient(c.httpClient)
	if c.baseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to configure enterprise URLs: %w", err)
		}
		client = enterprise
	}
	return client.WithAuthToken(accessToken), nil
}

func (c *GitHubClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, owner, repo, sha string,
	status models.CommitStatus,
) error {
	client, err := c.restClient(accessToken)
	if err != nil {
		return err
	}

	_, _, err = client.Repositories.CreateStatus(ctx, owner, repo, sha, &gogithub.RepoStatus{
		State:       gogithub.String(string(status.State)),
		Description: gogithub.String(status.Description),
		TargetURL:   gogithub.String(status.TargetURL),
		Context:     gogithub.String(status.Context),
	})
	if err != nil {
		return fmt.Errorf("failed to create commit status: %w", err)
	}
	return nil
}

func (c *GitHubClient) GetCommitHistory(
	ctx context.Context,
	accessToken, owner, repo, sha string,
	limit int,
) ([]models.CommitInfo, error) {
	client, err := c.restClient(accessToken)
	if err != nil {
		return nil, err
	}

	commits, _, err := client.Repositories.ListCommits(ctx, owner, repo, &gogithub.CommitsListOptions{
		SHA:         sha,
		ListOptions: gogithub.ListOptions{PerPage: limit},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}

	history := make([]models.CommitInfo, 0, len(commits))
	for _, commit := range commits {
		info := models.CommitInfo{SHA: commit.GetSHA()}
		if commit.Commit != nil && commit.Commit.Author != nil {
			info.AuthorEmail = commit.Commit.Author.GetEmail()
		}
		history = append(history, info)
	}
	return history, nil
}

// HasAdminAccess checks that the caller administers the repository via the
// GraphQL viewerPermission field, which reflects effective access including
// team and org grants. Managing webhooks needs admin rights, so lesser
// roles are rejected here before an install is even attempted.
func (c *GitHubClient) HasAdminAccess(ctx context.Context, accessToken, owner, repo string) (bool, error) {
	query := struct {
		Query string `json:"query"`
	}{
		Query: fmt.Sprintf(`query { repository(name: %q, owner: %q) { viewerPermission } }`, repo, owner),
	}
	payload, err := json.Marshal(query)
	if err != nil {
		return false, fmt.Errorf("failed to marshal query: %w", err)
	}

	graphqlURL := "https://api.github.com/graphql"
	if c.baseURL != "" {
		graphqlURL = strings.TrimSuffix(c.baseURL, "/v3") + "/graphql"
	}

	req, err := http.NewRequestWithContext(ctx, "POST", graphqlURL, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("GitHub API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Repository struct {
				ViewerPermission string `json:"viewerPermission"`
			} `json:"repository"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	return result.Data.Repository.ViewerPermission == "ADMIN", nil
}

func (c *GitHubClient) InstallWebhook(
	ctx context.Context,
	accessToken, owner, repo, callbackURL, secret string,
) (int64, error) {
	client, err := c.restClient(accessToken)
	if err != nil {
		return 0, err
	}

	hook, _, err := client.Repositories.CreateHook(ctx, owner, repo, &gogithub.Hook{
		Active: gogithub.Bool(true),
		Events: []string{"push", "pull_request"},
		Config: &gogithub.HookConfig{
			URL:         gogithub.String(callbackURL),
			ContentType: gogithub.String("json"),
			Secret:      gogithub.String(secret),
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create webhook: %w", err)
	}
	return hook.GetID(), nil
}

func (c *GitHubClient) UninstallWebhook(
	ctx context.Context,
	accessToken, owner, repo string,
	hookID int64,
) error {
	client, err := c.restClient(accessToken)
	if err != nil {
		return err
	}

	resp, err := client.Repositories.DeleteHook(ctx, owner, repo, hookID)
	if err != nil {
		// Already gone counts as uninstalled
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil
		}
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return nil
}

// FindWebhooksByURL returns the ids of hooks whose target URL starts with
// callbackURL. Used to clear out stale installs before registering a new
// hook.
func (c *GitHubClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, owner, repo, callbackURL string,
) ([]int64, error) {
	client, err := c.restClient(accessToken)
	if err != nil {
		return nil, err
	}

	hooks, _, err := client.Repositories.ListHooks(ctx, owner, repo, &gogithub.ListOptions{PerPage: 100})
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}

	var ids []int64
	for _, hook := range hooks {
		if hook.Config != nil && strings.HasPrefix(hook.Config.GetURL(), callbackURL) {
			ids = append(ids, hook.GetID())
		}
	}
	return ids, nil
}

func (c *GitHubClient) AddPullRequestComment(
	ctx context.Context,
	accessToken, owner, repo string,
	number int,
	body string,
) error {
	client, err := c.restClient(accessToken)
	if err != nil {
		return err
	}

	_, _, err = client.Issues.CreateComment(ctx, owner, repo, number, &gogithub.IssueComment{
		Body: gogithub.String(body),
	})
	if err != nil {
		return fmt.Errorf("failed to create comment: %w", err)
	}
	return nil
}

func (c *GitHubClient) AddPullRequestLabel(
	ctx context.Context,
	accessToken, owner, repo string,
	number int,
	label string,
) error {
	client, err := c.restClient(accessToken)
	if err != nil {
		return err
	}

	_, _, err = client.Issues.AddLabelsToIssue(ctx, owner, repo, number, []string{label})
	if err != nil {
		return fmt.Errorf("failed to add label: %w", err)
	}
	return nil
}

func (c *GitHubClient) GetInstallationToken(ctx context.Context, installationID int64) (string, error) {
	if c.jwtMinter == nil {
		return "", fmt.Errorf("no app credentials configured")
	}

	jwtToken, err := c.jwtMinter.getToken()
	if err != nil {
		return "", fmt.Errorf("failed to get JWT: %w", err)
	}

	client := gogithub.NewClient(c.httpClient).WithAuthToken(jwtToken)
	if c.baseURL != "" {
		client, err = client.WithEnterpriseURLs(c.baseURL, c.baseURL)
		if err != nil {
			return "", fmt.Errorf("failed to configure enterprise URLs: %w", err)
		}
		client = client.WithAuthToken(jwtToken)
	}

	token, _, err := client.Apps.CreateInstallationToken(ctx, installationID, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create installation token: %w", err)
	}
	return token.GetToken(), nil
}
