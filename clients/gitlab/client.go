package gitlab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"prebuildd/clients"
	"prebuildd/models"
)

// GitLabClient implements the clients.GitLabClient interface
type GitLabClient struct {
	httpClient *http.Client
	baseURL    string
}

// NewGitLabClient creates a client for the given GitLab instance. baseURL
// defaults to gitlab.com when empty.
func NewGitLabClient(baseURL string) clients.GitLabClient {
	if baseURL == "" {
		baseURL = "https://gitlab.com"
	}
	return &GitLabClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *GitLabClient) apiURL(format string, args ...any) string {
	return c.baseURL + "/api/v4" + fmt.Sprintf(format, args...)
}

func (c *GitLabClient) do(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *GitLabClient) InstallWebhook(
	ctx context.Context,
	accessToken, projectPath, callbackURL, secret string,
) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"url":                   callbackURL,
		"token":                 secret,
		"push_events":           true,
		"merge_requests_events": true,
		"enable_ssl_verification": true,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hookURL := c.apiURL("/projects/%s/hooks", url.PathEscape(projectPath))
	req, err := http.NewRequestWithContext(ctx, "POST", hookURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return 0, fmt.Errorf("failed to install webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var hook struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hook); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return hook.ID, nil
}

func (c *GitLabClient) UninstallWebhook(
	ctx context.Context,
	accessToken, projectPath string,
	hookID int64,
) error {
	hookURL := c.apiURL("/projects/%s/hooks/%d", url.PathEscape(projectPath), hookID)
	req, err := http.NewRequestWithContext(ctx, "DELETE", hookURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return fmt.Errorf("failed to uninstall webhook: %w", err)
	}
	defer resp.Body.Close()

	// 404 means the hook is already gone
	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
}

// FindWebhooksByURL returns the ids of project hooks whose target URL
// starts with callbackURL.
func (c *GitLabClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, projectPath, callbackURL string,
) ([]int64, error) {
	hooksURL := c.apiURL("/projects/%s/hooks?per_page=100", url.PathEscape(projectPath))
	req, err := http.NewRequestWithContext(ctx, "GET", hooksURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var hooks []struct {
		ID  int64  `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hooks); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var ids []int64
	for _, hook := range hooks {
		if strings.HasPrefix(hook.URL, callbackURL) {
			ids = append(ids, hook.ID)
		}
	}
	return ids, nil
}

// GetMaxAccessLevel returns the caller's effective access level on the
// project. GitLab encodes maintainer as 40; anything at or above may manage
// hooks.
func (c *GitLabClient) GetMaxAccessLevel(
	ctx context.Context,
	accessToken, projectPath string,
) (int, error) {
	projectURL := c.apiURL("/projects/%s", url.PathEscape(projectPath))
	req, err := http.NewRequestWithContext(ctx, "GET", projectURL, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return 0, fmt.Errorf("failed to get project: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var project struct {
		Permissions struct {
			ProjectAccess *struct {
				AccessLevel int `json:"access_level"`
			} `json:"project_access"`
			GroupAccess *struct {
				AccessLevel int `json:"access_level"`
			} `json:"group_access"`
		} `json:"permissions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&project); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}

	level := 0
	if project.Permissions.ProjectAccess != nil {
		level = project.Permissions.ProjectAccess.AccessLevel
	}
	if project.Permissions.GroupAccess != nil && project.Permissions.GroupAccess.AccessLevel > level {
		level = project.Permissions.GroupAccess.AccessLevel
	}
	return level, nil
}

func (c *GitLabClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, projectPath, sha string,
	status models.CommitStatus,
) error {
	// GitLab has no "error" state; map it to failed
	state := string(status.State)
	switch status.State {
	case models.CommitStatePending:
		state = "pending"
	case models.CommitStateSuccess:
		state = "success"
	case models.CommitStateError, models.CommitStateFailure:
		state = "failed"
	}

	payload, err := json.Marshal(map[string]any{
		"state":       state,
		"description": status.Description,
		"target_url":  status.TargetURL,
		"context":     status.Context,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	statusURL := c.apiURL("/projects/%s/statuses/%s", url.PathEscape(projectPath), sha)
	req, err := http.NewRequestWithContext(ctx, "POST", statusURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return fmt.Errorf("failed to create commit status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *GitLabClient) GetCommitHistory(
	ctx context.Context,
	accessToken, projectPath, sha string,
	limit int,
) ([]models.CommitInfo, error) {
	commitsURL := c.apiURL("/projects/%s/repository/commits?ref_name=%s&per_page=%d",
		url.PathEscape(projectPath), url.QueryEscape(sha), limit)
	req, err := http.NewRequestWithContext(ctx, "GET", commitsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("GitLab API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var commits []struct {
		ID          string `json:"id"`
		AuthorEmail string `json:"author_email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&commits); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	history := make([]models.CommitInfo, 0, len(commits))
	for _, commit := range commits {
		history = append(history, models.CommitInfo{SHA: commit.ID, AuthorEmail: commit.AuthorEmail})
	}
	return history, nil
}
