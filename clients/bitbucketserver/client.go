package bitbucketserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prebuildd/clients"
	"prebuildd/models"
)

// BitbucketServerClient implements the clients.BitbucketServerClient
// interface against a self-hosted Bitbucket Server / Data Center instance.
type BitbucketServerClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewBitbucketServerClient(baseURL string) clients.BitbucketServerClient {
	return &BitbucketServerClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (c *BitbucketServerClient) do(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

func (c *BitbucketServerClient) InstallWebhook(
	ctx context.Context,
	accessToken, projectKey, repoSlug, callbackURL, secret string,
) (int64, error) {
	payload, err := json.Marshal(map[string]any{
		"name":   "Prebuilds",
		"url":    callbackURL,
		"active": true,
		"events": []string{"repo:refs_changed"},
		"configuration": map[string]string{
			"secret": secret,
		},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hooksURL := fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s/webhooks",
		c.baseURL, projectKey, repoSlug)
	req, err := http.NewRequestWithContext(ctx, "POST", hooksURL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return 0, fmt.Errorf("failed to install webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("Bitbucket Server API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var hook struct {
		ID int64 `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hook); err != nil {
		return 0, fmt.Errorf("failed to decode response: %w", err)
	}
	return hook.ID, nil
}

func (c *BitbucketServerClient) UninstallWebhook(
	ctx context.Context,
	accessToken, projectKey, repoSlug string,
	hookID int64,
) error {
	hookURL := fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s/webhooks/%d",
		c.baseURL, projectKey, repoSlug, hookID)
	req, err := http.NewRequestWithContext(ctx, "DELETE", hookURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return fmt.Errorf("failed to uninstall webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("Bitbucket Server API error: status %d, body: %s", resp.StatusCode, string(body))
}

// FindWebhooksByURL returns the ids of repository webhooks whose target
// URL starts with callbackURL.
func (c *BitbucketServerClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, projectKey, repoSlug, callbackURL string,
) ([]int64, error) {
	hooksURL := fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s/webhooks?limit=100",
		c.baseURL, projectKey, repoSlug)
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
		return nil, fmt.Errorf("Bitbucket Server API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Values []struct {
			ID  int64  `json:"id"`
			URL string `json:"url"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var ids []int64
	for _, hook := range result.Values {
		if strings.HasPrefix(hook.URL, callbackURL) {
			ids = append(ids, hook.ID)
		}
	}
	return ids, nil
}

// HasAdminAccess checks whether the caller holds REPO_ADMIN on the
// repository or PROJECT_ADMIN on its project.
func (c *BitbucketServerClient) HasAdminAccess(
	ctx context.Context,
	accessToken, projectKey, repoSlug string,
) (bool, error) {
	permURL := fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s/permissions/users?self=true",
		c.baseURL, projectKey, repoSlug)
	req, err := http.NewRequestWithContext(ctx, "GET", permURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.do(req, accessToken)
	if err != nil {
		return false, fmt.Errorf("failed to check permissions: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("Bitbucket Server API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Values []struct {
			Permission string `json:"permission"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	for _, value := range result.Values {
		if value.Permission == "REPO_ADMIN" || value.Permission == "PROJECT_ADMIN" {
			return true, nil
		}
	}
	return false, nil
}

func (c *BitbucketServerClient) CreateBuildStatus(
	ctx context.Context,
	accessToken, sha string,
	status models.CommitStatus,
) error {
	// Bitbucket Server uses INPROGRESS/SUCCESSFUL/FAILED keyed by commit
	state := "FAILED"
	switch status.State {
	case models.CommitStatePending:
		state = "INPROGRESS"
	case models.CommitStateSuccess:
		state = "SUCCESSFUL"
	}

	payload, err := json.Marshal(map[string]any{
		"state":       state,
		"key":         status.Context,
		"name":        status.Context,
		"description": status.Description,
		"url":         status.TargetURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	statusURL := fmt.Sprintf("%s/rest/build-status/1.0/commits/%s", c.baseURL, sha)
	req, err := http.NewRequestWithContext(ctx, "POST", statusURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return fmt.Errorf("failed to create build status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Bitbucket Server API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}
