package bitbucket

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

// BitbucketClient implements the clients.BitbucketClient interface against
// the Bitbucket Cloud 2.0 API.
type BitbucketClient struct {
	httpClient *http.Client
	baseURL    string
}

func NewBitbucketClient() clients.BitbucketClient {
	return &BitbucketClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://api.bitbucket.org/2.0",
	}
}

func (c *BitbucketClient) do(req *http.Request, accessToken string) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	return c.httpClient.Do(req)
}

// InstallWebhook registers a push/PR webhook and returns its UUID.
// Bitbucket Cloud webhooks carry no shared secret; deliveries authenticate
// through the token embedded in the callback URL instead.
func (c *BitbucketClient) InstallWebhook(
	ctx context.Context,
	accessToken, workspace, repoSlug, callbackURL string,
) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"description": "Prebuilds",
		"url":         callbackURL,
		"active":      true,
		"events": []string{
			"repo:push",
			"pullrequest:created",
			"pullrequest:updated",
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	hooksURL := fmt.Sprintf("%s/repositories/%s/%s/hooks", c.baseURL, workspace, repoSlug)
	req, err := http.NewRequestWithContext(ctx, "POST", hooksURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(req, accessToken)
	if err != nil {
		return "", fmt.Errorf("failed to install webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("Bitbucket API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var hook struct {
		UUID string `json:"uuid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hook); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	return hook.UUID, nil
}

func (c *BitbucketClient) UninstallWebhook(
	ctx context.Context,
	accessToken, workspace, repoSlug, hookUUID string,
) error {
	hookURL := fmt.Sprintf("%s/repositories/%s/%s/hooks/%s", c.baseURL, workspace, repoSlug, hookUUID)
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
	return fmt.Errorf("Bitbucket API error: status %d, body: %s", resp.StatusCode, string(body))
}

// FindWebhooksByURL returns the UUIDs of hooks whose target URL starts
// with callbackURL. The token embedded in a hook's query string changes on
// reinstall, so matching is on the path prefix.
func (c *BitbucketClient) FindWebhooksByURL(
	ctx context.Context,
	accessToken, workspace, repoSlug, callbackURL string,
) ([]string, error) {
	hooksURL := fmt.Sprintf("%s/repositories/%s/%s/hooks?pagelen=100", c.baseURL, workspace, repoSlug)
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
		return nil, fmt.Errorf("Bitbucket API error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Values []struct {
			UUID string `json:"uuid"`
			URL  string `json:"url"`
		} `json:"values"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	var uuids []string
	for _, hook := range result.Values {
		if strings.HasPrefix(hook.URL, callbackURL) {
			uuids = append(uuids, hook.UUID)
		}
	}
	return uuids, nil
}

func (c *BitbucketClient) HasAdminAccess(
	ctx context.Context,
	accessToken, workspace, repoSlug string,
) (bool, error) {
	permURL := fmt.Sprintf(
		"%s/user/permissions/repositories?q=repository.full_name=%%22%s/%s%%22",
		c.baseURL, workspace, repoSlug)
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
		return false, fmt.Errorf("Bitbucket API error: status %d, body: %s", resp.StatusCode, string(body))
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
		if value.Permission == "admin" {
			return true, nil
		}
	}
	return false, nil
}

func (c *BitbucketClient) CreateCommitStatus(
	ctx context.Context,
	accessToken, workspace, repoSlug, sha string,
	status models.CommitStatus,
) error {
	// Bitbucket uses INPROGRESS/SUCCESSFUL/FAILED
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
		"description": status.Description,
		"url":         status.TargetURL,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	statusURL := fmt.Sprintf("%s/repositories/%s/%s/commit/%s/statuses/build",
		c.baseURL, workspace, repoSlug, sha)
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
		return fmt.Errorf("Bitbucket API error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}
