package workspace

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"prebuildd/models"
)

// HTTPStarter implements Starter against the workspace manager's HTTP API.
type HTTPStarter struct {
	httpClient *http.Client
	baseURL    string
	authToken  string
}

func NewHTTPStarter(baseURL, authToken string) *HTTPStarter {
	return &HTTPStarter{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		authToken:  authToken,
	}
}

type startWorkspaceRequest struct {
	WorkspaceID string                  `json:"workspace_id"`
	OwnerID     string                  `json:"owner_id"`
	ContextURL  string                  `json:"context_url"`
	CloneURL    string                  `json:"clone_url"`
	Config      *models.WorkspaceConfig `json:"config,omitempty"`
	Options     StartOptions            `json:"options"`
}

func (s *HTTPStarter) do(req *http.Request) (*http.Response, error) {
	req.Header.Set("Authorization", "Bearer "+s.authToken)
	req.Header.Set("Accept", "application/json")
	return s.httpClient.Do(req)
}

func (s *HTTPStarter) StartWorkspace(
	ctx context.Context,
	workspace *models.Workspace,
	opts StartOptions,
) error {
	// Prebuild snapshots replace the backup mechanism entirely.
	hasBackupExclusion := false
	for _, flag := range opts.ExcludedFeatureFlags {
		if flag == FeatureFlagFullWorkspaceBackup {
			hasBackupExclusion = true
			break
		}
	}
	if !hasBackupExclusion {
		opts.ExcludedFeatureFlags = append(opts.ExcludedFeatureFlags, FeatureFlagFullWorkspaceBackup)
	}

	payload, err := json.Marshal(startWorkspaceRequest{
		WorkspaceID: workspace.ID,
		OwnerID:     workspace.OwnerID,
		ContextURL:  workspace.ContextURL,
		CloneURL:    workspace.CloneURL,
		Config:      workspace.Config,
		Options:     opts,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal start request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/workspaces", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return fmt.Errorf("failed to start workspace: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("workspace manager error: status %d, body: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (s *HTTPStarter) StopWorkspace(ctx context.Context, workspaceID, reason string) error {
	payload, err := json.Marshal(map[string]string{"reason": reason})
	if err != nil {
		return fmt.Errorf("failed to marshal stop request: %w", err)
	}

	stopURL := fmt.Sprintf("%s/workspaces/%s/stop", s.baseURL, workspaceID)
	req, err := http.NewRequestWithContext(ctx, "POST", stopURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.do(req)
	if err != nil {
		return fmt.Errorf("failed to stop workspace: %w", err)
	}
	defer resp.Body.Close()

	// Already stopped or gone both count as stopped
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent ||
		resp.StatusCode == http.StatusNotFound {
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("workspace manager error: status %d, body: %s", resp.StatusCode, string(body))
}

func (s *HTTPStarter) IsWorkspaceRunning(ctx context.Context, workspaceID string) (bool, error) {
	statusURL := fmt.Sprintf("%s/workspaces/%s", s.baseURL, workspaceID)
	req, err := http.NewRequestWithContext(ctx, "GET", statusURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := s.do(req)
	if err != nil {
		return false, fmt.Errorf("failed to get workspace status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("workspace manager error: status %d, body: %s", resp.StatusCode, string(body))
	}

	var status struct {
		Phase string `json:"phase"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}

	switch status.Phase {
	case "pending", "creating", "initializing", "running":
		return true, nil
	}
	return false, nil
}
