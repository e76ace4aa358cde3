// Package workspace is the boundary to the external workspace subsystem.
// The factory creates the database records for a prebuild workspace; the
// starter asks the workspace manager to actually run it.
package workspace

import (
	"context"
	"fmt"
	"log"

	"prebuildd/models"
	"prebuildd/services"
)

// FeatureFlagFullWorkspaceBackup is never enabled for prebuild builds; the
// snapshot produced by the build replaces it.
const FeatureFlagFullWorkspaceBackup = "full_workspace_backup"

// StartOptions carries the knobs a prebuild start passes to the workspace
// manager.
type StartOptions struct {
	// ExcludedFeatureFlags lists feature flags the build must not run with.
	ExcludedFeatureFlags []string `json:"excluded_feature_flags,omitempty"`
	// BasePrebuildID names an earlier finished prebuild whose snapshot the
	// build may start from (incremental prebuilds).
	BasePrebuildID string `json:"base_prebuild_id,omitempty"`
}

// Starter launches and controls builds in the workspace subsystem.
type Starter interface {
	StartWorkspace(ctx context.Context, workspace *models.Workspace, opts StartOptions) error
	StopWorkspace(ctx context.Context, workspaceID, reason string) error
	IsWorkspaceRunning(ctx context.Context, workspaceID string) (bool, error)
}

// Factory creates workspace records for prebuild contexts.
type Factory struct {
	prebuildsService services.PrebuildsService
}

func NewFactory(prebuildsService services.PrebuildsService) *Factory {
	return &Factory{prebuildsService: prebuildsService}
}

// CreateForPrebuild persists the workspace record a prebuild will run in.
func (f *Factory) CreateForPrebuild(
	ctx context.Context,
	ownerID string,
	projectID *string,
	commit *models.CommitContext,
	config *models.WorkspaceConfig,
) (*models.Workspace, error) {
	log.Printf("📋 Creating prebuild workspace for %s@%s", commit.Repository.CloneURL, commit.Revision)

	if ownerID == "" {
		return nil, fmt.Errorf("owner id cannot be empty")
	}

	workspace := &models.Workspace{
		OwnerID:    ownerID,
		ProjectID:  projectID,
		ContextURL: commit.NormalizedContextURL,
		CloneURL:   commit.Repository.CloneURL,
		Config:     config,
	}
	if err := f.prebuildsService.CreateWorkspace(ctx, workspace); err != nil {
		return nil, fmt.Errorf("failed to create workspace record: %w", err)
	}

	log.Printf("📋 Completed successfully - created workspace: %s", workspace.ID)
	return workspace, nil
}
