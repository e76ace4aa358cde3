// Package prebuilds orchestrates prebuild lifecycles: claiming a build for
// a commit, deduplicating concurrent starts, aborting builds made obsolete
// by newer pushes, and retriggering finished ones.
package prebuilds

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"golang.org/x/time/rate"

	"prebuildd/models"
	"prebuildd/services"
	"prebuildd/workspace"
)

// AbortReasonNewerCommit is recorded on prebuilds cancelled because their
// branch moved on.
const AbortReasonNewerCommit = "A newer commit was pushed to the same branch."

// incrementalHistoryDepth bounds how far back the incremental base search
// walks the branch history.
const incrementalHistoryDepth = 100

// CommitHistoryFetcher provides the recent commits of a branch, newest
// first. Used to find an incremental base build.
type CommitHistoryFetcher interface {
	GetCommitHistory(
		ctx context.Context,
		accessToken string,
		repo models.Repository,
		sha string,
		limit int,
	) ([]models.CommitInfo, error)
}

// MetricsRecorder is the subset of the metrics collector the manager uses.
type MetricsRecorder interface {
	RecordPrebuildStarted(trigger string)
	RecordPrebuildDeduped()
	RecordPrebuildFailed(trigger string)
}

type PrebuildManager struct {
	prebuildsService services.PrebuildsService
	txManager        services.TransactionManager
	factory          *workspace.Factory
	starter          workspace.Starter
	history          CommitHistoryFetcher
	metrics          MetricsRecorder
	limiter          *cloneURLLimiter
}

func NewPrebuildManager(
	prebuildsService services.PrebuildsService,
	txManager services.TransactionManager,
	factory *workspace.Factory,
	starter workspace.Starter,
	history CommitHistoryFetcher,
	metrics MetricsRecorder,
	startsPerHour int,
) *PrebuildManager {
	if startsPerHour <= 0 {
		startsPerHour = 60
	}
	return &PrebuildManager{
		prebuildsService: prebuildsService,
		txManager:        txManager,
		factory:          factory,
		starter:          starter,
		history:          history,
		metrics:          metrics,
		limiter:          newCloneURLLimiter(rate.Limit(float64(startsPerHour)/3600.0), 10),
	}
}

// StartPrebuildParams carries everything a prebuild start needs.
type StartPrebuildParams struct {
	// OwnerID is the user the build workspace runs as.
	OwnerID string
	// Project is the watching project, nil for ad-hoc starts.
	Project *models.Project
	Commit  *models.CommitContext
	Config  *models.WorkspaceConfig
	Trigger models.PrebuildTrigger
	// AccessToken authorizes provider API reads (incremental history).
	AccessToken string
}

// StartPrebuild ensures exactly one prebuild exists for the commit and that
// its build is running. A second call for the same commit returns the
// existing prebuild instead of starting another build.
func (m *PrebuildManager) StartPrebuild(
	ctx context.Context,
	params StartPrebuildParams,
) (*models.StartPrebuildResult, error) {
	commit := params.Commit
	cloneURL := commit.Repository.CloneURL
	log.Printf("🚀 Starting prebuild for %s@%s", cloneURL, commit.Revision)

	// Fast path: a prebuild for this commit already exists.
	existingOpt, err := m.prebuildsService.GetPrebuildByCommit(ctx, cloneURL, commit.Revision)
	if err != nil {
		return nil, fmt.Errorf("failed to look up existing prebuild: %w", err)
	}
	if existing, ok := existingOpt.Get(); ok {
		return m.reuseOrRefresh(ctx, existing, params)
	}

	if !m.limiter.Allow(cloneURL) {
		log.Printf("⚠️ Prebuild rate limit hit for %s", cloneURL)
		return nil, ErrRateLimited
	}

	var projectID *string
	if params.Project != nil {
		projectID = &params.Project.ID
	}

	// Create the workspace record and claim the commit in one transaction
	// so a lost claim race leaves no orphan workspace behind.
	var claimed *models.PrebuiltWorkspace
	var created bool
	var ws *models.Workspace
	err = m.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var txErr error
		ws, txErr = m.factory.CreateForPrebuild(txCtx, params.OwnerID, projectID, commit, params.Config)
		if txErr != nil {
			return txErr
		}

		claimed, created, txErr = m.prebuildsService.ClaimPrebuild(txCtx, &models.PrebuiltWorkspace{
			BuildWorkspaceID: ws.ID,
			CloneURL:         cloneURL,
			Branch:           commit.Ref,
			Commit:           commit.Revision,
			State:            models.PrebuildStateQueued,
			Trigger:          params.Trigger,
			ProjectID:        projectID,
		})
		if txErr != nil {
			return txErr
		}
		if !created {
			// Lost the race; roll back our workspace record.
			return fmt.Errorf("prebuild already claimed for %s@%s", cloneURL, commit.Revision)
		}
		return nil
	})
	if err != nil {
		if claimed != nil && !created {
			m.metrics.RecordPrebuildDeduped()
			return existingResult(claimed), nil
		}
		return nil, fmt.Errorf("failed to claim prebuild: %w", err)
	}

	m.abortObsoletePrebuilds(ctx, params.Project, cloneURL, commit.Ref, commit.Revision)

	opts := workspace.StartOptions{
		ExcludedFeatureFlags: []string{workspace.FeatureFlagFullWorkspaceBackup},
	}
	if baseID := m.findIncrementalBase(ctx, params); baseID != "" {
		opts.BasePrebuildID = baseID
	}

	if err := m.starter.StartWorkspace(ctx, ws, opts); err != nil {
		m.metrics.RecordPrebuildFailed(string(params.Trigger))
		if stateErr := m.prebuildsService.UpdatePrebuildState(
			ctx, claimed.ID, models.PrebuildStateAborted, err.Error()); stateErr != nil {
			log.Printf("❌ Failed to record prebuild start failure: %v", stateErr)
		}
		return nil, fmt.Errorf("failed to start prebuild workspace: %w", err)
	}

	m.metrics.RecordPrebuildStarted(string(params.Trigger))
	log.Printf("✅ Prebuild %s started (workspace: %s)", claimed.ID, ws.ID)
	return startedResult(claimed), nil
}

// reuseOrRefresh answers a start request with the existing prebuild for the
// commit. A finished build whose prebuild-relevant config changed since is
// restarted; an in-flight build is always reused.
func (m *PrebuildManager) reuseOrRefresh(
	ctx context.Context,
	existing *models.PrebuiltWorkspace,
	params StartPrebuildParams,
) (*models.StartPrebuildResult, error) {
	sameConfig, err := m.hasSameRelevantConfig(ctx, existing, params.Config)
	if err != nil {
		log.Printf("⚠️ Could not compare prebuild configs for %s: %v", existing.ID, err)
		sameConfig = true
	}

	if !existing.State.Resolved() || sameConfig {
		m.metrics.RecordPrebuildDeduped()
		log.Printf("📋 Reusing existing prebuild %s for %s@%s",
			existing.ID, existing.CloneURL, existing.Commit)
		return existingResult(existing), nil
	}

	// The build finished, but against a config that is now stale.
	log.Printf("📋 Config changed since prebuild %s finished, restarting", existing.ID)
	return m.RetriggerPrebuild(ctx, existing.ID)
}

// hasSameRelevantConfig compares the prebuild-relevant task content of the
// existing build's config against the incoming one.
func (m *PrebuildManager) hasSameRelevantConfig(
	ctx context.Context,
	existing *models.PrebuiltWorkspace,
	config *models.WorkspaceConfig,
) (bool, error) {
	wsOpt, err := m.prebuildsService.GetWorkspaceByID(ctx, existing.BuildWorkspaceID)
	if err != nil {
		return false, err
	}
	ws, ok := wsOpt.Get()
	if !ok {
		return false, fmt.Errorf("build workspace not found: %s", existing.BuildWorkspaceID)
	}
	return RelevantConfigJSON(ws.Config) == RelevantConfigJSON(config), nil
}

// RelevantConfigJSON reduces a workspace config to the task fields that
// affect a prebuild's output, serialized canonically for comparison.
func RelevantConfigJSON(config *models.WorkspaceConfig) string {
	if config == nil {
		return "null"
	}
	type relevantTask struct {
		Before   string `json:"before,omitempty"`
		Init     string `json:"init,omitempty"`
		Prebuild string `json:"prebuild,omitempty"`
	}
	tasks := make([]relevantTask, 0, len(config.Tasks))
	for _, task := range config.Tasks {
		if task.Before == "" && task.Init == "" && task.Prebuild == "" {
			continue
		}
		tasks = append(tasks, relevantTask{Before: task.Before, Init: task.Init, Prebuild: task.Prebuild})
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return ""
	}
	return string(data)
}

// abortObsoletePrebuilds cancels queued or building prebuilds for older
// commits on the branch, unless the project keeps outdated builds running.
func (m *PrebuildManager) abortObsoletePrebuilds(
	ctx context.Context,
	project *models.Project,
	cloneURL, branch, currentCommit string,
) {
	if branch == "" {
		return
	}
	if project != nil && project.Settings.KeepOutdatedPrebuildsRunning {
		return
	}

	obsolete, err := m.prebuildsService.GetUnresolvedPrebuildsForBranch(ctx, cloneURL, branch, currentCommit)
	if err != nil {
		log.Printf("⚠️ Failed to list obsolete prebuilds for %s %s: %v", cloneURL, branch, err)
		return
	}

	for _, prebuild := range obsolete {
		log.Printf("🛑 Aborting obsolete prebuild %s (branch %s moved to %s)",
			prebuild.ID, branch, currentCommit)
		if err := m.prebuildsService.UpdatePrebuildState(
			ctx, prebuild.ID, models.PrebuildStateAborted, AbortReasonNewerCommit); err != nil {
			log.Printf("❌ Failed to abort prebuild %s: %v", prebuild.ID, err)
			continue
		}
		if err := m.starter.StopWorkspace(ctx, prebuild.BuildWorkspaceID, AbortReasonNewerCommit); err != nil {
			log.Printf("⚠️ Failed to stop workspace %s: %v", prebuild.BuildWorkspaceID, err)
		}
	}
}

// findIncrementalBase looks for a finished prebuild on an ancestor commit
// with the same relevant config, to start the build from its snapshot.
func (m *PrebuildManager) findIncrementalBase(ctx context.Context, params StartPrebuildParams) string {
	if params.Project == nil || !params.Project.Settings.UseIncrementalPrebuilds {
		return ""
	}
	if m.history == nil || params.AccessToken == "" {
		return ""
	}

	commit := params.Commit
	history, err := m.history.GetCommitHistory(
		ctx, params.AccessToken, commit.Repository, commit.Revision, incrementalHistoryDepth)
	if err != nil {
		log.Printf("⚠️ Failed to fetch commit history for incremental base: %v", err)
		return ""
	}

	passlist := make(map[string]bool, len(history))
	for _, info := range history {
		passlist[info.SHA] = true
	}

	baseOpt, err := m.prebuildsService.GetLatestPrebuildForBranch(
		ctx, commit.Repository.CloneURL, commit.Ref)
	if err != nil {
		log.Printf("⚠️ Failed to look up incremental base: %v", err)
		return ""
	}
	base, ok := baseOpt.Get()
	if !ok || !passlist[base.Commit] {
		return ""
	}

	sameConfig, err := m.hasSameRelevantConfig(ctx, base, params.Config)
	if err != nil || !sameConfig {
		return ""
	}

	log.Printf("📋 Using incremental base prebuild %s (%s)", base.ID, base.Commit)
	return base.ID
}

// RetriggerPrebuild starts the build for an existing prebuild again. The
// previous build workspace must not be running.
func (m *PrebuildManager) RetriggerPrebuild(
	ctx context.Context,
	prebuildID string,
) (*models.StartPrebuildResult, error) {
	log.Printf("🚀 Retriggering prebuild: %s", prebuildID)

	prebuildOpt, err := m.prebuildsService.GetPrebuildByID(ctx, prebuildID)
	if err != nil {
		return nil, fmt.Errorf("failed to get prebuild: %w", err)
	}
	prebuild, ok := prebuildOpt.Get()
	if !ok {
		return nil, fmt.Errorf("prebuild not found: %s", prebuildID)
	}

	running, err := m.starter.IsWorkspaceRunning(ctx, prebuild.BuildWorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to check workspace state: %w", err)
	}
	if running {
		return nil, &WorkspaceRunningError{WorkspaceID: prebuild.BuildWorkspaceID}
	}

	wsOpt, err := m.prebuildsService.GetWorkspaceByID(ctx, prebuild.BuildWorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to get build workspace: %w", err)
	}
	ws, ok := wsOpt.Get()
	if !ok {
		return nil, fmt.Errorf("build workspace not found: %s", prebuild.BuildWorkspaceID)
	}

	if err := m.prebuildsService.UpdatePrebuildState(
		ctx, prebuild.ID, models.PrebuildStateQueued, ""); err != nil {
		return nil, fmt.Errorf("failed to reset prebuild state: %w", err)
	}

	opts := workspace.StartOptions{
		ExcludedFeatureFlags: []string{workspace.FeatureFlagFullWorkspaceBackup},
	}
	if err := m.starter.StartWorkspace(ctx, ws, opts); err != nil {
		m.metrics.RecordPrebuildFailed(string(models.PrebuildTriggerManual))
		if stateErr := m.prebuildsService.UpdatePrebuildState(
			ctx, prebuild.ID, models.PrebuildStateAborted, err.Error()); stateErr != nil {
			log.Printf("❌ Failed to record retrigger failure: %v", stateErr)
		}
		return nil, fmt.Errorf("failed to start prebuild workspace: %w", err)
	}

	m.metrics.RecordPrebuildStarted(string(models.PrebuildTriggerManual))
	log.Printf("✅ Prebuild %s retriggered", prebuild.ID)
	return &models.StartPrebuildResult{
		PrebuildID:  prebuild.ID,
		WorkspaceID: prebuild.BuildWorkspaceID,
	}, nil
}

// HasAutomatedPrebuilds reports whether webhook deliveries ever produced a
// prebuild for the repository, the signal that automated prebuilds are live.
func (m *PrebuildManager) HasAutomatedPrebuilds(ctx context.Context, cloneURL string) (bool, error) {
	return m.prebuildsService.HasWebhookTriggeredPrebuilds(ctx, cloneURL)
}

// existingResult reports a dedup hit. The caller's job was to ensure a
// build exists for the commit, and one does, so Done is true whatever
// state that build is in; DidFinish tells whether its image is usable now.
func existingResult(prebuild *models.PrebuiltWorkspace) *models.StartPrebuildResult {
	return &models.StartPrebuildResult{
		PrebuildID:  prebuild.ID,
		WorkspaceID: prebuild.BuildWorkspaceID,
		Done:        true,
		DidFinish:   prebuild.State == models.PrebuildStateAvailable,
	}
}

// startedResult reports a freshly started build; completion arrives later
// through the status maintainer.
func startedResult(prebuild *models.PrebuiltWorkspace) *models.StartPrebuildResult {
	return &models.StartPrebuildResult{
		PrebuildID:  prebuild.ID,
		WorkspaceID: prebuild.BuildWorkspaceID,
	}
}
