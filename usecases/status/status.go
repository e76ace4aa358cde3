// Package status propagates prebuild outcomes back to the hosting
// provider as commit statuses. While a build runs it parks an updatable
// row per registered check; when the build resolves (or the sweep finds a
// missed completion) it writes the final state and marks the row resolved.
package status

import (
	"context"
	"fmt"
	"log"
	"time"

	"prebuildd/core"
	"prebuildd/headless"
	"prebuildd/models"
	"prebuildd/services"
)

const (
	// maxUpdatableAgeSeconds is how long an updatable may stay pending
	// before the sweep force-resolves it with the prebuild's current state.
	maxUpdatableAgeSeconds = 6 * 60 * 60

	sweepInterval = 60 * time.Second

	statusContext = "Prebuildd"

	// prebuiltLabel marks pull requests whose prebuild finished
	// successfully, when the repository opted into labeling.
	prebuiltLabel = "prebuilt"
)

// GitHubStatusWriter is the slice of the GitHub client the maintainer
// needs: minting installation tokens, writing commit statuses, and
// annotating pull requests.
type GitHubStatusWriter interface {
	GetInstallationToken(ctx context.Context, installationID int64) (string, error)
	CreateCommitStatus(
		ctx context.Context,
		accessToken, owner, repo, sha string,
		status models.CommitStatus,
	) error
	AddPullRequestComment(
		ctx context.Context,
		accessToken, owner, repo string,
		number int,
		body string,
	) error
	AddPullRequestLabel(
		ctx context.Context,
		accessToken, owner, repo string,
		number int,
		label string,
	) error
}

// MetricsRecorder is the subset of the metrics collector the maintainer
// uses.
type MetricsRecorder interface {
	RecordStatusUpdate(state string)
	RecordSweepResolved()
}

type PrebuildStatusMaintainer struct {
	prebuildsService services.PrebuildsService
	github           GitHubStatusWriter
	bus              *headless.Bus
	metrics          MetricsRecorder
}

func NewPrebuildStatusMaintainer(
	prebuildsService services.PrebuildsService,
	github GitHubStatusWriter,
	bus *headless.Bus,
	metrics MetricsRecorder,
) *PrebuildStatusMaintainer {
	return &PrebuildStatusMaintainer{
		prebuildsService: prebuildsService,
		github:           github,
		bus:              bus,
		metrics:          metrics,
	}
}

// RegisterCheckRun attaches a commit status to the prebuild's commit. For a
// running build it writes a pending status and parks an updatable row for
// the final write; for an already resolved build it writes the final state
// immediately.
func (m *PrebuildStatusMaintainer) RegisterCheckRun(
	ctx context.Context,
	installationID int64,
	prebuildID string,
	info models.CheckRunInfo,
) error {
	prebuildOpt, err := m.prebuildsService.GetPrebuildByID(ctx, prebuildID)
	if err != nil {
		return fmt.Errorf("failed to get prebuild: %w", err)
	}
	prebuild, ok := prebuildOpt.Get()
	if !ok {
		return fmt.Errorf("prebuild not found: %s", prebuildID)
	}

	if prebuild.State.Resolved() {
		status := statusForPrebuild(prebuild, info.DetailsURL)
		if err := m.writeStatus(ctx, installationID,
			info.Owner, info.Repo, info.HeadSHA, status); err != nil {
			return err
		}
		if info.Issue != nil && status.State == models.CommitStateSuccess {
			if info.AddComment {
				m.commentOnPullRequest(ctx, installationID, info.Owner, info.Repo, *info.Issue,
					fmt.Sprintf("✅ A prebuild is available for this pull request: %s", info.DetailsURL))
			}
			if info.AddLabel {
				m.labelPullRequest(ctx, installationID, info.Owner, info.Repo, *info.Issue)
			}
		}
		return nil
	}

	updatable := &models.PrebuiltWorkspaceUpdatable{
		Owner:               info.Owner,
		Repo:                info.Repo,
		CommitSHA:           info.HeadSHA,
		ContextURL:          info.DetailsURL,
		InstallationID:      installationID,
		PrebuiltWorkspaceID: prebuild.ID,
	}
	if info.AddLabel {
		// Carrying the issue number tells the final write to label the
		// pull request once the build succeeds.
		updatable.Issue = info.Issue
	}
	if _, err := m.prebuildsService.CreateUpdatable(ctx, updatable); err != nil {
		return fmt.Errorf("failed to create updatable: %w", err)
	}

	if err := m.writeStatus(ctx, installationID, info.Owner, info.Repo, info.HeadSHA, models.CommitStatus{
		State:       models.CommitStatePending,
		Description: "Prebuild in progress",
		TargetURL:   info.DetailsURL,
		Context:     statusContext,
	}); err != nil {
		return err
	}

	if info.AddComment && info.Issue != nil {
		m.commentOnPullRequest(ctx, installationID, info.Owner, info.Repo, *info.Issue,
			fmt.Sprintf("🚀 Starting a prebuild for this pull request. Follow its progress at %s", info.DetailsURL))
	}
	return nil
}

// Run consumes build completions from the bus and periodically sweeps for
// updatables whose completion event was missed. Blocks until ctx is done.
func (m *PrebuildStatusMaintainer) Run(ctx context.Context) {
	events, cancel := m.bus.Subscribe()
	defer cancel()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	log.Printf("📋 Prebuild status maintainer running")
	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 Prebuild status maintainer stopping")
			return
		case event := <-events:
			m.handleCompletion(ctx, event)
		case <-ticker.C:
			m.sweep(ctx)
		}
	}
}

// handleCompletion records the reported build state and, once the prebuild
// is resolved, writes the final status for every parked updatable.
func (m *PrebuildStatusMaintainer) handleCompletion(ctx context.Context, event headless.CompletionEvent) {
	prebuildOpt, err := m.prebuildsService.GetPrebuildByWorkspaceID(ctx, event.WorkspaceID)
	if err != nil {
		log.Printf("❌ Failed to look up prebuild for workspace %s: %v", event.WorkspaceID, err)
		return
	}
	prebuild, ok := prebuildOpt.Get()
	if !ok {
		log.Printf("⚠️ Completion event for unknown workspace: %s", event.WorkspaceID)
		return
	}

	if err := m.prebuildsService.UpdatePrebuildState(ctx, prebuild.ID, event.State, event.Error); err != nil {
		log.Printf("❌ Failed to update prebuild %s state: %v", prebuild.ID, err)
		return
	}
	prebuild.State = event.State
	prebuild.Error = event.Error

	if !prebuild.State.Resolved() {
		return
	}
	m.resolveUpdatables(ctx, prebuild, false)
}

// sweep force-resolves updatables that stayed pending past the age limit,
// writing the prebuild's current state. Guarantees no check hangs forever
// when a completion event is dropped.
func (m *PrebuildStatusMaintainer) sweep(ctx context.Context) {
	updatables, err := m.prebuildsService.GetStaleUpdatables(ctx, maxUpdatableAgeSeconds)
	if err != nil {
		log.Printf("❌ Failed to list stale updatables: %v", err)
		return
	}

	for i := range updatables {
		updatable := &updatables[i]
		prebuildOpt, err := m.prebuildsService.GetPrebuildByID(ctx, updatable.PrebuiltWorkspaceID)
		if err != nil {
			log.Printf("❌ Failed to get prebuild %s for sweep: %v", updatable.PrebuiltWorkspaceID, err)
			continue
		}
		prebuild, ok := prebuildOpt.Get()
		if !ok {
			// Prebuild record is gone, nothing left to report.
			log.Printf("⚠️ Updatable %s references missing prebuild %s, resolving",
				updatable.ID, updatable.PrebuiltWorkspaceID)
			m.markResolved(ctx, updatable.ID)
			continue
		}

		log.Printf("⚠️ Force-resolving stale updatable %s (prebuild %s, state %s)",
			updatable.ID, prebuild.ID, prebuild.State)
		m.finalizeUpdatable(ctx, updatable, prebuild, true)
	}
}

func (m *PrebuildStatusMaintainer) resolveUpdatables(
	ctx context.Context,
	prebuild *models.PrebuiltWorkspace,
	fromSweep bool,
) {
	updatables, err := m.prebuildsService.GetUpdatablesForPrebuild(ctx, prebuild.ID)
	if err != nil {
		log.Printf("❌ Failed to list updatables for prebuild %s: %v", prebuild.ID, err)
		return
	}
	for i := range updatables {
		m.finalizeUpdatable(ctx, &updatables[i], prebuild, fromSweep)
	}
}

func (m *PrebuildStatusMaintainer) finalizeUpdatable(
	ctx context.Context,
	updatable *models.PrebuiltWorkspaceUpdatable,
	prebuild *models.PrebuiltWorkspace,
	fromSweep bool,
) {
	status := statusForPrebuild(prebuild, updatable.ContextURL)
	err := m.writeStatus(ctx, updatable.InstallationID,
		updatable.Owner, updatable.Repo, updatable.CommitSHA, status)
	if err != nil {
		log.Printf("❌ Failed to write final status for updatable %s: %v", updatable.ID, err)
		return
	}

	if updatable.Issue != nil && status.State == models.CommitStateSuccess {
		m.labelPullRequest(ctx, updatable.InstallationID,
			updatable.Owner, updatable.Repo, *updatable.Issue)
	}

	m.markResolved(ctx, updatable.ID)
	m.metrics.RecordStatusUpdate(string(status.State))
	if fromSweep {
		m.metrics.RecordSweepResolved()
	}
}

// commentOnPullRequest posts a prebuild progress comment. Annotation
// failures are logged and swallowed; the commit status is the
// authoritative signal.
func (m *PrebuildStatusMaintainer) commentOnPullRequest(
	ctx context.Context,
	installationID int64,
	owner, repo string,
	number int,
	body string,
) {
	token, err := m.github.GetInstallationToken(ctx, installationID)
	if err != nil {
		log.Printf("❌ Failed to get installation token for PR comment: %v", err)
		return
	}
	if err := m.github.AddPullRequestComment(ctx, token, owner, repo, number, body); err != nil {
		if core.IsNotFoundError(err) {
			log.Printf("⚠️ Pull request %s/%s#%d no longer reachable, skipping comment",
				owner, repo, number)
			return
		}
		log.Printf("❌ Failed to comment on pull request %s/%s#%d: %v", owner, repo, number, err)
	}
}

func (m *PrebuildStatusMaintainer) labelPullRequest(
	ctx context.Context,
	installationID int64,
	owner, repo string,
	number int,
) {
	token, err := m.github.GetInstallationToken(ctx, installationID)
	if err != nil {
		log.Printf("❌ Failed to get installation token for PR label: %v", err)
		return
	}
	if err := m.github.AddPullRequestLabel(ctx, token, owner, repo, number, prebuiltLabel); err != nil {
		if core.IsNotFoundError(err) {
			log.Printf("⚠️ Pull request %s/%s#%d no longer reachable, skipping label",
				owner, repo, number)
			return
		}
		log.Printf("❌ Failed to label pull request %s/%s#%d: %v", owner, repo, number, err)
	}
}

func (m *PrebuildStatusMaintainer) markResolved(ctx context.Context, updatableID string) {
	if err := m.prebuildsService.MarkUpdatableResolved(ctx, updatableID); err != nil {
		log.Printf("❌ Failed to mark updatable %s resolved: %v", updatableID, err)
	}
}

// writeStatus mints an installation token and writes the commit status. A
// "not found" response means the repository or commit is gone (access
// revoked, force push); that is a soft failure, not worth retrying.
func (m *PrebuildStatusMaintainer) writeStatus(
	ctx context.Context,
	installationID int64,
	owner, repo, sha string,
	status models.CommitStatus,
) error {
	token, err := m.github.GetInstallationToken(ctx, installationID)
	if err != nil {
		return fmt.Errorf("failed to get installation token: %w", err)
	}

	if err := m.github.CreateCommitStatus(ctx, token, owner, repo, sha, status); err != nil {
		if core.IsNotFoundError(err) {
			log.Printf("⚠️ Commit %s/%s@%s no longer reachable, skipping status write",
				owner, repo, sha)
			return nil
		}
		return fmt.Errorf("failed to create commit status: %w", err)
	}
	return nil
}

// ConclusionFromPrebuildState maps a prebuild's state to the commit state
// the provider should show.
func ConclusionFromPrebuildState(prebuild *models.PrebuiltWorkspace) models.CommitState {
	switch prebuild.State {
	case models.PrebuildStateQueued, models.PrebuildStateBuilding:
		return models.CommitStatePending
	case models.PrebuildStateAborted, models.PrebuildStateTimeout:
		return models.CommitStateError
	case models.PrebuildStateAvailable:
		if prebuild.Error != "" {
			return models.CommitStateFailure
		}
		return models.CommitStateSuccess
	default:
		log.Printf("⚠️ Unknown prebuild state %q, reporting error", prebuild.State)
		return models.CommitStateError
	}
}

func statusForPrebuild(prebuild *models.PrebuiltWorkspace, targetURL string) models.CommitStatus {
	state := ConclusionFromPrebuildState(prebuild)
	description := map[models.CommitState]string{
		models.CommitStatePending: "Prebuild in progress",
		models.CommitStateSuccess: "Prebuild available",
		models.CommitStateFailure: "Prebuild finished with errors",
		models.CommitStateError:   "Prebuild did not finish",
	}[state]

	return models.CommitStatus{
		State:       state,
		Description: description,
		TargetURL:   targetURL,
		Context:     statusContext,
	}
}
