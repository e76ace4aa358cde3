package prebuilds

import (
	"context"
	"errors"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prebuildd/models"
	"prebuildd/services"
	"prebuildd/testutils"
	"prebuildd/workspace"
)

type nopMetrics struct{}

func (nopMetrics) RecordPrebuildStarted(trigger string) {}
func (nopMetrics) RecordPrebuildDeduped()               {}
func (nopMetrics) RecordPrebuildFailed(trigger string)  {}

func newTestManager(
	prebuildsService *services.MockPrebuildsService,
	starter *workspace.MockStarter,
) *PrebuildManager {
	return NewPrebuildManager(
		prebuildsService,
		testutils.PassthroughTxManager{},
		workspace.NewFactory(prebuildsService),
		starter,
		nil,
		nopMetrics{},
		3600,
	)
}

func noPrebuild() mo.Option[*models.PrebuiltWorkspace] {
	return mo.None[*models.PrebuiltWorkspace]()
}

func TestStartPrebuild_ClaimsAndStarts(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	user := testutils.NewTestUser("GitHub")
	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "abc123")
	config := testutils.NewRepoConfig()

	prebuildsService.On("GetPrebuildByCommit", mock.Anything, commit.Repository.CloneURL, "abc123").
		Return(noPrebuild(), nil)
	prebuildsService.On("CreateWorkspace", mock.Anything, mock.MatchedBy(func(ws *models.Workspace) bool {
		return ws.OwnerID == user.ID && ws.CloneURL == commit.Repository.CloneURL
	})).Return(nil)
	claimed := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAA",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAB",
		CloneURL:         commit.Repository.CloneURL,
		Branch:           "main",
		Commit:           "abc123",
		State:            models.PrebuildStateQueued,
		Trigger:          models.PrebuildTriggerWebhook,
	}
	prebuildsService.On("ClaimPrebuild", mock.Anything, mock.Anything).Return(claimed, true, nil)
	prebuildsService.On("GetUnresolvedPrebuildsForBranch",
		mock.Anything, commit.Repository.CloneURL, "main", "abc123").
		Return([]models.PrebuiltWorkspace{}, nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.MatchedBy(func(opts workspace.StartOptions) bool {
		for _, flag := range opts.ExcludedFeatureFlags {
			if flag == workspace.FeatureFlagFullWorkspaceBackup {
				return true
			}
		}
		return false
	})).Return(nil)

	result, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: user.ID,
		Commit:  commit,
		Config:  config,
		Trigger: models.PrebuildTriggerWebhook,
	})
	require.NoError(t, err)

	assert.Equal(t, claimed.ID, result.PrebuildID)
	assert.False(t, result.Done)
	prebuildsService.AssertExpectations(t)
	starter.AssertExpectations(t)
}

func TestStartPrebuild_DeduplicatesExistingBuild(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "abc123")
	config := testutils.NewRepoConfig()

	existing := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAC",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAD",
		CloneURL:         commit.Repository.CloneURL,
		Commit:           "abc123",
		State:            models.PrebuildStateBuilding,
	}
	prebuildsService.On("GetPrebuildByCommit", mock.Anything, commit.Repository.CloneURL, "abc123").
		Return(mo.Some(existing), nil)
	prebuildsService.On("GetWorkspaceByID", mock.Anything, existing.BuildWorkspaceID).
		Return(mo.Some(&models.Workspace{ID: existing.BuildWorkspaceID, Config: config}), nil)

	result, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: "u_01HZXYAAAAAAAAAAAAAAAAAAAE",
		Commit:  commit,
		Config:  config,
		Trigger: models.PrebuildTriggerWebhook,
	})
	require.NoError(t, err)

	assert.Equal(t, existing.ID, result.PrebuildID)
	// The caller's job was to ensure a build exists, and one does
	assert.True(t, result.Done)
	assert.False(t, result.DidFinish)
	// No second build workspace must be created or started
	starter.AssertNotCalled(t, "StartWorkspace", mock.Anything, mock.Anything, mock.Anything)
	prebuildsService.AssertNotCalled(t, "ClaimPrebuild", mock.Anything, mock.Anything)
}

func TestStartPrebuild_ReportsFinishedBuild(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "abc123")
	config := testutils.NewRepoConfig()

	existing := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAF",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAG",
		CloneURL:         commit.Repository.CloneURL,
		Commit:           "abc123",
		State:            models.PrebuildStateAvailable,
	}
	prebuildsService.On("GetPrebuildByCommit", mock.Anything, mock.Anything, mock.Anything).
		Return(mo.Some(existing), nil)
	prebuildsService.On("GetWorkspaceByID", mock.Anything, existing.BuildWorkspaceID).
		Return(mo.Some(&models.Workspace{ID: existing.BuildWorkspaceID, Config: config}), nil)

	result, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: "u_01HZXYAAAAAAAAAAAAAAAAAAAH",
		Commit:  commit,
		Config:  config,
	})
	require.NoError(t, err)

	assert.True(t, result.Done)
	assert.True(t, result.DidFinish)
}

func TestStartPrebuild_RestartsFinishedBuildOnConfigChange(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "abc123")

	existing := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAY",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAZ",
		CloneURL:         commit.Repository.CloneURL,
		Commit:           "abc123",
		State:            models.PrebuildStateAvailable,
	}
	staleConfig := &models.WorkspaceConfig{Tasks: []models.TaskConfig{{Init: "make old"}}}
	prebuildsService.On("GetPrebuildByCommit", mock.Anything, commit.Repository.CloneURL, "abc123").
		Return(mo.Some(existing), nil)
	prebuildsService.On("GetWorkspaceByID", mock.Anything, existing.BuildWorkspaceID).
		Return(mo.Some(&models.Workspace{ID: existing.BuildWorkspaceID, Config: staleConfig}), nil)
	prebuildsService.On("GetPrebuildByID", mock.Anything, existing.ID).
		Return(mo.Some(existing), nil)
	starter.On("IsWorkspaceRunning", mock.Anything, existing.BuildWorkspaceID).Return(false, nil)
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, existing.ID, models.PrebuildStateQueued, "").Return(nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: "u_01HZXYAAAAAAAAAAAAAAAAAAB0",
		Commit:  commit,
		Config:  &models.WorkspaceConfig{Tasks: []models.TaskConfig{{Init: "make new"}}},
	})
	require.NoError(t, err)

	// The available-but-stale build must not be handed out as finished
	assert.Equal(t, existing.ID, result.PrebuildID)
	assert.False(t, result.DidFinish)
	starter.AssertCalled(t, "StartWorkspace", mock.Anything, mock.Anything, mock.Anything)
}

func TestStartPrebuild_AbortsObsoleteBranchBuilds(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "new456")

	prebuildsService.On("GetPrebuildByCommit", mock.Anything, mock.Anything, "new456").
		Return(noPrebuild(), nil)
	prebuildsService.On("CreateWorkspace", mock.Anything, mock.Anything).Return(nil)
	claimed := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAJ",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAK",
		State:            models.PrebuildStateQueued,
	}
	prebuildsService.On("ClaimPrebuild", mock.Anything, mock.Anything).Return(claimed, true, nil)

	obsolete := models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAM",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAN",
		State:            models.PrebuildStateBuilding,
	}
	prebuildsService.On("GetUnresolvedPrebuildsForBranch",
		mock.Anything, commit.Repository.CloneURL, "main", "new456").
		Return([]models.PrebuiltWorkspace{obsolete}, nil)
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, obsolete.ID, models.PrebuildStateAborted, AbortReasonNewerCommit).
		Return(nil)
	starter.On("StopWorkspace", mock.Anything, obsolete.BuildWorkspaceID, AbortReasonNewerCommit).
		Return(nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: "u_01HZXYAAAAAAAAAAAAAAAAAAAP",
		Commit:  commit,
		Config:  testutils.NewRepoConfig(),
	})
	require.NoError(t, err)

	prebuildsService.AssertExpectations(t)
	starter.AssertExpectations(t)
}

func TestStartPrebuild_KeepsOutdatedBuildsWhenConfigured(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	user := testutils.NewTestUser("GitHub")
	project := testutils.NewTestProject("https://github.com/acme/widgets.git", user)
	project.Settings.KeepOutdatedPrebuildsRunning = true
	commit := testutils.NewTestCommitContext(project.CloneURL, "main", "new456")

	prebuildsService.On("GetPrebuildByCommit", mock.Anything, mock.Anything, mock.Anything).
		Return(noPrebuild(), nil)
	prebuildsService.On("CreateWorkspace", mock.Anything, mock.Anything).Return(nil)
	prebuildsService.On("ClaimPrebuild", mock.Anything, mock.Anything).
		Return(&models.PrebuiltWorkspace{ID: "pb_01HZXYAAAAAAAAAAAAAAAAAAAQ"}, true, nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	_, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: user.ID,
		Project: project,
		Commit:  commit,
		Config:  testutils.NewRepoConfig(),
	})
	require.NoError(t, err)

	prebuildsService.AssertNotCalled(t, "GetUnresolvedPrebuildsForBranch",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestStartPrebuild_MarksFailureWhenStartFails(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	commit := testutils.NewTestCommitContext("https://github.com/acme/widgets.git", "main", "abc123")

	prebuildsService.On("GetPrebuildByCommit", mock.Anything, mock.Anything, mock.Anything).
		Return(noPrebuild(), nil)
	prebuildsService.On("CreateWorkspace", mock.Anything, mock.Anything).Return(nil)
	claimed := &models.PrebuiltWorkspace{ID: "pb_01HZXYAAAAAAAAAAAAAAAAAAAR"}
	prebuildsService.On("ClaimPrebuild", mock.Anything, mock.Anything).Return(claimed, true, nil)
	prebuildsService.On("GetUnresolvedPrebuildsForBranch",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return([]models.PrebuiltWorkspace{}, nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("ws-manager unavailable"))
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, claimed.ID, models.PrebuildStateAborted, "ws-manager unavailable").
		Return(nil)

	_, err := manager.StartPrebuild(context.Background(), StartPrebuildParams{
		OwnerID: "u_01HZXYAAAAAAAAAAAAAAAAAAAS",
		Commit:  commit,
		Config:  testutils.NewRepoConfig(),
	})
	require.Error(t, err)
	prebuildsService.AssertExpectations(t)
}

func TestRetriggerPrebuild_RejectsRunningWorkspace(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	prebuild := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAT",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAV",
		State:            models.PrebuildStateBuilding,
	}
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	starter.On("IsWorkspaceRunning", mock.Anything, prebuild.BuildWorkspaceID).Return(true, nil)

	_, err := manager.RetriggerPrebuild(context.Background(), prebuild.ID)
	require.Error(t, err)
	assert.True(t, IsWorkspaceRunningError(err))
}

func TestRetriggerPrebuild_RestartsStoppedBuild(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	starter := &workspace.MockStarter{}
	manager := newTestManager(prebuildsService, starter)

	prebuild := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYAAAAAAAAAAAAAAAAAAAW",
		BuildWorkspaceID: "ws_01HZXYAAAAAAAAAAAAAAAAAAAX",
		State:            models.PrebuildStateAborted,
		Error:            "earlier failure",
	}
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	starter.On("IsWorkspaceRunning", mock.Anything, prebuild.BuildWorkspaceID).Return(false, nil)
	prebuildsService.On("GetWorkspaceByID", mock.Anything, prebuild.BuildWorkspaceID).
		Return(mo.Some(&models.Workspace{ID: prebuild.BuildWorkspaceID}), nil)
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, prebuild.ID, models.PrebuildStateQueued, "").Return(nil)
	starter.On("StartWorkspace", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	result, err := manager.RetriggerPrebuild(context.Background(), prebuild.ID)
	require.NoError(t, err)

	assert.Equal(t, prebuild.ID, result.PrebuildID)
	prebuildsService.AssertExpectations(t)
	starter.AssertExpectations(t)
}

func TestRelevantConfigJSON(t *testing.T) {
	withCommand := &models.WorkspaceConfig{Tasks: []models.TaskConfig{
		{Init: "make build", Command: "npm start"},
		{Command: "tail -f /dev/null"},
	}}
	withoutCommand := &models.WorkspaceConfig{Tasks: []models.TaskConfig{
		{Init: "make build"},
	}}

	// command-only tasks and command fields are irrelevant to the build
	assert.Equal(t, RelevantConfigJSON(withoutCommand), RelevantConfigJSON(withCommand))

	different := &models.WorkspaceConfig{Tasks: []models.TaskConfig{
		{Init: "make other"},
	}}
	assert.NotEqual(t, RelevantConfigJSON(withoutCommand), RelevantConfigJSON(different))

	assert.Equal(t, "null", RelevantConfigJSON(nil))
}

func TestCloneURLLimiter(t *testing.T) {
	limiter := newCloneURLLimiter(0, 1)

	assert.True(t, limiter.Allow("https://github.com/acme/widgets.git"))
	assert.False(t, limiter.Allow("https://github.com/acme/widgets.git"))
	// Other repositories keep their own budget
	assert.True(t, limiter.Allow("https://github.com/acme/gadgets.git"))
}
