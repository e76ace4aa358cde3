package status

import (
	"context"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prebuildd/clients"
	"prebuildd/core"
	"prebuildd/headless"
	"prebuildd/models"
	"prebuildd/services"
)

type countingMetrics struct {
	statusUpdates map[string]int
	sweepResolved int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{statusUpdates: make(map[string]int)}
}

func (c *countingMetrics) RecordStatusUpdate(state string) { c.statusUpdates[state]++ }
func (c *countingMetrics) RecordSweepResolved()            { c.sweepResolved++ }

func newTestMaintainer(
	prebuildsService *services.MockPrebuildsService,
	github *clients.MockGitHubClient,
	metrics *countingMetrics,
) *PrebuildStatusMaintainer {
	return NewPrebuildStatusMaintainer(prebuildsService, github, headless.NewBus(), metrics)
}

func TestConclusionFromPrebuildState(t *testing.T) {
	tests := []struct {
		name     string
		prebuild models.PrebuiltWorkspace
		want     models.CommitState
	}{
		{"queued", models.PrebuiltWorkspace{State: models.PrebuildStateQueued}, models.CommitStatePending},
		{"building", models.PrebuiltWorkspace{State: models.PrebuildStateBuilding}, models.CommitStatePending},
		{"aborted", models.PrebuiltWorkspace{State: models.PrebuildStateAborted}, models.CommitStateError},
		{"timeout", models.PrebuiltWorkspace{State: models.PrebuildStateTimeout}, models.CommitStateError},
		{"available", models.PrebuiltWorkspace{State: models.PrebuildStateAvailable}, models.CommitStateSuccess},
		{
			"available with build error",
			models.PrebuiltWorkspace{State: models.PrebuildStateAvailable, Error: "task failed"},
			models.CommitStateFailure,
		},
		{"unknown state", models.PrebuiltWorkspace{State: "garbage"}, models.CommitStateError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ConclusionFromPrebuildState(&tt.prebuild))
		})
	}
}

func TestRegisterCheckRun_RunningBuildParksUpdatable(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBA",
		State: models.PrebuildStateBuilding,
	}
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	prebuildsService.On("CreateUpdatable", mock.Anything, mock.MatchedBy(func(u *models.PrebuiltWorkspaceUpdatable) bool {
		return u.PrebuiltWorkspaceID == prebuild.ID && u.Owner == "acme" && u.InstallationID == 42
	})).Return(&models.PrebuiltWorkspaceUpdatable{ID: "upd_01HZXYBBBBBBBBBBBBBBBBBBBB"}, nil)
	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.MatchedBy(func(status models.CommitStatus) bool {
			return status.State == models.CommitStatePending && status.Context == "Prebuildd"
		})).Return(nil)

	err := maintainer.RegisterCheckRun(context.Background(), 42, prebuild.ID, models.CheckRunInfo{
		Owner:      "acme",
		Repo:       "widgets",
		HeadSHA:    "abc123",
		DetailsURL: "https://app.example.com/prebuilds/pb_01HZXYBBBBBBBBBBBBBBBBBBBA",
	})
	require.NoError(t, err)

	prebuildsService.AssertExpectations(t)
	github.AssertExpectations(t)
}

func TestRegisterCheckRun_ResolvedBuildWritesFinalStatus(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBC",
		State: models.PrebuildStateAvailable,
	}
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	github.On("GetInstallationToken", mock.Anything, int64(7)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.MatchedBy(func(status models.CommitStatus) bool {
			return status.State == models.CommitStateSuccess
		})).Return(nil)

	err := maintainer.RegisterCheckRun(context.Background(), 7, prebuild.ID, models.CheckRunInfo{
		Owner:   "acme",
		Repo:    "widgets",
		HeadSHA: "abc123",
	})
	require.NoError(t, err)

	prebuildsService.AssertNotCalled(t, "CreateUpdatable", mock.Anything, mock.Anything)
}

func TestRegisterCheckRun_MissingCommitIsSoftFailure(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBD",
		State: models.PrebuildStateAvailable,
	}
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	github.On("GetInstallationToken", mock.Anything, mock.Anything).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(core.ErrNotFound)

	err := maintainer.RegisterCheckRun(context.Background(), 7, prebuild.ID, models.CheckRunInfo{
		Owner:   "acme",
		Repo:    "gone",
		HeadSHA: "abc123",
	})
	assert.NoError(t, err)
}

func TestRegisterCheckRun_PullRequestAnnotations(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBQ",
		State: models.PrebuildStateBuilding,
	}
	issue := 117
	prebuildsService.On("GetPrebuildByID", mock.Anything, prebuild.ID).
		Return(mo.Some(prebuild), nil)
	prebuildsService.On("CreateUpdatable", mock.Anything, mock.MatchedBy(func(u *models.PrebuiltWorkspaceUpdatable) bool {
		return u.Issue != nil && *u.Issue == issue
	})).Return(&models.PrebuiltWorkspaceUpdatable{ID: "upd_01HZXYBBBBBBBBBBBBBBBBBBBR"}, nil)
	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.Anything).Return(nil)
	github.On("AddPullRequestComment", mock.Anything, "ghs_token", "acme", "widgets", issue,
		mock.MatchedBy(func(body string) bool {
			return strings.Contains(body, "Starting a prebuild")
		})).Return(nil)

	err := maintainer.RegisterCheckRun(context.Background(), 42, prebuild.ID, models.CheckRunInfo{
		Owner:      "acme",
		Repo:       "widgets",
		HeadSHA:    "abc123",
		DetailsURL: "https://app.example.com/prebuilds/pb_01HZXYBBBBBBBBBBBBBBBBBBBQ",
		Issue:      &issue,
		AddComment: true,
		AddLabel:   true,
	})
	require.NoError(t, err)

	prebuildsService.AssertExpectations(t)
	github.AssertExpectations(t)
	github.AssertNotCalled(t, "AddPullRequestLabel",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestFinalizeUpdatable_LabelsPullRequestOnSuccess(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	metrics := newCountingMetrics()
	maintainer := newTestMaintainer(prebuildsService, github, metrics)

	issue := 117
	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBS",
		State: models.PrebuildStateAvailable,
	}
	updatable := models.PrebuiltWorkspaceUpdatable{
		ID:                  "upd_01HZXYBBBBBBBBBBBBBBBBBBBT",
		Owner:               "acme",
		Repo:                "widgets",
		CommitSHA:           "abc123",
		InstallationID:      42,
		PrebuiltWorkspaceID: prebuild.ID,
		Issue:               &issue,
	}

	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.MatchedBy(func(status models.CommitStatus) bool {
			return status.State == models.CommitStateSuccess
		})).Return(nil)
	github.On("AddPullRequestLabel", mock.Anything, "ghs_token", "acme", "widgets", issue,
		"prebuilt").Return(nil)
	prebuildsService.On("MarkUpdatableResolved", mock.Anything, updatable.ID).Return(nil)

	maintainer.finalizeUpdatable(context.Background(), &updatable, prebuild, false)

	prebuildsService.AssertExpectations(t)
	github.AssertExpectations(t)
	assert.Equal(t, 1, metrics.statusUpdates["success"])
}

func TestFinalizeUpdatable_NoLabelOnFailure(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	issue := 117
	prebuild := &models.PrebuiltWorkspace{
		ID:    "pb_01HZXYBBBBBBBBBBBBBBBBBBBV",
		State: models.PrebuildStateTimeout,
	}
	updatable := models.PrebuiltWorkspaceUpdatable{
		ID:                  "upd_01HZXYBBBBBBBBBBBBBBBBBBBW",
		Owner:               "acme",
		Repo:                "widgets",
		CommitSHA:           "abc123",
		InstallationID:      42,
		PrebuiltWorkspaceID: prebuild.ID,
		Issue:               &issue,
	}

	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything).Return(nil)
	prebuildsService.On("MarkUpdatableResolved", mock.Anything, updatable.ID).Return(nil)

	maintainer.finalizeUpdatable(context.Background(), &updatable, prebuild, false)

	github.AssertNotCalled(t, "AddPullRequestLabel",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCompletion_ResolvesUpdatables(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	metrics := newCountingMetrics()
	maintainer := newTestMaintainer(prebuildsService, github, metrics)

	prebuild := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYBBBBBBBBBBBBBBBBBBBE",
		BuildWorkspaceID: "ws_01HZXYBBBBBBBBBBBBBBBBBBBF",
		State:            models.PrebuildStateBuilding,
	}
	updatable := models.PrebuiltWorkspaceUpdatable{
		ID:                  "upd_01HZXYBBBBBBBBBBBBBBBBBBBG",
		Owner:               "acme",
		Repo:                "widgets",
		CommitSHA:           "abc123",
		InstallationID:      42,
		PrebuiltWorkspaceID: prebuild.ID,
	}

	prebuildsService.On("GetPrebuildByWorkspaceID", mock.Anything, prebuild.BuildWorkspaceID).
		Return(mo.Some(prebuild), nil)
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, prebuild.ID, models.PrebuildStateAvailable, "").Return(nil)
	prebuildsService.On("GetUpdatablesForPrebuild", mock.Anything, prebuild.ID).
		Return([]models.PrebuiltWorkspaceUpdatable{updatable}, nil)
	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.MatchedBy(func(status models.CommitStatus) bool {
			return status.State == models.CommitStateSuccess
		})).Return(nil)
	prebuildsService.On("MarkUpdatableResolved", mock.Anything, updatable.ID).Return(nil)

	maintainer.handleCompletion(context.Background(), headless.CompletionEvent{
		WorkspaceID: prebuild.BuildWorkspaceID,
		State:       models.PrebuildStateAvailable,
	})

	prebuildsService.AssertExpectations(t)
	github.AssertExpectations(t)
	assert.Equal(t, 1, metrics.statusUpdates["success"])
	assert.Equal(t, 0, metrics.sweepResolved)
}

func TestHandleCompletion_IgnoresUnresolvedStates(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	maintainer := newTestMaintainer(prebuildsService, github, newCountingMetrics())

	prebuild := &models.PrebuiltWorkspace{
		ID:               "pb_01HZXYBBBBBBBBBBBBBBBBBBBH",
		BuildWorkspaceID: "ws_01HZXYBBBBBBBBBBBBBBBBBBBJ",
		State:            models.PrebuildStateQueued,
	}
	prebuildsService.On("GetPrebuildByWorkspaceID", mock.Anything, prebuild.BuildWorkspaceID).
		Return(mo.Some(prebuild), nil)
	prebuildsService.On("UpdatePrebuildState",
		mock.Anything, prebuild.ID, models.PrebuildStateBuilding, "").Return(nil)

	maintainer.handleCompletion(context.Background(), headless.CompletionEvent{
		WorkspaceID: prebuild.BuildWorkspaceID,
		State:       models.PrebuildStateBuilding,
	})

	prebuildsService.AssertNotCalled(t, "GetUpdatablesForPrebuild", mock.Anything, mock.Anything)
}

func TestSweep_ForceResolvesStaleUpdatables(t *testing.T) {
	prebuildsService := &services.MockPrebuildsService{}
	github := &clients.MockGitHubClient{}
	metrics := newCountingMetrics()
	maintainer := newTestMaintainer(prebuildsService, github, metrics)

	stale := models.PrebuiltWorkspaceUpdatable{
		ID:                  "upd_01HZXYBBBBBBBBBBBBBBBBBBBK",
		Owner:               "acme",
		Repo:                "widgets",
		CommitSHA:           "abc123",
		InstallationID:      42,
		PrebuiltWorkspaceID: "pb_01HZXYBBBBBBBBBBBBBBBBBBBM",
	}
	orphaned := models.PrebuiltWorkspaceUpdatable{
		ID:                  "upd_01HZXYBBBBBBBBBBBBBBBBBBBN",
		PrebuiltWorkspaceID: "pb_01HZXYBBBBBBBBBBBBBBBBBBBP",
	}

	prebuildsService.On("GetStaleUpdatables", mock.Anything, int64(21600)).
		Return([]models.PrebuiltWorkspaceUpdatable{stale, orphaned}, nil)
	prebuildsService.On("GetPrebuildByID", mock.Anything, stale.PrebuiltWorkspaceID).
		Return(mo.Some(&models.PrebuiltWorkspace{
			ID:    stale.PrebuiltWorkspaceID,
			State: models.PrebuildStateTimeout,
		}), nil)
	prebuildsService.On("GetPrebuildByID", mock.Anything, orphaned.PrebuiltWorkspaceID).
		Return(mo.None[*models.PrebuiltWorkspace](), nil)
	github.On("GetInstallationToken", mock.Anything, int64(42)).Return("ghs_token", nil)
	github.On("CreateCommitStatus", mock.Anything, "ghs_token", "acme", "widgets", "abc123",
		mock.MatchedBy(func(status models.CommitStatus) bool {
			return status.State == models.CommitStateError
		})).Return(nil)
	prebuildsService.On("MarkUpdatableResolved", mock.Anything, stale.ID).Return(nil)
	prebuildsService.On("MarkUpdatableResolved", mock.Anything, orphaned.ID).Return(nil)

	maintainer.sweep(context.Background())

	prebuildsService.AssertExpectations(t)
	assert.Equal(t, 1, metrics.sweepResolved)
}
