package ingestion

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prebuildd/configprovider"
	"prebuildd/contextparser"
	"prebuildd/core"
	"prebuildd/middleware"
	"prebuildd/models"
	"prebuildd/services"
	"prebuildd/testutils"
	"prebuildd/usecases/prebuilds"
)

type mockStarter struct {
	mock.Mock
}

func (m *mockStarter) StartPrebuild(
	ctx context.Context,
	params prebuilds.StartPrebuildParams,
) (*models.StartPrebuildResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.StartPrebuildResult), args.Error(1)
}

type mockCheckRegistrar struct {
	mock.Mock
}

func (m *mockCheckRegistrar) RegisterCheckRun(
	ctx context.Context,
	installationID int64,
	prebuildID string,
	info models.CheckRunInfo,
) error {
	args := m.Called(ctx, installationID, prebuildID, info)
	return args.Error(0)
}

type nopMetrics struct{}

func (nopMetrics) RecordWebhookReceived(provider string)     {}
func (nopMetrics) RecordWebhookUnauthorized(provider string) {}
func (nopMetrics) RecordWebhookIgnored(provider string)      {}

type pipelineFixture struct {
	users         *services.MockUsersService
	tokens        *services.MockTokensService
	projects      *services.MockProjectsService
	webhookEvents *services.MockWebhookEventsService
	configs       *configprovider.MockProvider
	starter       *mockStarter
	checks        *mockCheckRegistrar
	pipeline      *Pipeline
}

func newPipelineFixture(verifier Verifier) *pipelineFixture {
	f := &pipelineFixture{
		users:         &services.MockUsersService{},
		tokens:        &services.MockTokensService{},
		projects:      &services.MockProjectsService{},
		webhookEvents: &services.MockWebhookEventsService{},
		configs:       &configprovider.MockProvider{},
		starter:       &mockStarter{},
		checks:        &mockCheckRegistrar{},
	}

	parsers := contextparser.NewRegistry()
	parsers.Register("github.com", &contextparser.GitHubParser{})

	configs := NewConfigResolver()
	configs.Register("github.com", f.configs)

	f.pipeline = NewPipeline(
		verifier,
		f.webhookEvents,
		f.projects,
		f.tokens,
		parsers,
		configs,
		f.starter,
		f.checks,
		middleware.NewErrorAlertMiddleware(middleware.AlertConfig{}),
		nopMetrics{},
	)
	return f
}

func pushDelivery(event *models.RepositoryEvent) *Delivery {
	return &Delivery{
		Provider:   "github",
		EventType:  "push",
		RawPayload: []byte(`{}`),
		Event:      event,
	}
}

func pushEvent(cloneURL, branch, sha string) *models.RepositoryEvent {
	repoURL := cloneURL
	if len(repoURL) > 4 && repoURL[len(repoURL)-4:] == ".git" {
		repoURL = repoURL[:len(repoURL)-4]
	}
	return &models.RepositoryEvent{
		Kind:            models.RepositoryEventPush,
		CloneURL:        cloneURL,
		RepoURL:         repoURL,
		Branch:          branch,
		CommitSHA:       sha,
		IsDefaultBranch: true,
	}
}

type staticVerifier struct {
	user *models.User
	err  error
}

func (v staticVerifier) VerifyWebhook(ctx context.Context, delivery *Delivery) (*models.User, error) {
	return v.user, v.err
}

func auditRow() *models.WebhookEvent {
	return &models.WebhookEvent{ID: core.NewID("whe"), Status: models.WebhookEventReceived}
}

func TestProcess_UnauthorizedDeliveryIsDismissed(t *testing.T) {
	f := newPipelineFixture(staticVerifier{err: assert.AnError})

	audit := auditRow()
	f.webhookEvents.On("RecordEvent", mock.Anything, "github", "push", mock.Anything).
		Return(audit, nil)
	f.webhookEvents.On("UpdateEvent", mock.Anything, audit.ID,
		mock.MatchedBy(func(update models.WebhookEventUpdate) bool {
			return update.Status != nil && *update.Status == models.WebhookEventUnauthorized
		})).Return(nil)

	err := f.pipeline.Process(context.Background(),
		pushDelivery(pushEvent("https://github.com/acme/widgets.git", "main", "abc123")))

	assert.ErrorIs(t, err, ErrUnauthorized)
	f.webhookEvents.AssertExpectations(t)
	f.starter.AssertNotCalled(t, "StartPrebuild", mock.Anything, mock.Anything)
}

func TestProcess_BlockedUserIsDismissed(t *testing.T) {
	user := testutils.NewTestUser("github.com")
	user.Blocked = true
	f := newPipelineFixture(staticVerifier{user: user})

	audit := auditRow()
	f.webhookEvents.On("RecordEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(audit, nil)
	f.webhookEvents.On("UpdateEvent", mock.Anything, audit.ID, mock.Anything).Return(nil)

	err := f.pipeline.Process(context.Background(),
		pushDelivery(pushEvent("https://github.com/acme/widgets.git", "main", "abc123")))

	assert.ErrorIs(t, err, ErrUnauthorized)
	f.starter.AssertNotCalled(t, "StartPrebuild", mock.Anything, mock.Anything)
}

func TestProcess_UnconfiguredRepositoryIsIgnored(t *testing.T) {
	user := testutils.NewTestUser("github.com")
	f := newPipelineFixture(staticVerifier{user: user})

	audit := auditRow()
	f.webhookEvents.On("RecordEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(audit, nil)
	f.webhookEvents.On("UpdateEvent", mock.Anything, audit.ID, mock.Anything).Return(nil)
	f.projects.On("GetProjectsByCloneURL", mock.Anything, mock.Anything).
		Return([]models.Project{}, nil)
	f.tokens.On("GetTokens", mock.Anything, "github.com", user.Identities[0].AuthID).
		Return([]models.TokenEntry{}, nil)
	// No before/init/prebuild task configured
	f.configs.On("GetConfig", mock.Anything, mock.Anything, mock.Anything).
		Return(&models.WorkspaceConfig{Origin: models.ConfigOriginDefault}, nil)

	err := f.pipeline.Process(context.Background(),
		pushDelivery(pushEvent("https://github.com/acme/widgets.git", "main", "abc123")))
	require.NoError(t, err)

	f.starter.AssertNotCalled(t, "StartPrebuild", mock.Anything, mock.Anything)
	f.webhookEvents.AssertCalled(t, "UpdateEvent", mock.Anything, audit.ID,
		mock.MatchedBy(func(update models.WebhookEventUpdate) bool {
			return update.PrebuildStatus != nil &&
				*update.PrebuildStatus == models.PrebuildStatusIgnoredUnconfigured
		}))
}

func TestProcess_QualifyingPushStartsPrebuild(t *testing.T) {
	user := testutils.NewTestUser("github.com")
	f := newPipelineFixture(staticVerifier{user: user})

	cloneURL := "https://github.com/acme/widgets.git"
	audit := auditRow()
	f.webhookEvents.On("RecordEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(audit, nil)
	f.webhookEvents.On("UpdateEvent", mock.Anything, audit.ID, mock.Anything).Return(nil)
	f.projects.On("GetProjectsByCloneURL", mock.Anything, cloneURL).
		Return([]models.Project{}, nil)
	f.tokens.On("GetTokens", mock.Anything, "github.com", user.Identities[0].AuthID).
		Return([]models.TokenEntry{{Token: models.Token{Value: "gho_tok"}}}, nil)
	f.configs.On("GetConfig", mock.Anything, "gho_tok", mock.Anything).
		Return(testutils.NewRepoConfig(), nil)
	started := make(chan struct{})
	f.starter.On("StartPrebuild", mock.Anything, mock.MatchedBy(func(params prebuilds.StartPrebuildParams) bool {
		return params.OwnerID == user.ID &&
			params.Trigger == models.PrebuildTriggerWebhook &&
			params.Commit.Revision == "abc123" &&
			params.AccessToken == "gho_tok"
	})).Return(&models.StartPrebuildResult{PrebuildID: "pb_01HZXYCCCCCCCCCCCCCCCCCCCA"}, nil).
		Run(func(mock.Arguments) { close(started) })

	err := f.pipeline.Process(context.Background(),
		pushDelivery(pushEvent(cloneURL, "main", "abc123")))
	require.NoError(t, err)

	// The start runs on a background task
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("prebuild start was never spawned")
	}

	f.webhookEvents.AssertCalled(t, "UpdateEvent", mock.Anything, audit.ID,
		mock.MatchedBy(func(update models.WebhookEventUpdate) bool {
			return update.Status != nil && *update.Status == models.WebhookEventProcessed
		}))
	f.checks.AssertNotCalled(t, "RegisterCheckRun", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcess_AppDeliveryRegistersCheckRun(t *testing.T) {
	user := testutils.NewTestUser("github.com")
	f := newPipelineFixture(staticVerifier{user: user})

	cloneURL := "https://github.com/acme/widgets.git"
	audit := auditRow()
	f.webhookEvents.On("RecordEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(audit, nil)
	f.webhookEvents.On("UpdateEvent", mock.Anything, audit.ID, mock.Anything).Return(nil)
	f.projects.On("GetProjectsByCloneURL", mock.Anything, cloneURL).
		Return([]models.Project{}, nil)
	f.tokens.On("GetTokens", mock.Anything, "github.com", user.Identities[0].AuthID).
		Return([]models.TokenEntry{{Token: models.Token{Value: "gho_tok"}}}, nil)
	f.configs.On("GetConfig", mock.Anything, mock.Anything, mock.Anything).
		Return(testutils.NewRepoConfig(), nil)
	f.starter.On("StartPrebuild", mock.Anything, mock.Anything).
		Return(&models.StartPrebuildResult{PrebuildID: "pb_01HZXYCCCCCCCCCCCCCCCCCCCB"}, nil)
	registered := make(chan struct{})
	f.checks.On("RegisterCheckRun", mock.Anything, int64(42), "pb_01HZXYCCCCCCCCCCCCCCCCCCCB",
		mock.MatchedBy(func(info models.CheckRunInfo) bool {
			return info.Owner == "acme" && info.Repo == "widgets" && info.HeadSHA == "abc123"
		})).Return(nil).
		Run(func(mock.Arguments) { close(registered) })

	delivery := pushDelivery(pushEvent(cloneURL, "main", "abc123"))
	delivery.InstallationID = 42

	err := f.pipeline.Process(context.Background(), delivery)
	require.NoError(t, err)

	select {
	case <-registered:
	case <-time.After(2 * time.Second):
		t.Fatal("check run was never registered")
	}
}

func TestSecretTokenVerifier(t *testing.T) {
	user := testutils.NewTestUser("gitlab.com")
	cloneURL := "https://gitlab.com/group/project.git"

	tests := []struct {
		name         string
		secret       string
		tokens       []models.Token
		requireScope bool
		wantErr      bool
	}{
		{
			name:   "matching token",
			secret: core.WebhookSecretToken(user.ID, "whsec_abc"),
			tokens: []models.Token{{Value: "whsec_abc", Scopes: []string{core.PrebuildTokenScope}}},
		},
		{
			name:    "wrong value",
			secret:  core.WebhookSecretToken(user.ID, "whsec_wrong"),
			tokens:  []models.Token{{Value: "whsec_abc", Scopes: []string{core.PrebuildTokenScope}}},
			wantErr: true,
		},
		{
			name:    "malformed secret",
			secret:  "no-separator",
			wantErr: true,
		},
		{
			name:         "missing clone url scope",
			secret:       core.WebhookSecretToken(user.ID, "whsec_abc"),
			tokens:       []models.Token{{Value: "whsec_abc", Scopes: []string{core.PrebuildTokenScope}}},
			requireScope: true,
			wantErr:      true,
		},
		{
			name:   "fully scoped token",
			secret: core.WebhookSecretToken(user.ID, "whsec_abc"),
			tokens: []models.Token{{
				Value:  "whsec_abc",
				Scopes: []string{core.PrebuildTokenScope, cloneURL},
			}},
			requireScope: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			users := &services.MockUsersService{}
			tokens := &services.MockTokensService{}
			users.On("GetUserByID", mock.Anything, user.ID).Return(mo.Some(user), nil)
			tokens.On("GetTokensWithScope",
				mock.Anything, core.InternalAuthProviderID, user.ID, core.PrebuildTokenScope).
				Return(tt.tokens, nil)

			verifier := NewSecretTokenVerifier(users, tokens, tt.requireScope)
			resolved, err := verifier.VerifyWebhook(context.Background(), &Delivery{
				Secret: tt.secret,
				Event:  pushEvent(cloneURL, "main", "abc123"),
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, user.ID, resolved.ID)
		})
	}
}

func TestHMACVerifier_FindsSigningProjectOwner(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	cloneURL := "https://ghe.example.com/acme/widgets.git"
	other := testutils.NewTestUser(core.InternalAuthProviderID)
	signer := testutils.NewTestUser(core.InternalAuthProviderID)
	otherProject := testutils.NewTestProject(cloneURL, other)
	signerProject := testutils.NewTestProject(cloneURL, signer)

	// The hook was installed with the composed "{userId}|{tokenValue}"
	// secret, so that is the signing key
	mac := hmac.New(sha256.New, []byte(core.WebhookSecretToken(signer.ID, "whsec_signer")))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	users := &services.MockUsersService{}
	tokens := &services.MockTokensService{}
	projects := &services.MockProjectsService{}
	projects.On("GetProjectsByCloneURL", mock.Anything, cloneURL).
		Return([]models.Project{*otherProject, *signerProject}, nil)
	projects.On("GetProjectOwnerUserID", mock.Anything, mock.MatchedBy(func(p *models.Project) bool {
		return p.ID == otherProject.ID
	})).Return(other.ID, nil)
	projects.On("GetProjectOwnerUserID", mock.Anything, mock.MatchedBy(func(p *models.Project) bool {
		return p.ID == signerProject.ID
	})).Return(signer.ID, nil)
	users.On("GetUserByID", mock.Anything, other.ID).Return(mo.Some(other), nil)
	users.On("GetUserByID", mock.Anything, signer.ID).Return(mo.Some(signer), nil)
	tokens.On("GetTokensWithScope",
		mock.Anything, core.InternalAuthProviderID, other.ID, core.PrebuildTokenScope).
		Return([]models.Token{{Value: "whsec_other"}}, nil)
	tokens.On("GetTokensWithScope",
		mock.Anything, core.InternalAuthProviderID, signer.ID, core.PrebuildTokenScope).
		Return([]models.Token{{Value: "whsec_signer"}}, nil)

	verifier := NewHMACVerifier(users, tokens, projects)
	resolved, err := verifier.VerifyWebhook(context.Background(), &Delivery{
		RawPayload: payload,
		Signature:  signature,
		Event:      pushEvent(cloneURL, "main", "abc123"),
	})
	require.NoError(t, err)
	assert.Equal(t, signer.ID, resolved.ID)

	_, err = verifier.VerifyWebhook(context.Background(), &Delivery{
		RawPayload: []byte("tampered"),
		Signature:  signature,
		Event:      pushEvent(cloneURL, "main", "abc123"),
	})
	assert.Error(t, err)
}

func TestHMACVerifier_RejectsUnwatchedRepository(t *testing.T) {
	payload := []byte(`{"ref":"refs/heads/main"}`)
	cloneURL := "https://ghe.example.com/acme/unwatched.git"

	mac := hmac.New(sha256.New, []byte("whatever"))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	users := &services.MockUsersService{}
	tokens := &services.MockTokensService{}
	projects := &services.MockProjectsService{}
	projects.On("GetProjectsByCloneURL", mock.Anything, cloneURL).
		Return([]models.Project{}, nil)

	verifier := NewHMACVerifier(users, tokens, projects)
	_, err := verifier.VerifyWebhook(context.Background(), &Delivery{
		RawPayload: payload,
		Signature:  signature,
		Event:      pushEvent(cloneURL, "main", "abc123"),
	})
	assert.Error(t, err)
	users.AssertNotCalled(t, "GetUserByID", mock.Anything, mock.Anything)
}

func TestAppInstallationVerifier_FallsBackToProjectOwner(t *testing.T) {
	owner := testutils.NewTestUser("github.com")
	project := testutils.NewTestProject("https://github.com/acme/widgets.git", owner)

	users := &services.MockUsersService{}
	projects := &services.MockProjectsService{}
	users.On("GetUserByIdentity", mock.Anything, "github.com", "999").
		Return(mo.None[*models.User](), nil)
	projects.On("GetProjectsByCloneURL", mock.Anything, project.CloneURL).
		Return([]models.Project{*project}, nil)
	projects.On("GetProjectOwnerUserID", mock.Anything, mock.Anything).Return(owner.ID, nil)
	users.On("GetUserByID", mock.Anything, owner.ID).Return(mo.Some(owner), nil)

	verifier := NewAppInstallationVerifier("github.com", users, projects)
	resolved, err := verifier.VerifyWebhook(context.Background(), &Delivery{
		InstallationID: 42,
		SenderAuthID:   "999",
		Event:          pushEvent(project.CloneURL, "main", "abc123"),
	})
	require.NoError(t, err)
	assert.Equal(t, owner.ID, resolved.ID)
}
