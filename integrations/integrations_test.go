package integrations

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prebuildd/clients"
	"prebuildd/core"
	"prebuildd/models"
	"prebuildd/services"
	"prebuildd/testutils"
)

func providerTokenEntry(host, authID, value string) models.TokenEntry {
	return models.TokenEntry{
		AuthProviderID: host,
		AuthID:         authID,
		Token:          models.Token{Value: value},
	}
}

func userWithProviderIdentity(host string) *models.User {
	user := testutils.NewTestUser(host)
	return user
}

func TestRegistry_ResolvesByHost(t *testing.T) {
	registry := NewRegistry()
	integration := &MockRepositoryIntegration{ProviderHost: "gitlab.example.com"}
	registry.Register(integration)

	resolved, err := registry.Resolve("gitlab.example.com")
	require.NoError(t, err)
	assert.Same(t, integration, resolved)

	resolved, err = registry.ResolveForCloneURL("https://gitlab.example.com/group/project.git")
	require.NoError(t, err)
	assert.Same(t, integration, resolved)

	_, err = registry.Resolve("unknown.example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no repository integration for host")
}

func TestGitLabIntegration_CanInstallRequiresMaintainer(t *testing.T) {
	user := userWithProviderIdentity("gitlab.com")
	authID := user.Identities[0].AuthID

	tests := []struct {
		name  string
		level int
		want  bool
	}{
		{"developer", 30, false},
		{"maintainer", 40, true},
		{"owner", 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tokens := &services.MockTokensService{}
			users := &services.MockUsersService{}
			client := &clients.MockGitLabClient{}
			integration := NewGitLabIntegration("gitlab.com", client, users, tokens,
				"https://app.example.com/apps/gitlab/")

			tokens.On("GetTokens", mock.Anything, "gitlab.com", authID).
				Return([]models.TokenEntry{providerTokenEntry("gitlab.com", authID, "glpat-abc")}, nil)
			client.On("GetMaxAccessLevel", mock.Anything, "glpat-abc", "group/project").
				Return(tt.level, nil)

			ok, err := integration.CanInstallAutomatedPrebuilds(
				context.Background(), user, "https://gitlab.com/group/project.git")
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestGitLabIntegration_InstallMintsScopedSecret(t *testing.T) {
	user := userWithProviderIdentity("gitlab.com")
	authID := user.Identities[0].AuthID
	cloneURL := "https://gitlab.com/group/project.git"
	callbackURL := "https://app.example.com/apps/gitlab/"

	tokens := &services.MockTokensService{}
	users := &services.MockUsersService{}
	client := &clients.MockGitLabClient{}
	integration := NewGitLabIntegration("gitlab.com", client, users, tokens, callbackURL)

	tokens.On("GetTokens", mock.Anything, "gitlab.com", authID).
		Return([]models.TokenEntry{providerTokenEntry("gitlab.com", authID, "glpat-abc")}, nil)
	users.On("BindIdentity", mock.Anything, mock.MatchedBy(func(identity models.Identity) bool {
		return identity.AuthProviderID == core.InternalAuthProviderID &&
			identity.AuthID == user.ID && identity.UserID == user.ID
	})).Return(nil)
	tokens.On("ReplaceToken", mock.Anything, core.InternalAuthProviderID, user.ID,
		mock.MatchedBy(func(token models.Token) bool {
			return token.HasScope(core.PrebuildTokenScope) && token.HasScope(cloneURL)
		})).Return(nil)
	client.On("FindWebhooksByURL", mock.Anything, "glpat-abc", "group/project", callbackURL).
		Return([]int64{17}, nil)
	client.On("UninstallWebhook", mock.Anything, "glpat-abc", "group/project", int64(17)).
		Return(nil)
	client.On("InstallWebhook", mock.Anything, "glpat-abc", "group/project", callbackURL,
		mock.MatchedBy(func(secret string) bool {
			return strings.HasPrefix(secret, user.ID+"|")
		})).Return(int64(99), nil)

	result, err := integration.InstallAutomatedPrebuilds(context.Background(), user, cloneURL)
	require.NoError(t, err)

	assert.Equal(t, "gitlab.com", result.Host)
	assert.Equal(t, "99", result.HookID)
	assert.Equal(t, callbackURL, result.CallbackURL)
	tokens.AssertExpectations(t)
	users.AssertExpectations(t)
	client.AssertExpectations(t)
}

func TestProviderToken_SkipsExpiredTokens(t *testing.T) {
	user := userWithProviderIdentity("github.com")
	authID := user.Identities[0].AuthID

	expired := time.Now().Add(-time.Hour)
	tokens := &services.MockTokensService{}
	tokens.On("GetTokens", mock.Anything, "github.com", authID).
		Return([]models.TokenEntry{
			{
				AuthProviderID: "github.com",
				AuthID:         authID,
				Token:          models.Token{Value: "gho_old", ExpiryDate: &expired},
			},
			providerTokenEntry("github.com", authID, "gho_current"),
		}, nil)

	token, err := providerToken(context.Background(), tokens, user, "github.com")
	require.NoError(t, err)
	assert.Equal(t, "gho_current", token)
}

func TestProviderToken_FailsWithoutIdentity(t *testing.T) {
	user := userWithProviderIdentity("github.com")
	tokens := &services.MockTokensService{}

	_, err := providerToken(context.Background(), tokens, user, "gitlab.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gitlab.com identity")
}

func TestBBSRepoCoordinates(t *testing.T) {
	tests := []struct {
		cloneURL   string
		projectKey string
		repoSlug   string
		wantErr    bool
	}{
		{"https://bitbucket.example.com/scm/PRJ/widgets.git", "PRJ", "widgets", false},
		{"https://bitbucket.example.com/scm/~jdoe/sandbox.git", "~jdoe", "sandbox", false},
		{"https://bitbucket.example.com/scm/a/b/c.git", "", "", true},
	}
	for _, tt := range tests {
		projectKey, repoSlug, err := bbsRepoCoordinates(tt.cloneURL)
		if tt.wantErr {
			assert.Error(t, err, tt.cloneURL)
			continue
		}
		require.NoError(t, err, tt.cloneURL)
		assert.Equal(t, tt.projectKey, projectKey)
		assert.Equal(t, tt.repoSlug, repoSlug)
	}
}

func TestHistoryFetcher_DispatchesByHost(t *testing.T) {
	github := &clients.MockGitHubClient{}
	gitlab := &clients.MockGitLabClient{}
	fetcher := NewHistoryFetcher()
	fetcher.RegisterGitHub("github.com", github)
	fetcher.RegisterGitLab("gitlab.com", gitlab)

	github.On("GetCommitHistory", mock.Anything, "tok", "acme", "widgets", "abc123", 100).
		Return([]models.CommitInfo{{SHA: "abc123"}}, nil)
	gitlab.On("GetCommitHistory", mock.Anything, "tok", "group/sub/project", "def456", 100).
		Return([]models.CommitInfo{{SHA: "def456"}}, nil)

	history, err := fetcher.GetCommitHistory(context.Background(), "tok",
		models.Repository{Host: "github.com", Owner: "acme", Name: "widgets"}, "abc123", 100)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	history, err = fetcher.GetCommitHistory(context.Background(), "tok",
		models.Repository{Host: "gitlab.com", Owner: "group/sub", Name: "project"}, "def456", 100)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = fetcher.GetCommitHistory(context.Background(), "tok",
		models.Repository{Host: "bitbucket.org"}, "abc", 100)
	require.Error(t, err)
}
