package contextparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prebuildd/models"
)

func pushEvent(repoURL, cloneURL, branch, sha string) *models.RepositoryEvent {
	return &models.RepositoryEvent{
		Kind:      models.RepositoryEventPush,
		RepoURL:   repoURL,
		CloneURL:  cloneURL,
		Branch:    branch,
		CommitSHA: sha,
	}
}

func TestRegistry_Resolve(t *testing.T) {
	registry := NewRegistry()
	registry.Register("github.com", &GitHubParser{})

	parser, err := registry.Resolve("GitHub.com")
	require.NoError(t, err)
	assert.NotNil(t, parser)

	_, err = registry.Resolve("example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot find context parser")
}

func TestRegistry_ResolveForCloneURL(t *testing.T) {
	registry := NewRegistry()
	registry.Register("gitlab.example.com", &GitLabParser{})

	parser, err := registry.ResolveForCloneURL("https://gitlab.example.com/group/repo.git")
	require.NoError(t, err)
	assert.NotNil(t, parser)
}

func TestGitHubParser(t *testing.T) {
	event := pushEvent(
		"https://github.com/acme/widgets",
		"https://github.com/acme/widgets.git",
		"main", "abc123")

	commit, err := (&GitHubParser{}).BuildCommitContext(event)
	require.NoError(t, err)

	assert.Equal(t, "github.com", commit.Repository.Host)
	assert.Equal(t, "acme", commit.Repository.Owner)
	assert.Equal(t, "widgets", commit.Repository.Name)
	assert.Equal(t, "main", commit.Ref)
	assert.Equal(t, "abc123", commit.Revision)
	assert.Equal(t, "https://github.com/acme/widgets/tree/main", commit.NormalizedContextURL)
}

func TestGitLabParser_SubgroupAndGitSuffix(t *testing.T) {
	event := pushEvent(
		"https://gitlab.com/group/subgroup/repo.git",
		"https://gitlab.com/group/subgroup/repo.git",
		"feature/x", "def456")

	commit, err := (&GitLabParser{}).BuildCommitContext(event)
	require.NoError(t, err)

	assert.Equal(t, "group/subgroup", commit.Repository.Owner)
	assert.Equal(t, "repo", commit.Repository.Name)
	assert.Equal(t, "https://gitlab.com/group/subgroup/repo/-/tree/feature/x", commit.NormalizedContextURL)
}

func TestBitbucketParser_EscapesBranch(t *testing.T) {
	event := pushEvent(
		"https://bitbucket.org/team/repo",
		"https://bitbucket.org/team/repo.git",
		"feature branch", "0a1b2c")

	commit, err := (&BitbucketParser{}).BuildCommitContext(event)
	require.NoError(t, err)

	assert.Equal(t, "https://bitbucket.org/team/repo/src/0a1b2c/?at=feature+branch", commit.NormalizedContextURL)
}

func TestBitbucketServerParser(t *testing.T) {
	event := pushEvent(
		"https://bitbucket.internal.example.com/projects/PRJ/repos/repo",
		"https://bitbucket.internal.example.com/scm/prj/repo.git",
		"develop", "fffeee")

	commit, err := (&BitbucketServerParser{}).BuildCommitContext(event)
	require.NoError(t, err)

	assert.Equal(t, "https://bitbucket.internal.example.com/projects/PRJ/repos/repo?at=develop", commit.NormalizedContextURL)
}

func TestRepositoryFromEvent_Errors(t *testing.T) {
	_, err := (&GitHubParser{}).BuildCommitContext(pushEvent("no-host-here", "", "main", "abc"))
	assert.Error(t, err)

	_, err = (&GitHubParser{}).BuildCommitContext(pushEvent("https://github.com/", "", "main", "abc"))
	assert.Error(t, err)
}
