package testutils

import (
	"context"

	"github.com/google/uuid"

	"prebuildd/core"
	"prebuildd/models"
)

// PassthroughTxManager runs transactional functions directly against the
// caller's context. Unit tests use it where transaction semantics are not
// under test.
type PassthroughTxManager struct{}

func (PassthroughTxManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func (PassthroughTxManager) BeginTransaction(ctx context.Context) (context.Context, error) {
	return ctx, nil
}

func (PassthroughTxManager) CommitTransaction(ctx context.Context) error { return nil }

func (PassthroughTxManager) RollbackTransaction(ctx context.Context) error { return nil }

// NewTestUser builds a user with a bound identity on the given provider.
func NewTestUser(authProviderID string) *models.User {
	userID := core.NewID("u")
	return &models.User{
		ID:   userID,
		Name: "test-user-" + uuid.New().String()[:8],
		Identities: []models.Identity{{
			AuthProviderID: authProviderID,
			AuthID:         uuid.New().String(),
			AuthName:       "tester",
			UserID:         userID,
		}},
	}
}

// NewTestProject builds a personal project watching the given repository.
func NewTestProject(cloneURL string, owner *models.User) *models.Project {
	return &models.Project{
		ID:       core.NewID("prj"),
		Name:     "test-project",
		CloneURL: cloneURL,
		UserID:   &owner.ID,
	}
}

// NewTestCommitContext builds a commit context for a GitHub-style repo.
func NewTestCommitContext(cloneURL, branch, revision string) *models.CommitContext {
	repoURL := cloneURL
	if len(repoURL) > 4 && repoURL[len(repoURL)-4:] == ".git" {
		repoURL = repoURL[:len(repoURL)-4]
	}
	return &models.CommitContext{
		Repository: models.Repository{
			Host:     "github.com",
			Owner:    "acme",
			Name:     "widgets",
			CloneURL: cloneURL,
			RepoURL:  repoURL,
		},
		Ref:                  branch,
		Revision:             revision,
		NormalizedContextURL: repoURL + "/tree/" + branch,
	}
}

// NewRepoConfig builds a repo-origin config with one prebuild task.
func NewRepoConfig() *models.WorkspaceConfig {
	return &models.WorkspaceConfig{
		Origin: models.ConfigOriginRepo,
		Tasks:  []models.TaskConfig{{Init: "make build"}},
	}
}
