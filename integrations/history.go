package integrations

import (
	"context"
	"fmt"

	"prebuildd/clients"
	"prebuildd/models"
)

// HistoryFetcher serves branch commit history for incremental prebuilds,
// dispatching to the provider client responsible for the repository host.
// Bitbucket hosts are not registered; incremental prebuilds silently skip
// repositories without history support.
type HistoryFetcher struct {
	githubByHost map[string]clients.GitHubClient
	gitlabByHost map[string]clients.GitLabClient
}

func NewHistoryFetcher() *HistoryFetcher {
	return &HistoryFetcher{
		githubByHost: make(map[string]clients.GitHubClient),
		gitlabByHost: make(map[string]clients.GitLabClient),
	}
}

func (f *HistoryFetcher) RegisterGitHub(host string, client clients.GitHubClient) {
	f.githubByHost[host] = client
}

func (f *HistoryFetcher) RegisterGitLab(host string, client clients.GitLabClient) {
	f.gitlabByHost[host] = client
}

func (f *HistoryFetcher) GetCommitHistory(
	ctx context.Context,
	accessToken string,
	repo models.Repository,
	sha string,
	limit int,
) ([]models.CommitInfo, error) {
	if client, ok := f.githubByHost[repo.Host]; ok {
		return client.GetCommitHistory(ctx, accessToken, repo.Owner, repo.Name, sha, limit)
	}
	if client, ok := f.gitlabByHost[repo.Host]; ok {
		return client.GetCommitHistory(ctx, accessToken, repo.Owner+"/"+repo.Name, sha, limit)
	}
	return nil, fmt.Errorf("no commit history support for host: %s", repo.Host)
}
