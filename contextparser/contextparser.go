// Package contextparser resolves repository events into commit contexts:
// the exact repository, ref and revision a workspace should be built from,
// plus the provider-specific URL a human would open to see that commit.
package contextparser

import (
	"fmt"
	"net/url"
	"strings"

	"prebuildd/models"
	"prebuildd/utils"
)

// Parser builds a CommitContext for one hosting provider.
type Parser interface {
	BuildCommitContext(event *models.RepositoryEvent) (*models.CommitContext, error)
}

// Registry holds parsers keyed by repository host.
type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]Parser)}
}

func (r *Registry) Register(host string, parser Parser) {
	r.parsers[strings.ToLower(host)] = parser
}

// Resolve returns the parser registered for the host.
func (r *Registry) Resolve(host string) (Parser, error) {
	parser, ok := r.parsers[strings.ToLower(host)]
	if !ok {
		return nil, fmt.Errorf("cannot find context parser for host: %s", host)
	}
	return parser, nil
}

// ResolveForCloneURL picks the parser by the clone URL's host.
func (r *Registry) ResolveForCloneURL(cloneURL string) (Parser, error) {
	host, err := HostOf(cloneURL)
	if err != nil {
		return nil, err
	}
	return r.Resolve(host)
}

// HostOf extracts the lowercase host from a repository URL.
func HostOf(repoURL string) (string, error) {
	parsed, err := url.Parse(repoURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse repository URL: %w", err)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("repository URL has no host: %s", repoURL)
	}
	return strings.ToLower(parsed.Hostname()), nil
}

// SplitRepoPath returns (owner, name) from a repository URL path. The owner
// may contain slashes for GitLab subgroups.
func SplitRepoPath(repoURL string) (string, string, error) {
	parsed, err := url.Parse(utils.TrimRepoURL(repoURL))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse repository URL: %w", err)
	}

	path := strings.Trim(parsed.Path, "/")
	idx := strings.LastIndex(path, "/")
	if idx <= 0 {
		return "", "", fmt.Errorf("repository URL has no owner/name path: %s", repoURL)
	}
	return path[:idx], path[idx+1:], nil
}

func repositoryFromEvent(event *models.RepositoryEvent) (models.Repository, error) {
	host, err := HostOf(event.RepoURL)
	if err != nil {
		return models.Repository{}, err
	}
	owner, name, err := SplitRepoPath(event.RepoURL)
	if err != nil {
		return models.Repository{}, err
	}

	repo := models.Repository{
		Host:     host,
		Owner:    owner,
		Name:     name,
		CloneURL: event.CloneURL,
		RepoURL:  utils.TrimRepoURL(event.RepoURL),
	}
	if event.IsDefaultBranch {
		repo.DefaultBranch = event.Branch
	}
	return repo, nil
}

// GitHubParser handles github.com and GitHub Enterprise repositories.
type GitHubParser struct{}

func (p *GitHubParser) BuildCommitContext(event *models.RepositoryEvent) (*models.CommitContext, error) {
	repo, err := repositoryFromEvent(event)
	if err != nil {
		return nil, err
	}

	return &models.CommitContext{
		Repository:           repo,
		Ref:                  event.Branch,
		Revision:             event.CommitSHA,
		NormalizedContextURL: fmt.Sprintf("%s/tree/%s", repo.RepoURL, event.Branch),
	}, nil
}

// GitLabParser handles gitlab.com and self-managed GitLab repositories.
type GitLabParser struct{}

func (p *GitLabParser) BuildCommitContext(event *models.RepositoryEvent) (*models.CommitContext, error) {
	repo, err := repositoryFromEvent(event)
	if err != nil {
		return nil, err
	}

	return &models.CommitContext{
		Repository:           repo,
		Ref:                  event.Branch,
		Revision:             event.CommitSHA,
		NormalizedContextURL: fmt.Sprintf("%s/-/tree/%s", repo.RepoURL, event.Branch),
	}, nil
}

// BitbucketParser handles bitbucket.org repositories.
type BitbucketParser struct{}

func (p *BitbucketParser) BuildCommitContext(event *models.RepositoryEvent) (*models.CommitContext, error) {
	repo, err := repositoryFromEvent(event)
	if err != nil {
		return nil, err
	}

	return &models.CommitContext{
		Repository: repo,
		Ref:        event.Branch,
		Revision:   event.CommitSHA,
		NormalizedContextURL: fmt.Sprintf("%s/src/%s/?at=%s",
			repo.RepoURL, event.CommitSHA, url.QueryEscape(event.Branch)),
	}, nil
}

// BitbucketServerParser handles self-hosted Bitbucket Server repositories.
type BitbucketServerParser struct{}

func (p *BitbucketServerParser) BuildCommitContext(event *models.RepositoryEvent) (*models.CommitContext, error) {
	repo, err := repositoryFromEvent(event)
	if err != nil {
		return nil, err
	}

	return &models.CommitContext{
		Repository:           repo,
		Ref:                  event.Branch,
		Revision:             event.CommitSHA,
		NormalizedContextURL: fmt.Sprintf("%s?at=%s", repo.RepoURL, url.QueryEscape(event.Branch)),
	}, nil
}
