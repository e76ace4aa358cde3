package configprovider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v66/github"

	"prebuildd/models"
)

// GitHubFetcher reads repository files through the GitHub contents API.
type GitHubFetcher struct {
	httpClient *http.Client
	baseURL    string
}

func NewGitHubFetcher(baseURL string) *GitHubFetcher {
	return &GitHubFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
	}
}

func (f *GitHubFetcher) FetchFile(
	ctx context.Context,
	accessToken string,
	repo models.Repository,
	revision, path string,
) ([]byte, bool, error) {
	client := gogithub.NewClient(f.httpClient)
	if f.baseURL != "" {
		enterprise, err := client.WithEnterpriseURLs(f.baseURL, f.baseURL)
		if err != nil {
			return nil, false, fmt.Errorf("failed to configure enterprise URLs: %w", err)
		}
		client = enterprise
	}
	client = client.WithAuthToken(accessToken)

	content, _, resp, err := client.Repositories.GetContents(ctx, repo.Owner, repo.Name, path,
		&gogithub.RepositoryContentGetOptions{Ref: revision})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get file contents: %w", err)
	}
	if content == nil {
		return nil, false, nil
	}

	decoded, err := content.GetContent()
	if err != nil {
		return nil, false, fmt.Errorf("failed to decode file contents: %w", err)
	}
	return []byte(decoded), true, nil
}

// RawURLBuilder renders the provider-specific raw-content URL for a file.
type RawURLBuilder func(repo models.Repository, revision, path string) string

// RawURLFetcher reads repository files from a provider's raw-content
// endpoint, authenticating with a bearer token.
type RawURLFetcher struct {
	httpClient *http.Client
	buildURL   RawURLBuilder
}

func NewRawURLFetcher(buildURL RawURLBuilder) *RawURLFetcher {
	return &RawURLFetcher{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		buildURL:   buildURL,
	}
}

func (f *RawURLFetcher) FetchFile(
	ctx context.Context,
	accessToken string,
	repo models.Repository,
	revision, path string,
) ([]byte, bool, error) {
	fileURL := f.buildURL(repo, revision, path)

	req, err := http.NewRequestWithContext(ctx, "GET", fileURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("failed to fetch file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("raw content error: status %d, body: %s", resp.StatusCode, string(body))
	}

	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read file: %w", err)
	}
	return content, true, nil
}

// GitLabRawURL builds the raw file URL for a GitLab instance.
func GitLabRawURL(baseURL string) RawURLBuilder {
	base := strings.TrimSuffix(baseURL, "/")
	return func(repo models.Repository, revision, path string) string {
		projectPath := repo.Owner + "/" + repo.Name
		return fmt.Sprintf("%s/api/v4/projects/%s/repository/files/%s/raw?ref=%s",
			base, url.PathEscape(projectPath), url.PathEscape(path), url.QueryEscape(revision))
	}
}

// BitbucketRawURL builds the raw file URL for Bitbucket Cloud.
func BitbucketRawURL() RawURLBuilder {
	return func(repo models.Repository, revision, path string) string {
		return fmt.Sprintf("https://api.bitbucket.org/2.0/repositories/%s/%s/src/%s/%s",
			repo.Owner, repo.Name, revision, path)
	}
}

// BitbucketServerRawURL builds the raw file URL for a Bitbucket Server
// instance. The repository owner holds the project key.
func BitbucketServerRawURL(baseURL string) RawURLBuilder {
	base := strings.TrimSuffix(baseURL, "/")
	return func(repo models.Repository, revision, path string) string {
		return fmt.Sprintf("%s/rest/api/1.0/projects/%s/repos/%s/raw/%s?at=%s",
			base, repo.Owner, repo.Name, path, url.QueryEscape(revision))
	}
}
