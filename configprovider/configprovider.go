// Package configprovider fetches and parses the repository's prebuild
// configuration file for a specific commit. The distinction between a
// config committed to the repository and one derived or defaulted matters:
// only repo-committed configs may trigger prebuilds.
package configprovider

import (
	"context"
	"fmt"
	"log"

	"gopkg.in/yaml.v3"

	"prebuildd/models"
)

// ConfigFileName is the well-known path of the prebuild configuration
// inside a repository.
const ConfigFileName = ".prebuild.yml"

// Provider resolves the workspace configuration for a commit.
type Provider interface {
	GetConfig(
		ctx context.Context,
		accessToken string,
		commit *models.CommitContext,
	) (*models.WorkspaceConfig, error)
}

// ContentFetcher reads a single file from a repository at a revision.
// The bool result reports whether the file exists.
type ContentFetcher interface {
	FetchFile(
		ctx context.Context,
		accessToken string,
		repo models.Repository,
		revision, path string,
	) ([]byte, bool, error)
}

// YAMLConfigProvider implements Provider by fetching ConfigFileName and
// parsing it as YAML.
type YAMLConfigProvider struct {
	fetcher ContentFetcher
}

func NewYAMLConfigProvider(fetcher ContentFetcher) *YAMLConfigProvider {
	return &YAMLConfigProvider{fetcher: fetcher}
}

// yaml mapping of the config file
type configFile struct {
	Tasks []struct {
		Name     string `yaml:"name"`
		Before   string `yaml:"before"`
		Init     string `yaml:"init"`
		Prebuild string `yaml:"prebuild"`
		Command  string `yaml:"command"`
	} `yaml:"tasks"`
	Prebuilds *struct {
		AddCheck              *bool `yaml:"addCheck"`
		AddBadge              *bool `yaml:"addBadge"`
		AddComment            *bool `yaml:"addComment"`
		AddLabel              *bool `yaml:"addLabel"`
		Branches              *bool `yaml:"branches"`
		Master                *bool `yaml:"master"`
		PullRequests          *bool `yaml:"pullRequests"`
		PullRequestsFromForks *bool `yaml:"pullRequestsFromForks"`
	} `yaml:"prebuilds"`
}

func (p *YAMLConfigProvider) GetConfig(
	ctx context.Context,
	accessToken string,
	commit *models.CommitContext,
) (*models.WorkspaceConfig, error) {
	content, found, err := p.fetcher.FetchFile(ctx, accessToken, commit.Repository, commit.Revision, ConfigFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch config file: %w", err)
	}
	if !found {
		// No committed config; the default never triggers prebuilds.
		return &models.WorkspaceConfig{Origin: models.ConfigOriginDefault}, nil
	}

	config, err := ParseConfig(content)
	if err != nil {
		log.Printf("⚠️ Invalid config file for %s@%s: %v",
			commit.Repository.CloneURL, commit.Revision, err)
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// ParseConfig parses config file content into a repo-origin workspace
// configuration.
func ParseConfig(content []byte) (*models.WorkspaceConfig, error) {
	var file configFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("invalid YAML: %w", err)
	}

	config := &models.WorkspaceConfig{Origin: models.ConfigOriginRepo}
	for _, task := range file.Tasks {
		config.Tasks = append(config.Tasks, models.TaskConfig{
			Name:     task.Name,
			Before:   task.Before,
			Init:     task.Init,
			Prebuild: task.Prebuild,
			Command:  task.Command,
		})
	}
	if file.Prebuilds != nil {
		config.Prebuilds = &models.PrebuildSettings{
			AddCheck:              file.Prebuilds.AddCheck,
			AddBadge:              file.Prebuilds.AddBadge,
			AddComment:            file.Prebuilds.AddComment,
			AddLabel:              file.Prebuilds.AddLabel,
			Branches:              file.Prebuilds.Branches,
			Master:                file.Prebuilds.Master,
			PullRequests:          file.Prebuilds.PullRequests,
			PullRequestsFromForks: file.Prebuilds.PullRequestsFromForks,
		}
	}
	return config, nil
}
