package configprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"prebuildd/models"
)

func TestParseConfig(t *testing.T) {
	content := []byte(`
tasks:
  - name: deps
    before: apt-get update
    init: make build
  - command: npm start
prebuilds:
  addCheck: false
  branches: true
`)

	config, err := ParseConfig(content)
	require.NoError(t, err)

	assert.Equal(t, models.ConfigOriginRepo, config.Origin)
	require.Len(t, config.Tasks, 2)
	assert.Equal(t, "apt-get update", config.Tasks[0].Before)
	assert.Equal(t, "make build", config.Tasks[0].Init)
	assert.Equal(t, "npm start", config.Tasks[1].Command)

	require.NotNil(t, config.Prebuilds)
	require.NotNil(t, config.Prebuilds.AddCheck)
	assert.False(t, *config.Prebuilds.AddCheck)
	require.NotNil(t, config.Prebuilds.Branches)
	assert.True(t, *config.Prebuilds.Branches)
	assert.Nil(t, config.Prebuilds.Master)
}

func TestParseConfig_Invalid(t *testing.T) {
	_, err := ParseConfig([]byte("tasks: [unclosed"))
	assert.Error(t, err)
}

func TestGetConfig_MissingFileYieldsDefaultOrigin(t *testing.T) {
	fetcher := &MockContentFetcher{}
	fetcher.On("FetchFile", mock.Anything, "token", mock.Anything, "abc123", ConfigFileName).
		Return(nil, false, nil)

	provider := NewYAMLConfigProvider(fetcher)
	config, err := provider.GetConfig(context.Background(), "token", &models.CommitContext{
		Repository: models.Repository{Owner: "acme", Name: "widgets"},
		Revision:   "abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ConfigOriginDefault, config.Origin)
	assert.False(t, config.HasPrebuildTask())
	fetcher.AssertExpectations(t)
}

func TestGetConfig_ParsesRepoFile(t *testing.T) {
	fetcher := &MockContentFetcher{}
	fetcher.On("FetchFile", mock.Anything, "token", mock.Anything, "abc123", ConfigFileName).
		Return([]byte("tasks:\n  - init: make\n"), true, nil)

	provider := NewYAMLConfigProvider(fetcher)
	config, err := provider.GetConfig(context.Background(), "token", &models.CommitContext{
		Revision: "abc123",
	})
	require.NoError(t, err)

	assert.Equal(t, models.ConfigOriginRepo, config.Origin)
	assert.True(t, config.HasPrebuildTask())
}
