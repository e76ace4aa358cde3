package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prebuildd/models"
	"prebuildd/usecases/ingestion"
)

type capturePipeline struct {
	deliveries []*ingestion.Delivery
	err        error
}

func (p *capturePipeline) Process(ctx context.Context, delivery *ingestion.Delivery) error {
	p.deliveries = append(p.deliveries, delivery)
	return p.err
}

func TestGitLabHandler_ParsesPushHook(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitLabHandler(pipeline)

	body := `{
		"object_kind": "push",
		"ref": "refs/heads/main",
		"before": "aaa111",
		"after": "bbb222",
		"checkout_sha": "bbb222",
		"project": {
			"git_http_url": "https://gitlab.com/group/project.git",
			"web_url": "https://gitlab.com/group/project",
			"default_branch": "main"
		}
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/gitlab/", bytes.NewBufferString(body))
	r.Header.Set("X-Gitlab-Event", "Push Hook")
	r.Header.Set("X-Gitlab-Token", "u_123|whsec_abc")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	delivery := pipeline.deliveries[0]
	assert.Equal(t, "gitlab", delivery.Provider)
	assert.Equal(t, "u_123|whsec_abc", delivery.Secret)
	assert.Equal(t, "https://gitlab.com/group/project.git", delivery.Event.CloneURL)
	assert.Equal(t, "main", delivery.Event.Branch)
	assert.Equal(t, "bbb222", delivery.Event.CommitSHA)
	assert.True(t, delivery.Event.IsDefaultBranch)
}

func TestGitLabHandler_IgnoresOtherEvents(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitLabHandler(pipeline)

	r := httptest.NewRequest(http.MethodPost, "/apps/gitlab/", bytes.NewBufferString(`{}`))
	r.Header.Set("X-Gitlab-Event", "Merge Request Hook")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.deliveries)
}

func TestGitLabHandler_UnauthorizedAnswers503(t *testing.T) {
	pipeline := &capturePipeline{err: ingestion.ErrUnauthorized}
	handler := NewGitLabHandler(pipeline)

	body := `{
		"ref": "refs/heads/main",
		"after": "bbb222",
		"checkout_sha": "bbb222",
		"project": {"git_http_url": "https://gitlab.com/g/p.git", "web_url": "https://gitlab.com/g/p", "default_branch": "main"}
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/gitlab/", bytes.NewBufferString(body))
	r.Header.Set("X-Gitlab-Event", "Push Hook")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGitHubEnterpriseHandler_UnauthorizedAnswers401(t *testing.T) {
	pipeline := &capturePipeline{err: ingestion.ErrUnauthorized}
	handler := NewGitHubEnterpriseHandler(pipeline)

	body := `{
		"ref": "refs/heads/main",
		"after": "bbb222",
		"repository": {
			"clone_url": "https://ghe.example.com/acme/widgets.git",
			"html_url": "https://ghe.example.com/acme/widgets",
			"default_branch": "main"
		}
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/ghe/", bytes.NewBufferString(body))
	r.Header.Set("X-Github-Event", "push")
	r.Header.Set("X-Hub-Signature-256", "sha256=deadbeef")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	assert.Equal(t, "sha256=deadbeef", pipeline.deliveries[0].Signature)
	assert.Equal(t, "github-enterprise", pipeline.deliveries[0].Provider)
}

func TestGitHubEnterpriseHandler_SkipsBranchDeletion(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitHubEnterpriseHandler(pipeline)

	body := `{"ref": "refs/heads/gone", "deleted": true, "repository": {}}`
	r := httptest.NewRequest(http.MethodPost, "/apps/ghe/", bytes.NewBufferString(body))
	r.Header.Set("X-Github-Event", "push")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.deliveries)
}

func TestGitHubAppHandler_ParsesSignedPush(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitHubAppHandler("app-secret", pipeline)

	body := `{
		"ref": "refs/heads/main",
		"before": "aaa111",
		"after": "bbb222",
		"repository": {
			"clone_url": "https://github.com/acme/widgets.git",
			"html_url": "https://github.com/acme/widgets",
			"default_branch": "main"
		},
		"installation": {"id": 42},
		"sender": {"id": 7}
	}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))

	r := httptest.NewRequest(http.MethodPost, "/apps/github/", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Github-Event", "push")
	r.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	delivery := pipeline.deliveries[0]
	assert.Equal(t, int64(42), delivery.InstallationID)
	assert.Equal(t, "7", delivery.SenderAuthID)
	assert.Equal(t, "bbb222", delivery.Event.CommitSHA)
	assert.True(t, delivery.Event.IsDefaultBranch)
}

func TestGitHubAppHandler_RejectsBadSignature(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitHubAppHandler("app-secret", pipeline)

	r := httptest.NewRequest(http.MethodPost, "/apps/github/", bytes.NewBufferString(`{"ref":"refs/heads/main"}`))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Github-Event", "push")
	r.Header.Set("X-Hub-Signature-256", "sha256=0000")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.deliveries)
}

func TestGitHubAppHandler_FiltersPullRequestActions(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitHubAppHandler("app-secret", pipeline)

	body := `{
		"action": "labeled",
		"number": 12,
		"pull_request": {"head": {"ref": "feature", "sha": "ccc333"}},
		"repository": {"clone_url": "https://github.com/acme/widgets.git"}
	}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))

	r := httptest.NewRequest(http.MethodPost, "/apps/github/", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Github-Event", "pull_request")
	r.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.deliveries)
}

func TestGitHubAppHandler_ParsesForkPullRequest(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewGitHubAppHandler("app-secret", pipeline)

	body := `{
		"action": "opened",
		"number": 12,
		"pull_request": {
			"html_url": "https://github.com/acme/widgets/pull/12",
			"head": {"ref": "feature", "sha": "ccc333", "repo": {"id": 2}},
			"base": {"ref": "main", "sha": "bbb222", "repo": {"id": 1}}
		},
		"repository": {
			"clone_url": "https://github.com/acme/widgets.git",
			"html_url": "https://github.com/acme/widgets",
			"default_branch": "main"
		},
		"installation": {"id": 42},
		"sender": {"id": 7}
	}`
	mac := hmac.New(sha256.New, []byte("app-secret"))
	mac.Write([]byte(body))

	r := httptest.NewRequest(http.MethodPost, "/apps/github/", bytes.NewBufferString(body))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("X-Github-Event", "pull_request")
	r.Header.Set("X-Hub-Signature-256", "sha256="+hex.EncodeToString(mac.Sum(nil)))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	delivery := pipeline.deliveries[0]
	assert.Equal(t, models.RepositoryEventPullRequest, delivery.Event.Kind)
	assert.True(t, delivery.Event.IsFork)
	assert.Equal(t, "ccc333", delivery.Event.PullRequestHeadSHA)
	assert.Equal(t, 12, delivery.Event.PullRequestID)
}

func TestBitbucketHandler_ParsesPush(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewBitbucketHandler(pipeline)

	body := `{
		"push": {"changes": [{"new": {"type": "branch", "name": "main", "target": {"hash": "ddd444"}}}]},
		"repository": {
			"full_name": "acme/widgets",
			"mainbranch": {"name": "main"},
			"links": {"html": {"href": "https://bitbucket.org/acme/widgets"}}
		}
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/bitbucket/?token=u_123%7Cwhsec_abc", bytes.NewBufferString(body))
	r.Header.Set("X-Event-Key", "repo:push")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	delivery := pipeline.deliveries[0]
	assert.Equal(t, "u_123|whsec_abc", delivery.Secret)
	assert.Equal(t, "https://bitbucket.org/acme/widgets.git", delivery.Event.CloneURL)
	assert.Equal(t, "ddd444", delivery.Event.CommitSHA)
	assert.True(t, delivery.Event.IsDefaultBranch)
}

func TestBitbucketHandler_UnauthorizedAnswers503(t *testing.T) {
	pipeline := &capturePipeline{err: ingestion.ErrUnauthorized}
	handler := NewBitbucketHandler(pipeline)

	body := `{
		"push": {"changes": [{"new": {"type": "branch", "name": "main", "target": {"hash": "ddd444"}}}]},
		"repository": {"links": {"html": {"href": "https://bitbucket.org/acme/widgets"}}}
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/bitbucket/", bytes.NewBufferString(body))
	r.Header.Set("X-Event-Key", "repo:push")
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestBitbucketServerHandler_ParsesRefsChanged(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewBitbucketServerHandler(pipeline)

	body := `{
		"eventKey": "repo:refs_changed",
		"repository": {
			"slug": "widgets",
			"project": {"key": "PRJ"},
			"links": {"clone": [
				{"name": "ssh", "href": "ssh://git@bbs.example.com:7999/prj/widgets.git"},
				{"name": "http", "href": "https://bbs.example.com/scm/prj/widgets.git"}
			]}
		},
		"changes": [{"type": "UPDATE", "ref": {"displayId": "main", "type": "BRANCH"}, "fromHash": "aaa111", "toHash": "eee555"}]
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/bitbucketserver/?token=u_123%7Cwhsec_abc", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, pipeline.deliveries, 1)
	delivery := pipeline.deliveries[0]
	assert.Equal(t, "u_123|whsec_abc", delivery.Secret)
	assert.Equal(t, "https://bbs.example.com/scm/prj/widgets.git", delivery.Event.CloneURL)
	assert.Equal(t, "main", delivery.Event.Branch)
	assert.Equal(t, "eee555", delivery.Event.CommitSHA)
}

func TestBitbucketServerHandler_IgnoresOtherEventKeys(t *testing.T) {
	pipeline := &capturePipeline{}
	handler := NewBitbucketServerHandler(pipeline)

	r := httptest.NewRequest(http.MethodPost, "/apps/bitbucketserver/",
		bytes.NewBufferString(`{"eventKey": "pr:opened"}`))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, pipeline.deliveries)
}

func TestBitbucketServerHandler_UnauthorizedAnswers401(t *testing.T) {
	pipeline := &capturePipeline{err: ingestion.ErrUnauthorized}
	handler := NewBitbucketServerHandler(pipeline)

	body := `{
		"eventKey": "repo:refs_changed",
		"repository": {"links": {"clone": [{"name": "http", "href": "https://bbs.example.com/scm/prj/widgets.git"}]}},
		"changes": [{"type": "UPDATE", "ref": {"displayId": "main", "type": "BRANCH"}, "toHash": "eee555"}]
	}`
	r := httptest.NewRequest(http.MethodPost, "/apps/bitbucketserver/", bytes.NewBufferString(body))
	w := httptest.NewRecorder()

	handler.HandleWebhook(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
