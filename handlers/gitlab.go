package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"

	"prebuildd/models"
	"prebuildd/usecases/ingestion"
)

// GitLabHandler receives Push Hook deliveries from gitlab.com or
// self-managed GitLab, authenticated by the X-Gitlab-Token header carrying
// the minted secret verbatim.
type GitLabHandler struct {
	pipeline DeliveryProcessor
}

func NewGitLabHandler(pipeline DeliveryProcessor) *GitLabHandler {
	return &GitLabHandler{pipeline: pipeline}
}

type gitlabPushPayload struct {
	ObjectKind  string `json:"object_kind"`
	Ref         string `json:"ref"`
	Before      string `json:"before"`
	After       string `json:"after"`
	CheckoutSHA string `json:"checkout_sha"`

	Project struct {
		GitHTTPURL    string `json:"git_http_url"`
		WebURL        string `json:"web_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"project"`
}

func (h *GitLabHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Gitlab-Event") != "Push Hook" {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read GitLab webhook body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload gitlabPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("⚠️ Failed to parse GitLab push payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if !strings.HasPrefix(payload.Ref, "refs/heads/") || payload.CheckoutSHA == "" {
		// Tag pushes and branch deletions carry no buildable commit.
		w.WriteHeader(http.StatusOK)
		return
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")

	err = h.pipeline.Process(r.Context(), &ingestion.Delivery{
		Provider:   "gitlab",
		EventType:  "push",
		RawPayload: body,
		Secret:     r.Header.Get("X-Gitlab-Token"),
		Event: &models.RepositoryEvent{
			Kind:            models.RepositoryEventPush,
			CloneURL:        payload.Project.GitHTTPURL,
			RepoURL:         payload.Project.WebURL,
			Branch:          branch,
			CommitSHA:       payload.After,
			BeforeSHA:       payload.Before,
			IsDefaultBranch: branch == payload.Project.DefaultBranch,
		},
	})
	acknowledge(w, err, http.StatusServiceUnavailable)
}
