package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/go-github/v66/github"

	"prebuildd/models"
	"prebuildd/usecases/ingestion"
)

// GitHubAppHandler receives deliveries from the GitHub App on github.com.
// Transport authenticity is checked against the App webhook secret; the
// acting user is resolved downstream from the installation and sender.
type GitHubAppHandler struct {
	webhookSecret []byte
	pipeline      DeliveryProcessor
}

func NewGitHubAppHandler(webhookSecret string, pipeline DeliveryProcessor) *GitHubAppHandler {
	return &GitHubAppHandler{
		webhookSecret: []byte(webhookSecret),
		pipeline:      pipeline,
	}
}

func (h *GitHubAppHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, h.webhookSecret)
	if err != nil {
		log.Printf("⚠️ GitHub App delivery failed signature validation: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	eventType := github.WebHookType(r)
	parsed, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		log.Printf("⚠️ Failed to parse GitHub %s event: %v", eventType, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var delivery *ingestion.Delivery
	switch event := parsed.(type) {
	case *github.PushEvent:
		delivery = githubPushDelivery(event, payload)
	case *github.PullRequestEvent:
		delivery = githubPullRequestDelivery(event, payload)
	}
	if delivery == nil {
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.pipeline.Process(r.Context(), delivery)
	acknowledge(w, err, http.StatusOK)
}

func githubPushDelivery(event *github.PushEvent, payload []byte) *ingestion.Delivery {
	ref := event.GetRef()
	if event.GetDeleted() || !strings.HasPrefix(ref, "refs/heads/") {
		return nil
	}
	branch := strings.TrimPrefix(ref, "refs/heads/")
	repo := event.GetRepo()

	return &ingestion.Delivery{
		Provider:   "github",
		EventType:  "push",
		RawPayload: payload,
		Event: &models.RepositoryEvent{
			Kind:            models.RepositoryEventPush,
			CloneURL:        repo.GetCloneURL(),
			RepoURL:         repo.GetHTMLURL(),
			Branch:          branch,
			CommitSHA:       event.GetAfter(),
			BeforeSHA:       event.GetBefore(),
			IsDefaultBranch: branch == repo.GetDefaultBranch(),
		},
		SenderAuthID:   strconv.FormatInt(event.GetSender().GetID(), 10),
		InstallationID: event.GetInstallation().GetID(),
	}
}

func githubPullRequestDelivery(event *github.PullRequestEvent, payload []byte) *ingestion.Delivery {
	switch event.GetAction() {
	case "opened", "synchronize", "reopened":
	default:
		return nil
	}

	pr := event.GetPullRequest()
	repo := event.GetRepo()
	isFork := pr.GetHead().GetRepo().GetID() != pr.GetBase().GetRepo().GetID()

	return &ingestion.Delivery{
		Provider:   "github",
		EventType:  "pull_request." + event.GetAction(),
		RawPayload: payload,
		Event: &models.RepositoryEvent{
			Kind:               models.RepositoryEventPullRequest,
			CloneURL:           repo.GetCloneURL(),
			RepoURL:            repo.GetHTMLURL(),
			Branch:             pr.GetHead().GetRef(),
			CommitSHA:          pr.GetHead().GetSHA(),
			IsFork:             isFork,
			PullRequestID:      event.GetNumber(),
			PullRequestHeadSHA: pr.GetHead().GetSHA(),
			PullRequestURL:     pr.GetHTMLURL(),
		},
		SenderAuthID:   strconv.FormatInt(event.GetSender().GetID(), 10),
		InstallationID: event.GetInstallation().GetID(),
	}
}

// GitHubEnterpriseHandler receives push deliveries from GitHub Enterprise
// instances, authenticated by the X-Hub-Signature-256 HMAC over the raw
// body. The signing user is unknown up front; the pipeline's verifier
// brute-forces the stored webhook secrets.
type GitHubEnterpriseHandler struct {
	pipeline DeliveryProcessor
}

func NewGitHubEnterpriseHandler(pipeline DeliveryProcessor) *GitHubEnterpriseHandler {
	return &GitHubEnterpriseHandler{pipeline: pipeline}
}

type ghePushPayload struct {
	Ref     string `json:"ref"`
	Before  string `json:"before"`
	After   string `json:"after"`
	Deleted bool   `json:"deleted"`

	Repository struct {
		CloneURL      string `json:"clone_url"`
		HTMLURL       string `json:"html_url"`
		DefaultBranch string `json:"default_branch"`
	} `json:"repository"`
}

func (h *GitHubEnterpriseHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Github-Event") != "push" {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read GitHub Enterprise webhook body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload ghePushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("⚠️ Failed to parse GitHub Enterprise push payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if payload.Deleted || !strings.HasPrefix(payload.Ref, "refs/heads/") {
		w.WriteHeader(http.StatusOK)
		return
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")

	err = h.pipeline.Process(r.Context(), &ingestion.Delivery{
		Provider:   "github-enterprise",
		EventType:  "push",
		RawPayload: body,
		Signature:  r.Header.Get("X-Hub-Signature-256"),
		Event: &models.RepositoryEvent{
			Kind:            models.RepositoryEventPush,
			CloneURL:        payload.Repository.CloneURL,
			RepoURL:         payload.Repository.HTMLURL,
			Branch:          branch,
			CommitSHA:       payload.After,
			BeforeSHA:       payload.Before,
			IsDefaultBranch: branch == payload.Repository.DefaultBranch,
		},
	})
	acknowledge(w, err, http.StatusUnauthorized)
}
