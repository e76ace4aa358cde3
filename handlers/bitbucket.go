package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"

	"prebuildd/models"
	"prebuildd/usecases/ingestion"
)

// BitbucketHandler receives repo:push deliveries from Bitbucket Cloud.
// Bitbucket Cloud hooks cannot carry a secret header, so the minted secret
// rides in the ?token= query parameter of the callback URL.
type BitbucketHandler struct {
	pipeline DeliveryProcessor
}

func NewBitbucketHandler(pipeline DeliveryProcessor) *BitbucketHandler {
	return &BitbucketHandler{pipeline: pipeline}
}

type bitbucketPushPayload struct {
	Push struct {
		Changes []struct {
			New struct {
				Type   string `json:"type"`
				Name   string `json:"name"`
				Target struct {
					Hash string `json:"hash"`
				} `json:"target"`
			} `json:"new"`
		} `json:"changes"`
	} `json:"push"`

	Repository struct {
		FullName   string `json:"full_name"`
		MainBranch struct {
			Name string `json:"name"`
		} `json:"mainbranch"`
		Links struct {
			HTML struct {
				Href string `json:"href"`
			} `json:"html"`
		} `json:"links"`
	} `json:"repository"`
}

func (h *BitbucketHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("X-Event-Key") != "repo:push" {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read Bitbucket webhook body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload bitbucketPushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("⚠️ Failed to parse Bitbucket push payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if len(payload.Push.Changes) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	change := payload.Push.Changes[0].New
	if change.Type != "branch" || change.Target.Hash == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	repoURL := payload.Repository.Links.HTML.Href
	err = h.pipeline.Process(r.Context(), &ingestion.Delivery{
		Provider:   "bitbucket",
		EventType:  "repo:push",
		RawPayload: body,
		Secret:     r.URL.Query().Get("token"),
		Event: &models.RepositoryEvent{
			Kind:            models.RepositoryEventPush,
			CloneURL:        repoURL + ".git",
			RepoURL:         repoURL,
			Branch:          change.Name,
			CommitSHA:       change.Target.Hash,
			IsDefaultBranch: change.Name == payload.Repository.MainBranch.Name,
		},
	})
	acknowledge(w, err, http.StatusServiceUnavailable)
}

// BitbucketServerHandler receives repo:refs_changed deliveries from
// Bitbucket Server / Data Center. The secret rides in the ?token= query
// parameter; the event kind lives in the body, not a header.
type BitbucketServerHandler struct {
	pipeline DeliveryProcessor
}

func NewBitbucketServerHandler(pipeline DeliveryProcessor) *BitbucketServerHandler {
	return &BitbucketServerHandler{pipeline: pipeline}
}

type bitbucketServerPayload struct {
	EventKey string `json:"eventKey"`

	Repository struct {
		Slug    string `json:"slug"`
		Project struct {
			Key string `json:"key"`
		} `json:"project"`
		Links struct {
			Clone []struct {
				Name string `json:"name"`
				Href string `json:"href"`
			} `json:"clone"`
		} `json:"links"`
	} `json:"repository"`

	Changes []struct {
		Type string `json:"type"`
		Ref  struct {
			DisplayID string `json:"displayId"`
			Type      string `json:"type"`
		} `json:"ref"`
		FromHash string `json:"fromHash"`
		ToHash   string `json:"toHash"`
	} `json:"changes"`
}

func (h *BitbucketServerHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		log.Printf("❌ Failed to read Bitbucket Server webhook body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	var payload bitbucketServerPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Printf("⚠️ Failed to parse Bitbucket Server payload: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}
	if payload.EventKey != "repo:refs_changed" || len(payload.Changes) == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	change := payload.Changes[0]
	if change.Ref.Type != "BRANCH" || change.Type == "DELETE" {
		w.WriteHeader(http.StatusOK)
		return
	}

	cloneURL := ""
	for _, link := range payload.Repository.Links.Clone {
		if link.Name == "http" {
			cloneURL = link.Href
			break
		}
	}
	if cloneURL == "" {
		log.Printf("⚠️ Bitbucket Server payload for %s/%s has no http clone link",
			payload.Repository.Project.Key, payload.Repository.Slug)
		w.WriteHeader(http.StatusOK)
		return
	}

	err = h.pipeline.Process(r.Context(), &ingestion.Delivery{
		Provider:   "bitbucket-server",
		EventType:  payload.EventKey,
		RawPayload: body,
		Secret:     r.URL.Query().Get("token"),
		Event: &models.RepositoryEvent{
			Kind:      models.RepositoryEventPush,
			CloneURL:  cloneURL,
			RepoURL:   cloneURLToRepoURL(cloneURL),
			Branch:    change.Ref.DisplayID,
			CommitSHA: change.ToHash,
			BeforeSHA: change.FromHash,
		},
	})
	acknowledge(w, err, http.StatusUnauthorized)
}

// cloneURLToRepoURL strips the ".git" suffix; for Bitbucket Server the
// browse URL geometry differs but the host and repo path are what the
// context parser needs.
func cloneURLToRepoURL(cloneURL string) string {
	if len(cloneURL) > 4 && cloneURL[len(cloneURL)-4:] == ".git" {
		return cloneURL[:len(cloneURL)-4]
	}
	return cloneURL
}
