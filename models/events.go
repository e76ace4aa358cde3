package models

import (
	"time"
)

type RepositoryEventKind string

const (
	RepositoryEventPush        RepositoryEventKind = "push"
	RepositoryEventPullRequest RepositoryEventKind = "pull_request"
)

// RepositoryEvent is the canonical, provider-agnostic form of a webhook
// payload. Constructed fresh per inbound webhook; never persisted.
type RepositoryEvent struct {
	Kind            RepositoryEventKind
	CloneURL        string
	RepoURL         string
	Branch          string
	CommitSHA       string
	BeforeSHA       string
	IsDefaultBranch bool
	IsFork          bool

	// Pull request metadata, set when Kind == pull_request
	PullRequestID      int
	PullRequestHeadSHA string
	PullRequestURL     string
}

type WebhookEventStatus string

const (
	WebhookEventReceived     WebhookEventStatus = "received"
	WebhookEventProcessed    WebhookEventStatus = "processed"
	WebhookEventIgnored      WebhookEventStatus = "ignored"
	WebhookEventUnauthorized WebhookEventStatus = "dismissed_unauthorized"
)

type PrebuildStatus string

const (
	PrebuildStatusIgnoredUnconfigured PrebuildStatus = "ignored_unconfigured"
	PrebuildStatusTriggered           PrebuildStatus = "prebuild_triggered"
	PrebuildStatusTriggerFailed       PrebuildStatus = "prebuild_trigger_failed"
)

// WebhookEvent is the audit record of an inbound webhook. Every provider
// writes one per delivery, before authentication completes.
type WebhookEvent struct {
	ID        string             `db:"id"         json:"id"`
	Provider  string             `db:"provider"   json:"provider"`
	Type      string             `db:"type"       json:"type"`
	Status    WebhookEventStatus `db:"status"     json:"status"`
	RawEvent  string             `db:"raw_event"  json:"raw_event"`
	CreatedAt time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt time.Time          `db:"updated_at" json:"updated_at"`

	AuthorizedUserID *string         `db:"authorized_user_id" json:"authorized_user_id,omitempty"`
	ProjectID        *string         `db:"project_id"         json:"project_id,omitempty"`
	CloneURL         *string         `db:"clone_url"          json:"clone_url,omitempty"`
	Branch           *string         `db:"branch"             json:"branch,omitempty"`
	Commit           *string         `db:"commit"             json:"commit,omitempty"`
	PrebuildStatus   *PrebuildStatus `db:"prebuild_status"    json:"prebuild_status,omitempty"`
	PrebuildID       *string         `db:"prebuild_id"        json:"prebuild_id,omitempty"`
}

// WebhookEventUpdate carries the fields an audit row accumulates while the
// event moves through the pipeline. Nil fields are left untouched.
type WebhookEventUpdate struct {
	Status           *WebhookEventStatus
	AuthorizedUserID *string
	ProjectID        *string
	CloneURL         *string
	Branch           *string
	Commit           *string
	PrebuildStatus   *PrebuildStatus
	PrebuildID       *string
}
