package models

import (
	"time"
)

// PrebuiltWorkspaceUpdatable is a pending commit-status attachment: once the
// referenced prebuild resolves, the status maintainer writes the final check
// state to the provider and marks the row resolved.
type PrebuiltWorkspaceUpdatable struct {
	ID                  string    `db:"id"                    json:"id"`
	Owner               string    `db:"owner"                 json:"owner"`
	Repo                string    `db:"repo"                  json:"repo"`
	CommitSHA           string    `db:"commit_sha"            json:"commit_sha"`
	ContextURL          string    `db:"context_url"           json:"context_url"`
	InstallationID      int64     `db:"installation_id"       json:"installation_id"`
	PrebuiltWorkspaceID string    `db:"prebuilt_workspace_id" json:"prebuilt_workspace_id"`
	IsResolved          bool      `db:"is_resolved"           json:"is_resolved"`
	CreatedAt           time.Time `db:"created_at"            json:"created_at"`

	// Issue is the pull request number a label/comment should target; nil
	// for plain branch pushes.
	Issue *int `db:"issue" json:"issue,omitempty"`
}
