package models

import (
	"time"
)

type PrebuildState string

const (
	PrebuildStateQueued    PrebuildState = "queued"
	PrebuildStateBuilding  PrebuildState = "building"
	PrebuildStateAborted   PrebuildState = "aborted"
	PrebuildStateTimeout   PrebuildState = "timeout"
	PrebuildStateAvailable PrebuildState = "available"
)

// Resolved reports whether the build reached a terminal state.
func (s PrebuildState) Resolved() bool {
	return s == PrebuildStateAborted || s == PrebuildStateTimeout || s == PrebuildStateAvailable
}

type PrebuildTrigger string

const (
	PrebuildTriggerWebhook PrebuildTrigger = "webhook"
	PrebuildTriggerManual  PrebuildTrigger = "manual"
	PrebuildTriggerSystem  PrebuildTrigger = "system"
)

// PrebuiltWorkspace is a prebuild record. One exists per (clone URL,
// commit); state transitions are driven by the workspace subsystem, the
// core only reads the latest state.
type PrebuiltWorkspace struct {
	ID               string          `db:"id"                 json:"id"`
	BuildWorkspaceID string          `db:"build_workspace_id" json:"build_workspace_id"`
	CloneURL         string          `db:"clone_url"          json:"clone_url"`
	Branch           string          `db:"branch"             json:"branch"`
	Commit           string          `db:"commit"             json:"commit"`
	State            PrebuildState   `db:"state"              json:"state"`
	Error            string          `db:"error"              json:"error,omitempty"`
	Trigger          PrebuildTrigger `db:"trigger"            json:"trigger"`
	ProjectID        *string         `db:"project_id"         json:"project_id,omitempty"`
	CreatedAt        time.Time       `db:"created_at"         json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at"         json:"updated_at"`
}

// Workspace is the record of a (prebuild) workspace the factory created.
// The actual build runs in the external workspace subsystem.
type Workspace struct {
	ID         string           `db:"id"          json:"id"`
	OwnerID    string           `db:"owner_id"    json:"owner_id"`
	ProjectID  *string          `db:"project_id"  json:"project_id,omitempty"`
	ContextURL string           `db:"context_url" json:"context_url"`
	CloneURL   string           `db:"clone_url"   json:"clone_url"`
	Config     *WorkspaceConfig `json:"config,omitempty"`
	CreatedAt  time.Time        `db:"created_at"  json:"created_at"`
}

type StartPrebuildResult struct {
	PrebuildID  string `json:"prebuild_id"`
	WorkspaceID string `json:"workspace_id"`
	Done        bool   `json:"done"`
	DidFinish   bool   `json:"did_finish,omitempty"`
}
