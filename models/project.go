package models

import (
	"time"
)

type Project struct {
	ID        string    `db:"id"         json:"id"`
	Name      string    `db:"name"       json:"name"`
	CloneURL  string    `db:"clone_url"  json:"clone_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Exactly one of UserID / TeamID is set: a project belongs either to a
	// personal account or to a team.
	UserID *string `db:"user_id" json:"user_id,omitempty"`
	TeamID *string `db:"team_id" json:"team_id,omitempty"`

	Settings ProjectSettings `json:"settings"`
}

type ProjectSettings struct {
	KeepOutdatedPrebuildsRunning bool `db:"keep_outdated_prebuilds_running" json:"keep_outdated_prebuilds_running"`
	UseIncrementalPrebuilds      bool `db:"use_incremental_prebuilds"       json:"use_incremental_prebuilds"`
}

type TeamRole string

const (
	TeamRoleOwner  TeamRole = "owner"
	TeamRoleMember TeamRole = "member"
)

type TeamMember struct {
	TeamID string   `db:"team_id" json:"team_id"`
	UserID string   `db:"user_id" json:"user_id"`
	Role   TeamRole `db:"role"    json:"role"`
}
