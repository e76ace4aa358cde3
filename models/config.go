package models

// ConfigOrigin says where a workspace configuration came from. Prebuilds
// demand an explicit repo-level config; derived or default configs never
// trigger builds.
type ConfigOrigin string

const (
	ConfigOriginRepo    ConfigOrigin = "repo"
	ConfigOriginDerived ConfigOrigin = "derived"
	ConfigOriginDefault ConfigOrigin = "default"
)

type TaskConfig struct {
	Name     string `json:"name,omitempty"`
	Before   string `json:"before,omitempty"`
	Init     string `json:"init,omitempty"`
	Prebuild string `json:"prebuild,omitempty"`
	Command  string `json:"command,omitempty"`
}

// PrebuildSettings is the per-repository prebuild policy block. All fields
// are optional; the policy engine merges them over documented defaults.
type PrebuildSettings struct {
	AddCheck              *bool `json:"addCheck,omitempty"`
	AddBadge              *bool `json:"addBadge,omitempty"`
	AddComment            *bool `json:"addComment,omitempty"`
	AddLabel              *bool `json:"addLabel,omitempty"`
	Branches              *bool `json:"branches,omitempty"`
	Master                *bool `json:"master,omitempty"`
	PullRequests          *bool `json:"pullRequests,omitempty"`
	PullRequestsFromForks *bool `json:"pullRequestsFromForks,omitempty"`
}

// WorkspaceConfig is the parsed repository configuration, supplied by the
// config provider. The core treats it as an opaque answer to "does this
// commit want a prebuild and under what policy".
type WorkspaceConfig struct {
	Origin    ConfigOrigin      `json:"_origin,omitempty"`
	Tasks     []TaskConfig      `json:"tasks,omitempty"`
	Prebuilds *PrebuildSettings `json:"prebuilds,omitempty"`
}

// HasPrebuildTask reports whether any task would run during a prebuild.
func (c *WorkspaceConfig) HasPrebuildTask() bool {
	if c == nil {
		return false
	}
	for _, t := range c.Tasks {
		if t.Before != "" || t.Init != "" || t.Prebuild != "" {
			return true
		}
	}
	return false
}
