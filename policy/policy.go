// Package policy decides whether a repository event should produce a
// prebuild and which status actions apply, based on the repository's
// prebuild settings. It is pure: same config and event, same answer.
package policy

import (
	"log"

	"prebuildd/models"
)

// Action names the optional status-propagation behaviors a repository can
// toggle in its prebuild settings.
type Action string

const (
	ActionAddCheck   Action = "addCheck"
	ActionAddBadge   Action = "addBadge"
	ActionAddComment Action = "addComment"
	ActionAddLabel   Action = "addLabel"
)

// Defaults applied when a repository's prebuild settings leave a field
// unset.
var defaults = map[Action]bool{
	ActionAddCheck:   true,
	ActionAddBadge:   false,
	ActionAddComment: false,
	ActionAddLabel:   false,
}

func settingOrDefault(setting *bool, fallback bool) bool {
	if setting != nil {
		return *setting
	}
	return fallback
}

// ShouldRunPrebuild reports whether the event warrants a prebuild under the
// repository's configuration. Prebuilds require an explicit repo-committed
// config with at least one prebuild-relevant task; which events qualify is
// governed by the branches/master/pullRequests settings.
func ShouldRunPrebuild(config *models.WorkspaceConfig, event *models.RepositoryEvent) bool {
	if config == nil || event == nil {
		return false
	}
	if config.Origin != models.ConfigOriginRepo {
		return false
	}
	if !config.HasPrebuildTask() {
		return false
	}

	settings := config.Prebuilds
	if settings == nil {
		settings = &models.PrebuildSettings{}
	}

	switch event.Kind {
	case models.RepositoryEventPush:
		if event.IsDefaultBranch {
			return settingOrDefault(settings.Master, true)
		}
		return settingOrDefault(settings.Branches, false)
	case models.RepositoryEventPullRequest:
		if !settingOrDefault(settings.PullRequests, true) {
			return false
		}
		if event.IsFork {
			return settingOrDefault(settings.PullRequestsFromForks, false)
		}
		return true
	}
	return false
}

// ShouldDo reports whether the given status action is enabled. Unknown
// actions disable themselves with a warning rather than failing the caller.
func ShouldDo(config *models.WorkspaceConfig, action Action) bool {
	fallback, known := defaults[action]
	if !known {
		log.Printf("⚠️ Unknown prebuild action: %s", action)
		return false
	}

	var settings *models.PrebuildSettings
	if config != nil {
		settings = config.Prebuilds
	}
	if settings == nil {
		return fallback
	}

	switch action {
	case ActionAddCheck:
		return settingOrDefault(settings.AddCheck, fallback)
	case ActionAddBadge:
		return settingOrDefault(settings.AddBadge, fallback)
	case ActionAddComment:
		return settingOrDefault(settings.AddComment, fallback)
	case ActionAddLabel:
		return settingOrDefault(settings.AddLabel, fallback)
	}
	return fallback
}
