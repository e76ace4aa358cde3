package prebuilds

import (
	"errors"
	"fmt"
)

// WorkspaceRunningError rejects a retrigger while the build workspace for
// the prebuild is still running.
type WorkspaceRunningError struct {
	WorkspaceID string
}

func (e *WorkspaceRunningError) Error() string {
	return fmt.Sprintf("workspace is still running: %s", e.WorkspaceID)
}

// IsWorkspaceRunningError reports whether err is a WorkspaceRunningError.
func IsWorkspaceRunningError(err error) bool {
	var target *WorkspaceRunningError
	return errors.As(err, &target)
}

// ErrRateLimited rejects a prebuild start when the repository exceeds its
// start budget.
var ErrRateLimited = errors.New("prebuild rate limit exceeded for repository")
