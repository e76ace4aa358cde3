package utils

import (
	"strings"
)

func AssertInvariant(condition bool, message string) {
	if !condition {
		panic("invariant violated - " + message)
	}
}

// TrimRepoURL normalizes a repository URL for comparison by stripping a
// trailing slash and a trailing ".git" suffix.
func TrimRepoURL(url string) string {
	url = strings.TrimSuffix(url, "/")
	url = strings.TrimSuffix(url, ".git")
	return url
}

// BranchFromRef extracts the branch name from a git ref. Only refs under
// refs/heads/ carry a branch; tag pushes and other ref kinds return "".
func BranchFromRef(ref string) string {
	const headsPrefix = "refs/heads/"
	if strings.HasPrefix(ref, headsPrefix) {
		return ref[len(headsPrefix):]
	}
	return ""
}
