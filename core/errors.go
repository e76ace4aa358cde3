package core

import (
	"errors"
	"regexp"
)

// ErrNotFound is a sentinel error for "not found" cases
var ErrNotFound = errors.New("not found")

var notFoundRe = regexp.MustCompile(`(?i)not found`)

// IsNotFoundError checks if an error is a "not found" error. Provider API
// clients wrap 404 responses in ErrNotFound; the status maintainer treats
// these as soft failures (repository access revoked, force-pushed commit).
func IsNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) {
		return true
	}
	// Legacy string-based errors from provider SDKs
	return notFoundRe.MatchString(err.Error())
}
