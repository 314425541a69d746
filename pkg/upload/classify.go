package upload

import "strings"

// transientMarkers is the whitelist of error-text substrings that classify
// an upload failure as transient (retryable). Anything else is permanent.
var transientMarkers = []string{
	"timeout",
	"connection reset",
	"dns",
	"429",
	"500",
	"502",
	"503",
	"socket hang up",
	"rate limit",
	"retryable",
	"hash mismatch",
}

// IsTransient matches err's text against the transient whitelist,
// case-insensitively. Every string in the whitelist classifies as
// transient; every other error classifies as permanent (testable
// property 8).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
