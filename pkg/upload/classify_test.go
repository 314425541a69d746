package upload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

// Testable property 8: error classification stability.
func TestIsTransient_Whitelist(t *testing.T) {
	transient := []string{
		"connection reset by peer",
		"lookup example.com: no such host (DNS failure)",
		"status 429 too many requests",
		"server returned 500",
		"502 bad gateway",
		"503 service unavailable",
		"socket hang up",
		"rate limit exceeded",
		"retryable error occurred",
		"request timeout",
	}
	for _, msg := range transient {
		assert.True(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransient_PermanentList(t *testing.T) {
	permanent := []string{
		"AccessDenied",
		"NoSuchBucket",
		"InvalidArgument: bad request",
		"LocalFileMissing: /tmp/x",
	}
	for _, msg := range permanent {
		assert.False(t, IsTransient(errors.New(msg)), msg)
	}
}

func TestIsTransient_NilError(t *testing.T) {
	assert.False(t, IsTransient(nil))
}
