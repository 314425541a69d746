package scanapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryConfig bounds the exponential backoff used by WithRetry.
type RetryConfig struct {
	MaxElapsed time.Duration
	MaxRetries uint64
}

// DefaultRetryConfig allows up to 5 retries with jittered exponential
// backoff, bounded at 2 minutes of total wall time.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxElapsed: 2 * time.Minute, MaxRetries: 5}
}

// WithRetry runs fn with exponential backoff, retrying only on errors that
// look transient (network errors, or an *http.Response-shaped transport
// failure). A context cancellation is never retried.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = cfg.MaxElapsed
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, cfg.MaxRetries), ctx)

	return backoff.Retry(func() error {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if !isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
}

func isRetryable(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *http.ProtocolError
	return errors.As(err, &urlErr)
}
