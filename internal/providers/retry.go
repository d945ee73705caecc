package providers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/nanoclaw/internal/cron"
)

// httpError wraps a non-2xx provider response so retryConnect can tell
// transient failures (429, 5xx) from terminal ones.
type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string { return e.Body }

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// retryConnect retries fn's connection phase with the same exponential
// backoff the dispatch queue uses for agent runs; once a response body
// starts streaming there is no retry.
func retryConnect(ctx context.Context, cfg cron.RetryConfig, fn func() (io.ReadCloser, error)) (io.ReadCloser, error) {
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries+1; attempt++ {
		body, err := fn()
		if err == nil {
			return body, nil
		}
		lastErr = err

		var herr *httpError
		if !errors.As(err, &herr) || !isRetryableStatus(herr.Status) {
			return nil, err
		}
		if attempt > cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(cfg.BackoffFor(attempt)):
		}
	}
	return nil, lastErr
}
