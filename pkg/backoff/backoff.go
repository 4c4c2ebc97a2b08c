// Package backoff provides the retry policy shared by the network
// adapters. The decision engine itself is retry-free; each adapter is
// constructed with a Policy and owns its own retries, reporting a
// single outcome to the caller.
package backoff

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

type Policy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries uint64
	// Initial is the first backoff interval; subsequent intervals grow
	// exponentially with jitter.
	Initial time.Duration
}

func Default() Policy {
	return Policy{MaxRetries: 3, Initial: 500 * time.Millisecond}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the
// retry budget is exhausted. fn signals a retryable failure by
// returning retry.RetryableError(err).
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(p.Initial)
	b = retry.WithJitterPercent(25, b)
	b = retry.WithMaxRetries(p.MaxRetries, b)
	return retry.Do(ctx, b, fn)
}
