// Package retry wraps cenkalti/backoff with the attempt accounting the fetch path needs:
// a hard attempt budget, exponential waits between attempts and a retryable/terminal split.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy describes how many times an operation runs and how long to wait in between.
type Policy struct {
	// MaxAttempts is the total number of runs, including the first. Values below 1 mean 1.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable reports whether err is worth another attempt. Nil treats every error as retryable.
	Retryable func(err error) bool
	// OnRetry is called before each wait with the failed attempt number (1-based).
	OnRetry func(err error, attempt int, wait time.Duration)
}

// Permanent marks err as terminal regardless of the classifier.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

func (p Policy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	if p.Multiplier > 1 {
		exp.Multiplier = p.Multiplier
	}
	exp.MaxElapsedTime = 0
	// WithMaxRetries counts retries, not runs.
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(p.attempts()-1)), ctx)
}

// Do runs op until it succeeds, returns a terminal error, the budget is spent or ctx ends.
// It returns the number of attempts actually made and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	attempt := 0
	operation := func() error {
		attempt++
		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		if p.OnRetry != nil {
			p.OnRetry(err, attempt, wait)
		}
	}
	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	return attempt, err
}
