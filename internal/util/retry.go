package util

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// ErrRetryBudget is returned (wrapping the last error) when the accumulated
// backoff would exceed RetryPolicy.MaxTotalWait.
var ErrRetryBudget = errors.New("retry budget exhausted")

// RetryPolicy bounds a retry loop. MaxRetries counts retries, so fn runs at
// most MaxRetries+1 times.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration // 0 = uncapped
	MaxTotalWait time.Duration // 0 = unbounded
	Jitter       float64       // fraction of the delay, e.g. 0.2 for ±20%

	// Retryable classifies errors. Nil means every error is retried.
	Retryable func(error) bool
	// OnRetry is called before each backoff sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// retryAfter is implemented by errors that carry a server-suggested delay.
type retryAfter interface {
	RetryAfter() time.Duration
}

// Do runs fn under the policy. attempt starts at 1.
func (p RetryPolicy) Do(ctx context.Context, fn func(attempt int) error) error {
	var (
		err    error
		waited time.Duration
		delay  = p.BaseDelay
	)

	for attempt := 1; attempt <= p.MaxRetries+1; attempt++ {
		err = fn(attempt)
		if err == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		// Don't sleep after the last failed attempt.
		if attempt == p.MaxRetries+1 {
			break
		}

		sleep := p.jittered(delay)
		var ra retryAfter
		if errors.As(err, &ra) && ra.RetryAfter() > 0 {
			sleep = ra.RetryAfter()
		}
		if p.MaxTotalWait > 0 && waited+sleep > p.MaxTotalWait {
			return fmt.Errorf("%w after %d attempts: %w", ErrRetryBudget, attempt, err)
		}
		if p.OnRetry != nil {
			p.OnRetry(attempt, sleep, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}
		waited += sleep

		delay *= 2
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return err
}

func (p RetryPolicy) jittered(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	f := 1 + p.Jitter*(2*rand.Float64()-1)
	return time.Duration(float64(d) * f)
}

// Sleep waits for d or until ctx is cancelled.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
