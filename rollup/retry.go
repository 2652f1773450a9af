// ABOUTME: Reusable retry policy with linear backoff for CRM write calls
// ABOUTME: Parameterized per call site by attempts, retryable predicate, and delay
package rollup

import (
	"context"
	"time"
)

// RetryPolicy retries an operation while Retryable says the error is transient.
type RetryPolicy struct {
	MaxAttempts int
	// Delay is multiplied by the attempt number before the next try.
	Delay     time.Duration
	Retryable func(error) bool
	// Sleep waits between attempts; nil uses a context aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewRetryPolicy builds the write policy from limits: retry rate-limit and
// server errors only.
func NewRetryPolicy(limits Limits) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: limits.RetryAttempts,
		Delay:       limits.RetryDelay,
		Retryable:   IsRetryable,
	}
}

// Do runs op until it succeeds, returns a non-retryable error, or attempts run out.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if p.Retryable == nil || !p.Retryable(err) || attempt == attempts {
			return err
		}
		if waitErr := sleep(ctx, p.Delay*time.Duration(attempt)); waitErr != nil {
			return waitErr
		}
	}
	return err
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
