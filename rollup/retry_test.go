// ABOUTME: Tests for the shared retry policy
// ABOUTME: Covers linear backoff, the retryable predicate, and context cancellation
package rollup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordingPolicy(attempts int, delay time.Duration) (RetryPolicy, *[]time.Duration) {
	var waits []time.Duration
	return RetryPolicy{
		MaxAttempts: attempts,
		Delay:       delay,
		Retryable:   IsRetryable,
		Sleep: func(ctx context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}, &waits
}

func TestRetryPolicyLinearBackoff(t *testing.T) {
	policy, waits := recordingPolicy(3, 100*time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return &statusErr{status: 503}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, *waits)
}

func TestRetryPolicySucceedsAfterRateLimit(t *testing.T) {
	policy, _ := recordingPolicy(3, time.Millisecond)

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &statusErr{status: 429}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyNonRetryableFailsImmediately(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad request", &statusErr{status: 400}},
		{"not found", &statusErr{status: 404}},
		{"transport error", errors.New("connection reset")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy, waits := recordingPolicy(3, time.Millisecond)
			calls := 0
			err := policy.Do(context.Background(), func(ctx context.Context) error {
				calls++
				return tt.err
			})
			assert.Equal(t, tt.err, err)
			assert.Equal(t, 1, calls)
			assert.Empty(t, *waits)
		})
	}
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	policy := RetryPolicy{MaxAttempts: 3, Delay: time.Hour, Retryable: IsRetryable}
	calls := 0
	err := policy.Do(ctx, func(ctx context.Context) error {
		calls++
		return &statusErr{status: 500}
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestErrorClassification(t *testing.T) {
	wrapped := &WriteError{Op: "upsert", Key: "email:a@b.co", Err: &statusErr{status: 429}}
	assert.True(t, IsRetryable(wrapped))
	assert.False(t, IsRejected(wrapped))

	assert.True(t, IsRejected(&statusErr{status: 422}))
	assert.True(t, IsNotFound(&statusErr{status: 404}))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRejected(errors.New("plain")))
}
