package rate

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 5, Jitter: 0}
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context, n int) error {
		calls++
		if calls < 3 {
			return errors.New("server error")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsImmediatelyOnPermanentError(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 5, Jitter: 0}
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context, n int) error {
		calls++
		return Permanent(errors.New("401 unauthorized"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
}

func TestDoExhaustsRetriesThenFails(t *testing.T) {
	policy := RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 3, Jitter: 0}
	calls := 0
	err := Do(context.Background(), policy, func(ctx context.Context, n int) error {
		calls++
		return errors.New("server error")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestClassifyHTTPStatus(t *testing.T) {
	assert.True(t, IsPermanent(ClassifyHTTPStatus(http.StatusUnauthorized)))
	assert.True(t, IsPermanent(ClassifyHTTPStatus(http.StatusForbidden)))
	assert.True(t, IsPermanent(ClassifyHTTPStatus(http.StatusBadRequest)))
	assert.False(t, IsPermanent(ClassifyHTTPStatus(http.StatusTooManyRequests)))
	assert.False(t, IsPermanent(ClassifyHTTPStatus(http.StatusInternalServerError)))
	assert.NoError(t, ClassifyHTTPStatus(http.StatusOK))
}

func TestLimiterEnforcesMinimumInterval(t *testing.T) {
	l := NewLimiter(600) // 100ms interval
	ctx := context.Background()
	start := time.Now()
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	elapsed := time.Since(start)
	assert.GreaterOrEqual(t, elapsed, 90*time.Millisecond)
}

func TestParseRetryAfterSeconds(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "2")
	d, ok := ParseRetryAfter(h)
	require.True(t, ok)
	assert.Equal(t, 2*time.Second, d)
}
