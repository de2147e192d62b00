package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tryon/internal/classify"
)

func fastPolicy() Policy {
	return Policy{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func wait(t *testing.T, c *Coordinator) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	require.NoError(t, err)
	return st
}

func TestCoordinatorSuccess(t *testing.T) {
	c := NewCoordinator(func(context.Context) (string, error) { return "img", nil }, fastPolicy(), zerolog.Nop())
	assert.Equal(t, Idle, c.State().Phase)

	c.Submit(context.Background())
	st := wait(t, c)
	assert.Equal(t, Transformed, st.Phase)
	assert.Equal(t, "img", st.Image)
	assert.Equal(t, RetryState{MaxAttempts: 3}, c.RetryState())
}

func TestCoordinatorRetryThenSuccess(t *testing.T) {
	var calls atomic.Int64
	op := func(context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", &classify.StatusError{Status: 500}
		}
		return "img", nil
	}
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	st := wait(t, c)
	require.Equal(t, Failed, st.Phase)
	assert.Equal(t, classify.MsgServerError, st.Err.UserMessage)
	assert.Equal(t, 1, c.RetryState().Attempt)
	require.True(t, c.CanRetry())

	require.True(t, c.Retry())
	rs := c.RetryState()
	assert.Equal(t, 2, rs.Attempt)
	assert.Equal(t, time.Millisecond, rs.NextDelay)

	st = wait(t, c)
	assert.Equal(t, Transformed, st.Phase)
	assert.Equal(t, 0, c.RetryState().Attempt)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCoordinatorRetryIsNoopWhenExhausted(t *testing.T) {
	var calls atomic.Int64
	op := func(context.Context) (string, error) {
		calls.Add(1)
		return "", &classify.StatusError{Status: 500}
	}
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	wait(t, c)
	for i := 0; i < 2; i++ {
		require.True(t, c.Retry())
		wait(t, c)
	}
	require.Equal(t, 3, c.RetryState().Attempt)
	assert.False(t, c.CanRetry())

	assert.False(t, c.Retry())
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, Failed, c.State().Phase)
	assert.EqualValues(t, 3, calls.Load())
}

func TestCoordinatorValidationIsNotRetryable(t *testing.T) {
	op := func(context.Context) (string, error) { return "", &classify.StatusError{Status: 400} }
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	st := wait(t, c)
	assert.Equal(t, classify.Validation, st.Err.Category)
	assert.False(t, c.CanRetry())
	assert.False(t, c.Retry())
}

func TestCoordinatorTimeoutOffersRetry(t *testing.T) {
	op := func(context.Context) (string, error) {
		return "", fmt.Errorf("%w: context deadline exceeded", classify.ErrTimeout)
	}
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	st := wait(t, c)
	assert.Equal(t, classify.Timeout, st.Err.Category)
	assert.True(t, c.CanRetry())
}

func TestCoordinatorResetCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	op := func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return "late", nil
	}
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	<-started
	c.Reset()

	assert.Eventually(t, cancelled.Load, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Idle, c.State().Phase, "a superseded result must not change state")
	assert.Equal(t, 0, c.RetryState().Attempt)
}

func TestCoordinatorCancelledGoesIdle(t *testing.T) {
	started := make(chan struct{})
	op := func(ctx context.Context) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	c.Submit(ctx)
	<-started
	cancel()

	st := wait(t, c)
	assert.Equal(t, Idle, st.Phase)
	assert.Equal(t, 0, c.RetryState().Attempt)
}

func TestCoordinatorDropsStaleResults(t *testing.T) {
	release := make(chan string, 2)
	op := func(context.Context) (string, error) { return <-release, nil }
	c := NewCoordinator(op, fastPolicy(), zerolog.Nop())

	c.Submit(context.Background())
	c.Submit(context.Background())
	release <- "first"
	release <- "second"

	st := wait(t, c)
	assert.Equal(t, Transformed, st.Phase)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, Transformed, c.State().Phase)
	// Both goroutines read from release; only the result of the latest
	// generation is applied, whichever value it received.
	assert.Contains(t, []string{"first", "second"}, c.State().Image)
}

func TestCoordinatorDismissCancelsScheduledRetry(t *testing.T) {
	var calls atomic.Int64
	op := func(context.Context) (string, error) {
		calls.Add(1)
		return "", errors.New("boom")
	}
	policy := fastPolicy()
	policy.InitialDelay = time.Hour
	policy.MaxDelay = time.Hour
	c := NewCoordinator(op, policy, zerolog.Nop())

	c.Submit(context.Background())
	wait(t, c)
	assert.True(t, c.Dismiss())
	assert.Equal(t, Idle, c.State().Phase)
	assert.False(t, c.Dismiss(), "dismiss only applies to the error state")

	c.Submit(context.Background())
	wait(t, c)
	require.True(t, c.Retry())
	assert.Equal(t, time.Hour, c.RetryState().NextDelay)
	c.Reset()
	assert.Equal(t, Idle, c.State().Phase)
	assert.EqualValues(t, 2, calls.Load(), "the scheduled retry must never run")
}

func TestPolicyDelay(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, time.Duration(0), p.Delay(1, 0))
	assert.Equal(t, time.Second, p.Delay(2, 0))
	assert.Equal(t, 2*time.Second, p.Delay(3, 0))
	assert.Equal(t, 4*time.Second, p.Delay(4, 0))
	assert.Equal(t, 30*time.Second, p.Delay(10, 0))
	assert.Equal(t, time.Minute, p.Delay(2, time.Minute))

	n := Policy{}.normalize()
	assert.Equal(t, DefaultPolicy(), n)
}
