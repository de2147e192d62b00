// Package workflow drives a try-on session on the client: the retry state
// machine around submission, the recovery boundary around result handling,
// and the toast timers that surface failures.
package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tryon/internal/classify"
)

// Phase is the coarse state of a session.
type Phase int

const (
	Idle Phase = iota
	Processing
	Transformed
	Failed
)

func (p Phase) String() string {
	switch p {
	case Processing:
		return "processing"
	case Transformed:
		return "transformed"
	case Failed:
		return "error"
	default:
		return "idle"
	}
}

// State is the session state. Image is set only when Transformed, Err only
// when Failed.
type State struct {
	Phase Phase
	Image string
	Err   classify.ClassifiedError
}

// RetryState tracks attempts of the current top-level operation.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	NextDelay   time.Duration
}

// NextDelayMs is NextDelay in whole milliseconds.
func (r RetryState) NextDelayMs() int64 {
	return r.NextDelay.Milliseconds()
}

// Operation is one attempt of the supervised call, e.g. a bound Client.Tryon.
type Operation func(ctx context.Context) (string, error)

// Coordinator owns State and RetryState. All transitions go through its
// methods; results of superseded attempts are dropped.
type Coordinator struct {
	op     Operation
	policy Policy
	logger zerolog.Logger

	mu      sync.Mutex
	state   State
	retry   RetryState
	gen     uint64
	base    context.Context
	cancel  context.CancelFunc
	timer   *time.Timer
	changed chan struct{}
}

// NewCoordinator returns an Idle coordinator running op.
func NewCoordinator(op Operation, policy Policy, logger zerolog.Logger) *Coordinator {
	policy = policy.normalize()
	return &Coordinator{
		op:      op,
		policy:  policy,
		logger:  logger,
		base:    context.Background(),
		retry:   RetryState{MaxAttempts: policy.MaxAttempts},
		changed: make(chan struct{}),
	}
}

// Submit starts a new top-level operation, abandoning whatever was running.
// ctx bounds this operation and its retries.
func (c *Coordinator) Submit(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.base = ctx
	c.retry = RetryState{Attempt: 1, MaxAttempts: c.policy.MaxAttempts}
	c.setLocked(State{Phase: Processing})
	c.launchLocked(0)
}

// Retry re-enters Processing from Failed when the error is retryable and
// attempts remain. It reports whether a retry was scheduled.
func (c *Coordinator) Retry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.canRetryLocked() {
		return false
	}
	c.retry.Attempt++
	delay := c.policy.Delay(c.retry.Attempt, c.state.Err.RetryAfter)
	c.retry.NextDelay = delay
	c.logger.Debug().Int("attempt", c.retry.Attempt).Dur("delay", delay).Msg("retry scheduled")
	c.setLocked(State{Phase: Processing})
	c.launchLocked(delay)
	return true
}

// CanRetry reports whether Retry would do anything.
func (c *Coordinator) CanRetry() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canRetryLocked()
}

// Reset returns to Idle from any state and forgets the retry history.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.retry = RetryState{MaxAttempts: c.policy.MaxAttempts}
	c.setLocked(State{Phase: Idle})
}

// Dismiss clears a Failed state back to Idle. It reports whether the state
// was Failed.
func (c *Coordinator) Dismiss() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != Failed {
		return false
	}
	c.stopLocked()
	c.setLocked(State{Phase: Idle})
	return true
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) RetryState() RetryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retry
}

// Wait blocks until the coordinator is not Processing and returns that state.
func (c *Coordinator) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		st, ch := c.state, c.changed
		c.mu.Unlock()
		if st.Phase != Processing {
			return st, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return st, ctx.Err()
		}
	}
}

// Changed returns a channel closed on the next state change.
func (c *Coordinator) Changed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changed
}

func (c *Coordinator) canRetryLocked() bool {
	return c.state.Phase == Failed &&
		c.state.Err.Retryable &&
		c.retry.Attempt < c.retry.MaxAttempts
}

// launchLocked runs op for a new generation after delay.
func (c *Coordinator) launchLocked(delay time.Duration) {
	c.gen++
	gen := c.gen
	ctx, cancel := context.WithCancel(c.base)
	c.cancel = cancel

	if delay <= 0 {
		go c.run(ctx, gen)
		return
	}
	c.timer = time.AfterFunc(delay, func() { c.run(ctx, gen) })
}

func (c *Coordinator) run(ctx context.Context, gen uint64) {
	img, err := c.op(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		c.logger.Debug().Uint64("generation", gen).Msg("stale result dropped")
		return
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.timer = nil

	if err == nil {
		c.retry = RetryState{MaxAttempts: c.policy.MaxAttempts}
		c.setLocked(State{Phase: Transformed, Image: img})
		return
	}

	ce := classify.Classify(err)
	if ce.Category == classify.Cancelled {
		if c.retry.Attempt > 0 {
			c.retry.Attempt--
		}
		c.retry.NextDelay = 0
		c.setLocked(State{Phase: Idle})
		return
	}
	c.logger.Debug().Str("category", ce.Category.String()).Int("attempt", c.retry.Attempt).Err(err).Msg("attempt failed")
	c.setLocked(State{Phase: Failed, Err: ce})
}

// stopLocked cancels the pending timer and the in-flight call and makes any
// outstanding result stale.
func (c *Coordinator) stopLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.gen++
}

func (c *Coordinator) setLocked(s State) {
	c.state = s
	close(c.changed)
	c.changed = make(chan struct{})
}
