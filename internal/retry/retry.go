package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// DefaultPolicy is the packaging policy: two attempts, five seconds apart.
var DefaultPolicy = Policy{Attempts: 2, Backoff: 5 * time.Second}

// Policy bounds how often an operation is attempted and how long to
// wait between attempts. The wait is static, never exponential.
type Policy struct {
	Attempts int
	Backoff  time.Duration

	// Sleep waits between attempts. Nil means a real timer that stops
	// early when the context is done.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Notify is called after a failed attempt that will be retried.
type Notify func(attempt, max int, err error, wait time.Duration)

// ExhaustedError reports that every allowed attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("gave up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// IsExhausted reports whether err came from a policy running out of attempts.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

func (p Policy) max() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// sleepTimer adapts Policy.Sleep to backoff.Timer. The wait happens
// in Start; C fires once it is over.
type sleepTimer struct {
	ctx   context.Context
	sleep func(ctx context.Context, d time.Duration) error
	c     chan time.Time
	err   error
}

func (t *sleepTimer) Start(d time.Duration) {
	t.c = make(chan time.Time, 1)
	if err := t.sleep(t.ctx, d); err != nil {
		t.err = err
	}
	t.c <- time.Now()
}

func (t *sleepTimer) Stop()               {}
func (t *sleepTimer) C() <-chan time.Time { return t.c }

// Do runs fn until it succeeds or the policy is exhausted, and returns
// the number of attempts made. The attempt passed to fn starts at 1.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, notify Notify) (int, error) {
	max := p.max()

	var timer backoff.Timer
	var st *sleepTimer
	if p.Sleep != nil {
		st = &sleepTimer{ctx: ctx, sleep: p.Sleep}
		timer = st
	}

	var (
		attempt int
		lastErr error
	)
	op := func() error {
		if st != nil && st.err != nil {
			return backoff.Permanent(st.err)
		}
		attempt++
		lastErr = fn(ctx, attempt)
		return lastErr
	}
	var onRetry backoff.Notify
	if notify != nil {
		onRetry = func(err error, wait time.Duration) { notify(attempt, max, err, wait) }
	}

	b := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.Backoff), uint64(max-1)),
		ctx,
	)
	if err := backoff.RetryNotifyWithTimer(op, b, onRetry, timer); err == nil {
		return attempt, nil
	}

	switch {
	case st != nil && st.err != nil:
		return attempt, fmt.Errorf("waiting to retry: %w", st.err)
	case attempt < max && ctx.Err() != nil:
		return attempt, fmt.Errorf("attempt %d: %w: %w", attempt, lastErr, ctx.Err())
	case max == 1:
		return attempt, lastErr
	default:
		return attempt, &ExhaustedError{Attempts: attempt, Err: lastErr}
	}
}
