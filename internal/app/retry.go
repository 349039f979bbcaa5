package app

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"signalExecBot/internal/ports"
)

// RetryPolicy bounds resubmission of transient exchange failures.
type RetryPolicy struct {
	MaxAttempts int // total attempts including the first
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryPolicy is used when a zero policy is configured.
var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}

// retryState is the explicit state of one submission's retry loop:
// how many attempts were made and the delay before the next one.
type retryState struct {
	maxAttempts int
	attempts    int
	backoff     *backoff.Backoff
}

func newRetryState(p RetryPolicy) *retryState {
	if p.MaxAttempts <= 0 {
		p = DefaultRetryPolicy
	}
	return &retryState{
		maxAttempts: p.MaxAttempts,
		backoff: &backoff.Backoff{
			Min:    p.BaseDelay,
			Max:    p.MaxDelay,
			Factor: 2,
			Jitter: false,
		},
	}
}

// Record counts one completed attempt.
func (s *retryState) Record() {
	s.attempts++
}

// Attempts returns the number of attempts recorded so far.
func (s *retryState) Attempts() int {
	return s.attempts
}

// Next decides whether err allows another attempt and returns the delay before it.
// Only transient server errors are retried.
func (s *retryState) Next(err error) (time.Duration, bool) {
	if err == nil || !errors.Is(err, ports.ErrTransientServer) {
		return 0, false
	}
	if s.attempts >= s.maxAttempts {
		return 0, false
	}
	return s.backoff.Duration(), true
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
