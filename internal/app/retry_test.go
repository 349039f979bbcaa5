package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"signalExecBot/internal/ports"
)

func TestRetryState(t *testing.T) {
	transient := &ports.ExchangeError{StatusCode: 503, Kind: ports.ErrTransientServer}

	t.Run("bounded exponential delays", func(t *testing.T) {
		s := newRetryState(RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second})

		s.Record()
		d, ok := s.Next(transient)
		assert.True(t, ok)
		assert.Equal(t, 500*time.Millisecond, d)

		s.Record()
		d, ok = s.Next(transient)
		assert.True(t, ok)
		assert.Equal(t, time.Second, d)

		s.Record()
		_, ok = s.Next(transient)
		assert.False(t, ok)
		assert.Equal(t, 3, s.Attempts())
	})

	t.Run("delay capped", func(t *testing.T) {
		s := newRetryState(RetryPolicy{MaxAttempts: 5, BaseDelay: time.Second, MaxDelay: 1500 * time.Millisecond})
		var got []time.Duration
		for i := 0; i < 3; i++ {
			s.Record()
			d, ok := s.Next(transient)
			assert.True(t, ok)
			got = append(got, d)
		}
		assert.Equal(t, []time.Duration{time.Second, 1500 * time.Millisecond, 1500 * time.Millisecond}, got)
	})

	t.Run("only transient errors retry", func(t *testing.T) {
		for _, err := range []error{
			nil,
			ports.ErrRejectedByExchange,
			ports.ErrUnknownOutcome,
			ports.ErrNotSupported,
			errors.New("boom"),
		} {
			s := newRetryState(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})
			s.Record()
			_, ok := s.Next(err)
			assert.False(t, ok, "%v", err)
		}
	})

	t.Run("zero policy uses default", func(t *testing.T) {
		s := newRetryState(RetryPolicy{})
		assert.Equal(t, DefaultRetryPolicy.MaxAttempts, s.maxAttempts)
	})
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
