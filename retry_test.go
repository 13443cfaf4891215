package firebasil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// fixedDelayRetryer waits the same delay between up to maxRetries attempts
// (0 retries forever). Tests use it to make supervised retries fast and
// deterministic.
type fixedDelayRetryer struct {
	delay      time.Duration
	maxRetries int
}

func (r *fixedDelayRetryer) NextDelay(attempt int, lastErr error) (time.Duration, bool) {
	if r.maxRetries > 0 && attempt >= r.maxRetries {
		return 0, false
	}
	return r.delay, true
}

func (r *fixedDelayRetryer) Reset() {}

func TestExponentialBackoffRetryer(t *testing.T) {
	t.Run("default configuration", func(t *testing.T) {
		retryer := NewExponentialBackoffRetryer()

		delay, retry := retryer.NextDelay(0, nil)
		assert.True(t, retry)
		assert.GreaterOrEqual(t, delay, 375*time.Millisecond) // 500ms - 25% jitter
		assert.LessOrEqual(t, delay, 625*time.Millisecond)    // 500ms + 25% jitter

		delay, retry = retryer.NextDelay(1, nil)
		assert.True(t, retry)
		assert.GreaterOrEqual(t, delay, 750*time.Millisecond)  // 1s - 25% jitter
		assert.LessOrEqual(t, delay, 1250*time.Millisecond)    // 1s + 25% jitter
	})

	t.Run("without jitter", func(t *testing.T) {
		retryer := &ExponentialBackoffRetryer{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     1 * time.Second,
			Multiplier:   2.0,
			Jitter:       false,
		}

		for attempt, want := range []time.Duration{
			100 * time.Millisecond,
			200 * time.Millisecond,
			400 * time.Millisecond,
			800 * time.Millisecond,
			1 * time.Second, // capped
			1 * time.Second,
		} {
			delay, retry := retryer.NextDelay(attempt, nil)
			assert.True(t, retry)
			assert.Equal(t, want, delay, "attempt %d", attempt)
		}
	})

	t.Run("non-doubling multiplier", func(t *testing.T) {
		retryer := &ExponentialBackoffRetryer{
			InitialDelay: 100 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   1.5,
		}

		delay, retry := retryer.NextDelay(2, nil)
		assert.True(t, retry)
		assert.Equal(t, 225*time.Millisecond, delay)
	})

	t.Run("max retries", func(t *testing.T) {
		retryer := &ExponentialBackoffRetryer{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     time.Second,
			Multiplier:   2.0,
			MaxRetries:   3,
		}

		for attempt := 0; attempt < 3; attempt++ {
			_, retry := retryer.NextDelay(attempt, nil)
			assert.True(t, retry)
		}
		_, retry := retryer.NextDelay(3, nil)
		assert.False(t, retry)
	})
}
